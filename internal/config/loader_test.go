package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "addr: :9999\nstore_dir: /tmp/store\ndevice: cuda:1\nengine_port_start: 19000\ncors_origins: [\"http://a\", \"http://b\"]\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.StoreDir != "/tmp/store" || cfg.Device != "cuda:1" || cfg.EnginePortStart != 19000 || len(cfg.CORSOrigins) != 2 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"addr":":7070","model_id":"HF://a/B","max_body_bytes":42,"cors_enabled":true}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.ModelID != "HF://a/B" || cfg.MaxBodyBytes != 42 || !cfg.CORSEnabled {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "addr=\":8081\"\nengine_url=\"http://127.0.0.1:8000\"\nengine_startup_timeout=\"90s\"\ndownload_concurrency=2\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.EngineURL != "http://127.0.0.1:8000" || cfg.EngineStartupTimeout != "90s" || cfg.DownloadConcurrency != 2 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
	if _, err := Load("/definitely/not/a/real/file-12345.yaml"); err == nil {
		t.Fatalf("expected error for nonexistent file")
	}
}

func TestLoad_InvalidDocuments(t *testing.T) {
	d := t.TempDir()
	cases := map[string]string{
		"bad.yaml": "addr: :8080\n: broken\n",
		"bad.json": `{ "addr": ":8080", "store_dir": }`,
		"bad.toml": "addr=:8080\nstore_dir\n",
	}
	for name, body := range cases {
		p := writeTempFile(t, d, name, body)
		if _, err := Load(p); err == nil {
			t.Fatalf("%s: expected unmarshal error", name)
		}
	}
}

func TestDefaultModelTag(t *testing.T) {
	if DefaultModelTag != "llama-3-8b-instruct-q4f16_1-mlc" {
		t.Fatalf("DefaultModelTag=%q", DefaultModelTag)
	}
}

func TestWithDefaults_FillsZeroValues(t *testing.T) {
	cfg := Config{Addr: ":1234"}.WithDefaults()
	if cfg.Addr != ":1234" {
		t.Fatalf("explicit addr overwritten: %q", cfg.Addr)
	}
	def := Defaults()
	if cfg.ModelID != def.ModelID || cfg.ModelTag != DefaultModelTag || cfg.Device != "auto" || cfg.MaxBodyBytes != def.MaxBodyBytes {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestWithDefaults_DerivesTagFromCustomModel(t *testing.T) {
	cfg := Config{ModelID: "HF://mlc-ai/Phi-3-mini-4k-instruct-q4f16_1-MLC"}.WithDefaults()
	if cfg.ModelTag != "phi-3-mini-4k-instruct-q4f16_1-mlc" {
		t.Fatalf("ModelTag=%q", cfg.ModelTag)
	}
}

func TestValidate(t *testing.T) {
	bad := []Config{
		{EnginePortStart: 200, EnginePortEnd: 100},
		{EnginePortEnd: 70000},
		{MaxBodyBytes: -1},
		{EngineStartupTimeout: "soon"},
		{ModelTag: "Has Spaces"},
	}
	for i, c := range bad {
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error for %+v", i, c)
		}
	}
}

func TestStartupTimeout(t *testing.T) {
	d, err := Config{EngineStartupTimeout: "90s"}.StartupTimeout()
	if err != nil || d != 90*time.Second {
		t.Fatalf("got %v err=%v", d, err)
	}
	d, err = Config{}.StartupTimeout()
	if err != nil || d != 0 {
		t.Fatalf("empty should be zero: %v err=%v", d, err)
	}
}
