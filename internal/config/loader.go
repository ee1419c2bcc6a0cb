package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"mlcserve/internal/store"
)

// DefaultModelID is the model imported and served when nothing else is configured.
const DefaultModelID = "HF://mlc-ai/Llama-3-8B-Instruct-q4f16_1-MLC"

// DefaultPrompt is used by POST /generate when the request carries no prompt.
const DefaultPrompt = "Explain superconductors like I'm five years old"

// DefaultModelTag is the store tag derived from DefaultModelID. The importer
// writes under it and the server reads from it.
var DefaultModelTag = store.TagFor(DefaultModelID)

// Config holds runtime parameters shared by mlcimport and mlcserve.
// Zero values mean "unspecified" and are replaced by WithDefaults.
type Config struct {
	Addr     string `json:"addr" yaml:"addr" toml:"addr"`
	StoreDir string `json:"store_dir" yaml:"store_dir" toml:"store_dir"`
	CacheDir string `json:"cache_dir" yaml:"cache_dir" toml:"cache_dir"`
	ModelID  string `json:"model_id" yaml:"model_id" toml:"model_id"`
	ModelTag string `json:"model_tag" yaml:"model_tag" toml:"model_tag"`
	Device   string `json:"device" yaml:"device" toml:"device"`

	CompilerBin string `json:"compiler_bin" yaml:"compiler_bin" toml:"compiler_bin"`
	EngineBin   string `json:"engine_bin" yaml:"engine_bin" toml:"engine_bin"`
	// EngineURL points at an already running engine. When set no subprocess is spawned.
	EngineURL            string `json:"engine_url" yaml:"engine_url" toml:"engine_url"`
	EngineHost           string `json:"engine_host" yaml:"engine_host" toml:"engine_host"`
	EnginePortStart      int    `json:"engine_port_start" yaml:"engine_port_start" toml:"engine_port_start"`
	EnginePortEnd        int    `json:"engine_port_end" yaml:"engine_port_end" toml:"engine_port_end"`
	EngineStartupTimeout string `json:"engine_startup_timeout" yaml:"engine_startup_timeout" toml:"engine_startup_timeout"`

	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFile  string `json:"log_file" yaml:"log_file" toml:"log_file"`

	MaxBodyBytes int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	CORSEnabled  bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins  []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`

	DownloadConcurrency int `json:"download_concurrency" yaml:"download_concurrency" toml:"download_concurrency"`
}

// Defaults returns a fully populated configuration.
func Defaults() Config {
	return Config{
		Addr:                 ":3000",
		StoreDir:             "~/.mlcserve/models",
		CacheDir:             "~/.cache/mlcserve",
		ModelID:              DefaultModelID,
		ModelTag:             DefaultModelTag,
		Device:               "auto",
		CompilerBin:          "mlc_llm",
		EngineBin:            "mlc_llm",
		EngineHost:           "127.0.0.1",
		EnginePortStart:      18000,
		EnginePortEnd:        18099,
		EngineStartupTimeout: "5m",
		LogLevel:             "info",
		MaxBodyBytes:         1 << 20,
		DownloadConcurrency:  4,
	}
}

// WithDefaults returns a copy of c with every zero field replaced by its default.
// A custom ModelID without an explicit ModelTag gets the tag derived from it.
func (c Config) WithDefaults() Config {
	d := Defaults()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.StoreDir == "" {
		c.StoreDir = d.StoreDir
	}
	if c.CacheDir == "" {
		c.CacheDir = d.CacheDir
	}
	if c.ModelID == "" {
		c.ModelID = d.ModelID
	}
	if c.ModelTag == "" {
		c.ModelTag = store.TagFor(c.ModelID)
	}
	if c.Device == "" {
		c.Device = d.Device
	}
	if c.CompilerBin == "" {
		c.CompilerBin = d.CompilerBin
	}
	if c.EngineBin == "" {
		c.EngineBin = d.EngineBin
	}
	if c.EngineHost == "" {
		c.EngineHost = d.EngineHost
	}
	if c.EnginePortStart == 0 {
		c.EnginePortStart = d.EnginePortStart
	}
	if c.EnginePortEnd == 0 {
		c.EnginePortEnd = d.EnginePortEnd
	}
	if c.EngineStartupTimeout == "" {
		c.EngineStartupTimeout = d.EngineStartupTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	if c.DownloadConcurrency == 0 {
		c.DownloadConcurrency = d.DownloadConcurrency
	}
	return c
}

// StartupTimeout parses EngineStartupTimeout as a Go duration.
func (c Config) StartupTimeout() (time.Duration, error) {
	if c.EngineStartupTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.EngineStartupTimeout)
	if err != nil {
		return 0, fmt.Errorf("engine_startup_timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("engine_startup_timeout: negative duration %s", d)
	}
	return d, nil
}

// Validate checks cross-field constraints that a decoder cannot express.
func (c Config) Validate() error {
	if c.EnginePortStart < 0 || c.EnginePortEnd < 0 || c.EnginePortStart > 65535 || c.EnginePortEnd > 65535 {
		return fmt.Errorf("engine port range out of bounds: %d-%d", c.EnginePortStart, c.EnginePortEnd)
	}
	if c.EnginePortStart > c.EnginePortEnd {
		return fmt.Errorf("engine_port_start %d > engine_port_end %d", c.EnginePortStart, c.EnginePortEnd)
	}
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("max_body_bytes must be >= 0")
	}
	if c.DownloadConcurrency < 0 {
		return fmt.Errorf("download_concurrency must be >= 0")
	}
	if c.ModelTag != "" {
		if err := store.ValidateTag(c.ModelTag); err != nil {
			return fmt.Errorf("model_tag: %w", err)
		}
	}
	if _, err := c.StartupTimeout(); err != nil {
		return err
	}
	return nil
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
