package main

import (
	"strings"

	"github.com/spf13/cobra"

	"mlcserve/internal/config"
)

// loadConfig layers defaults, the optional config file and explicitly set
// flags, in that order.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		c, err := config.Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = c
	}
	applyFlags(cmd, &cfg)
	cfg = cfg.WithDefaults()
	return cfg, cfg.Validate()
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	str := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	str("addr", &cfg.Addr)
	str("store-dir", &cfg.StoreDir)
	str("model-tag", &cfg.ModelTag)
	str("model-id", &cfg.ModelID)
	str("device", &cfg.Device)
	str("engine-bin", &cfg.EngineBin)
	str("engine-url", &cfg.EngineURL)
	str("engine-startup-timeout", &cfg.EngineStartupTimeout)
	str("log-level", &cfg.LogLevel)
	str("log-file", &cfg.LogFile)
	if f.Changed("max-body-bytes") {
		cfg.MaxBodyBytes, _ = f.GetInt64("max-body-bytes")
	}
	if f.Changed("cors-enabled") {
		cfg.CORSEnabled, _ = f.GetBool("cors-enabled")
	}
	if f.Changed("cors-origins") {
		v, _ := f.GetString("cors-origins")
		cfg.CORSOrigins = splitCSV(v)
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
