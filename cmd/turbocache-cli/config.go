package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"

	"github.com/turbocache/turbocache/pkg/turbocache"
)

// fileConfig is the optional turbocache.hujson config file format. hujson
// (JSON with comments and trailing commas) lets operators annotate a config
// file in place.
type fileConfig struct {
	InitialCapacity uint64 `json:"initialCapacity"`
	Writeback       string `json:"writeback"`
	LockTimeoutMS   int    `json:"lockTimeoutMs"`
}

// readFileConfig loads and standardizes a turbocache.hujson file. A missing
// file is not an error; callers get the zero value and fall back to flags.
func readFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig

	raw, err := os.ReadFile(path) //nolint:gosec // path comes from the CLI's own flag
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}

		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	std, err := hujson.Standardize(raw)
	if err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := json.Unmarshal(std, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}

	return cfg, nil
}

func (cfg fileConfig) writebackMode() (turbocache.WritebackMode, error) {
	switch cfg.Writeback {
	case "", "none":
		return turbocache.WritebackNone, nil
	case "sync":
		return turbocache.WritebackSync, nil
	default:
		return 0, fmt.Errorf("unknown writeback mode %q (want \"none\" or \"sync\")", cfg.Writeback)
	}
}
