// Package config loads the sync/quote/takeOrders CLIs' runtime
// configuration from environment variables via godotenv in cmd/, using
// plain getEnv*-helpers rather than a struct-tag binding library.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// TargetConfig is one chain/orderbook pair the sync engine tracks.
type TargetConfig struct {
	ChainID         uint32
	Orderbook       common.Address
	Multicall3      common.Address
	RPCURL          string
	DeploymentBlock uint64
	FinalityDepth   uint64
}

// Config is the process-wide configuration shared by the raindex-sync,
// raindex-quote, and raindex-takeorders entrypoints.
type Config struct {
	Debug bool

	ManifestURL      string
	OutRoot          string
	Concurrency      int
	StatusListenAddr string

	Targets []TargetConfig
}

// Load reads Config from the environment. Targets are specified as
// RAINDEX_TARGETS, a ";"-separated list of
// "chainID:orderbook:multicall3:rpcURL:deploymentBlock:finalityDepth"
// entries, so a single process can track several chains at once (the
// multi-target runner's unit of concurrency).
func Load() (*Config, error) {
	cfg := &Config{
		Debug:            getEnvBool("DEBUG", false),
		ManifestURL:      getEnv("RAINDEX_MANIFEST_URL", ""),
		OutRoot:          getEnv("RAINDEX_OUT_ROOT", "data"),
		Concurrency:      getEnvInt("RAINDEX_CONCURRENCY", 4),
		StatusListenAddr: getEnv("RAINDEX_STATUS_ADDR", ":8090"),
	}

	targets, err := parseTargets(os.Getenv("RAINDEX_TARGETS"))
	if err != nil {
		return nil, err
	}
	cfg.Targets = targets

	if cfg.ManifestURL == "" {
		return nil, fmt.Errorf("RAINDEX_MANIFEST_URL is required")
	}
	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("RAINDEX_TARGETS is required (at least one target)")
	}

	return cfg, nil
}

func parseTargets(raw string) ([]TargetConfig, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var targets []TargetConfig
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		fields := strings.Split(entry, ":")
		if len(fields) != 6 {
			return nil, fmt.Errorf("invalid RAINDEX_TARGETS entry %q: expected 6 ':'-separated fields, got %d", entry, len(fields))
		}

		chainID, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid chain_id in %q: %w", entry, err)
		}
		deployment, err := strconv.ParseUint(fields[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid deployment_block in %q: %w", entry, err)
		}
		finality, err := strconv.ParseUint(fields[5], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid finality_depth in %q: %w", entry, err)
		}

		targets = append(targets, TargetConfig{
			ChainID:         uint32(chainID),
			Orderbook:       common.HexToAddress(fields[1]),
			Multicall3:      common.HexToAddress(fields[2]),
			RPCURL:          fields[3],
			DeploymentBlock: deployment,
			FinalityDepth:   finality,
		})
	}
	return targets, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
