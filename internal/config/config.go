// Package config loads process configuration from the environment, with an
// optional .env file for development (godotenv). Every value has a default
// so the binary runs with zero configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/sakif/seriescope/internal/auth"
)

// Config holds everything the process needs at startup.
type Config struct {
	// DataDir holds the three store files and the master key file.
	DataDir string

	// Derived store paths inside DataDir.
	UsersDBPath   string
	VaultDBPath   string
	HistoryDBPath string
	MasterKeyPath string

	// BcryptCost is the password hashing work factor.
	BcryptCost int

	// OutlierThreshold is the default z-score above which a series is
	// flagged as an outlier when an analysis run does not supply its own.
	OutlierThreshold float64

	// SessionTTL is how long an issued session token stays valid.
	SessionTTL time.Duration

	// PurgeHistoryOnDelete controls whether deleting a user also deletes
	// their historical snapshots (deployment retention policy).
	PurgeHistoryOnDelete bool
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first if present, never required.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DataDir:              envStr("DATA_DIR", "data"),
		BcryptCost:           auth.DefaultCost,
		OutlierThreshold:     2.0,
		SessionTTL:           12 * time.Hour,
		PurgeHistoryOnDelete: false,
	}

	if v := os.Getenv("BCRYPT_COST"); v != "" {
		cost, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: invalid BCRYPT_COST %q: %w", v, err)
		}
		cfg.BcryptCost = cost
	}

	if v := os.Getenv("OUTLIER_THRESHOLD"); v != "" {
		threshold, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("config: invalid OUTLIER_THRESHOLD %q: %w", v, err)
		}
		if threshold <= 0 {
			return nil, fmt.Errorf("config: OUTLIER_THRESHOLD must be positive, got %v", threshold)
		}
		cfg.OutlierThreshold = threshold
	}

	if v := os.Getenv("SESSION_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config: invalid SESSION_TTL %q: %w", v, err)
		}
		cfg.SessionTTL = ttl
	}

	if v := os.Getenv("PURGE_HISTORY_ON_DELETE"); v != "" {
		purge, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("config: invalid PURGE_HISTORY_ON_DELETE %q: %w", v, err)
		}
		cfg.PurgeHistoryOnDelete = purge
	}

	cfg.UsersDBPath = filepath.Join(cfg.DataDir, "users.db")
	cfg.VaultDBPath = filepath.Join(cfg.DataDir, "vault.db")
	cfg.HistoryDBPath = filepath.Join(cfg.DataDir, "history.db")
	cfg.MasterKeyPath = filepath.Join(cfg.DataDir, "master.key")
	if v := os.Getenv("MASTER_KEY_PATH"); v != "" {
		cfg.MasterKeyPath = v
	}

	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
