package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"memo-sync/pkg/logger"
)

// ClientConfig configures a device: where the remote lives, where the local
// cache and credential are kept, and the sync timings.
type ClientConfig struct {
	ServerURL         string `default:"http://localhost:3000/api"`
	DBPath            string
	TokenFile         string
	Debounce          time.Duration `default:"2s"`
	PingInterval      time.Duration `default:"30s"`
	PingTimeout       time.Duration `default:"2s"`
	ReconcileInterval time.Duration `default:"10s"`
	RequestTimeout    time.Duration `default:"15s"`
	Logging           logger.Config
}

func LoadClient() (*ClientConfig, error) {
	godotenv.Load()

	cfg := new(ClientConfig)
	if err := defaults.Set(cfg); err != nil {
		return nil, errors.Wrap(err, "set default client config failed")
	}
	cfg.Logging.Level = "warn"

	dir, err := defaultClientDir()
	if err != nil {
		return nil, err
	}
	cfg.DBPath = filepath.Join(dir, "notes.db")
	cfg.TokenFile = filepath.Join(dir, "token")

	cfg.ServerURL = strings.TrimRight(getEnv("SYNC_SERVER_URL", cfg.ServerURL), "/")
	cfg.DBPath = getEnv("SYNC_DB_PATH", cfg.DBPath)
	cfg.TokenFile = getEnv("SYNC_TOKEN_FILE", cfg.TokenFile)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SYNC_DEBOUNCE", &cfg.Debounce},
		{"SYNC_PING_INTERVAL", &cfg.PingInterval},
		{"SYNC_PING_TIMEOUT", &cfg.PingTimeout},
		{"SYNC_RECONCILE_INTERVAL", &cfg.ReconcileInterval},
		{"SYNC_REQUEST_TIMEOUT", &cfg.RequestTimeout},
	}
	for _, d := range durations {
		v, err := getEnvAsDuration(d.key, *d.dst)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.File = getEnv("LOG_FILE", cfg.Logging.File)

	if cfg.ServerURL == "" {
		return nil, errors.New("SYNC_SERVER_URL must be set")
	}
	return cfg, nil
}

func defaultClientDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "resolve config dir failed")
	}
	return filepath.Join(base, "memo-sync"), nil
}
