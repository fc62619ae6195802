// Package config resolves process-level settings from the environment,
// in the style of a small deployable service rather than a framework: a
// handful of env vars with defaults, collected errors on missing
// required values.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
)

// Config holds every setting the HTTP front end and worker binaries need.
type Config struct {
	ListenAddr string

	RedisURL     string
	DatabasePath string

	Un1caRoot string
	OutDir    string
	DataDir   string
	LogsDir   string

	CORSOrigins []string

	BuildsQueueConcurrency   int
	ControlsQueueConcurrency int
}

// Load resolves Config from the environment, applying the same defaults
// the original deployment used.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:   env("UNICA_WB_LISTEN_ADDR", ":8080"),
		RedisURL:     env("UNICA_WB_REDIS_URL", "redis://127.0.0.1:6379/0"),
		DatabasePath: env("UNICA_WB_DB_PATH", "data/unica-wb.sqlite"),
		Un1caRoot:    env("UNICA_WB_UN1CA_ROOT", ""),
		OutDir:       env("UNICA_WB_OUT_DIR", "out"),
		DataDir:      env("UNICA_WB_DATA_DIR", "data"),
		LogsDir:      env("UNICA_WB_LOGS_DIR", "logs"),

		BuildsQueueConcurrency:   1,
		ControlsQueueConcurrency: 4,
	}

	if v := env("UNICA_WB_CORS_ORIGINS", "*"); v != "" {
		for _, o := range strings.Split(v, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	var errs []error
	if strings.TrimSpace(cfg.DatabasePath) == "" {
		errs = append(errs, errors.New("missing UNICA_WB_DB_PATH"))
	}
	if strings.TrimSpace(cfg.RedisURL) == "" {
		errs = append(errs, errors.New("missing UNICA_WB_REDIS_URL"))
	}
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

// BindWorkerFlags exposes the per-queue concurrency caps as flags for the
// worker binary, mirroring the way the process-flag pattern the upstream
// ranch service uses for tunables that are really process arguments, not
// secrets.
func (c *Config) BindWorkerFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.BuildsQueueConcurrency, "builds-concurrency", c.BuildsQueueConcurrency, "concurrent build jobs")
	fs.IntVar(&c.ControlsQueueConcurrency, "controls-concurrency", c.ControlsQueueConcurrency, "concurrent control jobs")
}

func env(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

// String renders the config for startup logging, omitting nothing
// secret (this struct carries no secrets; credentials live in Settings).
func (c Config) String() string {
	return fmt.Sprintf("listen=%s redis=%s db=%s un1ca_root=%s data=%s logs=%s",
		c.ListenAddr, c.RedisURL, c.DatabasePath, c.Un1caRoot, c.DataDir, c.LogsDir)
}
