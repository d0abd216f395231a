package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Overrides are deployment values taken from the environment. Unset variables leave the
// file value alone.
type Overrides struct {
	Addr         string `env:"SM_ADDR"`
	AdminToken   string `env:"SM_ADMIN_TOKEN"`
	DBPath       string `env:"SM_DB_PATH"`
	DataDir      string `env:"SM_DATA_DIR"`
	LogLevel     string `env:"SM_LOG_LEVEL"`
	LogFormat    string `env:"SM_LOG_FORMAT"`
	LockBackend  string `env:"SM_LOCK_BACKEND"`
	RedisAddr    string `env:"SM_REDIS_ADDR"`
	OTLPEndpoint string `env:"SM_OTLP_ENDPOINT"`
	OffsiteKey   string `env:"SM_OFFSITE_ACCESS_KEY_ID"`
	OffsiteSec   string `env:"SM_OFFSITE_SECRET_ACCESS_KEY"`
	Compression  *bool  `env:"SM_COMPRESSION"`
	FullFidelity *bool  `env:"SM_FULL_FIDELITY_ITEMS"`
	IOWorkers    *int   `env:"SM_IO_WORKERS"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ApplyEnv overlays SM_* variables onto cfg.
func ApplyEnv(cfg *Config) error {
	var o Overrides
	if err := ParseEnv(&o); err != nil {
		return err
	}
	o.Apply(cfg)
	return nil
}

func (o Overrides) Apply(cfg *Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Server.Addr, o.Addr)
	set(&cfg.Server.AdminToken, o.AdminToken)
	set(&cfg.Storage.Path, o.DBPath)
	set(&cfg.Storage.DataDir, o.DataDir)
	set(&cfg.Logging.Level, o.LogLevel)
	set(&cfg.Logging.Format, o.LogFormat)
	set(&cfg.Locks.Backend, o.LockBackend)
	set(&cfg.Locks.RedisAddr, o.RedisAddr)
	set(&cfg.Offsite.AccessKeyID, o.OffsiteKey)
	set(&cfg.Offsite.SecretAccessKey, o.OffsiteSec)
	if o.OTLPEndpoint != "" {
		cfg.Telemetry.Enabled = true
		cfg.Telemetry.Endpoint = o.OTLPEndpoint
	}
	if o.Compression != nil {
		cfg.Codec.Compression = *o.Compression
	}
	if o.FullFidelity != nil {
		cfg.Codec.FullFidelityItems = *o.FullFidelity
	}
	if o.IOWorkers != nil {
		cfg.Storage.IOWorkers = *o.IOWorkers
	}
}
