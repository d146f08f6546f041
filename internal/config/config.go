// Package config loads server and CLI settings from a YAML file with
// CTRACE_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ctrace/internal/sandbox"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Jobs        JobsConfig        `yaml:"jobs"`
	Sandbox     SandboxConfig     `yaml:"sandbox"`
	Store       StoreConfig       `yaml:"store"`
	Transcripts TranscriptsConfig `yaml:"transcripts"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Events      EventsConfig      `yaml:"events"`
	Janitor     JanitorConfig     `yaml:"janitor"`
	Cache       CacheConfig       `yaml:"cache"`
	Log         LogConfig         `yaml:"log"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type JobsConfig struct {
	Workers   int           `yaml:"workers"`
	QueueSize int           `yaml:"queue_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

type SandboxConfig struct {
	// Runtime is "cli" (docker binary) or "api" (engine API).
	Runtime        string        `yaml:"runtime"`
	DockerBinary   string        `yaml:"docker_binary"`
	BaseImage      string        `yaml:"base_image"`
	Memory         string        `yaml:"memory"`
	PidsLimit      int64         `yaml:"pids_limit"`
	CleanupTimeout time.Duration `yaml:"cleanup_timeout"`
}

// Policy is the isolation policy described by the sandbox section.
func (s SandboxConfig) Policy() sandbox.Policy {
	return sandbox.Policy{
		BaseImage: s.BaseImage,
		Memory:    s.Memory,
		PidsLimit: s.PidsLimit,
	}
}

type StoreConfig struct {
	// Backend is "memory", "sqlite" or "redis".
	Backend     string `yaml:"backend"`
	SQLitePath  string `yaml:"sqlite_path"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
}

// TranscriptsConfig enables the transcript archive when Dir is set.
type TranscriptsConfig struct {
	Dir string `yaml:"dir"`
}

// LedgerConfig enables the job ledger when Path is set.
type LedgerConfig struct {
	Path    string `yaml:"path"`
	KeysDir string `yaml:"keys_dir"`
}

// EventsConfig enables NATS events when NatsURL is set.
type EventsConfig struct {
	NatsURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// JanitorConfig enables the retention sweeper when Schedule is set.
type JanitorConfig struct {
	Schedule    string        `yaml:"schedule"`
	Retention   time.Duration `yaml:"retention"`
	ImageMaxAge time.Duration `yaml:"image_max_age"`
}

type CacheConfig struct {
	Size int `yaml:"size"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func (l LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":8080",
			MaxBodyBytes: 1 << 20,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Jobs: JobsConfig{
			Workers:   4,
			QueueSize: 64,
			Timeout:   60 * time.Second,
		},
		Sandbox: SandboxConfig{
			Runtime:        "cli",
			DockerBinary:   "docker",
			BaseImage:      sandbox.DefaultBaseImage,
			Memory:         "128m",
			PidsLimit:      64,
			CleanupTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Backend:     "memory",
			SQLitePath:  "data/ctrace.db",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "ctrace:",
		},
		Transcripts: TranscriptsConfig{Dir: "data/transcripts"},
		Ledger: LedgerConfig{
			Path:    "data/ledger.jsonl",
			KeysDir: "keys",
		},
		Events: EventsConfig{Subject: "ctrace.jobs"},
		Janitor: JanitorConfig{
			Schedule:    "@every 1h",
			Retention:   24 * time.Hour,
			ImageMaxAge: time.Hour,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be positive"))
	}
	if c.Jobs.Workers <= 0 {
		errs = append(errs, errors.New("jobs.workers must be positive"))
	}
	if c.Jobs.QueueSize <= 0 {
		errs = append(errs, errors.New("jobs.queue_size must be positive"))
	}
	if c.Jobs.Timeout <= 0 {
		errs = append(errs, errors.New("jobs.timeout must be positive"))
	}
	switch c.Sandbox.Runtime {
	case "cli", "api":
	default:
		errs = append(errs, fmt.Errorf("sandbox.runtime %q is not one of cli, api", c.Sandbox.Runtime))
	}
	if err := c.Sandbox.Policy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("sandbox: %w", err))
	}
	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite backend"))
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not one of memory, sqlite, redis", c.Store.Backend))
	}
	if c.Ledger.Path != "" && c.Ledger.KeysDir == "" {
		errs = append(errs, errors.New("ledger.keys_dir is required when the ledger is enabled"))
	}
	if c.Janitor.Schedule != "" && c.Janitor.Retention <= 0 {
		errs = append(errs, errors.New("janitor.retention must be positive"))
	}
	// images of running jobs carry the same label
	if c.Janitor.Schedule != "" && c.Janitor.ImageMaxAge > 0 && c.Janitor.ImageMaxAge <= c.Jobs.Timeout {
		errs = append(errs, errors.New("janitor.image_max_age must exceed jobs.timeout"))
	}
	if c.Cache.Size < 0 {
		errs = append(errs, errors.New("cache.size must not be negative"))
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log.level %q is invalid", c.Log.Level))
	}
	return errors.Join(errs...)
}
