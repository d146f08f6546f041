package config

import (
	"fmt"
	"strconv"
	"time"
)

const envPrefix = "CTRACE_"

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

type override struct {
	key   string
	apply func(c *Config, v string) error
}

func str(dst func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func integer(dst func(c *Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func integer64(dst func(c *Config) *int64) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func duration(dst func(c *Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

var overrides = []override{
	{"SERVER_ADDR", str(func(c *Config) *string { return &c.Server.Addr })},
	{"SERVER_MAX_BODY_BYTES", integer64(func(c *Config) *int64 { return &c.Server.MaxBodyBytes })},
	{"JOBS_WORKERS", integer(func(c *Config) *int { return &c.Jobs.Workers })},
	{"JOBS_QUEUE_SIZE", integer(func(c *Config) *int { return &c.Jobs.QueueSize })},
	{"JOBS_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.Jobs.Timeout })},
	{"SANDBOX_RUNTIME", str(func(c *Config) *string { return &c.Sandbox.Runtime })},
	{"SANDBOX_DOCKER_BINARY", str(func(c *Config) *string { return &c.Sandbox.DockerBinary })},
	{"SANDBOX_BASE_IMAGE", str(func(c *Config) *string { return &c.Sandbox.BaseImage })},
	{"SANDBOX_MEMORY", str(func(c *Config) *string { return &c.Sandbox.Memory })},
	{"SANDBOX_PIDS_LIMIT", integer64(func(c *Config) *int64 { return &c.Sandbox.PidsLimit })},
	{"STORE_BACKEND", str(func(c *Config) *string { return &c.Store.Backend })},
	{"STORE_SQLITE_PATH", str(func(c *Config) *string { return &c.Store.SQLitePath })},
	{"STORE_REDIS_ADDR", str(func(c *Config) *string { return &c.Store.RedisAddr })},
	{"STORE_REDIS_PREFIX", str(func(c *Config) *string { return &c.Store.RedisPrefix })},
	{"TRANSCRIPTS_DIR", str(func(c *Config) *string { return &c.Transcripts.Dir })},
	{"LEDGER_PATH", str(func(c *Config) *string { return &c.Ledger.Path })},
	{"LEDGER_KEYS_DIR", str(func(c *Config) *string { return &c.Ledger.KeysDir })},
	{"EVENTS_NATS_URL", str(func(c *Config) *string { return &c.Events.NatsURL })},
	{"EVENTS_SUBJECT", str(func(c *Config) *string { return &c.Events.Subject })},
	{"JANITOR_SCHEDULE", str(func(c *Config) *string { return &c.Janitor.Schedule })},
	{"JANITOR_RETENTION", duration(func(c *Config) *time.Duration { return &c.Janitor.Retention })},
	{"CACHE_SIZE", integer(func(c *Config) *int { return &c.Cache.Size })},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.Log.Level })},
}

// ApplyEnv overrides settings from CTRACE_* variables. PORT is honoured for
// platforms that only hand out a port number; CTRACE_SERVER_ADDR wins over it.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	if port, ok := lookup("PORT"); ok && port != "" {
		c.Server.Addr = ":" + port
	}
	for _, o := range overrides {
		v, ok := lookup(envPrefix + o.key)
		if !ok {
			continue
		}
		if err := o.apply(c, v); err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, o.key, err)
		}
	}
	return nil
}
