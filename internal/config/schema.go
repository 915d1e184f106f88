package config

import (
	"fmt"
	"time"
)

// Config is the top-level YAML structure.
type Config struct {
	Version string `yaml:"version"`
	// Timezone is the IANA zone business hours and "today" are judged in.
	Timezone string     `yaml:"timezone"`
	Server   ServerConf `yaml:"server"`
	Engine   EngineConf `yaml:"engine"`
	Store    StoreConf  `yaml:"store"`
	Rules    []RuleDef  `yaml:"rules"`
}

// Location loads Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

type ServerConf struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// EngineConf tunes batch recording.
type EngineConf struct {
	BatchWorkers int `yaml:"batch_workers"`
	MaxBatch     int `yaml:"max_batch"`
}

type StoreConf struct {
	Driver  string      `yaml:"driver"` // memory | sqlite
	DSN     string      `yaml:"dsn"`
	Alerts  string      `yaml:"alerts"` // empty = same as Driver, or redis
	Redis   RedisConf   `yaml:"redis"`
	Breaker BreakerConf `yaml:"breaker"`
}

type RedisConf struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type BreakerConf struct {
	FailureThreshold uint32        `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

// RuleDef declares one entry of the ordered rule set. Params are
// type-specific; expression rules use the top-level fields instead.
type RuleDef struct {
	ID          string                 `yaml:"id" json:"id"`
	Type        string                 `yaml:"type" json:"type"`
	Description string                 `yaml:"description" json:"description,omitempty"`
	Enabled     *bool                  `yaml:"enabled" json:"enabled,omitempty"`
	Params      map[string]interface{} `yaml:"params" json:"params,omitempty"`

	EventKinds []string `yaml:"event_kinds" json:"event_kinds,omitempty"`
	Expression string   `yaml:"expression" json:"expression,omitempty"`
	Alert      string   `yaml:"alert" json:"alert,omitempty"`
	Dedup      bool     `yaml:"dedup" json:"dedup,omitempty"`
}

// IsEnabled reports whether the rule runs. A rule without an enabled key is on.
func (d RuleDef) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

const (
	RuleTypeOffHoursLogin   = "off_hours_login"
	RuleTypeBruteForceLogin = "brute_force_login"
	RuleTypeExpression      = "expression"
)

// DefaultRules is the shipped rule set, used when a config lists none.
func DefaultRules() []RuleDef {
	return []RuleDef{
		{
			ID:          RuleTypeOffHoursLogin,
			Type:        RuleTypeOffHoursLogin,
			Description: "Login outside business hours",
			Params:      map[string]interface{}{"start_hour": 8, "end_hour": 18},
		},
		{
			ID:          RuleTypeBruteForceLogin,
			Type:        RuleTypeBruteForceLogin,
			Description: "Repeated login failures",
			Params:      map[string]interface{}{"threshold": 5, "window": "10m"},
		},
	}
}

// Default returns a complete in-memory configuration in UTC.
func Default() *Config {
	cfg := &Config{Version: "v1", Timezone: "UTC"}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Engine.BatchWorkers == 0 {
		cfg.Engine.BatchWorkers = 8
	}
	if cfg.Engine.MaxBatch == 0 {
		cfg.Engine.MaxBatch = 100
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	if cfg.Store.Alerts == "" {
		cfg.Store.Alerts = cfg.Store.Driver
	}
	if cfg.Store.Driver == "sqlite" && cfg.Store.DSN == "" {
		cfg.Store.DSN = "uebax.db"
	}
	if cfg.Store.Breaker.FailureThreshold == 0 {
		cfg.Store.Breaker.FailureThreshold = 5
	}
	if cfg.Store.Breaker.OpenTimeout == 0 {
		cfg.Store.Breaker.OpenTimeout = 30 * time.Second
	}
	if len(cfg.Rules) == 0 {
		cfg.Rules = DefaultRules()
	}
}
