package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Engine   EngineConfig   `yaml:"engine"`
	LLM      LLMConfig      `yaml:"llm"`
	Sessions SessionsConfig `yaml:"sessions"`
	Tools    ToolsConfig    `yaml:"tools"`
}

type ServerConfig struct {
	// Addr is the HTTP listen address serving the HTTP, SSE and WebSocket
	// endpoints plus /metrics. Empty disables the HTTP listener (stdio only).
	Addr string `yaml:"addr"`

	Heartbeat HeartbeatConfig `yaml:"heartbeat"`

	// EventQueueSize bounds the per-connection event queue. A full queue
	// blocks the engine rather than dropping events.
	EventQueueSize int `yaml:"event_queue_size"`
}

type HeartbeatConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Interval string `yaml:"interval"` // e.g. "5s"
	MaxCount int    `yaml:"max_count"`
}

func (h HeartbeatConfig) ParseInterval() (time.Duration, error) {
	if h.Interval == "" {
		return 5 * time.Second, nil
	}
	return time.ParseDuration(h.Interval)
}

type EngineConfig struct {
	MaxIterations int    `yaml:"max_iterations"`
	ToolTimeout   string `yaml:"tool_timeout"` // per tool invocation, e.g. "30s"
	Workers       int    `yaml:"workers"`      // pipeline executor pool size
}

func (e EngineConfig) ParseToolTimeout() (time.Duration, error) {
	if e.ToolTimeout == "" {
		return 30 * time.Second, nil
	}
	return time.ParseDuration(e.ToolTimeout)
}

type LLMConfig struct {
	BaseURL     string   `yaml:"base_url"`
	APIKey      string   `yaml:"api_key"`
	Model       string   `yaml:"model"`
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature *float64 `yaml:"temperature,omitempty"`
}

type SessionsConfig struct {
	// Store selects the backend: "memory", "sqlite", "postgres" or "redis".
	Store string `yaml:"store"`

	DataDir  string `yaml:"data_dir"`  // sqlite
	Postgres string `yaml:"postgres"`  // lib/pq connection string
	Redis    string `yaml:"redis"`     // host:port
	RedisDB  int    `yaml:"redis_db"`

	MaxMessages int    `yaml:"max_messages"` // per-session history cap, 0 = no cap
	IdleExpiry  string `yaml:"idle_expiry"`  // e.g. "24h", empty = never expire
	SweepSpec   string `yaml:"sweep_spec"`   // cron spec for the idle sweep, default "@every 10m"
}

func (s SessionsConfig) ParseIdleExpiry() (time.Duration, error) {
	if s.IdleExpiry == "" {
		return 0, nil
	}
	return time.ParseDuration(s.IdleExpiry)
}

type ToolsConfig struct {
	// LuaDir holds Lua tool scripts, one per tool, loaded at startup.
	LuaDir string `yaml:"lua_dir"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)}`)

func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.LLM.BaseURL = expandEnv(cfg.LLM.BaseURL)
	cfg.LLM.APIKey = expandEnv(cfg.LLM.APIKey)
	cfg.Sessions.Postgres = expandEnv(cfg.Sessions.Postgres)
	cfg.Sessions.Redis = expandEnv(cfg.Sessions.Redis)
	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns the configuration used when no config file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.EventQueueSize <= 0 {
		cfg.Server.EventQueueSize = 64
	}
	if cfg.Server.Heartbeat.Interval == "" {
		cfg.Server.Heartbeat.Interval = "5s"
		cfg.Server.Heartbeat.Enabled = true
	}
	if cfg.Server.Heartbeat.MaxCount <= 0 {
		cfg.Server.Heartbeat.MaxCount = 60
	}
	if cfg.Engine.MaxIterations <= 0 {
		cfg.Engine.MaxIterations = 10
	}
	if cfg.Engine.Workers <= 0 {
		cfg.Engine.Workers = 4
	}
	if cfg.Sessions.Store == "" {
		cfg.Sessions.Store = "memory"
	}
	if cfg.Sessions.SweepSpec == "" {
		cfg.Sessions.SweepSpec = "@every 10m"
	}
}
