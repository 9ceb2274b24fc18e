package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"duelnet/pkg/tracing"
	"duelnet/pkg/validation"
)

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Config struct {
	Room struct {
		ID       string `yaml:"id"`
		PlayRect struct {
			X      float64 `yaml:"x"`
			Y      float64 `yaml:"y"`
			Width  float64 `yaml:"width"`
			Height float64 `yaml:"height"`
		} `yaml:"play_rect"`
	} `yaml:"room"`

	Peer struct {
		ID   string `yaml:"id"` // generated when empty
		Name string `yaml:"name"`
	} `yaml:"peer"`

	Simulation struct {
		TickRate int `yaml:"tick_rate"` // fixed steps per second
	} `yaml:"simulation"`

	Sync struct {
		BroadcastInterval time.Duration `yaml:"broadcast_interval"`
		InputInterval     time.Duration `yaml:"input_interval"`
		StaleThreshold    time.Duration `yaml:"stale_threshold"`
	} `yaml:"sync"`

	WebRTC struct {
		ICEServers []ICEServer `yaml:"ice_servers"`
		PortRange  struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
		NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`
	} `yaml:"webrtc"`

	Signaling struct {
		PublishRetries   int           `yaml:"publish_retries"` // attempts after the first write
		RetryDelay       time.Duration `yaml:"retry_delay"`
		BreakerThreshold int           `yaml:"breaker_threshold"` // consecutive failures that open the breaker
		BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
	} `yaml:"signaling"`

	Store struct {
		Backend     string        `yaml:"backend"` // memory | redis
		DocumentTTL time.Duration `yaml:"document_ttl"`
		// MemoryFallback lets a redis backend degrade to the in-process store
		// when Redis is unreachable. Peers in other processes cannot be reached then.
		MemoryFallback bool `yaml:"memory_fallback"`
	} `yaml:"store"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Monitoring struct {
		PrometheusEnabled  bool          `yaml:"prometheus_enabled"`
		Address            string        `yaml:"address"`
		GuestAddress       string        `yaml:"guest_address"` // used by guests when set
		DiagnosticsEnabled bool          `yaml:"diagnostics_enabled"`
		DiagnosticsPush    time.Duration `yaml:"diagnostics_push"`
		ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"monitoring"`

	Logging struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"logging"`

	Tracing tracing.Config `yaml:"tracing"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		Input struct {
			MessagesPerSecond float64 `yaml:"messages_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"input"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"`
		} `yaml:"http"`
	} `yaml:"rate_limiting"`
}

// ForGuest returns a copy of c that serves diagnostics on the guest address,
// so a host and a guest on one machine do not collide.
func (c *Config) ForGuest() *Config {
	out := *c
	if c.Monitoring.GuestAddress != "" {
		out.Monitoring.Address = c.Monitoring.GuestAddress
	}
	return &out
}

// TickInterval is the fixed simulation step derived from the tick rate.
func (c *Config) TickInterval() time.Duration {
	if c.Simulation.TickRate <= 0 {
		return 0
	}
	return time.Second / time.Duration(c.Simulation.TickRate)
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Room
	if err := validation.ValidateRoomID(c.Room.ID); err != nil {
		return fmt.Errorf("room.id: %w", err)
	}
	r := c.Room.PlayRect
	if err := validation.ValidatePlayRect(r.X, r.Y, r.Width, r.Height); err != nil {
		return fmt.Errorf("room.play_rect: %w", err)
	}

	// Peer
	if c.Peer.ID != "" {
		if err := validation.ValidatePeerID(c.Peer.ID); err != nil {
			return fmt.Errorf("peer.id: %w", err)
		}
	}
	if err := validation.ValidateDisplayName(c.Peer.Name); err != nil {
		return fmt.Errorf("peer.name: %w", err)
	}

	// Simulation / sync
	if c.Simulation.TickRate <= 0 || c.Simulation.TickRate > 1000 {
		return fmt.Errorf("simulation.tick_rate must be in (0, 1000]")
	}
	if c.Sync.BroadcastInterval <= 0 {
		return fmt.Errorf("sync.broadcast_interval must be > 0")
	}
	if c.Sync.InputInterval <= 0 {
		return fmt.Errorf("sync.input_interval must be > 0")
	}
	if c.Sync.StaleThreshold <= 0 {
		return fmt.Errorf("sync.stale_threshold must be > 0")
	}

	// WebRTC
	for _, s := range c.WebRTC.ICEServers {
		for _, u := range s.URLs {
			if err := validation.ValidateICEServerURL(u); err != nil {
				return fmt.Errorf("webrtc.ice_servers: %w", err)
			}
		}
	}
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}
	if c.WebRTC.NegotiationTimeout <= 0 {
		return fmt.Errorf("webrtc.negotiation_timeout must be > 0")
	}

	// Signaling
	if c.Signaling.PublishRetries < 0 {
		return fmt.Errorf("signaling.publish_retries must be >= 0")
	}
	if c.Signaling.RetryDelay <= 0 {
		return fmt.Errorf("signaling.retry_delay must be > 0")
	}
	if c.Signaling.BreakerThreshold <= 0 {
		return fmt.Errorf("signaling.breaker_threshold must be > 0")
	}
	if c.Signaling.BreakerCooldown <= 0 {
		return fmt.Errorf("signaling.breaker_cooldown must be > 0")
	}

	// Store
	switch c.Store.Backend {
	case "memory":
	case "redis":
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when store.backend=redis")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when store.backend=redis")
		}
	default:
		return fmt.Errorf("store.backend must be memory or redis, got %q", c.Store.Backend)
	}
	if c.Store.DocumentTTL <= 0 {
		return fmt.Errorf("store.document_ttl must be > 0")
	}

	// Monitoring
	if (c.Monitoring.PrometheusEnabled || c.Monitoring.DiagnosticsEnabled) && c.Monitoring.Address == "" {
		return fmt.Errorf("monitoring.address must not be empty when an endpoint is enabled")
	}
	if c.Monitoring.DiagnosticsPush <= 0 {
		return fmt.Errorf("monitoring.diagnostics_push must be > 0")
	}
	if c.Monitoring.ShutdownTimeout <= 0 {
		return fmt.Errorf("monitoring.shutdown_timeout must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be json or console")
	}

	// Tracing
	if c.Tracing.Enabled && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing.sample_rate must be in [0, 1]")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.Input.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.input.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Input.Burst <= 0 {
			return fmt.Errorf("rate_limiting.input.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 || c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http requests_per_second and burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Room.ID = "lobby"
	cfg.Room.PlayRect.Width = 960
	cfg.Room.PlayRect.Height = 540

	cfg.Simulation.TickRate = 60

	cfg.Sync.BroadcastInterval = 150 * time.Millisecond
	cfg.Sync.InputInterval = 50 * time.Millisecond
	cfg.Sync.StaleThreshold = 1500 * time.Millisecond

	cfg.WebRTC.ICEServers = []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	cfg.WebRTC.NegotiationTimeout = 20 * time.Second

	cfg.Signaling.PublishRetries = 2
	cfg.Signaling.RetryDelay = 200 * time.Millisecond
	cfg.Signaling.BreakerThreshold = 5
	cfg.Signaling.BreakerCooldown = 10 * time.Second

	cfg.Store.Backend = "redis"
	cfg.Store.DocumentTTL = 10 * time.Minute

	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.Address = ":9090"
	cfg.Monitoring.GuestAddress = ":9091"
	cfg.Monitoring.DiagnosticsEnabled = true
	cfg.Monitoring.DiagnosticsPush = time.Second
	cfg.Monitoring.ShutdownTimeout = 5 * time.Second

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 3
	cfg.Logging.MaxAgeDays = 7

	cfg.Tracing = tracing.DefaultConfig()

	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.Input.MessagesPerSecond = 60
	cfg.RateLimiting.Input.Burst = 30
	cfg.RateLimiting.HTTP.RequestsPerSecond = 20
	cfg.RateLimiting.HTTP.Burst = 40
	cfg.RateLimiting.HTTP.MaxConcurrent = 64

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DUELNET_ROOM_ID"); v != "" {
		c.Room.ID = v
	}
	if v := os.Getenv("DUELNET_PEER_ID"); v != "" {
		c.Peer.ID = v
	}
	if v := os.Getenv("DUELNET_PEER_NAME"); v != "" {
		c.Peer.Name = v
	}
	if v := os.Getenv("DUELNET_STORE_BACKEND"); v != "" {
		c.Store.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("DUELNET_REDIS_ADDRESS"); v != "" {
		c.Redis.Address = v
	}
	if v := os.Getenv("DUELNET_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("DUELNET_MONITORING_ADDRESS"); v != "" {
		c.Monitoring.Address = v
	}
	if v := os.Getenv("DUELNET_MONITORING_GUEST_ADDRESS"); v != "" {
		c.Monitoring.GuestAddress = v
	}
	if v := os.Getenv("DUELNET_STORE_MEMORY_FALLBACK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Store.MemoryFallback = b
		}
	}
	if v := os.Getenv("DUELNET_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DUELNET_TICK_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Simulation.TickRate = n
		}
	}
}
