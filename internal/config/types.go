// Package config provides configuration loading for chimerad.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/chimeralabs/chimerad/internal/task"
)

// Duration wraps time.Duration for text unmarshaling (YAML, env vars).
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration().String())
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config is the root configuration for chimerad.
type Config struct {
	Server    ServerConfig          `koanf:"server"`
	NATS      NATSConfig            `koanf:"nats"`
	Logging   LoggingConfig         `koanf:"logging"`
	Scheduler SchedulerConfig       `koanf:"scheduler"`
	RateLimit RateLimitConfig       `koanf:"rate_limit"`
	Cache     CacheConfig           `koanf:"cache"`
	Gate      GateConfig            `koanf:"gate"`
	Kinds     map[string]KindPolicy `koanf:"kinds"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// NATSConfig holds review queue connection settings.
type NATSConfig struct {
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
}

// LoggingConfig holds log settings (mapped onto internal/logging at startup).
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// SchedulerConfig holds dispatch settings.
type SchedulerConfig struct {
	// PoolSize caps the number of tasks concurrently in running state.
	PoolSize int `koanf:"pool_size"`

	// CallTimeout is the per-external-call ceiling for one executor attempt.
	CallTimeout Duration `koanf:"call_timeout"`

	// PollInterval paces the dispatch loop when nothing is ready.
	PollInterval Duration `koanf:"poll_interval"`
}

// RateLimitConfig holds the internal per-principal quota.
type RateLimitConfig struct {
	Internal WindowLimit `koanf:"internal"`
}

// WindowLimit is one fixed-window quota.
type WindowLimit struct {
	Window Duration `koanf:"window"`
	Limit  int      `koanf:"limit"`
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	MaxEntries int `koanf:"max_entries"`
}

// GateConfig holds escalation gate settings.
type GateConfig struct {
	// ReviewExpiry is how long a pending review waits for a human decision
	// before the fail-closed auto-reject.
	ReviewExpiry Duration `koanf:"review_expiry"`

	// SweepInterval is how often expired pending reviews are collected.
	SweepInterval Duration `koanf:"sweep_interval"`
}

// KindPolicy is the per-executor-kind risk profile. Thresholds are per kind,
// not global: a wallet transfer and a trend fetch do not carry the same risk.
type KindPolicy struct {
	// ApproveThreshold is the minimum confidence for auto-approval.
	ApproveThreshold float64 `koanf:"approve_threshold"`

	// CostThreshold is the cost above which a result always goes to review.
	CostThreshold float64 `koanf:"cost_threshold"`

	// CacheTTL is how long results of this kind stay cached. Zero disables
	// caching for the kind.
	CacheTTL Duration `koanf:"cache_ttl"`

	// MinCost is the minimum estimated cost of one task of this kind, used by
	// the planner's budget feasibility check.
	MinCost float64 `koanf:"min_cost"`

	// ExternalRateLimit mirrors the downstream third-party quota for this
	// kind. A zero limit means no external layer applies.
	ExternalRateLimit WindowLimit `koanf:"external_rate_limit"`
}

// Default returns the built-in configuration, including the three Project
// Chimera executor kinds with their risk profiles.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            9090,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		NATS: NATSConfig{
			URL:     "nats://localhost:4222",
			Subject: "chimera.reviews.pending",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Scheduler: SchedulerConfig{
			PoolSize:     8,
			CallTimeout:  Duration(30 * time.Second),
			PollInterval: Duration(100 * time.Millisecond),
		},
		RateLimit: RateLimitConfig{
			// 10 requests per minute per principal is the orchestrator window
			// from the skill contracts.
			Internal: WindowLimit{Window: Duration(time.Minute), Limit: 10},
		},
		Cache: CacheConfig{
			MaxEntries: 1024,
		},
		Gate: GateConfig{
			ReviewExpiry:  Duration(24 * time.Hour),
			SweepInterval: Duration(time.Minute),
		},
		Kinds: map[string]KindPolicy{
			"trend_fetch": {
				ApproveThreshold:  0.70,
				CostThreshold:     1.0,
				CacheTTL:          Duration(5 * time.Minute),
				MinCost:           0.01,
				ExternalRateLimit: WindowLimit{Window: Duration(time.Minute), Limit: 30},
			},
			"content_generate": {
				ApproveThreshold:  0.80,
				CostThreshold:     2.0,
				CacheTTL:          Duration(time.Hour),
				MinCost:           0.05,
				ExternalRateLimit: WindowLimit{Window: Duration(time.Minute), Limit: 10},
			},
			"wallet_transfer": {
				// Money movement: high confidence bar, low cost tolerance,
				// never cached.
				ApproveThreshold:  0.95,
				CostThreshold:     0.5,
				CacheTTL:          0,
				MinCost:           0.10,
				ExternalRateLimit: WindowLimit{Window: Duration(time.Minute), Limit: 5},
			},
		},
	}
}

// Policy returns the policy for a kind and whether it is registered.
func (c *Config) Policy(kind task.Kind) (KindPolicy, bool) {
	p, ok := c.Kinds[string(kind)]
	return p, ok
}

// RegisteredKinds returns the configured kind names.
func (c *Config) RegisteredKinds() []task.Kind {
	kinds := make([]task.Kind, 0, len(c.Kinds))
	for k := range c.Kinds {
		kinds = append(kinds, task.Kind(k))
	}
	return kinds
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port)
	}
	if c.Scheduler.PoolSize <= 0 {
		return fmt.Errorf("scheduler.pool_size must be > 0, got %d", c.Scheduler.PoolSize)
	}
	if c.Scheduler.CallTimeout.Duration() <= 0 {
		return fmt.Errorf("scheduler.call_timeout must be > 0")
	}
	if c.Scheduler.PollInterval.Duration() <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be > 0")
	}
	if err := validateWindowLimit("rate_limit.internal", c.RateLimit.Internal); err != nil {
		return err
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be > 0, got %d", c.Cache.MaxEntries)
	}
	if c.Gate.ReviewExpiry.Duration() <= 0 {
		return fmt.Errorf("gate.review_expiry must be > 0")
	}
	if c.Gate.SweepInterval.Duration() <= 0 {
		return fmt.Errorf("gate.sweep_interval must be > 0")
	}
	if len(c.Kinds) == 0 {
		return fmt.Errorf("at least one executor kind must be configured")
	}
	for name, p := range c.Kinds {
		if p.ApproveThreshold < 0 || p.ApproveThreshold > 1 {
			return fmt.Errorf("kinds.%s.approve_threshold must be in 0.0-1.0, got %v", name, p.ApproveThreshold)
		}
		if p.CostThreshold < 0 {
			return fmt.Errorf("kinds.%s.cost_threshold must be >= 0, got %v", name, p.CostThreshold)
		}
		if p.MinCost < 0 {
			return fmt.Errorf("kinds.%s.min_cost must be >= 0, got %v", name, p.MinCost)
		}
		if p.ExternalRateLimit.Limit > 0 {
			if err := validateWindowLimit("kinds."+name+".external_rate_limit", p.ExternalRateLimit); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateWindowLimit(path string, wl WindowLimit) error {
	if wl.Limit <= 0 {
		return fmt.Errorf("%s.limit must be > 0, got %d", path, wl.Limit)
	}
	if wl.Window.Duration() <= 0 {
		return fmt.Errorf("%s.window must be > 0", path)
	}
	return nil
}
