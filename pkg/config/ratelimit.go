package config

import "fmt"

// EndpointClass names a group of endpoints sharing a rate limit.
type EndpointClass string

const (
	EndpointChat      EndpointClass = "chat"
	EndpointRetrieval EndpointClass = "retrieval"
	EndpointUpload    EndpointClass = "upload"
	EndpointAuth      EndpointClass = "auth"
)

// RateLimitRule defines a token-bucket limit for one endpoint class.
type RateLimitRule struct {
	// PerMinute is the sustained request rate.
	PerMinute int `yaml:"per_minute"`
	// Burst is the bucket capacity.
	Burst int `yaml:"burst,omitempty"`
}

// RateLimitConfig defines per-identity rate limiting.
// Identity is the API key when present, otherwise the remote IP.
type RateLimitConfig struct {
	Enabled *bool                           `yaml:"enabled,omitempty"`
	Rules   map[EndpointClass]RateLimitRule `yaml:"rules,omitempty"`
	// MaxIdentities bounds the limiter registry (LRU eviction).
	MaxIdentities int `yaml:"max_identities,omitempty"`
}

func (c *RateLimitConfig) IsEnabled() bool {
	return c != nil && c.Enabled != nil && *c.Enabled
}

func (c *RateLimitConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if c.Rules == nil {
		c.Rules = map[EndpointClass]RateLimitRule{}
	}
	defaults := map[EndpointClass]RateLimitRule{
		EndpointChat:      {PerMinute: 10},
		EndpointRetrieval: {PerMinute: 60},
		EndpointUpload:    {PerMinute: 20},
		EndpointAuth:      {PerMinute: 5},
	}
	for class, rule := range defaults {
		if _, ok := c.Rules[class]; !ok {
			c.Rules[class] = rule
		}
	}
	for class, rule := range c.Rules {
		if rule.Burst == 0 {
			rule.Burst = rule.PerMinute
			c.Rules[class] = rule
		}
	}
	if c.MaxIdentities == 0 {
		c.MaxIdentities = 4096
	}
}

func (c *RateLimitConfig) Validate() error {
	for class, rule := range c.Rules {
		if rule.PerMinute <= 0 {
			return fmt.Errorf("rate limit for %s must be positive, got %d", class, rule.PerMinute)
		}
		if rule.Burst < 1 {
			return fmt.Errorf("burst for %s must be at least 1, got %d", class, rule.Burst)
		}
	}
	return nil
}
