package config

import (
	"fmt"
	"time"
)

// DatabaseConfig holds relational store settings.
type DatabaseConfig struct {
	Driver   string `yaml:"driver,omitempty"` // "sqlite" or "postgres"
	Path     string `yaml:"path,omitempty"`   // sqlite only
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Database string `yaml:"database,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	SSLMode  string `yaml:"ssl_mode,omitempty"`
	MaxConns int    `yaml:"max_conns,omitempty"`
	MaxIdle  int    `yaml:"max_idle,omitempty"`
}

func (c *DatabaseConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.Driver == "sqlite" && c.Path == "" {
		c.Path = "strata.db"
	}
	if c.Driver == "postgres" {
		if c.Host == "" {
			c.Host = "localhost"
		}
		if c.Port == 0 {
			c.Port = 5432
		}
		if c.SSLMode == "" {
			c.SSLMode = "disable"
		}
	}
	if c.MaxConns == 0 {
		c.MaxConns = 10
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 5
	}
}

func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported driver: %s (supported: sqlite, postgres)", c.Driver)
	}
	if c.Driver == "postgres" && c.Database == "" {
		return fmt.Errorf("database name is required for postgres")
	}
	return nil
}

// ConnectionString builds the driver-specific DSN.
func (c *DatabaseConfig) ConnectionString() string {
	switch c.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
			c.Host, c.Port, c.Database, c.Username, c.Password, c.SSLMode)
	default:
		return c.Path + "?_foreign_keys=on"
	}
}

// VectorStoreConfig holds vector index settings.
type VectorStoreConfig struct {
	Type      string `yaml:"type,omitempty"` // "qdrant", "pinecone", "chromem", "memory"
	Host      string `yaml:"host,omitempty"`
	Port      int    `yaml:"port,omitempty"`
	APIKey    string `yaml:"api_key,omitempty"`
	IndexHost string `yaml:"index_host,omitempty"` // pinecone only
	Path      string `yaml:"path,omitempty"`       // chromem persistence dir
	EnableTLS *bool  `yaml:"enable_tls,omitempty"`
	Dimension int    `yaml:"dimension,omitempty"`
}

func (c *VectorStoreConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "chromem"
	}
	if c.Type == "qdrant" {
		if c.Host == "" {
			c.Host = "localhost"
		}
		if c.Port == 0 {
			c.Port = 6334
		}
	}
	if c.EnableTLS == nil {
		c.EnableTLS = BoolPtr(false)
	}
	if c.Dimension == 0 {
		c.Dimension = 1536
	}
}

func (c *VectorStoreConfig) Validate() error {
	switch c.Type {
	case "qdrant", "pinecone", "chromem", "memory":
	default:
		return fmt.Errorf("unsupported vector store type: %s", c.Type)
	}
	if c.Type == "pinecone" && c.APIKey == "" {
		return fmt.Errorf("api_key is required for pinecone")
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("dimension must be positive, got %d", c.Dimension)
	}
	return nil
}

// CacheConfig holds the ephemeral KV cache settings (redis-backed).
type CacheConfig struct {
	Enabled *bool         `yaml:"enabled,omitempty"`
	Addr    string        `yaml:"addr,omitempty"`
	Pass    string        `yaml:"password,omitempty"`
	DB      int           `yaml:"db,omitempty"`
	TTL     time.Duration `yaml:"ttl,omitempty"`
}

func (c *CacheConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(false)
	}
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.TTL == 0 {
		c.TTL = 15 * time.Minute
	}
}

// IsEnabled reports whether the cache should be wired in.
func (c *CacheConfig) IsEnabled() bool {
	return c.Enabled != nil && *c.Enabled
}

// BlobConfig holds raw-file storage settings.
type BlobConfig struct {
	Dir           string        `yaml:"dir,omitempty"`
	SigningSecret string        `yaml:"signing_secret,omitempty"`
	URLExpiry     time.Duration `yaml:"url_expiry,omitempty"`
}

func (c *BlobConfig) SetDefaults() {
	if c.Dir == "" {
		c.Dir = "data/blobs"
	}
	if c.URLExpiry == 0 {
		c.URLExpiry = time.Hour
	}
}
