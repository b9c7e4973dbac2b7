package config

import (
	"fmt"
	"time"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host,omitempty"`
	Port            int           `yaml:"port,omitempty"`
	ReadTimeout     time.Duration `yaml:"read_timeout,omitempty"`
	WriteTimeout    time.Duration `yaml:"write_timeout,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes,omitempty"`
	TempDir         string        `yaml:"temp_dir,omitempty"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.WriteTimeout == 0 {
		// Long enough for streaming chat responses.
		c.WriteTimeout = 10 * time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 15 * time.Second
	}
	if c.MaxUploadBytes == 0 {
		c.MaxUploadBytes = 100 << 20 // 100 MiB
	}
	if c.TempDir == "" {
		c.TempDir = "/tmp/strata"
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be in [1, 65535], got %d", c.Port)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive")
	}
	return nil
}

// Address returns the listen address in host:port form.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
