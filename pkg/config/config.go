package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the strata service.
type Config struct {
	Server        ServerConfig           `yaml:"server,omitempty"`
	Logging       LoggingConfig          `yaml:"logging,omitempty"`
	Database      DatabaseConfig         `yaml:"database,omitempty"`
	VectorStore   VectorStoreConfig      `yaml:"vector_store,omitempty"`
	Cache         CacheConfig            `yaml:"cache,omitempty"`
	Blob          BlobConfig             `yaml:"blob,omitempty"`
	LLM           LLMProviderConfig      `yaml:"llm,omitempty"`
	Embedder      EmbedderProviderConfig `yaml:"embedder,omitempty"`
	Vision        VisionConfig           `yaml:"vision,omitempty"`
	Speech        SpeechConfig           `yaml:"speech,omitempty"`
	Ingestion     IngestionConfig        `yaml:"ingestion,omitempty"`
	Chunking      ChunkingConfig         `yaml:"chunking,omitempty"`
	Domain        DomainConfig           `yaml:"domain,omitempty"`
	Retrieval     RetrievalConfig        `yaml:"retrieval,omitempty"`
	Reformulation ReformulationConfig    `yaml:"reformulation,omitempty"`
	Synonyms      SynonymConfig          `yaml:"synonyms,omitempty"`
	Chat          ChatConfig             `yaml:"chat,omitempty"`
	RateLimits    RateLimitConfig        `yaml:"rate_limits,omitempty"`
}

// LoggingConfig controls the process-wide logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"` // "simple" or "verbose"
	File   string `yaml:"file,omitempty"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

// Load reads a YAML config file, expands ${VAR} / ${VAR:-default}
// references from the environment, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses YAML config bytes with environment expansion.
func Parse(data []byte) (*Config, error) {
	expanded := ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied and no file input.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Logging.SetDefaults()
	c.Database.SetDefaults()
	c.VectorStore.SetDefaults()
	c.Cache.SetDefaults()
	c.Blob.SetDefaults()
	c.LLM.SetDefaults()
	c.Embedder.SetDefaults()
	c.Vision.SetDefaults()
	c.Speech.SetDefaults()
	c.Ingestion.SetDefaults()
	c.Chunking.SetDefaults()
	c.Domain.SetDefaults()
	c.Retrieval.SetDefaults()
	c.Reformulation.SetDefaults()
	c.Synonyms.SetDefaults()
	c.Chat.SetDefaults()
	c.RateLimits.SetDefaults()
}

func (c *Config) Validate() error {
	validators := []struct {
		name string
		fn   func() error
	}{
		{"server", c.Server.Validate},
		{"database", c.Database.Validate},
		{"vector_store", c.VectorStore.Validate},
		{"chunking", c.Chunking.Validate},
		{"retrieval", c.Retrieval.Validate},
		{"ingestion", c.Ingestion.Validate},
		{"rate_limits", c.RateLimits.Validate},
	}
	for _, v := range validators {
		if err := v.fn(); err != nil {
			return fmt.Errorf("invalid %s config: %w", v.name, err)
		}
	}
	return nil
}

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnv substitutes ${VAR} and ${VAR:-default} references.
// Unset variables without a default expand to the empty string.
func ExpandEnv(s string) string {
	return envRefPattern.ReplaceAllStringFunc(s, func(match string) string {
		sub := envRefPattern.FindStringSubmatch(match)
		name := sub[1]
		if val, ok := os.LookupEnv(name); ok && val != "" {
			return val
		}
		if sub[2] != "" {
			return sub[3]
		}
		return ""
	})
}

// BoolPtr returns a pointer to the given bool.
func BoolPtr(b bool) *bool {
	return &b
}
