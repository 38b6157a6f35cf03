// Package config defines the typed provider/collection configuration
// structs described in spec §6's "Provider configuration surface" and
// SPEC_FULL.md §10, with env-var overrides and validation. The config
// *loader* (file discovery, profile presets, CLI flags) is the external
// collaborator named out of scope in spec §1; this package only owns the
// structs those configs decode into.
//
// Grounded on the teacher's internal/config package (defaults + env
// overrides + Validate()), restructured around the spec's narrower
// provider config surface instead of the teacher's full CLI-profile
// schema.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderConfig is the configuration surface every capability provider
// variant accepts at minimum (spec §6).
type ProviderConfig struct {
	URL        string        `yaml:"url,omitempty" json:"url,omitempty"`
	APIKey     string        `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	Model      string        `yaml:"model,omitempty" json:"model,omitempty"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
}

// Default timeout/retry values, carried from the teacher's embed
// package constants (internal/embed/types.go DefaultTimeout/DefaultMaxRetries).
const (
	DefaultTimeout    = 60 * time.Second
	DefaultMaxRetries = 3
)

// DefaultProviderConfig returns a ProviderConfig with the package defaults.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
	}
}

// WithEnvOverrides applies environment variable overrides for credentials
// and connection settings, following the spec's "Credentials come from
// environment variables; explicit overrides allowed for testing."
// prefix is the provider's env var prefix, e.g. "CODEWEAVER_QDRANT".
func (c ProviderConfig) WithEnvOverrides(prefix string) ProviderConfig {
	if v := os.Getenv(prefix + "_URL"); v != "" {
		c.URL = v
	}
	if v := os.Getenv(prefix + "_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv(prefix + "_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv(prefix + "_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Timeout = d
		}
	}
	if v := os.Getenv(prefix + "_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxRetries = n
		}
	}
	return c
}

// Validate checks the provider configuration is usable. An empty URL is
// valid (providers may default to localhost or a vendor's hosted API);
// a negative timeout or retry count is not.
func (c ProviderConfig) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("config: timeout must be non-negative, got %s", c.Timeout)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: max_retries must be non-negative, got %d", c.MaxRetries)
	}
	return nil
}

// CollectionConfig configures a repository's target collection.
type CollectionConfig struct {
	// Name defaults to the project name (repo basename) if unset, per
	// spec §6's "Collection name defaults to project name... if unset."
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// DenseDimension is the collection's declared dense vector dimension.
	DenseDimension int `yaml:"dense_dimension" json:"dense_dimension"`

	// MaxSparseDimension bounds sparse vector indices.
	MaxSparseDimension int `yaml:"max_sparse_dimension" json:"max_sparse_dimension"`

	// SchemaVersion is persisted with CollectionMetadata (spec §3).
	SchemaVersion int `yaml:"schema_version" json:"schema_version"`
}

// DefaultSchemaVersion is the current CollectionMetadata schema version.
const DefaultSchemaVersion = 1

// NameOrDefault returns Name if set, else projectName unchanged (spec §6).
// Deriving projectName from the repository path is the caller's job.
func (c CollectionConfig) NameOrDefault(projectName string) string {
	if c.Name != "" {
		return c.Name
	}
	return projectName
}

func (c CollectionConfig) Validate() error {
	if c.DenseDimension < 0 {
		return fmt.Errorf("config: dense_dimension must be non-negative, got %d", c.DenseDimension)
	}
	if c.MaxSparseDimension < 0 {
		return fmt.Errorf("config: max_sparse_dimension must be non-negative, got %d", c.MaxSparseDimension)
	}
	return nil
}

// Config aggregates the provider and collection configuration this core
// consumes. The surrounding CLI/config-loader (out of scope per spec §1)
// is expected to decode a YAML document into this struct.
type Config struct {
	DenseEmbedding  ProviderConfig   `yaml:"dense_embedding" json:"dense_embedding"`
	SparseEmbedding ProviderConfig   `yaml:"sparse_embedding" json:"sparse_embedding"`
	Reranking       ProviderConfig   `yaml:"reranking" json:"reranking"`
	VectorStore     ProviderConfig   `yaml:"vector_store" json:"vector_store"`
	Collection      CollectionConfig `yaml:"collection" json:"collection"`

	// Backend selects "qdrant" or "memory" (spec §4.6/§4.7).
	Backend string `yaml:"backend" json:"backend"`
}

// DefaultConfig returns a Config with sane defaults: in-memory backend,
// localhost Qdrant URL should it be selected, schema version 1.
func DefaultConfig() Config {
	vs := DefaultProviderConfig()
	vs.URL = "localhost:6334"
	return Config{
		DenseEmbedding:  DefaultProviderConfig(),
		SparseEmbedding: DefaultProviderConfig(),
		Reranking:       DefaultProviderConfig(),
		VectorStore:     vs,
		Collection:      CollectionConfig{SchemaVersion: DefaultSchemaVersion},
		Backend:         "memory",
	}
}

// LoadYAML decodes a Config from YAML bytes, applying defaults for any
// zero-valued sections first. This is the typed-struct half of the
// config surface; discovering *which* file to read is the CLI's job.
func LoadYAML(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// WithEnvOverrides applies CODEWEAVER_-prefixed env overrides to every
// provider config section.
func (c Config) WithEnvOverrides() Config {
	c.DenseEmbedding = c.DenseEmbedding.WithEnvOverrides("CODEWEAVER_DENSE")
	c.SparseEmbedding = c.SparseEmbedding.WithEnvOverrides("CODEWEAVER_SPARSE")
	c.Reranking = c.Reranking.WithEnvOverrides("CODEWEAVER_RERANK")
	c.VectorStore = c.VectorStore.WithEnvOverrides("CODEWEAVER_STORE")
	if v := os.Getenv("CODEWEAVER_BACKEND"); v != "" {
		c.Backend = strings.ToLower(v)
	}
	return c
}

// Validate checks every section of the configuration.
func (c Config) Validate() error {
	for name, pc := range map[string]ProviderConfig{
		"dense_embedding":  c.DenseEmbedding,
		"sparse_embedding": c.SparseEmbedding,
		"reranking":        c.Reranking,
		"vector_store":     c.VectorStore,
	} {
		if err := pc.Validate(); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	if err := c.Collection.Validate(); err != nil {
		return err
	}
	switch c.Backend {
	case "qdrant", "memory":
	default:
		return fmt.Errorf("config: unknown backend %q, want \"qdrant\" or \"memory\"", c.Backend)
	}
	return nil
}
