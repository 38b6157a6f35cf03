// Package wiring assembles a registry.Registry from a config.Config, the
// one place concrete backend selection happens now that the teacher's
// env-var-driven factory switch (internal/embed's NewEmbedder) has been
// replaced by the capability-typed DI container (spec §9 "Cyclic
// dependencies"). It plays the same role the teacher's CLI entrypoint
// played — reading a decoded config and registering the corresponding
// provider variants — without reintroducing CLI parsing or profile
// loading, both out of scope per spec §1.
package wiring

import (
	"fmt"
	"log/slog"

	"github.com/knitli/codeweaver/internal/config"
	"github.com/knitli/codeweaver/internal/logging"
	"github.com/knitli/codeweaver/internal/registry"
	"github.com/knitli/codeweaver/internal/tokenizer"
	"github.com/knitli/codeweaver/internal/vectorstore/memory"
	"github.com/knitli/codeweaver/internal/vectorstore/qdrant"
)

// Logging bundles the subset of logging.Config a caller of BuildRegistry
// wants to control. Leaving it zero-valued disables file logging and
// logs to stderr only via slog.Default().
type Logging struct {
	Enabled bool
	Config  logging.Config
}

// BuildRegistry constructs a registry.Registry from cfg, registering the
// vector-store backend named by cfg.Backend ("qdrant" or "memory") and a
// tiktoken-backed tokenizer. Embedding and reranking capabilities are
// left for the caller to register, since concrete embedding/reranking
// vendors are pluggable providers outside this spec's scope (spec §1).
//
// snapshotPath is only consulted for the "memory" backend; it may be
// empty to disable snapshot persistence (spec §4.7).
func BuildRegistry(cfg config.Config, snapshotPath string) (*registry.Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reg := registry.New()

	switch cfg.Backend {
	case "qdrant":
		reg.Register(registry.CapabilityVectorStore, "qdrant", func() (any, error) {
			return qdrant.NewStore(qdrant.Options{
				URL:         cfg.VectorStore.URL,
				APIKey:      cfg.VectorStore.APIKey,
				ProviderTag: "qdrant",
			})
		})
	case "memory":
		reg.Register(registry.CapabilityVectorStore, "memory", func() (any, error) {
			return memory.NewStore(memory.Options{
				SnapshotPath: snapshotPath,
			})
		})
	default:
		return nil, fmt.Errorf("wiring: unknown backend %q", cfg.Backend)
	}

	reg.Register(registry.CapabilityTokenizer, "tiktoken", func() (any, error) {
		return tokenizer.NewTiktokenCounter()
	})

	return reg, nil
}

// SetupLogging wires up the teacher's rotating-file logger (spec's
// ambient-stack carry-over, per SPEC_FULL.md's logging section) when
// lg.Enabled, falling back to slog.Default() otherwise. The returned
// cleanup func must be called before process exit; it is a no-op when
// lg.Enabled is false.
func SetupLogging(lg Logging) (*slog.Logger, func(), error) {
	if !lg.Enabled {
		return slog.Default(), func() {}, nil
	}
	logger, cleanup, err := logging.Setup(lg.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("wiring: setup logging: %w", err)
	}
	return logger, cleanup, nil
}
