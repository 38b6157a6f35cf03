package wiring

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/knitli/codeweaver/internal/config"
	"github.com/knitli/codeweaver/internal/registry"
	"github.com/knitli/codeweaver/internal/tokenizer"
	"github.com/knitli/codeweaver/internal/vectorstore"
	"github.com/knitli/codeweaver/internal/vectorstore/memory"
)

func TestBuildRegistryMemoryBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Backend = "memory"

	reg, err := BuildRegistry(cfg, filepath.Join(t.TempDir(), "snapshot.json"))
	require.NoError(t, err)

	store, err := registry.Resolve[vectorstore.Store](reg, registry.CapabilityVectorStore)
	require.NoError(t, err)
	require.IsType(t, &memory.Store{}, store)

	counter, err := registry.Resolve[tokenizer.Counter](reg, registry.CapabilityTokenizer)
	require.NoError(t, err)
	require.Greater(t, counter.Count("package main"), 0)
}

func TestBuildRegistryUnknownBackendRejectedByValidate(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Backend = "bogus"

	_, err := BuildRegistry(cfg, "")
	require.Error(t, err)
}

func TestSetupLoggingDisabledReturnsDefault(t *testing.T) {
	logger, cleanup, err := SetupLogging(Logging{})
	require.NoError(t, err)
	require.NotNil(t, logger)
	cleanup()
}
