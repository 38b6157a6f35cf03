package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultLogDirContainsCodeWeaver(t *testing.T) {
	dir := DefaultLogDir()
	require.Contains(t, dir, ".codeweaver")
	require.Contains(t, dir, "logs")
}

func TestSetupWritesJSONRecords(t *testing.T) {
	tmp := t.TempDir()
	cfg := Config{
		Level:         "debug",
		FilePath:      filepath.Join(tmp, "server.log"),
		MaxSizeMB:     1,
		MaxFiles:      2,
		WriteToStderr: false,
	}

	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)
	defer cleanup()

	logger.Info("indexing started", slog.String("project", "codeweaver"))

	data, err := os.ReadFile(cfg.FilePath)
	require.NoError(t, err)
	require.Contains(t, string(data), "indexing started")
	require.Contains(t, string(data), "codeweaver")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, parseLevel("debug"))
	require.Equal(t, slog.LevelWarn, parseLevel("warn"))
	require.Equal(t, slog.LevelInfo, parseLevel("unknown"))
}
