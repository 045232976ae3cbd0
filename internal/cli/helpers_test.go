package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/memstate/internal/config"
	"github.com/roach88/memstate/internal/host"
	"github.com/roach88/memstate/internal/models/kv"
)

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

// seedJournal writes pairs as kv.set commands to a new journal at a temp
// path and returns the path.
func seedJournal(t *testing.T, pairs ...string) string {
	t.Helper()
	require.Zero(t, len(pairs)%2, "pairs must be key/value")

	path := filepath.Join(t.TempDir(), "memstate.db")
	settings := config.Default()
	settings.JournalPath = path

	reg, err := kvRegistry()
	require.NoError(t, err)

	h, err := host.Open(context.Background(), settings, kv.New(), reg,
		host.WithLogger(discardLogger()),
	)
	require.NoError(t, err)

	for i := 0; i < len(pairs); i += 2 {
		_, err := h.Engine().Execute(context.Background(), kv.Set{Key: pairs[i], Value: pairs[i+1]})
		require.NoError(t, err)
	}
	require.NoError(t, h.Close())
	return path
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "memstate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
