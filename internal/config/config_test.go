package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memstate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), s)
	assert.False(t, s.AllowBrokenSequence)
}

func TestLoad_File(t *testing.T) {
	path := writeSettings(t, `
allow_broken_sequence: true
max_batch_size: 50
max_batch_queue_length: 500
journal_path: /var/lib/memstate/journal.db
log_level: debug
`)

	s, err := Load(path)
	require.NoError(t, err)
	assert.True(t, s.AllowBrokenSequence)
	assert.Equal(t, 50, s.MaxBatchSize)
	assert.Equal(t, 500, s.MaxBatchQueueLength)
	assert.Equal(t, "/var/lib/memstate/journal.db", s.JournalPath)
	assert.Equal(t, slog.LevelDebug, s.SlogLevel())
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeSettings(t, "max_batch_size: 10\n")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, s.MaxBatchSize)
	assert.Equal(t, DefaultMaxBatchQueueLength, s.MaxBatchQueueLength)
	assert.Equal(t, DefaultJournalPath, s.JournalPath)
}

func TestLoad_EmptyFile(t *testing.T) {
	s, err := Load(writeSettings(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), s)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeSettings(t, "max_batch_size: 10\n")
	t.Setenv("MEMSTATE_MAX_BATCH_SIZE", "20")
	t.Setenv("MEMSTATE_ALLOW_BROKEN_SEQUENCE", "true")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20, s.MaxBatchSize)
	assert.True(t, s.AllowBrokenSequence)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("MEMSTATE_MAX_BATCH_SIZE", "lots")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestLoad_UnknownField(t *testing.T) {
	_, err := Load(writeSettings(t, "max_batch_sise: 10\n"))
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Settings)
		valid  bool
	}{
		{"defaults", func(*Settings) {}, true},
		{"zero batch size", func(s *Settings) { s.MaxBatchSize = 0 }, false},
		{"queue shorter than batch", func(s *Settings) { s.MaxBatchQueueLength = s.MaxBatchSize - 1 }, false},
		{"empty journal path", func(s *Settings) { s.JournalPath = "" }, false},
		{"unknown log level", func(s *Settings) { s.LogLevel = "chatty" }, false},
		{"queue equal to batch", func(s *Settings) { s.MaxBatchQueueLength = s.MaxBatchSize }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.modify(&s)
			err := s.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalid)
			}
		})
	}
}
