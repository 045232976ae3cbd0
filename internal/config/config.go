// Package config loads engine settings.
//
// Settings are resolved in order: built-in defaults, an optional YAML file,
// then MEMSTATE_* environment variables. The result is validated against an
// embedded CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSrc string

// ErrInvalid is returned when settings fail schema validation.
var ErrInvalid = errors.New("invalid settings")

// Defaults for Settings.
const (
	DefaultMaxBatchSize        = 1000
	DefaultMaxBatchQueueLength = 10000
	DefaultJournalPath         = "memstate.db"
	DefaultLogLevel            = "info"
)

// Settings configures the engine, its journal and the batch writer.
type Settings struct {
	// AllowBrokenSequence applies records that skip sequence numbers
	// instead of halting the engine.
	AllowBrokenSequence bool `yaml:"allow_broken_sequence" json:"allow_broken_sequence" env:"MEMSTATE_ALLOW_BROKEN_SEQUENCE"`

	// MaxBatchSize caps records per physical journal write.
	MaxBatchSize int `yaml:"max_batch_size" json:"max_batch_size" env:"MEMSTATE_MAX_BATCH_SIZE"`

	// MaxBatchQueueLength bounds queued writes before submitters block.
	MaxBatchQueueLength int `yaml:"max_batch_queue_length" json:"max_batch_queue_length" env:"MEMSTATE_MAX_BATCH_QUEUE_LENGTH"`

	// JournalPath is the SQLite journal file.
	JournalPath string `yaml:"journal_path" json:"journal_path" env:"MEMSTATE_JOURNAL_PATH"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level" env:"MEMSTATE_LOG_LEVEL"`
}

// Default returns settings with built-in defaults.
func Default() Settings {
	return Settings{
		MaxBatchSize:        DefaultMaxBatchSize,
		MaxBatchQueueLength: DefaultMaxBatchQueueLength,
		JournalPath:         DefaultJournalPath,
		LogLevel:            DefaultLogLevel,
	}
}

// Load resolves settings from defaults, the YAML file at path (skipped
// when path is empty) and the environment, then validates them.
func Load(path string) (Settings, error) {
	s := Default()

	if path != "" {
		if err := s.mergeFile(path); err != nil {
			return Settings{}, err
		}
	}
	if err := ParseEnv(&s); err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// ParseEnv overlays environment variables onto target. Unset variables
// leave fields untouched.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (s *Settings) mergeFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open settings: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode settings %s: %w", path, err)
	}
	return nil
}

// Validate checks settings against the embedded CUE schema.
func (s Settings) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSrc, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile settings schema: %w", err)
	}

	v := schema.Unify(ctx.Encode(s))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, cueerrors.Details(err, nil))
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level. Unknown values map to info.
func (s Settings) SlogLevel() slog.Level {
	switch s.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
