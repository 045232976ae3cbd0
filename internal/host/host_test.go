package host

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/memstate/internal/codec"
	"github.com/roach88/memstate/internal/config"
	"github.com/roach88/memstate/internal/engine"
	"github.com/roach88/memstate/internal/journal"
	"github.com/roach88/memstate/internal/models/kv"
	"github.com/roach88/memstate/internal/store"
	"github.com/roach88/memstate/internal/testutil"
)

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func kvRegistry(t *testing.T) *codec.Registry {
	t.Helper()
	reg := codec.NewRegistry()
	require.NoError(t, kv.Register(reg))
	return reg
}

func settingsAt(t *testing.T) config.Settings {
	t.Helper()
	s := config.Default()
	s.JournalPath = filepath.Join(t.TempDir(), "journal.db")
	return s
}

func TestOpen_PersistsAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	settings := settingsAt(t)
	reg := kvRegistry(t)

	h, err := Open(ctx, settings, kv.New(), reg, quiet())
	require.NoError(t, err)

	f, err := h.Submit(ctx, kv.SetName, []byte(`{"key":"color","value":"teal"}`))
	require.NoError(t, err)
	version, err := engine.Await[int64](ctx, f)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	_, err = h.Engine().Execute(ctx, kv.Set{Key: "shape", Value: "round"})
	require.NoError(t, err)
	require.NoError(t, h.Close())

	h, err = Open(ctx, settings, kv.New(), reg, quiet())
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, int64(2), h.Engine().LastRecordNumber())
	v, ok, err := kv.Get(h.Engine(), "color")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "teal", v)

	keys, err := kv.Keys(h.Engine())
	require.NoError(t, err)
	assert.Equal(t, []string{"color", "shape"}, keys)
}

func TestOpen_WithMedium(t *testing.T) {
	ctx := context.Background()
	medium := journal.NewMemoryMedium()

	h, err := Open(ctx, config.Default(), kv.New(), kvRegistry(t), WithMedium(medium), quiet())
	require.NoError(t, err)

	_, err = h.Engine().Execute(ctx, kv.Set{Key: "a", Value: "1"})
	require.NoError(t, err)
	assert.Equal(t, 1, medium.Len())
	require.NoError(t, h.Close())
}

func TestOpen_DeterministicIDs(t *testing.T) {
	ctx := context.Background()
	ids := journal.NewFixedGenerator("id-1", "id-2")

	h, err := Open(ctx, config.Default(), kv.New(), kvRegistry(t),
		WithMedium(journal.NewMemoryMedium()),
		WithIDGenerator(ids),
		quiet(),
	)
	require.NoError(t, err)
	defer h.Close()

	f, err := h.Engine().Submit(ctx, kv.Set{Key: "a", Value: "1"})
	require.NoError(t, err)
	assert.Equal(t, "id-1", f.CommandID())
}

func TestSubmit_UnknownCommand(t *testing.T) {
	ctx := context.Background()
	h, err := Open(ctx, config.Default(), kv.New(), kvRegistry(t), WithMedium(journal.NewMemoryMedium()), quiet())
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Submit(ctx, "kv.nope", nil)
	assert.ErrorIs(t, err, codec.ErrUnknownType)
}

type notACommand struct{}

func TestSubmit_CommandForOtherModel(t *testing.T) {
	ctx := context.Background()
	reg := kvRegistry(t)
	require.NoError(t, reg.Register("other", notACommand{}))

	h, err := Open(ctx, config.Default(), kv.New(), reg, WithMedium(journal.NewMemoryMedium()), quiet())
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Submit(ctx, "other", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not apply to this model")
}

func TestClose_DrainsPendingWrites(t *testing.T) {
	ctx := context.Background()
	h, err := Open(ctx, settingsAt(t), kv.New(), kvRegistry(t), quiet())
	require.NoError(t, err)

	futures := make([]*engine.Future, 0, 50)
	for i := 0; i < 50; i++ {
		f, err := h.Engine().Submit(ctx, kv.Set{Key: "k", Value: "v"})
		require.NoError(t, err)
		futures = append(futures, f)
	}
	require.NoError(t, h.Close())

	for i, f := range futures {
		version, err := engine.Await[int64](ctx, f)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), version)
	}

	_, err = h.Engine().Submit(ctx, kv.Set{Key: "k", Value: "late"})
	assert.ErrorIs(t, err, engine.ErrClosed)
}

func TestOpen_CorruptJournal(t *testing.T) {
	ctx := context.Background()
	settings := settingsAt(t)
	reg := kvRegistry(t)

	h, err := Open(ctx, settings, kv.New(), reg, quiet())
	require.NoError(t, err)
	_, err = h.Engine().Execute(ctx, kv.Set{Key: "a", Value: "1"})
	require.NoError(t, err)
	require.NoError(t, h.Close())

	db, err := store.Open(settings.JournalPath)
	require.NoError(t, err)
	_, err = db.DB().Exec(`UPDATE journal SET checksum = 'bad' WHERE seq = 1`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(ctx, settings, kv.New(), reg, quiet())
	assert.ErrorIs(t, err, journal.ErrCorruptRecord)
}

func TestOpen_BadJournalPath(t *testing.T) {
	s := config.Default()
	s.JournalPath = "/nonexistent/dir/journal.db"

	_, err := Open(context.Background(), s, kv.New(), codec.NewRegistry(), quiet())
	assert.Error(t, err)
}

func TestHost_DurabilityFailureIsNotReplayed(t *testing.T) {
	ctx := context.Background()
	reg := kvRegistry(t)
	medium := testutil.NewMedium(nil)

	h, err := Open(ctx, config.Default(), kv.New(), reg, WithMedium(medium), quiet())
	require.NoError(t, err)

	_, err = h.Engine().Execute(ctx, kv.Set{Key: "a", Value: "1"})
	require.NoError(t, err)

	medium.FailAppends(true)
	_, err = h.Engine().Execute(ctx, kv.Set{Key: "b", Value: "2"})
	require.Error(t, err)
	assert.True(t, engine.IsDurability(err))
	medium.FailAppends(false)

	// The failed write left no gap: the next command takes record 2.
	f, err := h.Engine().Submit(ctx, kv.Set{Key: "c", Value: "3"})
	require.NoError(t, err)
	_, err = f.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.SequenceNumber())
	require.NoError(t, h.Close())

	h, err = Open(ctx, config.Default(), kv.New(), reg, WithMedium(medium), quiet())
	require.NoError(t, err)
	defer h.Close()

	snap, err := kv.Snapshot(h.Engine())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "c": "3"}, snap.Data)
	assert.Equal(t, int64(2), h.Engine().LastRecordNumber())
}
