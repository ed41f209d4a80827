package taskstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestJournalRoundTrip(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "journal"))
	ctx := context.Background()

	require.NoError(t, s.RecordAdd(ctx, 1, "192.168.56.10"))
	require.NoError(t, s.RecordAdd(ctx, 2, "192.168.56.11"))
	require.NoError(t, s.RecordDel(ctx, 1, "192.168.56.10"))

	events, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, OpAdd, events[0].Op)
	assert.Equal(t, int64(1), events[0].TaskID)
	assert.Equal(t, "192.168.56.10", events[0].IP)
	assert.Equal(t, OpAdd, events[1].Op)
	assert.Equal(t, OpDel, events[2].Op)
	assert.False(t, events[0].Time.IsZero())

	for i, event := range events {
		assert.Equal(t, uint64(i+1), event.Seq)
	}
}

func TestJournalSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "journal")
	ctx := context.Background()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.RecordAdd(ctx, 1, "192.168.56.10"))
	require.NoError(t, s.Close())

	s = openStore(t, dir)
	require.NoError(t, s.RecordDel(ctx, 1, "192.168.56.10"))

	events, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(1), events[0].Seq)
	assert.Equal(t, uint64(2), events[1].Seq, "sequence continues after reopen")
}

func TestJournalEmptyList(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "journal"))

	events, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestJournalCancelledContext(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "journal"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, s.RecordAdd(ctx, 1, "192.168.56.10"), context.Canceled)
	_, err := s.List(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
