package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoolite/zoolite/pkg/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadgerSessionCreateAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	session := model.NewSession("sess-1", time.Unix(1000, 0))
	_, ok, err := s.CompareExchange(ctx, session, nil)
	require.NoError(t, err)
	require.True(t, ok)

	got, ok, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, session.LeaseEnd.Unix(), got.LeaseEnd.Unix())
}

func TestBadgerSessionListSessions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, _, err := s.CompareExchange(ctx, model.NewSession("a", time.Unix(1, 0)), nil)
	require.NoError(t, err)
	_, _, err = s.CompareExchange(ctx, model.NewSession("b", time.Unix(1, 0)), nil)
	require.NoError(t, err)

	all, err := s.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestBadgerSessionEntryPathsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	session := model.NewSession("sess-1", time.Unix(1000, 0)).WithAddedEntry("/a")
	_, _, err := s.CompareExchange(ctx, session, nil)
	require.NoError(t, err)

	got, ok, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.HasEntry("/a"))
}
