package cache

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoolite/zoolite/pkg/invaldir"
	"github.com/zoolite/zoolite/pkg/model"
)

type fakeLocks struct {
	mu        sync.Mutex
	acquired  map[string]int
	released  map[string]int
	entryByPath map[string]*model.StoredEntry
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{
		acquired:    make(map[string]int),
		released:    make(map[string]int),
		entryByPath: make(map[string]*model.StoredEntry),
	}
}

func (f *fakeLocks) AcquireRead(ctx context.Context, path, session string) (*model.StoredEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquired[path]++
	entry, ok := f.entryByPath[path]
	if !ok {
		entry = model.NewEntry(path, []byte("v")).WithAddedReadLock(session)
		f.entryByPath[path] = entry
	}
	return entry, nil
}

func (f *fakeLocks) ReleaseRead(ctx context.Context, path, session string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released[path]++
	return nil
}

func TestGetAcquiresOnceAndCaches(t *testing.T) {
	locks := newFakeLocks()
	id := invaldir.New()
	c := New("s1", locks, id)

	_, err := c.Get(context.Background(), "/a")
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "/a")
	require.NoError(t, err)

	locks.mu.Lock()
	defer locks.mu.Unlock()
	assert.Equal(t, 1, locks.acquired["/a"])
}

func TestInvalidationEvictsAndReleases(t *testing.T) {
	locks := newFakeLocks()
	id := invaldir.New()
	c := New("s1", locks, id)

	_, err := c.Get(context.Background(), "/a")
	require.NoError(t, err)

	id.Invoke(context.Background(), "/a")

	locks.mu.Lock()
	released := locks.released["/a"]
	locks.mu.Unlock()
	assert.Equal(t, 1, released)

	_, err = c.Get(context.Background(), "/a")
	require.NoError(t, err)

	locks.mu.Lock()
	defer locks.mu.Unlock()
	assert.Equal(t, 2, locks.acquired["/a"], "invalidated path must be re-acquired on next Get")
}

func TestForgetDeregistersPendingCallback(t *testing.T) {
	locks := newFakeLocks()
	id := invaldir.New()
	c := New("s1", locks, id)

	_, err := c.Get(context.Background(), "/a")
	require.NoError(t, err)

	c.Forget("/a")

	id.Invoke(context.Background(), "/a")

	locks.mu.Lock()
	defer locks.mu.Unlock()
	assert.Equal(t, 0, locks.released["/a"], "forgotten path's callback must not fire a stale release")
}

func TestDistinctPathsDoNotInterfere(t *testing.T) {
	locks := newFakeLocks()
	id := invaldir.New()
	c := New("s1", locks, id)

	_, err := c.Get(context.Background(), "/a")
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "/b")
	require.NoError(t, err)

	id.Invoke(context.Background(), "/a")

	locks.mu.Lock()
	defer locks.mu.Unlock()
	assert.Equal(t, 1, locks.released["/a"])
	assert.Equal(t, 0, locks.released["/b"])
}
