package coord

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoolite/zoolite/pkg/cache"
	"github.com/zoolite/zoolite/pkg/coorderr"
	"github.com/zoolite/zoolite/pkg/coordstore"
	"github.com/zoolite/zoolite/pkg/coordstore/memory"
	"github.com/zoolite/zoolite/pkg/exchange"
	"github.com/zoolite/zoolite/pkg/invaldir"
	"github.com/zoolite/zoolite/pkg/lock"
	"github.com/zoolite/zoolite/pkg/path"
	"github.com/zoolite/zoolite/pkg/session"
	"github.com/zoolite/zoolite/pkg/sessionstore"
	sessionmemory "github.com/zoolite/zoolite/pkg/sessionstore/memory"
	"github.com/zoolite/zoolite/pkg/transport/inproc"
	"github.com/zoolite/zoolite/pkg/waitdir"
)

type peerSet []string

func (p peerSet) ListPeers(ctx context.Context) ([]string, error) { return p, nil }

// harness wires a full facade stack, identical in shape to how cmd/zoolite
// composes these packages, for one or more local sessions sharing a
// single in-memory store and in-process transport.
type harness struct {
	store     coordstore.Store
	sessStore sessionstore.Store
	waitDir   *waitdir.Directory
	invalDir  *invaldir.Directory
	registry  *inproc.Registry
	sessions  *session.Manager

	managers map[string]*Manager
}

func newHarness(t *testing.T, selves []string) *harness {
	t.Helper()

	h := &harness{
		store:     memory.New(),
		sessStore: sessionmemory.New(),
		waitDir:   waitdir.New(),
		invalDir:  invaldir.New(),
		registry:  inproc.New(),
		managers:  make(map[string]*Manager),
	}

	var lockMgr *lock.Manager
	var sessMgr *session.Manager

	for _, self := range selves {
		em, err := exchange.New(context.Background(), self, h.registry, peerSet(selves), h.waitDir, h.invalDir)
		require.NoError(t, err)
		t.Cleanup(func() { _ = em.Close() })

		if sessMgr == nil {
			sessMgr = session.New(h.sessStore, time.Hour, func(ctx context.Context, sid string, paths []string) {
				lockMgr.Cleanup(ctx, sid, paths)
			})
			lockMgr = lock.New(h.store, h.waitDir, em, sessMgr)
			h.sessions = sessMgr
		}

		cacheMgr := cache.New(self, lockMgr, h.invalDir)
		h.managers[self] = New(h.store, lockMgr, cacheMgr, sessMgr, self, time.Hour)
	}

	return h
}

func p(segments ...string) path.Path {
	out := path.Root()
	for _, s := range segments {
		out = out.Append(s)
	}
	return out
}

func TestCreateReadSetDelete(t *testing.T) {
	h := newHarness(t, []string{"s1"})
	m := h.managers["s1"]
	ctx := context.Background()

	entry, err := m.Create(ctx, p("a", "b"), []byte{0x01, 0x02}, Default)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), entry.StorageVersion)

	got, err := m.Get(ctx, p("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, got.Value)

	pre, err := m.SetValue(ctx, p("a", "b"), []byte{0x03}, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), pre)

	got, err = m.Get(ctx, p("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03}, got.Value)
	assert.Equal(t, uint64(2), got.StorageVersion)

	require.NoError(t, m.Delete(ctx, p("a", "b"), 2, false))

	_, err = m.Get(ctx, p("a", "b"))
	require.Error(t, err)
	assert.True(t, coorderr.Is(err, coorderr.ErrEntryNotFound))
}

func TestCreateOnExistingPathFails(t *testing.T) {
	h := newHarness(t, []string{"s1"})
	m := h.managers["s1"]
	ctx := context.Background()

	_, err := m.Create(ctx, p("k"), []byte("v"), Default)
	require.NoError(t, err)

	_, err = m.Create(ctx, p("k"), []byte("v2"), Default)
	require.Error(t, err)
	assert.True(t, coorderr.Is(err, coorderr.ErrEntryAlreadyExists))
}

func TestGetOrCreateCreatesThenReadsThrough(t *testing.T) {
	h := newHarness(t, []string{"s1"})
	m := h.managers["s1"]
	ctx := context.Background()

	first, err := m.GetOrCreate(ctx, p("g"), []byte("first"), Default)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), first.Value)

	second, err := m.GetOrCreate(ctx, p("g"), []byte("ignored"), Default)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), second.Value)
}

func TestCreateAutoCreatesMissingAncestors(t *testing.T) {
	h := newHarness(t, []string{"s1"})
	m := h.managers["s1"]
	ctx := context.Background()

	_, err := m.Create(ctx, p("x", "y", "z"), []byte("leaf"), Default)
	require.NoError(t, err)

	parent, err := m.Get(ctx, p("x", "y"))
	require.NoError(t, err)
	assert.Nil(t, parent.Value)

	grandparent, err := m.Get(ctx, p("x"))
	require.NoError(t, err)
	assert.Nil(t, grandparent.Value)
}

func TestGetOnMissingPathFails(t *testing.T) {
	h := newHarness(t, []string{"s1"})
	m := h.managers["s1"]

	_, err := m.Get(context.Background(), p("never"))
	require.Error(t, err)
	assert.True(t, coorderr.Is(err, coorderr.ErrEntryNotFound))
}

func TestSetValueVersionConflict(t *testing.T) {
	h := newHarness(t, []string{"s1", "s2"})
	a, b := h.managers["s1"], h.managers["s2"]
	ctx := context.Background()

	_, err := a.Create(ctx, p("k"), []byte{0xAA}, Default)
	require.NoError(t, err)

	_, err = b.SetValue(ctx, p("k"), []byte{0xBB}, 1)
	require.NoError(t, err)

	_, err = a.SetValue(ctx, p("k"), []byte{0xCC}, 1)
	require.Error(t, err)
	assert.True(t, coorderr.Is(err, coorderr.ErrVersionConflict))
	ce, ok := coorderr.CodeOf(err)
	_ = ce
	assert.True(t, ok)
}

func TestDeleteNonRecursiveWithChildrenFails(t *testing.T) {
	h := newHarness(t, []string{"s1"})
	m := h.managers["s1"]
	ctx := context.Background()

	_, err := m.Create(ctx, p("r"), nil, Default)
	require.NoError(t, err)
	_, err = m.Create(ctx, p("r", "x"), nil, Default)
	require.NoError(t, err)

	err = m.Delete(ctx, p("r"), 0, false)
	require.Error(t, err)
	assert.True(t, coorderr.Is(err, coorderr.ErrHasChildren))
}

func TestDeleteRecursiveRemovesWholeSubtree(t *testing.T) {
	h := newHarness(t, []string{"s1"})
	m := h.managers["s1"]
	ctx := context.Background()

	_, err := m.Create(ctx, p("r"), nil, Default)
	require.NoError(t, err)
	_, err = m.Create(ctx, p("r", "x"), nil, Default)
	require.NoError(t, err)
	_, err = m.Create(ctx, p("r", "x", "y"), nil, Default)
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, p("r"), 0, true))

	for _, leaf := range []path.Path{p("r"), p("r", "x"), p("r", "x", "y")} {
		_, err := m.Get(ctx, leaf)
		require.Error(t, err)
		assert.True(t, coorderr.Is(err, coorderr.ErrEntryNotFound))
	}
}

func TestEphemeralCleanupOnSessionEnd(t *testing.T) {
	h := newHarness(t, []string{"s1", "s2"})
	owner := h.managers["s1"]
	observer := h.managers["s2"]
	ctx := context.Background()

	_, err := owner.Create(ctx, p("e"), []byte("v"), Ephemeral)
	require.NoError(t, err)

	ownerSid, err := owner.GetSession(ctx)
	require.NoError(t, err)

	require.NoError(t, h.sessions.End(ctx, ownerSid))

	_, err = observer.Get(ctx, p("e"))
	require.Error(t, err)
	assert.True(t, coorderr.Is(err, coorderr.ErrEntryNotFound))
}

func TestGetSessionIsLazyAndStable(t *testing.T) {
	h := newHarness(t, []string{"s1"})
	m := h.managers["s1"]
	ctx := context.Background()

	first, err := m.GetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s1", first)

	second, err := m.GetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
