// Package storetest provides a reusable conformance suite for any
// coordstore.Store implementation, run against the memory, Badger, and
// PostgreSQL adapters so the three share one definition of correct CAS
// behavior.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoolite/zoolite/pkg/coordstore"
	"github.com/zoolite/zoolite/pkg/model"
)

// RunConformanceSuite exercises store against the CAS contract in §4.2.
// newStore is called once per subtest so each gets an isolated instance.
func RunConformanceSuite(t *testing.T, newStore func(t *testing.T) coordstore.Store) {
	t.Helper()

	t.Run("GetMissingReturnsNotFound", func(t *testing.T) {
		s := newStore(t)
		_, ok, err := s.Get(context.Background(), "/missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("CreateThenGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		entry := model.NewEntry("/a", []byte("v1"))
		observed, ok, err := s.CompareExchange(ctx, entry, nil)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("v1"), observed.Value)

		got, ok, err := s.Get(ctx, "/a")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("v1"), got.Value)
	})

	t.Run("SecondCreateObservesExisting", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		entry := model.NewEntry("/a", []byte("v1"))
		_, _, err := s.CompareExchange(ctx, entry, nil)
		require.NoError(t, err)

		observed, ok, err := s.CompareExchange(ctx, model.NewEntry("/a", []byte("v2")), nil)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("v1"), observed.Value, "losing creator observes the winner's value")
	})

	t.Run("StaleExpectedFailsAndReturnsCurrent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		entry := model.NewEntry("/a", []byte("v1"))
		current, _, err := s.CompareExchange(ctx, entry, nil)
		require.NoError(t, err)

		updated := current.WithValue([]byte("v2"))
		_, ok, err := s.CompareExchange(ctx, updated, current)
		require.NoError(t, err)
		require.True(t, ok)

		observed, ok, err := s.CompareExchange(ctx, current.WithValue([]byte("v3")), current)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("v2"), observed.Value)
	})

	t.Run("DeleteRemovesEntry", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		entry := model.NewEntry("/a", []byte("v1"))
		current, _, err := s.CompareExchange(ctx, entry, nil)
		require.NoError(t, err)

		_, ok, err := s.CompareExchange(ctx, nil, current)
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = s.Get(ctx, "/a")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("VersionStrictlyIncreases", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		entry := model.NewEntry("/a", []byte("v1"))
		current, _, err := s.CompareExchange(ctx, entry, nil)
		require.NoError(t, err)
		lastVersion := current.StorageVersion

		for i := 0; i < 5; i++ {
			next := current.WithValue([]byte{byte(i)})
			current, _, err = s.CompareExchange(ctx, next, current)
			require.NoError(t, err)
			assert.Greater(t, current.StorageVersion, lastVersion)
			lastVersion = current.StorageVersion
		}
	})

	t.Run("LockFieldsRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		entry := model.NewEntry("/a", nil).WithAddedReadLock("s1").WithAddedReadLock("s2")
		_, _, err := s.CompareExchange(ctx, entry, nil)
		require.NoError(t, err)

		got, ok, err := s.Get(ctx, "/a")
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, got.HasReadLock("s1"))
		assert.True(t, got.HasReadLock("s2"))

		withWrite := got.WithWriteLock("s1")
		_, _, err = s.CompareExchange(ctx, withWrite, got)
		require.NoError(t, err)

		got, ok, err = s.Get(ctx, "/a")
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, got.IsWriteLockedBy("s1"))
		assert.Empty(t, got.ReadLocks)
	})

	t.Run("ListChildrenFindsOnlyDirectChildren", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, p := range []string{"/a", "/a/b", "/a/c", "/a/b/d", "/other"} {
			_, _, err := s.CompareExchange(ctx, model.NewEntry(p, nil), nil)
			require.NoError(t, err)
		}

		children, err := s.ListChildren(ctx, "/a")
		require.NoError(t, err)

		paths := make([]string, 0, len(children))
		for _, c := range children {
			paths = append(paths, c.Path)
		}
		assert.ElementsMatch(t, []string{"/a/b", "/a/c"}, paths)
	})

	t.Run("ListChildrenOfLeafIsEmpty", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, _, err := s.CompareExchange(ctx, model.NewEntry("/a", nil), nil)
		require.NoError(t, err)

		children, err := s.ListChildren(ctx, "/a")
		require.NoError(t, err)
		assert.Empty(t, children)
	})
}
