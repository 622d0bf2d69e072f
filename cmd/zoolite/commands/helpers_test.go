package commands

import (
	"testing"

	"github.com/zoolite/zoolite/pkg/coordstore"
	coordstorememory "github.com/zoolite/zoolite/pkg/coordstore/memory"
	"github.com/zoolite/zoolite/pkg/invaldir"
	"github.com/zoolite/zoolite/pkg/sessionstore"
	sessionstorememory "github.com/zoolite/zoolite/pkg/sessionstore/memory"
	"github.com/zoolite/zoolite/pkg/waitdir"
)

// newMemoryStack builds the in-memory coordstore, wait directory, and
// invalidation directory shared by the facade-wiring tests in this
// package, mirroring the harness in pkg/coord's own tests.
func newMemoryStack(t *testing.T) (coordstore.Store, *waitdir.Directory, *invaldir.Directory) {
	t.Helper()
	return coordstorememory.New(), waitdir.New(), invaldir.New()
}

func newSessionStoreForTest(t *testing.T) sessionstore.Store {
	t.Helper()
	return sessionstorememory.New()
}
