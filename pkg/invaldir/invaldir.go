// Package invaldir implements the process-local invalidation callback
// directory: a map from path to a set of one-shot callbacks, fired
// concurrently when the coordination entry at that path is invalidated.
package invaldir

import (
	"context"
	"sync"

	"github.com/zoolite/zoolite/internal/logger"
)

// Callback is invoked when the entry at its registered path is
// invalidated. Callbacks are one-shot by convention: a well-behaved
// callback deregisters itself (via the Handle returned at registration
// time) as its first action, before doing any work that may suspend.
type Callback func(ctx context.Context)

// Handle deregisters the callback it was returned for. Deregistering
// twice, or after the callback has already fired, is a no-op.
type Handle struct {
	dir  *Directory
	path string
	id   uint64
}

// Deregister removes the callback this handle was issued for.
func (h Handle) Deregister() {
	h.dir.deregister(h.path, h.id)
}

type registration struct {
	id uint64
	cb Callback
}

// Directory is the process-local registry of invalidation callbacks.
type Directory struct {
	mu     sync.Mutex
	byPath map[string][]registration
	nextID uint64
}

// New returns an empty Directory.
func New() *Directory {
	return &Directory{byPath: make(map[string][]registration)}
}

// Register adds cb to the set of callbacks fired when path is
// invalidated, and returns a Handle that deregisters it.
func (d *Directory) Register(path string, cb Callback) Handle {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	d.byPath[path] = append(d.byPath[path], registration{id: id, cb: cb})
	return Handle{dir: d, path: path, id: id}
}

func (d *Directory) deregister(path string, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	regs := d.byPath[path]
	for i, r := range regs {
		if r.id == id {
			d.byPath[path] = append(regs[:i], regs[i+1:]...)
			break
		}
	}
	if len(d.byPath[path]) == 0 {
		delete(d.byPath, path)
	}
}

// Invoke fires every callback currently registered for path, concurrently,
// and waits for all of them to return before returning itself. Invoke
// takes a snapshot of the registrations under lock and clears them before
// firing, so a callback that re-registers during its own fire does not
// observe itself invoked twice.
func (d *Directory) Invoke(ctx context.Context, path string) {
	d.mu.Lock()
	regs := d.byPath[path]
	delete(d.byPath, path)
	d.mu.Unlock()

	if len(regs) == 0 {
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(regs))
	for _, r := range regs {
		go func(r registration) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("invalidation callback panicked", logger.Path(path))
				}
			}()
			r.cb(ctx)
		}(r)
	}
	wg.Wait()
}
