// Package waitdir implements the process-local lock wait directory: a
// registry of one-shot suspension points keyed by (path, session),
// notified when the named session releases its read or write lock.
//
// Ordering is register-then-notify only: a notification fired before the
// corresponding registration is lost. Callers must always register a
// waiter before re-reading the authoritative state that might trigger the
// notification, never after, to avoid a lost wakeup.
package waitdir

import (
	"context"
	"sync"

	"github.com/zoolite/zoolite/pkg/coorderr"
)

type key struct {
	path    string
	session string
}

// Waiter is a one-shot suspension point. Wait blocks until Directory
// fires the notification this waiter was registered under, or ctx is
// done.
type Waiter struct {
	ch chan struct{}
}

// Wait blocks until notified or ctx is canceled.
func (w *Waiter) Wait(ctx context.Context) error {
	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		return coorderr.Canceled()
	}
}

// Directory is the process-local registry of read/write release waiters.
type Directory struct {
	mu    sync.Mutex
	read  map[key][]*Waiter
	write map[key][]*Waiter
}

// New returns an empty Directory.
func New() *Directory {
	return &Directory{
		read:  make(map[key][]*Waiter),
		write: make(map[key][]*Waiter),
	}
}

// RegisterRead registers a suspension point that fires the next time
// session releases its read lock on path.
func (d *Directory) RegisterRead(path, session string) *Waiter {
	return d.register(d.read, path, session)
}

// RegisterWrite registers a suspension point that fires the next time
// session releases its write lock on path.
func (d *Directory) RegisterWrite(path, session string) *Waiter {
	return d.register(d.write, path, session)
}

func (d *Directory) register(table map[key][]*Waiter, path, session string) *Waiter {
	d.mu.Lock()
	defer d.mu.Unlock()

	w := &Waiter{ch: make(chan struct{})}
	k := key{path: path, session: session}
	table[k] = append(table[k], w)
	return w
}

// NotifyReadRelease fires every suspension point registered for
// (path, releasedBy) on the read table; fires at-least-once.
func (d *Directory) NotifyReadRelease(path, releasedBy string) {
	d.notify(d.read, path, releasedBy)
}

// NotifyWriteRelease fires every suspension point registered for
// (path, releasedBy) on the write table.
func (d *Directory) NotifyWriteRelease(path, releasedBy string) {
	d.notify(d.write, path, releasedBy)
}

func (d *Directory) notify(table map[key][]*Waiter, path, releasedBy string) {
	d.mu.Lock()
	k := key{path: path, session: releasedBy}
	waiters := table[k]
	delete(table, k)
	d.mu.Unlock()

	for _, w := range waiters {
		close(w.ch)
	}
}
