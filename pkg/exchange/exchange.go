// Package exchange implements the inter-session exchange manager: the
// component that turns a lock release or a cache invalidation into a
// hint delivered to whichever other session needs to hear about it,
// whether that session lives in this process or another one.
//
// Dispatch is local-first: if the subject session is the one this
// Manager was built for, the corresponding local directory is invoked
// directly and no bytes cross the transport. Otherwise the hint is
// encoded per the wire format in wire.go and sent over a
// transport.Endpoint. Sends are best-effort; a send failure is logged at
// debug and otherwise swallowed, mirroring the teacher's
// notify-and-move-on discipline in internal/protocol/nsm/notifier.go.
package exchange

import (
	"context"
	"sync"

	"github.com/zoolite/zoolite/internal/logger"
	"github.com/zoolite/zoolite/pkg/invaldir"
	"github.com/zoolite/zoolite/pkg/metrics"
	"github.com/zoolite/zoolite/pkg/transport"
	"github.com/zoolite/zoolite/pkg/waitdir"
)

// PeerLister reports the set of currently known session ids, so a
// release notification can be broadcast to every session that might be
// waiting on it somewhere in the deployment.
type PeerLister interface {
	ListPeers(ctx context.Context) ([]string, error)
}

// Manager is the per-process exchange actor for one local session. It
// owns a single transport.Endpoint registered under that session's id.
// Messages are unordered, best-effort hints: no delivery order is
// guaranteed between them, and a message whose send fails is not resent.
type Manager struct {
	self     string
	tr       transport.Transport
	endpoint transport.Endpoint
	peers    PeerLister
	waitDir  *waitdir.Directory
	invalDir *invaldir.Directory
	metrics  metrics.Recorder

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// SetMetrics installs the Recorder used for exchange traffic
// observability. Passing nil restores the no-op recorder.
func (m *Manager) SetMetrics(r metrics.Recorder) {
	if r == nil {
		r = metrics.Noop()
	}
	m.metrics = r
}

// New builds a Manager for the local session self, obtaining its
// endpoint from tr and starting the background receive loop. Close must
// be called to stop the loop and release the endpoint.
func New(ctx context.Context, self string, tr transport.Transport, peers PeerLister, waitDir *waitdir.Directory, invalDir *invaldir.Directory) (*Manager, error) {
	endpoint, err := tr.Endpoint(ctx, self)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		self:     self,
		tr:       tr,
		endpoint: endpoint,
		peers:    peers,
		waitDir:  waitDir,
		invalDir: invalDir,
		metrics:  metrics.Noop(),
		stopCh:   make(chan struct{}),
	}

	m.wg.Add(1)
	go m.receiveLoop()

	return m, nil
}

// Close stops the receive loop and closes the underlying endpoint.
func (m *Manager) Close() error {
	close(m.stopCh)
	err := m.endpoint.Close()
	m.wg.Wait()
	return err
}

// NotifyReadRelease broadcasts a ReleasedReadLock hint for path to every
// currently known peer session, so that whichever one registered a
// waiter for it wakes up. releasedBy is the session whose read lock was
// just released — ordinarily this manager's own self, but not
// necessarily: session cleanup lets any live session release locks on
// behalf of one that has just ended, in which case releasedBy is the
// ended session, not the caller.
func (m *Manager) NotifyReadRelease(ctx context.Context, path, releasedBy string) {
	m.broadcast(ctx, Message{Type: MessageReleasedReadLock, Path: path, SessionID: releasedBy})
}

// NotifyWriteRelease broadcasts a ReleasedWriteLock hint for path to
// every currently known peer session. See NotifyReadRelease on releasedBy.
func (m *Manager) NotifyWriteRelease(ctx context.Context, path, releasedBy string) {
	m.broadcast(ctx, Message{Type: MessageReleasedWriteLock, Path: path, SessionID: releasedBy})
}

// InvalidateCache tells holder that its cached copy of path must be
// dropped. Unlike the release notifications this is addressed to a
// single session, the one currently holding the read lock being
// invalidated.
func (m *Manager) InvalidateCache(ctx context.Context, path, holder string) {
	msg := Message{Type: MessageInvalidateCacheEntry, Path: path, SessionID: holder}
	if holder == m.self {
		m.dispatchLocal(ctx, msg)
		return
	}
	m.sendTo(ctx, holder, msg)
}

func (m *Manager) broadcast(ctx context.Context, msg Message) {
	peers, err := m.peers.ListPeers(ctx)
	if err != nil {
		logger.WarnCtx(ctx, "exchange manager failed to list peers for broadcast", logger.Err(err))
		return
	}

	for _, peer := range peers {
		if peer == m.self {
			m.dispatchLocal(ctx, msg)
			continue
		}
		m.sendTo(ctx, peer, msg)
	}
}

func (m *Manager) sendTo(ctx context.Context, remote string, msg Message) {
	if err := m.endpoint.Send(ctx, remote, Encode(msg)); err != nil {
		logger.Debug("exchange send failed, swallowing",
			logger.Peer(remote), logger.MessageType(messageTypeName(msg.Type)), logger.Err(err))
		return
	}
	m.metrics.ExchangeMessageSent(messageTypeName(msg.Type))
}

// dispatchLocal applies msg directly to the wait/invalidation
// directories, bypassing the transport entirely. Used both for
// self-addressed broadcasts and for messages arriving over the wire.
func (m *Manager) dispatchLocal(ctx context.Context, msg Message) {
	switch msg.Type {
	case MessageInvalidateCacheEntry:
		m.invalDir.Invoke(ctx, msg.Path)
	case MessageReleasedReadLock:
		m.waitDir.NotifyReadRelease(msg.Path, msg.SessionID)
	case MessageReleasedWriteLock:
		m.waitDir.NotifyWriteRelease(msg.Path, msg.SessionID)
	default:
		logger.WarnCtx(ctx, "dropping exchange message of unknown type",
			logger.MessageType(messageTypeName(msg.Type)), logger.Path(msg.Path))
		return
	}
	m.metrics.ExchangeMessageReceived(messageTypeName(msg.Type))
}

func (m *Manager) receiveLoop() {
	defer m.wg.Done()

	ctx := context.Background()
	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		payload, _, err := m.endpoint.Receive(ctx)
		if err != nil {
			select {
			case <-m.stopCh:
				return
			default:
				logger.Debug("exchange receive failed", logger.Err(err))
				continue
			}
		}

		msg, err := Decode(payload)
		if err != nil {
			logger.Warn("dropping undecodable exchange frame", logger.Err(err))
			continue
		}

		m.dispatchLocal(ctx, msg)
	}
}

func messageTypeName(t MessageType) string {
	switch t {
	case MessageInvalidateCacheEntry:
		return "InvalidateCacheEntry"
	case MessageReleasedReadLock:
		return "ReleasedReadLock"
	case MessageReleasedWriteLock:
		return "ReleasedWriteLock"
	default:
		return "Unknown"
	}
}
