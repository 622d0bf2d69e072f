// Package tcp implements the multiplexed transport contract over
// persistent, length-framed TCP connections keyed by session id, for real
// multi-process deployments. Connections are dialed lazily on first send
// and redialed on send failure, mirroring the teacher's per-call
// dial-and-send discipline in internal/protocol/nsm/callback, adapted
// here to a persistent connection since the exchange manager sends many
// messages per peer over a session's lifetime rather than one-shot RPCs.
package tcp

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/zoolite/zoolite/internal/logger"
	"github.com/zoolite/zoolite/pkg/coorderr"
	"github.com/zoolite/zoolite/pkg/transport"
)

const (
	maxNameLen    = 1 << 16
	maxPayloadLen = 16 << 20
	dialTimeout   = 5 * time.Second
)

// Resolver maps a peer name (a session id) to a dialable network address.
type Resolver interface {
	Resolve(ctx context.Context, name string) (addr string, err error)
}

// StaticResolver is a Resolver backed by a fixed map, for tests and
// statically configured deployments.
type StaticResolver map[string]string

// Resolve implements Resolver.
func (m StaticResolver) Resolve(ctx context.Context, name string) (string, error) {
	addr, ok := m[name]
	if !ok {
		return "", coorderr.TransportUnavailable("no known address for " + name)
	}
	return addr, nil
}

type message struct {
	payload []byte
	from    string
}

// Transport is a TCP-backed implementation of transport.Transport. One
// Transport corresponds to one local process; it accepts inbound
// connections on listenAddr and multiplexes all of them into a single
// local Endpoint's inbox, since a process hosts exactly one exchange
// manager's worth of traffic at a time in this deployment model.
type Transport struct {
	localName string
	resolver  Resolver

	listener net.Listener
	endpoint *Endpoint

	mu    sync.Mutex
	conns map[string]net.Conn

	wg sync.WaitGroup
}

// Listen starts a Transport whose local name is localName, accepting
// inbound connections on listenAddr, resolving outbound peer addresses
// via resolver.
func Listen(localName, listenAddr string, resolver Resolver) (*Transport, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, coorderr.TransportUnavailable(err.Error())
	}

	t := &Transport{
		localName: localName,
		resolver:  resolver,
		listener:  ln,
		conns:     make(map[string]net.Conn),
	}
	t.endpoint = &Endpoint{transport: t, inbox: make(chan message, 256), closed: make(chan struct{})}

	t.wg.Add(1)
	go t.acceptLoop()

	return t, nil
}

// Endpoint implements transport.Transport. The name argument is ignored:
// a Transport owns exactly one local endpoint,
// corresponding to the exchange manager of the single session running in
// this process's coordination node role.
func (t *Transport) Endpoint(ctx context.Context, name string) (transport.Endpoint, error) {
	return t.endpoint, nil
}

// Close stops accepting connections and releases all inbound and
// outbound connections.
func (t *Transport) Close() error {
	_ = t.listener.Close()
	t.endpoint.Close()

	t.mu.Lock()
	for _, c := range t.conns {
		_ = c.Close()
	}
	t.conns = make(map[string]net.Conn)
	t.mu.Unlock()

	t.wg.Wait()
	return nil
}

func (t *Transport) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return
		}
		t.wg.Add(1)
		go t.readLoop(conn)
	}
}

func (t *Transport) readLoop(conn net.Conn) {
	defer t.wg.Done()
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-t.endpoint.closed:
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		from, payload, err := readFrame(conn)
		if err != nil {
			if err != io.EOF {
				logger.Debug("tcp transport read loop failed", logger.Err(err))
			}
			return
		}
		select {
		case t.endpoint.inbox <- message{payload: payload, from: from}:
		case <-t.endpoint.closed:
			return
		}
	}
}

func (t *Transport) connFor(ctx context.Context, remote string) (net.Conn, error) {
	t.mu.Lock()
	if conn, ok := t.conns[remote]; ok {
		t.mu.Unlock()
		return conn, nil
	}
	t.mu.Unlock()

	addr, err := t.resolver.Resolve(ctx, remote)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, coorderr.TransportUnavailable(err.Error())
	}

	t.mu.Lock()
	t.conns[remote] = conn
	t.mu.Unlock()

	return conn, nil
}

func (t *Transport) dropConn(remote string, conn net.Conn) {
	t.mu.Lock()
	if current, ok := t.conns[remote]; ok && current == conn {
		delete(t.conns, remote)
	}
	t.mu.Unlock()
	_ = conn.Close()
}

func writeFrame(w io.Writer, from string, payload []byte) error {
	nameBytes := []byte(from)
	header := make([]byte, 8+len(nameBytes))
	binary.BigEndian.PutUint32(header[0:4], uint32(len(nameBytes)))
	copy(header[4:], nameBytes)
	binary.BigEndian.PutUint32(header[4+len(nameBytes):8+len(nameBytes)], uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) (from string, payload []byte, err error) {
	var nameLenBuf [4]byte
	if _, err := io.ReadFull(r, nameLenBuf[:]); err != nil {
		return "", nil, err
	}
	nameLen := binary.BigEndian.Uint32(nameLenBuf[:])
	if nameLen > maxNameLen {
		return "", nil, coorderr.DecodeError("peer name too long")
	}

	nameBuf := make([]byte, nameLen)
	if _, err := io.ReadFull(r, nameBuf); err != nil {
		return "", nil, err
	}

	var payloadLenBuf [4]byte
	if _, err := io.ReadFull(r, payloadLenBuf[:]); err != nil {
		return "", nil, err
	}
	payloadLen := binary.BigEndian.Uint32(payloadLenBuf[:])
	if payloadLen > maxPayloadLen {
		return "", nil, coorderr.DecodeError("payload too long")
	}

	payload = make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return "", nil, err
		}
	}

	return string(nameBuf), payload, nil
}

// Endpoint is the single local mailbox a Transport exposes.
type Endpoint struct {
	transport *Transport
	inbox     chan message

	closeOnce sync.Once
	closed    chan struct{}
}

// Send implements transport.Endpoint. On a write failure the underlying
// connection is dropped so the next Send redials, per §4.7's "redialed on
// send failure".
func (e *Endpoint) Send(ctx context.Context, remote string, payload []byte) error {
	conn, err := e.transport.connFor(ctx, remote)
	if err != nil {
		return err
	}

	if err := writeFrame(conn, e.transport.localName, payload); err != nil {
		e.transport.dropConn(remote, conn)
		return coorderr.TransportUnavailable(err.Error())
	}
	return nil
}

// Receive implements transport.Endpoint.
func (e *Endpoint) Receive(ctx context.Context) ([]byte, string, error) {
	select {
	case msg := <-e.inbox:
		return msg.payload, msg.from, nil
	case <-e.closed:
		return nil, "", coorderr.TransportUnavailable("endpoint closed")
	case <-ctx.Done():
		return nil, "", coorderr.Canceled()
	}
}

// LocalAddress implements transport.Endpoint.
func (e *Endpoint) LocalAddress() string {
	return e.transport.localName
}

// Close implements transport.Endpoint.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() { close(e.closed) })
	return nil
}

var (
	_ transport.Transport = (*Transport)(nil)
	_ transport.Endpoint  = (*Endpoint)(nil)
)
