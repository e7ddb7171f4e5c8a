package wire

import (
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dreamware/corestore/engine"
)

type frameType uint8

const (
	frameHave frameType = iota
	frameRequest
	frameData
)

type frame struct {
	Type         frameType
	DiscoveryKey [32]byte
	Index        uint64
	Value        []byte
	Err          string
}

type pendingKey struct {
	dk  [32]byte
	idx uint64
}

// Muxer is the multiplexing object attached to one peer stream. It
// satisfies engine.Muxer (ID) and additionally RequestBlock, which
// package enginemem uses, via a type assertion, to fetch blocks it
// does not hold locally once a core has been attached to a Muxer.
type Muxer struct {
	id string

	encMu sync.Mutex
	enc   *gob.Encoder
	dec   *gob.Decoder
	conn  io.Closer

	mu       sync.Mutex
	cores    map[[32]byte]engine.Core
	pending  map[pendingKey]chan frame
	onHave   func(discoveryKey [32]byte)
	readDone chan struct{}
}

func newMuxer(conn io.ReadWriteCloser, onHave func([32]byte)) *Muxer {
	return &Muxer{
		id:       uuid.NewString(),
		enc:      gob.NewEncoder(conn),
		dec:      gob.NewDecoder(conn),
		conn:     conn,
		cores:    make(map[[32]byte]engine.Core),
		pending:  make(map[pendingKey]chan frame),
		onHave:   onHave,
		readDone: make(chan struct{}),
	}
}

// ID implements engine.Muxer.
func (m *Muxer) ID() string { return m.id }

// Done returns a channel that closes once run's decode loop returns,
// i.e. once the peer disconnects or the connection errors.
func (m *Muxer) Done() <-chan struct{} { return m.readDone }

// MuxerOf implements streams.Peer, letting a Stream sit directly in a
// StreamTracker.
func (s *Stream) MuxerOf() engine.Muxer { return s.Muxer }

func (m *Muxer) run() {
	defer close(m.readDone)
	for {
		var f frame
		if err := m.dec.Decode(&f); err != nil {
			return
		}
		switch f.Type {
		case frameHave:
			m.mu.Lock()
			_, known := m.cores[f.DiscoveryKey]
			m.mu.Unlock()
			if !known && m.onHave != nil {
				m.onHave(f.DiscoveryKey)
			}
		case frameRequest:
			go m.serve(f)
		case frameData:
			m.mu.Lock()
			ch, ok := m.pending[pendingKey{f.DiscoveryKey, f.Index}]
			if ok {
				delete(m.pending, pendingKey{f.DiscoveryKey, f.Index})
			}
			m.mu.Unlock()
			if ok {
				ch <- f
			}
		}
	}
}

func (m *Muxer) serve(req frame) {
	m.mu.Lock()
	c, ok := m.cores[req.DiscoveryKey]
	m.mu.Unlock()

	resp := frame{Type: frameData, DiscoveryKey: req.DiscoveryKey, Index: req.Index}
	if !ok {
		resp.Err = "core not attached"
	} else {
		v, err := c.Get(context.Background(), req.Index)
		if err != nil {
			resp.Err = err.Error()
		} else {
			resp.Value = v
		}
	}
	_ = m.send(resp)
}

func (m *Muxer) send(f frame) error {
	m.encMu.Lock()
	defer m.encMu.Unlock()
	return m.enc.Encode(f)
}

// RegisterCore makes c locally servable over this muxer for
// discoveryKey and announces it to the peer with a "have" frame.
func (m *Muxer) RegisterCore(discoveryKey [32]byte, c engine.Core) error {
	m.mu.Lock()
	m.cores[discoveryKey] = c
	m.mu.Unlock()
	return m.send(frame{Type: frameHave, DiscoveryKey: discoveryKey})
}

// Unregister stops serving discoveryKey over this muxer.
func (m *Muxer) Unregister(discoveryKey [32]byte) {
	m.mu.Lock()
	delete(m.cores, discoveryKey)
	m.mu.Unlock()
}

// AttachedCores returns a snapshot of every core currently registered
// with this muxer, for teardown to detach on stream death.
func (m *Muxer) AttachedCores() []engine.Core {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]engine.Core, 0, len(m.cores))
	for _, c := range m.cores {
		out = append(out, c)
	}
	return out
}

// RequestBlock asks the peer for block index of discoveryKey and
// blocks until it arrives, ctx is cancelled, or the default 10s
// timeout elapses.
func (m *Muxer) RequestBlock(ctx context.Context, discoveryKey [32]byte, index uint64) ([]byte, error) {
	ch := make(chan frame, 1)
	key := pendingKey{discoveryKey, index}
	m.mu.Lock()
	m.pending[key] = ch
	m.mu.Unlock()

	if err := m.send(frame{Type: frameRequest, DiscoveryKey: discoveryKey, Index: index}); err != nil {
		m.mu.Lock()
		delete(m.pending, key)
		m.mu.Unlock()
		return nil, err
	}

	timeout := 10 * time.Second
	select {
	case f := <-ch:
		if f.Err != "" {
			return nil, fmt.Errorf("wire: remote: %s", f.Err)
		}
		return f.Value, nil
	case <-ctx.Done():
		m.mu.Lock()
		delete(m.pending, key)
		m.mu.Unlock()
		return nil, ctx.Err()
	case <-time.After(timeout):
		m.mu.Lock()
		delete(m.pending, key)
		m.mu.Unlock()
		return nil, fmt.Errorf("wire: request timed out")
	}
}

// Stream is a ProtocolStream: one peer connection, created by
// NewStream with an on_discovery_key callback (spec.md §4.6.5).
// Stream has no real noise handshake; Opened is already closed when
// NewStream returns.
type Stream struct {
	Muxer  *Muxer
	Opened chan struct{}
	conn   io.ReadWriteCloser
}

// NewStream wraps conn in a Stream, starting its read loop
// immediately. onDiscoveryKey is invoked (from the read goroutine,
// so callers must not block it) whenever the peer advertises, via a
// "have" frame, a discovery key not already registered with this
// stream's Muxer.
func NewStream(conn io.ReadWriteCloser, onDiscoveryKey func(discoveryKey [32]byte)) *Stream {
	m := newMuxer(conn, onDiscoveryKey)
	s := &Stream{Muxer: m, Opened: make(chan struct{}), conn: conn}
	go m.run()
	close(s.Opened)
	return s
}

// Close detaches discoveryKey from this stream's muxer without
// tearing down the underlying connection.
func (s *Stream) Close(discoveryKey [32]byte) error {
	s.Muxer.Unregister(discoveryKey)
	return nil
}

// Destroy tears down the underlying connection. Callers must not call
// Destroy on a caller-supplied (external) stream; see
// corestore.Store.Replicate.
func (s *Stream) Destroy() error {
	return s.conn.Close()
}

// Done returns a channel that closes once this stream's read loop
// exits, i.e. once the peer disconnects or the connection errors.
// corestore.Store.Replicate watches this to evict the stream's
// StreamTracker record without waiting for Store.Close.
func (s *Stream) Done() <-chan struct{} { return s.Muxer.Done() }
