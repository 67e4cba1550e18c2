// Package capture records and replays ADB frame sessions, so transport,
// handshake, and router logic can be exercised without a physical device
// attached. A Store is an ordered log of Frames; RecordingLink and
// ReplayLink adapt one to the byte-oriented adb.LinkEndpoint interface the
// live USB backend implements, so Transport/Router/Stream never know the
// difference between a captured session and a live one.
package capture

import (
	"context"
	"io"
	"sync"

	"github.com/atsika/adbtransport"
)

// Store is an ordered frame log. Append records one frame; Replay streams
// every previously appended frame back out in the order they were
// recorded, closing the returned channel once exhausted. Each concrete
// implementation adapts a different Azure Storage service as the backing
// medium, but all of them marshal a Frame to bytes (adb.MarshalFrame) for
// storage and unmarshal it back (adb.UnmarshalFrame) on replay.
type Store interface {
	Append(ctx context.Context, f adb.Frame) error
	Replay(ctx context.Context) (<-chan adb.Frame, error)
	Close() error
}

// rawMedium is the byte-level capability a concrete Store builds on: an
// append-only log of opaque chunks. Each backing service (blob, queue,
// table) only needs to implement this; frameMedium below turns it into a
// Store by handling frame marshaling and buffer reassembly once, rather
// than in each of blobMedium/queueMedium/tableMedium.
type rawMedium interface {
	appendRaw(ctx context.Context, chunk []byte) error
	replayRaw(ctx context.Context) (<-chan []byte, error)
	closeRaw() error
}

// frameMedium adapts a rawMedium to Store by marshaling frames to bytes on
// Append and reassembling them from a running buffer on Replay — needed
// because a backing medium is free to deliver a recorded frame split
// across chunks (e.g. an append blob's blocks concatenate into one
// continuous download) or several frames within a single chunk.
type frameMedium struct {
	medium rawMedium
}

func (m *frameMedium) Append(ctx context.Context, f adb.Frame) error {
	return m.medium.appendRaw(ctx, adb.MarshalFrame(f))
}

func (m *frameMedium) Replay(ctx context.Context) (<-chan adb.Frame, error) {
	raw, err := m.medium.replayRaw(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan adb.Frame, 16)
	go func() {
		defer close(out)
		var buf []byte
		for chunk := range raw {
			buf = append(buf, chunk...)
			for {
				f, n, err := adb.UnmarshalFrame(buf)
				if err != nil {
					break
				}
				out <- f
				buf = buf[n:]
			}
		}
	}()
	return out, nil
}

func (m *frameMedium) Close() error { return m.medium.closeRaw() }

// RecordingLink wraps a live adb.LinkEndpoint and mirrors every frame
// Transport reads off it into a Store, so a real device session can be
// captured for later replay without altering Transport or Router at all.
// It works by re-running Transport's own header-then-payload read shape
// against the bytes it hands back, so it stays a transparent pass-through
// regardless of how the caller chunks its Read calls.
type RecordingLink struct {
	inner adb.LinkEndpoint
	store Store
	ctx   context.Context

	mu  sync.Mutex
	buf []byte
}

// NewRecordingLink returns a LinkEndpoint that behaves exactly like inner
// but additionally appends every frame it observes inner.Read returning to
// store. Writes pass straight through unrecorded: a replay only needs to
// reproduce what the device sent, not what the host sent to it.
func NewRecordingLink(ctx context.Context, inner adb.LinkEndpoint, store Store) *RecordingLink {
	return &RecordingLink{inner: inner, store: store, ctx: ctx}
}

func (l *RecordingLink) Read(n int) ([]byte, error) {
	data, err := l.inner.Read(n)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.buf = append(l.buf, data...)
	for {
		f, consumed, perr := adb.UnmarshalFrame(l.buf)
		if perr != nil {
			break
		}
		// A recording failure must not interrupt the live session: the
		// chunk still reaches the caller, the capture is simply
		// incomplete.
		_ = l.store.Append(l.ctx, f)
		l.buf = l.buf[consumed:]
	}
	l.mu.Unlock()

	return data, nil
}

func (l *RecordingLink) Write(data []byte) error { return l.inner.Write(data) }
func (l *RecordingLink) Close() error            { return l.inner.Close() }

// ReplayLink is an adb.LinkEndpoint backed entirely by a recorded Store: it
// has no physical device behind it. Read reassembles and splits the
// replayed frames' marshaled bytes as needed to satisfy the caller's
// requested byte count, mirroring the exact-length contract
// Transport.readFrame relies on. Write is accepted and discarded: a replay
// has nothing to forward a host write to.
type ReplayLink struct {
	store Store

	mu      sync.Mutex
	ch      <-chan adb.Frame
	pending []byte
	closed  bool
}

// NewReplayLink starts replaying store's recorded frames immediately.
func NewReplayLink(ctx context.Context, store Store) (*ReplayLink, error) {
	ch, err := store.Replay(ctx)
	if err != nil {
		return nil, err
	}
	return &ReplayLink{store: store, ch: ch}, nil
}

func (l *ReplayLink) Read(n int) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for len(l.pending) < n {
		if l.closed {
			return nil, adb.ErrLinkClosed
		}
		f, ok := <-l.ch
		if !ok {
			l.closed = true
			continue
		}
		l.pending = append(l.pending, adb.MarshalFrame(f)...)
	}

	out := l.pending[:n]
	l.pending = l.pending[n:]
	return out, nil
}

// Write is a no-op: replay has no live device to forward host writes to.
func (l *ReplayLink) Write(data []byte) error { return nil }

func (l *ReplayLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return l.store.Close()
}

// drainAll reads every remaining chunk from r synchronously, for stores
// whose backing medium hands back one continuous stream (a blob download)
// rather than discrete pre-chunked messages; it exists so raw-medium
// implementations can share one read-to-EOF convention.
func drainAll(r io.Reader, out chan<- []byte) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			out <- chunk
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
