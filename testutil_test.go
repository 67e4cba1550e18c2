package adb

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var errSignerRejected = errors.New("fake signer: rejected")

func testLogger() zerolog.Logger { return zerolog.Nop() }

// fakeLink is an in-memory adb.LinkEndpoint driven by tests: QueueFrame
// appends a frame to the inbound byte stream Read serves; Written returns
// every frame Transport.Send has written so far, reassembled from the
// separate header/payload Write calls.
type fakeLink struct {
	mu       sync.Mutex
	inbound  []byte
	outbound []byte
	closed   bool
	readErr  error

	deadlineCalls int
}

func newFakeLink() *fakeLink { return &fakeLink{} }

func (l *fakeLink) QueueFrame(f Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inbound = append(l.inbound, MarshalFrame(f)...)
}

func (l *fakeLink) Read(n int) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrLinkClosed
	}
	if len(l.inbound) < n {
		if l.readErr != nil {
			return nil, l.readErr
		}
		return nil, ErrLinkTimeout
	}
	out := l.inbound[:n]
	l.inbound = l.inbound[n:]
	return out, nil
}

func (l *fakeLink) Write(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outbound = append(l.outbound, data...)
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// SetReadDeadline satisfies the deadlineSetter optional interface so tests
// can assert Transport's auth() fallback actually wires it up.
func (l *fakeLink) SetReadDeadline(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deadlineCalls++
}

// Written parses every frame sent so far off the accumulated outbound
// bytes.
func (l *fakeLink) Written() []Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Frame
	buf := l.outbound
	for {
		f, n, err := UnmarshalFrame(buf)
		if err != nil {
			break
		}
		out = append(out, f)
		buf = buf[n:]
	}
	return out
}

// fakeSigner is a Signer double: Sign returns sig unless reject is true (in
// which case it returns a non-nil error, simulating the device rejecting
// the signer's challenge response at the wire level rather than Sign
// itself failing — tests model that by having the fake device answer with
// another AUTH(token) instead of CNXN, so reject here is only used to
// simulate a Signer that cannot sign at all).
type fakeSigner struct {
	sig    []byte
	pub    []byte
	reject bool
}

func (s *fakeSigner) Sign(challenge []byte) ([]byte, error) {
	if s.reject {
		return nil, errSignerRejected
	}
	return s.sig, nil
}

func (s *fakeSigner) PublicKey() ([]byte, error) {
	return s.pub, nil
}
