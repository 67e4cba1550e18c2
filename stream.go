package adb

import "sync"

// StreamState is a Stream's position in its lifecycle state machine:
//
//	Opening  --OKAY(register)--> Established
//	Opening  --CLSE(peer)------> Closed
//	Established --CLSE(any)----> Closed
//	any --link-fail-------------> Closed (finished=true)
type StreamState int

const (
	StreamOpening StreamState = iota
	StreamEstablished
	StreamClosing
	StreamClosed
)

func (s StreamState) String() string {
	switch s {
	case StreamOpening:
		return "opening"
	case StreamEstablished:
		return "established"
	case StreamClosing:
		return "closing"
	case StreamClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stream is one logical ADB service channel (e.g. "shell:…", "sync:")
// multiplexed over a single Transport. It holds the local/remote id pair,
// an in-order inbound payload queue, and the open/established/closed state
// machine from spec §4.4.
type Stream struct {
	transport *Transport

	localID uint32

	mu       sync.Mutex
	remoteID uint32
	hasRemote bool
	state    StreamState
	queue    [][]byte
	finished bool
}

func newStream(transport *Transport, localID uint32) *Stream {
	return &Stream{
		transport: transport,
		localID:   localID,
		state:     StreamOpening,
	}
}

// LocalID returns the stream's local id, unique within its SessionManager.
func (s *Stream) LocalID() uint32 { return s.localID }

// RemoteID returns the device-assigned remote id, valid once State() is
// StreamEstablished or later.
func (s *Stream) RemoteID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteID
}

// State returns the stream's current lifecycle state.
func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// open emits OPEN(arg0=local_id, arg1=0, data=service||"\0"). It does not
// change state: the stream is already Opening from newStream. Completion (transition to
// Established) happens asynchronously when the Router observes the
// matching OKAY and calls register.
func (s *Stream) open(service []byte) error {
	payload := append(append([]byte{}, service...), 0)
	return s.transport.Send(Frame{Tag: TagOPEN, Arg0: s.localID, Arg1: 0, Payload: payload})
}

// register records the device-assigned remote id and transitions the
// stream to Established. Calling it twice is a protocol error: the device
// is not supposed to ack the same OPEN more than once.
func (s *Stream) register(remoteID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasRemote {
		return ErrAlreadyRegistered
	}
	s.remoteID = remoteID
	s.hasRemote = true
	if s.state == StreamOpening {
		s.state = StreamEstablished
	}
	return nil
}

// enqueue appends a payload chunk to the inbound queue, preserving arrival
// order. Called only by Router, only while the stream is Established.
func (s *Stream) enqueue(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.queue = append(s.queue, payload)
}

// markClosed marks the stream finished and transitions it to Closed. Safe
// to call more than once (e.g. once from Router's CLSE handling, once from
// a link-failure teardown).
func (s *Stream) markClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
	s.state = StreamClosed
}

// Recv returns the next buffered payload chunk in arrival order, and
// whether the stream is finished (no more chunks will ever arrive). It
// never blocks: an empty, not-finished result means "nothing buffered yet,
// keep polling"; an empty, finished result means end of stream. This
// mirrors the source's lazy queue-backed generator (see spec §9) as a
// non-blocking, exactly-once-terminating iterator rather than a blocking
// channel read, so callers choose their own wait/backoff policy.
func (s *Stream) Recv() (chunk []byte, finished bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) > 0 {
		chunk = s.queue[0]
		s.queue = s.queue[1:]
		return chunk, false
	}
	return nil, s.finished
}

// Close emits CLSE(arg0=local_id, arg1=remote_id) exactly once. Further
// Recv calls still drain any already-buffered chunks before reporting
// finished. Calling Close on an already-closed or already-closing stream
// is a no-op (idempotent per spec §8 invariant 7).
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.state == StreamClosed || s.state == StreamClosing {
		s.mu.Unlock()
		return nil
	}
	remoteID := s.remoteID
	s.state = StreamClosing
	s.mu.Unlock()

	err := s.transport.Send(Frame{Tag: TagCLSE, Arg0: s.localID, Arg1: remoteID})

	s.mu.Lock()
	s.state = StreamClosed
	s.finished = true
	s.mu.Unlock()

	return err
}
