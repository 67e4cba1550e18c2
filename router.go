package adb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// sessionTable is the local_id -> Stream map shared between SessionManager
// (index, insert, remove) and Router (dispatch lookup). Critical sections
// are limited to lookup/insert/remove, per spec §5.
type sessionTable struct {
	mu      sync.Mutex
	streams map[uint32]*Stream
}

func newSessionTable() *sessionTable {
	return &sessionTable{streams: make(map[uint32]*Stream)}
}

func (st *sessionTable) insert(s *Stream) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.streams[s.LocalID()] = s
}

func (st *sessionTable) lookup(localID uint32) (*Stream, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.streams[localID]
	return s, ok
}

func (st *sessionTable) remove(localID uint32) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.streams, localID)
}

func (st *sessionTable) all() []*Stream {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*Stream, 0, len(st.streams))
	for _, s := range st.streams {
		out = append(out, s)
	}
	return out
}

// Router is the single background reader bound to one Transport. It pulls
// frames from Transport.ReadFrame and fans them into the addressed
// Stream's queue by local id. It never writes to the transport itself —
// the OKAY auto-ack for inbound WRTE is emitted inside Transport.ReadFrame,
// not here — so the dispatch loop stays a pure demux.
type Router struct {
	transport *Transport
	table     *sessionTable
	log       zerolog.Logger

	done chan struct{}
	stop chan struct{}

	mu     sync.Mutex
	stopped bool
	err    error
}

func newRouter(transport *Transport, table *sessionTable, log zerolog.Logger) *Router {
	return &Router{
		transport: transport,
		table:     table,
		log:       log,
		done:      make(chan struct{}),
		stop:      make(chan struct{}),
	}
}

// start launches the router loop in its own goroutine.
func (r *Router) start() {
	go r.run()
}

func (r *Router) run() {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			return
		default:
		}

		f, err := r.transport.ReadFrame()
		if err != nil {
			r.fail(err)
			return
		}

		switch f.Tag {
		case TagOKAY:
			r.handleOkay(f)
		case TagWRTE:
			r.handleWrte(f)
		case TagCLSE:
			r.handleClse(f)
		case TagCNXN, TagAUTH:
			r.fail(fmt.Errorf("%w: %s after handshake", ErrUnexpectedTag, f.Tag))
			return
		default:
			r.log.Warn().Stringer("tag", f.Tag).Msg("adb: router ignoring unrecognized tag")
		}
	}
}

func (r *Router) handleOkay(f Frame) {
	// arg1 is the local id the device is acking, per the frame's own
	// addressing (Stream uses arg1==localID for both OKAY and WRTE from
	// the device).
	stream, ok := r.table.lookup(f.Arg1)
	if !ok {
		r.log.Warn().Uint32("local_id", f.Arg1).Msg("adb: OKAY for unknown stream, dropping")
		return
	}
	if stream.State() == StreamOpening {
		if err := stream.register(f.Arg0); err != nil {
			r.log.Warn().Err(err).Uint32("local_id", f.Arg1).Msg("adb: duplicate OKAY registration")
		}
		return
	}
	// Established: this OKAY acks a prior outbound WRTE. Outbound flow
	// control windowing is a higher-layer concern per spec §9; the router
	// does not mutate any queue here.
}

func (r *Router) handleWrte(f Frame) {
	stream, ok := r.table.lookup(f.Arg1)
	if !ok {
		r.log.Warn().Uint32("local_id", f.Arg1).Msg("adb: WRTE for unknown stream, dropping")
		return
	}
	if stream.State() != StreamEstablished {
		r.log.Warn().Uint32("local_id", f.Arg1).Stringer("state", stream.State()).Msg("adb: WRTE for non-established stream, dropping")
		return
	}
	stream.enqueue(f.Payload)
}

func (r *Router) handleClse(f Frame) {
	stream, ok := r.table.lookup(f.Arg1)
	if !ok {
		r.log.Warn().Uint32("local_id", f.Arg1).Msg("adb: CLSE for unknown stream, dropping")
		return
	}
	stream.markClosed()
	r.table.remove(f.Arg1)
}

// fail tears down the transport and finalizes every stream still in the
// table as Closed/finished, per spec §4.3 step 3 and §7's propagation
// policy (background failures are observable via streams, not returned).
func (r *Router) fail(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()

	if !errors.Is(err, ErrLinkClosed) {
		r.log.Error().Err(err).Msg("adb: router terminating, closing transport")
	}
	_ = r.transport.Close()
	for _, s := range r.table.all() {
		s.markClosed()
	}
}

// Err returns the error that terminated the router, if any.
func (r *Router) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// stopAndWait signals the run loop to exit (it will notice at the top of
// its next iteration, after the in-flight ReadFrame returns) and blocks
// until it has. Closing the transport first is what actually unblocks a
// pending ReadFrame; callers (SessionManager.Shutdown) do that before
// calling stopAndWait.
func (r *Router) stopAndWait() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()
	close(r.stop)
	<-r.done
}
