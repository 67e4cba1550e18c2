package adb

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionManager orchestrates a single device: it lazily establishes a
// Transport, starts a Router, allocates Streams, and routes shutdowns. One
// SessionManager instance corresponds to one attached device, per spec
// §1's non-goal of concurrent multi-device multiplexing inside one core
// instance.
type SessionManager struct {
	source string
	cfg    *Config
	log    zerolog.Logger

	// id correlates this manager's log lines across a close+reopen of its
	// underlying Transport, the same role the teacher's Dial() connID
	// plays across handshake/token/session driver calls.
	id string

	mu         sync.Mutex
	transport  *Transport
	router     *Router
	table      *sessionTable
	nextLocal  uint32
	banner     []byte
}

// NewSessionManager creates a manager for the device at source (e.g.
// "usb://<serial>", or a bare serial string for the default "usb" scheme).
// No connection is made until the first Open call.
func NewSessionManager(source string, opts ...Option) *SessionManager {
	cfg := applyConfig(opts)
	id := uuid.New().String()
	return &SessionManager{
		source: source,
		cfg:    cfg,
		log:    cfg.logger.With().Str("session", id).Logger(),
		id:     id,
		table:  newSessionTable(),
	}
}

// Banner returns the device banner observed on the most recent connect.
func (m *SessionManager) Banner() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.banner
}

// ensureConnected lazily constructs the Transport (via the registered
// LinkFactory for m.source's scheme), runs Connect, and starts the Router.
// Must be called with m.mu held.
func (m *SessionManager) ensureConnected() error {
	if m.transport != nil {
		return nil
	}

	link, err := NewLink(m.source)
	if err != nil {
		return err
	}
	if m.cfg.linkWrap != nil {
		link = m.cfg.linkWrap(link)
	}

	transport := NewTransport(link, m.cfg)
	banner, err := transport.Connect()
	if err != nil {
		_ = transport.Close()
		return err
	}

	router := newRouter(transport, m.table, m.log)
	router.start()

	m.transport = transport
	m.router = router
	m.banner = banner
	m.log.Info().Str("source", m.source).Str("banner", string(banner)).Msg("adb: session established")
	return nil
}

// Open establishes a new logical stream for the given ADB service string
// (e.g. ServiceShell("ls -l")). The first call on a fresh manager lazily
// connects the transport and starts the router. local_id is monotonic over
// the manager's lifetime starting at 1, and is never reused while its
// session-table entry is still present.
func (m *SessionManager) Open(service []byte) (*Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureConnected(); err != nil {
		return nil, err
	}

	m.nextLocal++
	localID := m.nextLocal

	stream := newStream(m.transport, localID)
	m.table.insert(stream)

	if err := stream.open(service); err != nil {
		m.table.remove(localID)
		return nil, err
	}

	m.cfg.metrics.IncrementStreamsOpened()
	return stream, nil
}

// Close closes the stream with the given local id. It is a no-op if the
// id is unknown or the transport was never established, per spec §4.5 and
// the UsageError policy in §7 (returned as a no-op with a warning logged,
// not propagated as an error).
func (m *SessionManager) Close(localID uint32) error {
	m.mu.Lock()
	transport := m.transport
	m.mu.Unlock()

	if transport == nil {
		m.log.Warn().Uint32("local_id", localID).Msg("adb: close on unconnected manager, ignoring")
		return nil
	}

	stream, ok := m.table.lookup(localID)
	if !ok {
		m.log.Warn().Uint32("local_id", localID).Msg("adb: close of unknown stream, ignoring")
		return nil
	}

	err := stream.Close()
	m.cfg.metrics.IncrementStreamsClosed()
	return err
}

// Shutdown closes every open stream, stops the Router, and closes the
// Transport. Safe to call more than once.
func (m *SessionManager) Shutdown() error {
	m.mu.Lock()
	transport := m.transport
	router := m.router
	m.mu.Unlock()

	if transport == nil {
		return nil
	}

	for _, s := range m.table.all() {
		_ = s.Close()
	}

	err := transport.Close()
	if router != nil {
		router.stopAndWait()
	}

	m.mu.Lock()
	m.transport = nil
	m.router = nil
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("adb: shutdown: %w", err)
	}
	return nil
}
