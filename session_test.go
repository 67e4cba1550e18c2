package adb

import (
	"testing"
)

type fakeLinkFactory struct {
	link *fakeLink
}

func (f fakeLinkFactory) NewLink(addr *SourceAddr) (LinkEndpoint, error) {
	return f.link, nil
}

func newTestSessionManager(t *testing.T, scheme string) (*SessionManager, *fakeLink) {
	t.Helper()
	link := newFakeLink()
	link.QueueFrame(Frame{Tag: TagCNXN, Arg0: Version, Arg1: DefaultMaxPayload, Payload: []byte("device::test\x00")})

	RegisterLinkFactory(scheme, fakeLinkFactory{link: link})
	t.Cleanup(func() { UnregisterLinkFactory(scheme) })

	mgr := NewSessionManager(scheme+"://fake", WithLogger(testLogger()))
	return mgr, link
}

func TestSessionManagerOpenAssignsMonotonicLocalIDs(t *testing.T) {
	mgr, link := newTestSessionManager(t, "test-monotonic")

	s1, err := mgr.Open(ServiceShell("ls"))
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	s2, err := mgr.Open(ServiceSync())
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	if s1.LocalID() == s2.LocalID() {
		t.Fatalf("expected distinct local ids, got %d and %d", s1.LocalID(), s2.LocalID())
	}
	if s2.LocalID() <= s1.LocalID() {
		t.Errorf("local ids not monotonic: %d then %d", s1.LocalID(), s2.LocalID())
	}

	sent := link.Written()
	var opens int
	for _, f := range sent {
		if f.Tag == TagOPEN {
			opens++
		}
	}
	if opens != 2 {
		t.Errorf("expected 2 OPEN frames, got %d", opens)
	}
}

func TestSessionManagerCloseOfUnknownStreamIsNoOp(t *testing.T) {
	mgr, _ := newTestSessionManager(t, "test-close-unknown")
	if _, err := mgr.Open(ServiceShell("")); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := mgr.Close(99999); err != nil {
		t.Errorf("Close of unknown id = %v, want nil (no-op)", err)
	}
}

func TestSessionManagerCloseBeforeConnectIsNoOp(t *testing.T) {
	mgr := NewSessionManager("test-unconnected://fake", WithLogger(testLogger()))
	if err := mgr.Close(1); err != nil {
		t.Errorf("Close on unconnected manager = %v, want nil", err)
	}
	if err := mgr.Shutdown(); err != nil {
		t.Errorf("Shutdown on unconnected manager = %v, want nil", err)
	}
}

func TestSessionManagerShutdownClosesOpenStreams(t *testing.T) {
	mgr, _ := newTestSessionManager(t, "test-shutdown")
	s, err := mgr.Open(ServiceShell(""))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := mgr.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if s.State() != StreamClosed {
		t.Errorf("stream state after Shutdown = %v, want Closed", s.State())
	}
	if err := mgr.Shutdown(); err != nil {
		t.Errorf("second Shutdown = %v, want nil (idempotent)", err)
	}
}

func TestParseSourceDefaultScheme(t *testing.T) {
	addr, err := ParseSource("1a2b3c4d")
	if err != nil {
		t.Fatalf("ParseSource: %v", err)
	}
	if addr.Scheme != DefaultLinkScheme {
		t.Errorf("Scheme = %q, want %q", addr.Scheme, DefaultLinkScheme)
	}
	if addr.Host != "1a2b3c4d" {
		t.Errorf("Host = %q, want the bare serial", addr.Host)
	}
}

func TestNewLinkUnregisteredScheme(t *testing.T) {
	if _, err := NewLink("nosuchscheme://whatever"); err == nil {
		t.Error("expected an error for an unregistered scheme")
	}
}
