package adb

import (
	"errors"
	"testing"
	"time"
)

func newTestTransport(link LinkEndpoint, opts ...Option) *Transport {
	return NewTransport(link, applyConfig(opts))
}

// S1: CNXN/CNXN handshake with no auth required.
func TestConnectNoAuth(t *testing.T) {
	link := newFakeLink()
	link.QueueFrame(Frame{Tag: TagCNXN, Arg0: Version, Arg1: 8192, Payload: []byte("device::product\x00")})

	tr := newTestTransport(link, WithBanner("host::test"))
	banner, err := tr.Connect()
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if string(banner) != "device::product\x00" {
		t.Errorf("banner = %q", banner)
	}
	if tr.MaxPayload() != 8192 {
		t.Errorf("MaxPayload = %d, want 8192 (adopted from device CNXN)", tr.MaxPayload())
	}

	sent := link.Written()
	if len(sent) != 1 || sent[0].Tag != TagCNXN {
		t.Fatalf("expected a single outbound CNXN, got %+v", sent)
	}
}

// S2: AUTH token/signature succeeds with the first configured signer.
func TestConnectAuthSignatureSucceeds(t *testing.T) {
	link := newFakeLink()
	link.QueueFrame(Frame{Tag: TagAUTH, Arg0: AuthToken, Payload: make([]byte, 20)})
	link.QueueFrame(Frame{Tag: TagCNXN, Arg0: Version, Arg1: DefaultMaxPayload, Payload: []byte("device::auth\x00")})

	signer := &fakeSigner{sig: []byte("signature-bytes")}
	tr := newTestTransport(link, WithSigners(signer))

	banner, err := tr.Connect()
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if string(banner) != "device::auth\x00" {
		t.Errorf("banner = %q", banner)
	}

	sent := link.Written()
	if len(sent) != 2 || sent[0].Tag != TagCNXN || sent[1].Tag != TagAUTH || sent[1].Arg0 != AuthSignature {
		t.Fatalf("unexpected outbound sequence: %+v", sent)
	}
}

// S3: every signer is rejected (device keeps asking for another AUTH
// token instead of confirming with CNXN); falls back to public key and
// the device approves.
func TestConnectAuthFallsBackToPublicKey(t *testing.T) {
	link := newFakeLink()
	link.QueueFrame(Frame{Tag: TagAUTH, Arg0: AuthToken, Payload: make([]byte, 20)})
	link.QueueFrame(Frame{Tag: TagAUTH, Arg0: AuthToken, Payload: make([]byte, 20)}) // rejects the signature
	link.QueueFrame(Frame{Tag: TagCNXN, Arg0: Version, Arg1: DefaultMaxPayload, Payload: []byte("device::fallback\x00")})

	signer := &fakeSigner{sig: []byte("sig"), pub: []byte("pubkey-data")}
	tr := newTestTransport(link, WithSigners(signer))

	banner, err := tr.Connect()
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if string(banner) != "device::fallback\x00" {
		t.Errorf("banner = %q", banner)
	}

	sent := link.Written()
	if len(sent) != 3 {
		t.Fatalf("expected CNXN, AUTH(signature), AUTH(rsapubkey); got %+v", sent)
	}
	if sent[2].Arg0 != AuthRSAPublicKey {
		t.Errorf("third frame arg0 = %d, want AuthRSAPublicKey", sent[2].Arg0)
	}
}

// S4: the device never responds to the public-key offer; the link read
// times out and Connect surfaces ErrUserApprovalRequired, a recoverable
// error distinct from a hard link failure.
func TestConnectAuthApprovalTimeout(t *testing.T) {
	link := newFakeLink()
	link.QueueFrame(Frame{Tag: TagAUTH, Arg0: AuthToken, Payload: make([]byte, 20)})
	link.QueueFrame(Frame{Tag: TagAUTH, Arg0: AuthToken, Payload: make([]byte, 20)})
	// No further frames queued: the next Read will time out.

	signer := &fakeSigner{sig: []byte("sig"), pub: []byte("pubkey-data")}
	tr := newTestTransport(link, WithSigners(signer), WithAuthApprovalTimeout(10*time.Millisecond))

	_, err := tr.Connect()
	if !errors.Is(err, ErrUserApprovalRequired) {
		t.Fatalf("got %v, want ErrUserApprovalRequired", err)
	}
	if link.deadlineCalls == 0 {
		t.Error("expected the link's SetReadDeadline to be called during the approval wait")
	}
}

func TestConnectNoSigners(t *testing.T) {
	link := newFakeLink()
	link.QueueFrame(Frame{Tag: TagAUTH, Arg0: AuthToken, Payload: make([]byte, 20)})

	tr := newTestTransport(link)
	if _, err := tr.Connect(); !errors.Is(err, ErrNoSigners) {
		t.Fatalf("got %v, want ErrNoSigners", err)
	}
}

func TestConnectUnexpectedTag(t *testing.T) {
	link := newFakeLink()
	link.QueueFrame(Frame{Tag: TagWRTE, Arg0: 1, Arg1: 1})

	tr := newTestTransport(link)
	if _, err := tr.Connect(); !errors.Is(err, ErrUnexpectedTag) {
		t.Fatalf("got %v, want ErrUnexpectedTag", err)
	}
}

func TestReadFrameChecksumMismatch(t *testing.T) {
	link := newFakeLink()
	f := Frame{Tag: TagWRTE, Arg0: 1, Arg1: 2, Payload: []byte("data")}
	raw := MarshalFrame(f)
	raw[len(raw)-1] ^= 0xff // corrupt the last payload byte without touching the header's checksum
	link.inbound = raw

	tr := newTestTransport(link)
	if _, err := tr.ReadFrame(); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("got %v, want ErrChecksumMismatch", err)
	}
}

func TestReadFrameAutoAcksWrte(t *testing.T) {
	link := newFakeLink()
	link.QueueFrame(Frame{Tag: TagWRTE, Arg0: 5, Arg1: 9, Payload: []byte("payload")})

	tr := newTestTransport(link)
	f, err := tr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f.Tag != TagWRTE {
		t.Fatalf("got tag %v, want WRTE", f.Tag)
	}

	sent := link.Written()
	if len(sent) != 1 || sent[0].Tag != TagOKAY || sent[0].Arg0 != 9 || sent[0].Arg1 != 5 {
		t.Fatalf("expected an auto-acking OKAY(arg0=9,arg1=5), got %+v", sent)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	link := newFakeLink()
	tr := newTestTransport(link)
	if err := tr.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
