package adb

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// transportState is Transport's lifecycle state.
type transportState int

const (
	stateFresh transportState = iota
	stateConnected
	stateClosed
)

// Transport owns one LinkEndpoint and speaks the ADB wire protocol over it:
// framing, checksum verification, the CNXN/AUTH handshake, and auto-acking
// inbound WRTE frames. It has no notion of multiple logical streams — that
// is Router's and Stream's job — but every send is serialized through a
// single mutex so a concurrent auto-ack and an application write can never
// interleave their header/payload writes on the wire.
type Transport struct {
	link LinkEndpoint
	cfg  *Config
	log  zerolog.Logger

	// sendMu serializes every Send call (header write + payload write) so
	// frames never interleave. Both the Router goroutine's auto-ack and a
	// caller's OPEN/CLSE/WRTE acquire it.
	sendMu sync.Mutex

	mu         sync.Mutex
	state      transportState
	banner     []byte
	maxPayload uint32
}

// NewTransport wraps a LinkEndpoint. The transport starts in state Fresh;
// call Connect to run the handshake before using Send/ReadFrame.
func NewTransport(link LinkEndpoint, cfg *Config) *Transport {
	return &Transport{
		link:       link,
		cfg:        cfg,
		log:        cfg.logger,
		state:      stateFresh,
		maxPayload: cfg.maxPayload,
	}
}

func defaultBanner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return "host::" + host
}

// MaxPayload returns the currently negotiated max_payload.
func (t *Transport) MaxPayload() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxPayload
}

// Banner returns the device banner observed on connect.
func (t *Transport) Banner() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.banner
}

// Connect drives the initial handshake: emit CNXN(version, max_payload,
// "host::<fqdn>\0"), then read frames until a CNXN or AUTH arrives. A CNXN
// response adopts the device's arg1 as the new max_payload and returns its
// banner payload directly; an AUTH response hands off to auth().
func (t *Transport) Connect() ([]byte, error) {
	data := append([]byte(t.cfg.banner), 0)
	if err := t.Send(Frame{Tag: TagCNXN, Arg0: Version, Arg1: t.cfg.maxPayload, Payload: data}); err != nil {
		return nil, err
	}

	for {
		f, err := t.readFrameWithDeadline(t.cfg.connectTimeout)
		if err != nil {
			return nil, err
		}
		switch f.Tag {
		case TagCNXN:
			t.mu.Lock()
			t.maxPayload = f.Arg1
			t.banner = f.Payload
			t.state = stateConnected
			t.mu.Unlock()
			t.log.Debug().Str("banner", string(f.Payload)).Msg("adb: connected")
			return f.Payload, nil
		case TagAUTH:
			banner, err := t.auth(f)
			if err != nil {
				return nil, err
			}
			t.mu.Lock()
			t.state = stateConnected
			t.banner = banner
			t.mu.Unlock()
			return banner, nil
		default:
			return nil, fmt.Errorf("%w: %s while connecting", ErrUnexpectedTag, f.Tag)
		}
	}
}

// auth performs the CNXN-AUTH handshake's signer negotiation. initial is
// the first AUTH frame the device sent (arg0 must be AuthToken, carrying
// the 20-byte challenge).
func (t *Transport) auth(initial Frame) ([]byte, error) {
	if len(t.cfg.signers) == 0 {
		return nil, ErrNoSigners
	}

	current := initial
	for _, signer := range t.cfg.signers {
		if current.Arg0 != AuthToken {
			return nil, fmt.Errorf("%w: arg0=%d", ErrBadAuthStep, current.Arg0)
		}

		sig, err := signer.Sign(current.Payload)
		if err != nil {
			return nil, fmt.Errorf("adb: signer rejected challenge: %w", err)
		}
		if err := t.Send(Frame{Tag: TagAUTH, Arg0: AuthSignature, Arg1: 0, Payload: sig}); err != nil {
			return nil, err
		}

		f, err := t.readFrameLocked()
		if err != nil {
			return nil, err
		}
		switch f.Tag {
		case TagCNXN:
			t.log.Debug().Msg("adb: auth succeeded with signer")
			return f.Payload, nil
		case TagAUTH:
			current = f
			continue
		default:
			return nil, fmt.Errorf("%w: %s during auth", ErrUnexpectedTag, f.Tag)
		}
	}

	// All signers rejected; fall back to offering the public key and
	// waiting for the user to approve the fingerprint on the device.
	t.log.Warn().Msg("adb: all signers rejected, falling back to public key")
	pub, err := t.cfg.signers[0].PublicKey()
	if err != nil {
		return nil, fmt.Errorf("adb: %w: %v", ErrAllSignersRejected, err)
	}
	payload := append(append([]byte{}, pub...), 0)
	if err := t.Send(Frame{Tag: TagAUTH, Arg0: AuthRSAPublicKey, Arg1: 0, Payload: payload}); err != nil {
		return nil, err
	}

	f, err := t.readFrameWithDeadline(t.cfg.authApprovalTimeout)
	if err != nil {
		if isLinkTimeout(err) {
			return nil, ErrUserApprovalRequired
		}
		return nil, err
	}
	if f.Tag != TagCNXN {
		return nil, fmt.Errorf("%w: %s waiting for public key approval", ErrUnexpectedTag, f.Tag)
	}
	return f.Payload, nil
}

// Send writes a frame's header then payload as two link writes, holding
// sendMu for the duration so frames from different goroutines (Router's
// auto-ack vs. a caller's OPEN/WRTE/CLSE) never interleave on the wire. A
// zero-length payload still performs an (empty) payload write, matching
// the device's own framing behavior.
func (t *Transport) Send(f Frame) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	header := packHeader(f)
	if err := t.link.Write(header); err != nil {
		return fmt.Errorf("%w: writing header: %v", ErrLinkIO, err)
	}
	if err := t.link.Write(f.Payload); err != nil {
		return fmt.Errorf("%w: writing payload: %v", ErrLinkIO, err)
	}
	t.cfg.metrics.IncrementFramesSent(f.Tag)
	t.cfg.metrics.IncrementBytesSent(int64(HeaderSize + len(f.Payload)))
	t.log.Debug().Stringer("tag", f.Tag).Uint32("arg0", f.Arg0).Uint32("arg1", f.Arg1).Int("len", len(f.Payload)).Msg("adb: sent frame")
	return nil
}

// ReadFrame reads exactly one frame off the link: a 24-byte header, then
// (if data_len>0) the payload, retrying partial reads until data_len bytes
// are collected. The checksum is verified before the frame is returned. If
// the frame is WRTE, ReadFrame synchronously sends the OKAY ack before
// returning — this is what lets Router stay simple, per spec §4.2/§4.3.
func (t *Transport) ReadFrame() (Frame, error) {
	return t.readFrameLocked()
}

func (t *Transport) readFrameLocked() (Frame, error) {
	return t.readFrame()
}

// deadlineSetter is an optional interface a LinkEndpoint may implement to
// receive a one-shot read deadline, the same way the teacher's Rotator is
// an optional interface a Transport implementation may or may not satisfy.
// A LinkEndpoint that doesn't implement it is expected to carry its own
// fixed bulk-transfer timeout, and readFrameWithDeadline degrades to an
// ordinary blocking read bounded by that fixed timeout.
type deadlineSetter interface {
	SetReadDeadline(d time.Duration)
}

func (t *Transport) readFrameWithDeadline(d time.Duration) (Frame, error) {
	if ds, ok := t.link.(deadlineSetter); ok {
		ds.SetReadDeadline(d)
	}
	return t.readFrame()
}

func (t *Transport) readFrame() (Frame, error) {
	headerBytes, err := t.link.Read(HeaderSize)
	if err != nil {
		return Frame{}, wrapLinkErr(err)
	}
	hdr, err := unpackHeader(headerBytes)
	if err != nil {
		return Frame{}, err
	}

	var payload []byte
	if hdr.DataLen > 0 {
		buf := bytes.NewBuffer(make([]byte, 0, hdr.DataLen))
		remaining := int(hdr.DataLen)
		for remaining > 0 {
			chunk, err := t.link.Read(remaining)
			if err != nil {
				return Frame{}, wrapLinkErr(err)
			}
			buf.Write(chunk)
			remaining -= len(chunk)
		}
		payload = buf.Bytes()
		if err := verifyChecksum(payload, hdr.Checksum); err != nil {
			return Frame{}, err
		}
	}

	f := Frame{Tag: hdr.Tag, Arg0: hdr.Arg0, Arg1: hdr.Arg1, Payload: payload}
	t.cfg.metrics.IncrementFramesReceived(f.Tag)
	t.cfg.metrics.IncrementBytesReceived(int64(HeaderSize + len(payload)))
	t.log.Debug().Stringer("tag", f.Tag).Uint32("arg0", f.Arg0).Uint32("arg1", f.Arg1).Int("len", len(payload)).Msg("adb: received frame")

	if f.Tag == TagWRTE {
		if err := t.Send(Frame{Tag: TagOKAY, Arg0: f.Arg1, Arg1: f.Arg0}); err != nil {
			return Frame{}, err
		}
	}
	return f, nil
}

// Close closes the underlying link. Idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.state == stateClosed {
		t.mu.Unlock()
		return nil
	}
	t.state = stateClosed
	t.mu.Unlock()
	return t.link.Close()
}

// wrapLinkErr normalizes an error returned by LinkEndpoint.Read into one of
// the LinkError sentinels, so callers can errors.Is against a stable type
// regardless of which concrete LinkEndpoint raised it.
func wrapLinkErr(err error) error {
	switch {
	case errors.Is(err, ErrLinkTimeout), errors.Is(err, ErrLinkIO), errors.Is(err, ErrLinkClosed):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrLinkIO, err)
	}
}

func isLinkTimeout(err error) bool {
	return errors.Is(err, ErrLinkTimeout)
}
