package adb

// LinkEndpoint is the external collaborator that owns the physical USB bulk
// endpoints. The core never enumerates devices or issues USB control
// transfers itself; it only reads and writes exact byte counts against this
// interface.
//
// Read returns at least one and at most n bytes on success, or a non-nil
// error. Transport.readFrame loops on short reads for the payload, but
// reads the 24-byte header with a single call, so an implementation must
// deliver the whole header in one Read (a shorter header fails with
// ErrShortHeader).
//
// Write must write all of data or return a non-nil error (all-or-nothing).
//
// Close is idempotent: calling it more than once must not panic or return
// a new error describing double-close.
type LinkEndpoint interface {
	Read(n int) ([]byte, error)
	Write(data []byte) error
	Close() error
}
