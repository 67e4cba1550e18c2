package adb

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// LinkFactory constructs a LinkEndpoint for a device source. Concrete USB
// backends (libusb, gousb, a mock for tests) register themselves under a
// scheme; SessionManager.Open resolves the scheme from the source string
// and defers to the matching factory, so the core never imports a USB
// library directly.
type LinkFactory interface {
	NewLink(source *SourceAddr) (LinkEndpoint, error)
}

// SourceAddr is a parsed device source identifier, e.g.
// "usb://1a2b3c4d5e6f" (a serial number) or "replay://adbshell-capture"
// (the scheme cmd/adbshell registers to replay a recorded session through
// a capture.ReplayLink). Scheme-less sources
// ("1a2b3c4d5e6f") are treated as the default "usb" scheme.
type SourceAddr struct {
	Scheme string
	Host   string
	Path   string
	Raw    string
}

// ParseSource parses a device source string into a SourceAddr.
func ParseSource(source string) (*SourceAddr, error) {
	if !strings.Contains(source, "://") {
		return &SourceAddr{Scheme: DefaultLinkScheme, Host: source, Raw: source}, nil
	}
	u, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	if u.Scheme == "" {
		return nil, ErrInvalidSource
	}
	return &SourceAddr{Scheme: u.Scheme, Host: u.Host, Path: u.Path, Raw: source}, nil
}

func (s *SourceAddr) String() string { return s.Raw }

// DefaultLinkScheme is assumed for a source string with no explicit scheme.
const DefaultLinkScheme = "usb"

var linkFactories = make(map[string]LinkFactory)

// RegisterLinkFactory registers a LinkFactory under scheme. It panics on a
// duplicate registration, matching the teacher pack's driver-registry
// convention of failing fast at init() time rather than silently shadowing.
func RegisterLinkFactory(scheme string, factory LinkFactory) {
	if _, dup := linkFactories[scheme]; dup {
		panic("adb: link factory already registered for scheme " + scheme)
	}
	linkFactories[scheme] = factory
}

// UnregisterLinkFactory removes a factory registration; mainly useful for
// tests that register a throwaway mock factory.
func UnregisterLinkFactory(scheme string) {
	delete(linkFactories, scheme)
}

// RegisteredLinkSchemes lists the currently registered scheme names, sorted.
func RegisteredLinkSchemes() []string {
	out := make([]string, 0, len(linkFactories))
	for scheme := range linkFactories {
		out = append(out, scheme)
	}
	sort.Strings(out)
	return out
}

func lookupLinkFactory(scheme string) (LinkFactory, bool) {
	f, ok := linkFactories[scheme]
	return f, ok
}

// NewLink resolves source to a LinkEndpoint via the registered LinkFactory
// for its scheme.
func NewLink(source string) (LinkEndpoint, error) {
	addr, err := ParseSource(source)
	if err != nil {
		return nil, err
	}
	factory, ok := lookupLinkFactory(addr.Scheme)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, addr.Scheme)
	}
	return factory.NewLink(addr)
}
