package adb

import (
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultConnectTimeout bounds how long connect() waits for the
	// device's initial CNXN/AUTH response.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultAuthApprovalTimeout bounds the final public-key fallback
	// read in auth(); exceeding it surfaces AuthError::UserApprovalRequired.
	DefaultAuthApprovalTimeout = 10 * time.Second
)

// Option is a functional option for constructing a SessionManager.
type Option func(*Config)

// Config holds runtime settings for a SessionManager/Transport pair. The
// zero value is never used directly; defaultConfig() supplies sane
// defaults, and options layer on top via applyConfig().
type Config struct {
	banner  string
	signers []Signer

	maxPayload uint32

	connectTimeout      time.Duration
	authApprovalTimeout time.Duration

	logger  zerolog.Logger
	metrics Metrics

	// linkWrap, if set, wraps the LinkEndpoint SessionManager.ensureConnected
	// resolves from the registry before handing it to Transport — the hook
	// a caller uses to tee a live link through a capture.RecordingLink
	// without SessionManager needing to know capture exists.
	linkWrap func(LinkEndpoint) LinkEndpoint
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.maxPayload == 0 {
		return ErrInvalidMaxPayload
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		banner:              defaultBanner(),
		maxPayload:          DefaultMaxPayload,
		connectTimeout:      DefaultConnectTimeout,
		authApprovalTimeout: DefaultAuthApprovalTimeout,
		logger:              zerolog.Nop(),
		metrics:             NewDefaultMetrics(),
	}
}

func applyConfig(opts []Option) *Config {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// WithBanner overrides the host banner sent in the initial CNXN
// ("host::<fqdn>\0" by default).
func WithBanner(banner string) Option {
	return func(c *Config) {
		if banner != "" {
			c.banner = banner
		}
	}
}

// WithSigners sets the ordered list of Signers tried during auth(). At
// least one is required for devices that demand authentication.
func WithSigners(signers ...Signer) Option {
	return func(c *Config) {
		c.signers = signers
	}
}

// WithConnectTimeout sets how long connect() waits for the device's first
// CNXN or AUTH frame.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithAuthApprovalTimeout sets how long the final public-key fallback step
// of auth() waits before the link read is reinterpreted as
// AuthError::UserApprovalRequired.
func WithAuthApprovalTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.authApprovalTimeout = d
		}
	}
}

// WithLogger sets the structured logger used by Transport, Router, and
// SessionManager. Unset, they log nothing (zerolog.Nop()).
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithMetrics sets a custom Metrics implementation. Unset, a DefaultMetrics
// with atomic counters is used.
func WithMetrics(metrics Metrics) Option {
	return func(c *Config) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

// WithLinkWrap installs wrap, called on the LinkEndpoint resolved from the
// source registry before it's handed to Transport. Used to tee a live link
// through a recorder without SessionManager depending on the recorder's
// package.
func WithLinkWrap(wrap func(LinkEndpoint) LinkEndpoint) Option {
	return func(c *Config) {
		c.linkWrap = wrap
	}
}
