package adb

import "sync/atomic"

// Metrics tracks per-Transport wire activity. Transport calls Increment*
// as a side effect of send/readFrame; collectors read via Get*.
type Metrics interface {
	IncrementFramesSent(tag Tag)
	IncrementFramesReceived(tag Tag)
	IncrementBytesSent(n int64)
	IncrementBytesReceived(n int64)
	IncrementStreamsOpened()
	IncrementStreamsClosed()

	GetFramesSent() int64
	GetFramesReceived() int64
	GetBytesSent() int64
	GetBytesReceived() int64
	GetStreamsOpened() int64
	GetStreamsClosed() int64
}

// DefaultMetrics implements Metrics with atomic counters. The zero value is
// ready to use.
type DefaultMetrics struct {
	framesSent     int64
	framesReceived int64
	bytesSent      int64
	bytesReceived  int64
	streamsOpened  int64
	streamsClosed  int64
}

// NewDefaultMetrics creates a new DefaultMetrics instance.
func NewDefaultMetrics() *DefaultMetrics { return &DefaultMetrics{} }

func (m *DefaultMetrics) IncrementFramesSent(Tag)        { atomic.AddInt64(&m.framesSent, 1) }
func (m *DefaultMetrics) IncrementFramesReceived(Tag)    { atomic.AddInt64(&m.framesReceived, 1) }
func (m *DefaultMetrics) IncrementBytesSent(n int64)     { atomic.AddInt64(&m.bytesSent, n) }
func (m *DefaultMetrics) IncrementBytesReceived(n int64) { atomic.AddInt64(&m.bytesReceived, n) }
func (m *DefaultMetrics) IncrementStreamsOpened()        { atomic.AddInt64(&m.streamsOpened, 1) }
func (m *DefaultMetrics) IncrementStreamsClosed()        { atomic.AddInt64(&m.streamsClosed, 1) }

func (m *DefaultMetrics) GetFramesSent() int64     { return atomic.LoadInt64(&m.framesSent) }
func (m *DefaultMetrics) GetFramesReceived() int64 { return atomic.LoadInt64(&m.framesReceived) }
func (m *DefaultMetrics) GetBytesSent() int64      { return atomic.LoadInt64(&m.bytesSent) }
func (m *DefaultMetrics) GetBytesReceived() int64  { return atomic.LoadInt64(&m.bytesReceived) }
func (m *DefaultMetrics) GetStreamsOpened() int64  { return atomic.LoadInt64(&m.streamsOpened) }
func (m *DefaultMetrics) GetStreamsClosed() int64  { return atomic.LoadInt64(&m.streamsClosed) }
