package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/capstream/capstream/pkg/logging"
	"github.com/capstream/capstream/pkg/metrics"
)

// Errors
var (
	// ErrClosed is returned by Subscribe once the feed has ended.
	ErrClosed = errors.New("relay: closed")

	// ErrCapacityExceeded is returned by Subscribe when MaxSubscribers is reached.
	ErrCapacityExceeded = errors.New("relay: subscriber limit reached")

	// ErrSubscriberClosed is returned by Subscriber.Read after Unsubscribe.
	ErrSubscriberClosed = errors.New("relay: subscriber closed")

	// ErrAlreadyStarted is returned by Start and Run when the drain loop is
	// already running.
	ErrAlreadyStarted = errors.New("relay: already started")
)

// Defaults
const (
	DefaultCapacity  = 8 << 20
	DefaultChunkSize = 32 << 10
)

// Framing selects how the relay interprets the feed.
type Framing string

const (
	FramingAuto Framing = "auto"
	FramingPcap Framing = "pcap"
	FramingRaw  Framing = "raw"
)

// ParseFraming parses a framing name, case-insensitively.
func ParseFraming(s string) (Framing, error) {
	switch f := Framing(strings.ToLower(strings.TrimSpace(s))); f {
	case FramingAuto, FramingPcap, FramingRaw:
		return f, nil
	case "":
		return FramingAuto, nil
	default:
		return "", fmt.Errorf("relay: unknown framing %q", s)
	}
}

// Config holds the relay's sizing.
type Config struct {
	// Capacity is the ring size in bytes.
	Capacity int
	// ChunkSize bounds a single read from the feed in raw mode.
	ChunkSize int
	// MaxSubscribers caps concurrent subscribers. Zero means unlimited.
	MaxSubscribers int
	Framing        Framing
}

// DefaultConfig returns the default relay configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:  DefaultCapacity,
		ChunkSize: DefaultChunkSize,
		Framing:   FramingAuto,
	}
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the relay's logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Relay) {
		r.log = logging.Component(log, "relay")
	}
}

// Stats is a point-in-time snapshot of the relay.
type Stats struct {
	Capacity     int       `json:"capacity"`
	Framing      Framing   `json:"framing"`
	LinkType     string    `json:"linkType,omitempty"`
	BytesWritten uint64    `json:"bytesWritten"`
	Buffered     int       `json:"buffered"`
	DroppedBytes uint64    `json:"droppedBytes"`
	Subscribers  int       `json:"subscribers"`
	Closed       bool      `json:"closed"`
	StartedAt    time.Time `json:"startedAt,omitzero"`
	Error        string    `json:"error,omitempty"`
}

// Relay is a single-producer, multi-consumer byte relay.
type Relay struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	ring     *ring
	marks    *marks
	framing  Framing
	header   []byte
	linkType string
	subs     map[*Subscriber]struct{}
	nextID   uint64
	dropped  uint64
	started  bool
	closed   bool
	err      error
	startAt  time.Time

	done chan struct{}
}

// New creates a relay. Zero fields in cfg take their defaults.
func New(cfg Config, opts ...Option) *Relay {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkSize > cfg.Capacity {
		cfg.ChunkSize = cfg.Capacity
	}
	if cfg.Framing == "" {
		cfg.Framing = FramingAuto
	}

	r := &Relay{
		cfg:     cfg,
		log:     logging.Nop(),
		ring:    newRing(cfg.Capacity),
		marks:   &marks{},
		framing: cfg.Framing,
		subs:    make(map[*Subscriber]struct{}),
		done:    make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe registers a subscriber positioned at the current write sequence.
// Bytes written before the call are never delivered to it.
func (r *Relay) Subscribe() (*Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if r.cfg.MaxSubscribers > 0 && len(r.subs) >= r.cfg.MaxSubscribers {
		return nil, ErrCapacityExceeded
	}

	r.nextID++
	s := &Subscriber{
		relay:      r,
		id:         r.nextID,
		cursor:     r.ring.written,
		needHeader: r.framing != FramingRaw,
		joinedAt:   time.Now(),
	}
	r.subs[s] = struct{}{}
	r.updateSubscriberGauge()

	r.log.Debug("subscriber added", "subscriber", s.id, "subscribers", len(r.subs))
	return s, nil
}

// Unsubscribe removes s. It is idempotent and wakes a reader blocked on s.
func (r *Relay) Unsubscribe(s *Subscriber) {
	if s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	delete(r.subs, s)
	r.updateSubscriberGauge()
	r.cond.Broadcast()

	r.log.Debug("subscriber removed", "subscriber", s.id, "dropped", s.dropped, "subscribers", len(r.subs))
}

// Close marks the relay closed. Subscribers drain what is retained and then
// see io.EOF.
func (r *Relay) Close() {
	r.closeWith(nil)
}

func (r *Relay) closeWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.err = err
	r.cond.Broadcast()
}

// Closed reports whether the relay no longer accepts subscribers.
func (r *Relay) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Done is closed when the drain loop exits.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

// Err returns the feed read error that stopped the relay, if any.
func (r *Relay) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Stats returns a snapshot of the relay.
func (r *Relay) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Stats{
		Capacity:     r.cfg.Capacity,
		Framing:      r.framing,
		LinkType:     r.linkType,
		BytesWritten: r.ring.written,
		Buffered:     r.ring.buffered(),
		DroppedBytes: r.dropped,
		Subscribers:  len(r.subs),
		Closed:       r.closed,
		StartedAt:    r.startAt,
	}
	if r.err != nil {
		st.Error = r.err.Error()
	}
	return st
}

// append adds one unit to the ring. A pcap record is marked as a boundary
// and must fit in the ring; an oversized record is discarded.
func (r *Relay) append(p []byte, boundary bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if boundary && len(p) > r.ring.capacity() {
		r.dropLocked(len(p))
		r.log.Warn("record larger than relay buffer dropped", "size", len(p), "capacity", r.ring.capacity())
		return
	}

	if boundary {
		r.marks.push(r.ring.written)
	}
	r.ring.write(p)
	r.marks.trim(r.ring.oldest())
	r.cond.Broadcast()
}

// drop counts n feed bytes that never reached the ring.
func (r *Relay) drop(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropLocked(n)
}

func (r *Relay) dropLocked(n int) {
	r.dropped += uint64(n)
	if metrics.RelayDroppedBytesTotal != nil {
		_ = metrics.RelayDroppedBytesTotal.Add(float64(n))
	}
}

// setFraming records the resolved framing. header is the file header every
// subscriber receives first; nil for raw.
func (r *Relay) setFraming(f Framing, header []byte, linkType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.framing = f
	r.header = header
	r.linkType = linkType
	r.cond.Broadcast()
}

// updateSubscriberGauge must be called with r.mu held.
func (r *Relay) updateSubscriberGauge() {
	if metrics.RelaySubscribers != nil {
		_ = metrics.RelaySubscribers.Set(float64(len(r.subs)))
	}
}
