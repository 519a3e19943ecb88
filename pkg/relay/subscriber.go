package relay

import (
	"io"
	"time"

	"github.com/capstream/capstream/pkg/metrics"
)

// Subscriber is one consumer's cursor into the relay. It implements
// io.ReadCloser. A Subscriber must not be read from concurrently.
//
// All fields are guarded by the relay's mutex.
type Subscriber struct {
	relay *Relay
	id    uint64

	cursor     uint64
	needHeader bool
	pending    []byte
	buf        []byte
	dropped    uint64
	closed     bool
	joinedAt   time.Time
}

// SubscriberStats is a snapshot of one subscriber.
type SubscriberStats struct {
	ID       uint64    `json:"id"`
	Lag      uint64    `json:"lag"`
	Dropped  uint64    `json:"dropped"`
	JoinedAt time.Time `json:"joinedAt"`
}

// ID returns the subscriber's relay-local identifier.
func (s *Subscriber) ID() uint64 { return s.id }

// Read copies relayed bytes into p. It blocks until data past the cursor is
// available, and returns io.EOF once the relay is closed and everything
// retained has been read, or ErrSubscriberClosed after Close.
func (s *Subscriber) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	r := s.relay
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if s.closed {
			return 0, ErrSubscriberClosed
		}
		if len(s.pending) > 0 {
			n := copy(p, s.pending)
			s.pending = s.pending[n:]
			return n, nil
		}

		if s.needHeader {
			switch {
			case r.framing == FramingRaw:
				s.needHeader = false
			case r.header != nil:
				s.needHeader = false
				s.fill(len(r.header), func(b []byte) { copy(b, r.header) })
				continue
			case r.closed:
				return 0, io.EOF
			default:
				r.cond.Wait()
				continue
			}
		}

		s.catchUp()
		if s.cursor < r.ring.written {
			return s.copyOut(p), nil
		}
		if r.closed {
			return 0, io.EOF
		}
		r.cond.Wait()
	}
}

// Close unsubscribes s from its relay.
func (s *Subscriber) Close() error {
	s.relay.Unsubscribe(s)
	return nil
}

// Dropped returns the number of bytes this subscriber lost to overflow.
func (s *Subscriber) Dropped() uint64 {
	s.relay.mu.Lock()
	defer s.relay.mu.Unlock()
	return s.dropped
}

// Stats returns a snapshot of the subscriber.
func (s *Subscriber) Stats() SubscriberStats {
	r := s.relay
	r.mu.Lock()
	defer r.mu.Unlock()
	return SubscriberStats{
		ID:       s.id,
		Lag:      r.ring.written - s.cursor + uint64(len(s.pending)),
		Dropped:  s.dropped,
		JoinedAt: s.joinedAt,
	}
}

// catchUp moves a cursor that fell out of the retained window forward to the
// oldest retained byte, or to the oldest retained record start when framed.
func (s *Subscriber) catchUp() {
	r := s.relay
	oldest := r.ring.oldest()
	if s.cursor >= oldest {
		return
	}

	target := oldest
	if r.framing == FramingPcap {
		target = r.ring.written
		if m, ok := r.marks.next(oldest); ok {
			target = m
		}
	}

	skipped := target - s.cursor
	s.dropped += skipped
	r.dropped += skipped
	s.cursor = target
	if metrics.RelayDroppedBytesTotal != nil {
		_ = metrics.RelayDroppedBytesTotal.Add(float64(skipped))
	}
	r.log.Debug("subscriber fell behind", "subscriber", s.id, "skipped", skipped, "dropped", s.dropped)
}

// copyOut reads from the cursor into p. In pcap framing a record cut short by
// len(p) is completed into pending so a later overflow cannot tear it.
func (s *Subscriber) copyOut(p []byte) int {
	r := s.relay
	n := r.ring.readAt(s.cursor, p)
	s.cursor += uint64(n)

	if r.framing != FramingPcap || s.cursor >= r.ring.written {
		return n
	}
	stop := r.ring.written
	if m, ok := r.marks.next(s.cursor); ok {
		if m == s.cursor {
			return n
		}
		stop = m
	}
	start := s.cursor
	s.fill(int(stop-start), func(b []byte) { r.ring.readAt(start, b) })
	s.cursor = stop
	return n
}

// fill sets pending to size bytes produced by read, reusing buf.
func (s *Subscriber) fill(size int, read func([]byte)) {
	if cap(s.buf) < size {
		s.buf = make([]byte, size)
	}
	s.pending = s.buf[:size]
	read(s.pending)
}
