package filter

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/capstream/capstream/pkg/logging"
	"github.com/capstream/capstream/pkg/metrics"
	"github.com/capstream/capstream/pkg/relay"
)

// Session is one filtered view of the capture feed. Read and Close may be
// called from different goroutines; Read must not be called concurrently
// with itself.
type Session struct {
	id        string
	req       CaptureRequest
	client    string
	startedAt time.Time
	grace     time.Duration
	log       *slog.Logger

	sub *relay.Subscriber
	out io.ReadCloser

	// Engine process; nil for passthrough sessions.
	cmd        *exec.Cmd
	stderr     *tailBuffer
	stderrLog  *logging.LineWriter
	exited     chan struct{}
	waitErr    error
	feederDone chan struct{}

	timer   *time.Timer
	expired chan struct{}

	bytesOut atomic.Int64

	mu        sync.Mutex
	state     State
	requested State
	eof       bool
	endedAt   time.Time

	expireOnce sync.Once
	stopOnce   sync.Once
	closeOnce  sync.Once
	closed     chan struct{}
	onClose    func(*Session)
}

// SessionInfo is a JSON-friendly snapshot of a session.
type SessionInfo struct {
	ID          string    `json:"id"`
	Filter      string    `json:"filter"`
	Duration    float64   `json:"durationSeconds,omitempty"`
	Client      string    `json:"client"`
	State       State     `json:"state"`
	StartedAt   time.Time `json:"startedAt"`
	BytesOut    int64     `json:"bytesOut"`
	Lag         uint64    `json:"lagBytes"`
	Dropped     uint64    `json:"droppedBytes"`
	PID         int       `json:"pid,omitempty"`
	Passthrough bool      `json:"passthrough,omitempty"`
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Request returns the parameters the session was opened with.
func (s *Session) Request() CaptureRequest { return s.req }

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BytesOut returns the number of output bytes read so far.
func (s *Session) BytesOut() int64 { return s.bytesOut.Load() }

// Expired is closed when the session's duration elapses. It is never closed
// for sessions without a duration.
func (s *Session) Expired() <-chan struct{} { return s.expired }

// Done is closed once Close has finished.
func (s *Session) Done() <-chan struct{} { return s.closed }

// Stderr returns the last few KiB the engine wrote to stderr.
func (s *Session) Stderr() string {
	if s.stderr == nil {
		return ""
	}
	return s.stderr.String()
}

// Err describes why a FAILED session failed. It is nil for other states.
func (s *Session) Err() error {
	if s.State() != StateFailed {
		return nil
	}
	if s.waitErr != nil {
		return fmt.Errorf("filter engine exited: %w", s.waitErr)
	}
	return errors.New("filter engine failed")
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	sub := s.sub.Stats()
	info := SessionInfo{
		ID:          s.id,
		Filter:      s.req.Filter,
		Duration:    s.req.Duration.Seconds(),
		Client:      s.client,
		State:       s.State(),
		StartedAt:   s.startedAt,
		BytesOut:    s.bytesOut.Load(),
		Lag:         sub.Lag,
		Dropped:     sub.Dropped,
		Passthrough: s.cmd == nil,
	}
	if s.cmd != nil && s.cmd.Process != nil {
		info.PID = s.cmd.Process.Pid
	}
	return info
}

// Read reads filtered output. It returns io.EOF when the engine has closed
// its output or the session was closed.
func (s *Session) Read(p []byte) (int, error) {
	n, err := s.out.Read(p)
	if n > 0 {
		s.bytesOut.Add(int64(n))
	}
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, relay.ErrSubscriberClosed) || errors.Is(err, os.ErrClosed) {
			s.mu.Lock()
			s.eof = true
			s.mu.Unlock()
			return n, io.EOF
		}
		return n, err
	}
	return n, nil
}

// Close ends the session. A session still producing output is cancelled:
// its engine receives SIGTERM, then SIGKILL after the grace period. Close
// returns once the engine has exited and the subscription is released. It
// is idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.requested == "" && !s.eof {
			s.requested = StateCancelled
		}
		natural := s.requested == ""
		s.mu.Unlock()

		if s.timer != nil {
			s.timer.Stop()
		}

		if natural && s.cmd != nil {
			// Output ended on its own; give the engine the grace period to exit.
			select {
			case <-s.exited:
			case <-time.After(s.grace):
			}
		}
		s.stop()

		_ = s.sub.Close()
		if s.cmd != nil {
			_ = s.out.Close()
			<-s.feederDone
			s.stderrLog.Flush()
		}

		s.settle()
		if s.onClose != nil {
			s.onClose(s)
		}
		close(s.closed)
	})
	return nil
}

// expire ends a session whose duration elapsed. Output keeps draining until
// the engine exits.
func (s *Session) expire() {
	s.expireOnce.Do(func() {
		s.mu.Lock()
		if s.requested == "" {
			s.requested = StateCompleted
		}
		s.mu.Unlock()
		close(s.expired)
		s.log.Info("session duration elapsed")
		go s.stop()
	})
}

// stop releases the subscription, which closes the engine's stdin, and
// signals the engine's process group. It blocks until the engine exited.
func (s *Session) stop() {
	s.stopOnce.Do(func() {
		_ = s.sub.Close()
		if s.cmd == nil {
			return
		}
		select {
		case <-s.exited:
			return
		default:
		}

		if err := terminate(s.cmd); err != nil {
			s.log.Debug("signalling filter engine", "error", err)
		}
		select {
		case <-s.exited:
			return
		case <-time.After(s.grace):
		}

		s.log.Warn("filter engine ignored SIGTERM, killing", "grace", s.grace)
		if err := kill(s.cmd); err != nil {
			s.log.Debug("killing filter engine", "error", err)
		}
	})
	if s.cmd != nil {
		<-s.exited
	}
}

// settle picks the terminal state. A stop that was asked for wins. Otherwise
// an engine that exited non-zero without producing any output failed.
func (s *Session) settle() {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.requested != "":
		s.state = s.requested
	case s.cmd != nil && s.waitErr != nil && s.bytesOut.Load() == 0:
		s.state = StateFailed
	default:
		s.state = StateCompleted
	}
	s.endedAt = time.Now()

	attrs := []any{
		"state", s.state,
		"bytes", s.bytesOut.Load(),
		"dropped", s.sub.Dropped(),
		"elapsed", s.endedAt.Sub(s.startedAt).Round(time.Millisecond),
	}
	switch {
	case s.state == StateFailed:
		s.log.Warn("session failed", append(attrs, "error", s.waitErr, "stderr", s.stderr.String())...)
	case s.waitErr != nil && s.requested == "":
		s.log.Warn("session ended, filter engine exited with error", append(attrs, "error", s.waitErr)...)
	default:
		s.log.Info("session ended", attrs...)
	}

	recordEnd(s.state, s.endedAt.Sub(s.startedAt))
}

func recordEnd(state State, elapsed time.Duration) {
	label := stateLabel(state)
	if metrics.SessionsTotal != nil {
		if vec, err := metrics.SessionsTotal.WithLabels(label); err == nil {
			_ = vec.Inc()
		}
	}
	if metrics.SessionDuration != nil {
		if vec, err := metrics.SessionDuration.WithLabels(label); err == nil {
			vec.Observe(elapsed.Seconds())
		}
	}
}

func stateLabel(s State) string {
	switch s {
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}
