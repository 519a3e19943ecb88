package filter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/capstream/capstream/pkg/logging"
	"github.com/capstream/capstream/pkg/metrics"
	"github.com/capstream/capstream/pkg/relay"
)

// Source hands out relay subscriptions.
type Source interface {
	Subscribe() (*relay.Subscriber, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		m.log = logging.Component(log, "filter")
	}
}

// Manager opens sessions and tracks the ones still running.
type Manager struct {
	cfg    Config
	source Source
	log    *slog.Logger
	sem    *semaphore.Weighted

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates a session manager drawing from source.
func NewManager(cfg Config, source Source, opts ...Option) *Manager {
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	m := &Manager{
		cfg:      cfg,
		source:   source,
		log:      logging.Nop(),
		sem:      semaphore.NewWeighted(int64(cfg.MaxSessions)),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the manager's configuration.
func (m *Manager) Config() Config { return m.cfg }

// Open validates req, subscribes to the relay and launches the engine.
// Errors wrap ErrInvalidRequest, ErrCapacityExceeded, ErrLaunch,
// ErrManagerClosed or relay.ErrClosed. No subscription or process outlives
// a failed Open.
func (m *Manager) Open(ctx context.Context, req CaptureRequest, client string) (*Session, error) {
	if err := ValidateFilter(req.Filter, m.cfg.MaxFilterLength); err != nil {
		return nil, err
	}
	if req.Duration < 0 {
		return nil, fmt.Errorf("%w: negative duration", ErrInvalidRequest)
	}
	if m.cfg.MaxDuration > 0 && req.Duration > m.cfg.MaxDuration {
		req.Duration = m.cfg.MaxDuration
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrManagerClosed
	}

	if !m.sem.TryAcquire(1) {
		return nil, fmt.Errorf("%w (limit %d)", ErrCapacityExceeded, m.cfg.MaxSessions)
	}

	sub, err := m.source.Subscribe()
	if err != nil {
		m.sem.Release(1)
		if errors.Is(err, relay.ErrCapacityExceeded) {
			return nil, fmt.Errorf("%w: %w", ErrCapacityExceeded, err)
		}
		return nil, err
	}

	id := uuid.New().String()
	s := &Session{
		id:        id,
		req:       req,
		client:    client,
		startedAt: time.Now(),
		grace:     m.cfg.GracePeriod,
		sub:       sub,
		expired:   make(chan struct{}),
		closed:    make(chan struct{}),
		state:     StateInit,
		onClose:   m.release,
	}
	s.log = m.log.With("session", id, "filter", req.Filter, "duration", req.Duration, "client", client)

	if m.cfg.PassthroughUnfiltered && req.Filter == "" {
		s.out = sub
	} else if err := m.launch(s); err != nil {
		_ = sub.Close()
		m.sem.Release(1)
		s.state = StateFailed
		recordEnd(StateFailed, 0)
		s.log.Warn("filter engine failed to start", "command", m.cfg.Command, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrLaunch, err)
	}

	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()
	if req.Duration > 0 {
		s.timer = time.AfterFunc(req.Duration, s.expire)
	}

	m.mu.Lock()
	if m.closed {
		// CloseAll ran after the first check and never saw this session.
		m.mu.Unlock()
		s.onClose = nil
		_ = s.Close()
		m.sem.Release(1)
		return nil, ErrManagerClosed
	}
	m.sessions[id] = s
	m.mu.Unlock()
	if metrics.ActiveSessions != nil {
		_ = metrics.ActiveSessions.Inc()
	}

	attrs := []any{"subscriber", sub.ID()}
	if s.cmd != nil {
		attrs = append(attrs, "pid", s.cmd.Process.Pid)
	}
	s.log.Info("session started", attrs...)
	return s, nil
}

// launch starts the engine with stdin fed from the session's subscriber.
func (m *Manager) launch(s *Session) error {
	cmd := exec.Command(m.cfg.Command, m.cfg.argv(s.req.Filter)...)
	configureProcess(cmd)
	cmd.WaitDelay = s.grace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	// A plain pipe instead of StdoutPipe so Wait does not close the read end
	// under a pending Read.
	pr, pw, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return err
	}
	cmd.Stdout = pw

	s.stderr = newTailBuffer(stderrTailSize)
	s.stderrLog = logging.NewLineWriter(s.log, slog.LevelDebug, "filter engine stderr")
	cmd.Stderr = io.MultiWriter(s.stderr, s.stderrLog)

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		_ = stdin.Close()
		return err
	}
	_ = pw.Close()

	s.cmd = cmd
	s.out = pr
	s.exited = make(chan struct{})
	s.feederDone = make(chan struct{})

	go func() {
		defer close(s.feederDone)
		defer stdin.Close()
		if _, err := io.Copy(stdin, s.sub); err != nil && !errors.Is(err, relay.ErrSubscriberClosed) {
			s.log.Debug("feeding filter engine stopped", "error", err)
		}
	}()

	go func() {
		s.waitErr = cmd.Wait()
		close(s.exited)
	}()

	return nil
}

// release drops a closed session from the registry.
func (m *Manager) release(s *Session) {
	m.mu.Lock()
	_, ok := m.sessions[s.id]
	delete(m.sessions, s.id)
	m.mu.Unlock()
	if !ok {
		return
	}
	m.sem.Release(1)
	if metrics.ActiveSessions != nil {
		_ = metrics.ActiveSessions.Dec()
	}
}

// Get returns a running session by ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns snapshots of running sessions, oldest first.
func (m *Manager) List() []SessionInfo {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	slices.SortFunc(infos, func(a, b SessionInfo) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return infos
}

// Count returns the number of running sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll cancels every running session and refuses new ones. It returns
// when all sessions have finished closing or ctx ends.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	if len(sessions) > 0 {
		m.log.Info("closing sessions", "count", len(sessions))
	}

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Close()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
