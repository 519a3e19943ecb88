package filter

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Errors
var (
	// ErrInvalidRequest indicates unusable request parameters.
	ErrInvalidRequest = errors.New("filter: invalid request")

	// ErrCapacityExceeded indicates MaxSessions sessions are already running.
	ErrCapacityExceeded = errors.New("filter: too many concurrent sessions")

	// ErrLaunch indicates the engine could not be started.
	ErrLaunch = errors.New("filter: engine failed to start")

	// ErrManagerClosed is returned by Open after CloseAll.
	ErrManagerClosed = errors.New("filter: manager closed")
)

// State is the lifecycle state of a Session.
type State string

const (
	StateInit      State = "INIT"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateCancelled State = "CANCELLED"
	StateFailed    State = "FAILED"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Defaults
const (
	DefaultCommand         = "tshark"
	DefaultFlag            = "-Y"
	DefaultGracePeriod     = 2 * time.Second
	DefaultMaxSessions     = 16
	DefaultMaxFilterLength = 4096

	// stderrTailSize is how much engine stderr is kept for error reports.
	stderrTailSize = 4096
)

// DefaultArgs makes the engine read capture data on stdin and write pcap to stdout.
func DefaultArgs() []string {
	return []string{"-r", "-", "-F", "pcap", "-w", "-"}
}

// Config controls how sessions run the engine.
type Config struct {
	Command string
	Args    []string
	// Flag precedes the filter expression. When empty the expression is
	// passed as a bare trailing argument.
	Flag string
	// PassthroughUnfiltered streams relay bytes directly for requests
	// without a filter, starting no engine.
	PassthroughUnfiltered bool

	GracePeriod     time.Duration
	MaxSessions     int
	MaxDuration     time.Duration
	MaxFilterLength int
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		Command:         DefaultCommand,
		Args:            DefaultArgs(),
		Flag:            DefaultFlag,
		GracePeriod:     DefaultGracePeriod,
		MaxSessions:     DefaultMaxSessions,
		MaxFilterLength: DefaultMaxFilterLength,
	}
}

// argv returns the engine arguments for expr. The expression is always a
// single element and never passes through a shell.
func (c Config) argv(expr string) []string {
	args := slices.Clone(c.Args)
	if expr == "" {
		return args
	}
	if c.Flag != "" {
		args = append(args, c.Flag)
	}
	return append(args, expr)
}

// CaptureRequest holds the parameters of one capture request.
type CaptureRequest struct {
	// Filter is the display filter expression; empty means no filtering.
	Filter string
	// Duration bounds the session; zero means until the client leaves or
	// the feed ends.
	Duration time.Duration
}

// maxDurationSeconds keeps Duration within time.Duration's range.
const maxDurationSeconds = math.MaxInt64 / int64(time.Second)

// ParseRequest reads filter and duration from query parameters. A duration
// above maxDuration is lowered to it when maxDuration is positive.
func ParseRequest(q url.Values, maxFilterLength int, maxDuration time.Duration) (CaptureRequest, error) {
	req := CaptureRequest{Filter: strings.TrimSpace(q.Get("filter"))}
	if err := ValidateFilter(req.Filter, maxFilterLength); err != nil {
		return CaptureRequest{}, err
	}

	if raw := strings.TrimSpace(q.Get("duration")); raw != "" {
		secs, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || secs <= 0 || secs > maxDurationSeconds {
			return CaptureRequest{}, fmt.Errorf("%w: duration must be a positive integer number of seconds, got %q", ErrInvalidRequest, raw)
		}
		req.Duration = time.Duration(secs) * time.Second
	}
	if maxDuration > 0 && req.Duration > maxDuration {
		req.Duration = maxDuration
	}
	return req, nil
}

// ValidateFilter checks expr for injection safety only: it must fit within
// maxLen bytes and contain no NUL or control characters other than tab.
// The filter language itself is left to the engine.
func ValidateFilter(expr string, maxLen int) error {
	if maxLen > 0 && len(expr) > maxLen {
		return fmt.Errorf("%w: filter is %d bytes, limit is %d", ErrInvalidRequest, len(expr), maxLen)
	}
	for i, r := range expr {
		if r == '\t' {
			continue
		}
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: filter contains control character %U at offset %d", ErrInvalidRequest, r, i)
		}
	}
	return nil
}
