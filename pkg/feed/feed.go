// Package feed opens the capture feed the relay drains: a named pipe written
// by the capture process, a regular file, or the process's standard input.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/capstream/capstream/pkg/logging"
)

// Stdin names the process's standard input as the feed.
const Stdin = "stdin"

// ErrNotFIFO is returned when the input path exists but cannot be read as a feed.
var ErrNotFIFO = errors.New("feed: input is not a named pipe or regular file")

// IsStdin reports whether input selects standard input.
func IsStdin(input string) bool {
	return input == Stdin || input == "-"
}

// Describe returns a human-readable description of input.
func Describe(input string) string {
	if IsStdin(input) {
		return "standard input"
	}
	return "named pipe " + input
}

// Option configures Open.
type Option func(*options)

type options struct {
	log *slog.Logger
}

// WithLogger sets the logger used while opening the feed.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// Open returns a reader for input. A missing path is created as a named pipe
// (mode 0600). Opening a pipe blocks until the capture process opens its
// write end; Open returns ctx.Err() if ctx ends first.
func Open(ctx context.Context, input string, opts ...Option) (io.ReadCloser, error) {
	o := options{log: logging.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	log := logging.Component(o.log, "feed")

	if IsStdin(input) {
		log.Info("reading capture feed from standard input")
		return os.Stdin, nil
	}

	created, err := ensureFIFO(input)
	if err != nil {
		return nil, err
	}
	if created {
		log.Info("created named pipe; start the capture writing to it",
			"path", input,
			"hint", fmt.Sprintf("tcpdump -i <iface> -U -w %s", input))
	}
	log.Info("waiting for capture writer", "path", input)

	type result struct {
		f   *os.File
		err error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := os.Open(input)
		ch <- result{f: f, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("feed: opening %s: %w", input, res.err)
		}
		log.Info("capture writer connected", "path", input)
		return res.f, nil
	case <-ctx.Done():
		// The open completes when a writer appears or never; release it then.
		go func() {
			if res := <-ch; res.f != nil {
				_ = res.f.Close()
			}
		}()
		return nil, ctx.Err()
	}
}
