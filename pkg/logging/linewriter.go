package logging

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
)

// maxLineLength bounds a single buffered line. Longer output is emitted in
// pieces so a subprocess that never writes a newline cannot grow the buffer.
const maxLineLength = 4096

// LineWriter is an io.Writer that emits every complete line written to it as
// one log record. It is used to surface a child process's stderr.
type LineWriter struct {
	log   *slog.Logger
	level Level
	msg   string

	mu  sync.Mutex
	buf []byte
}

// NewLineWriter returns a LineWriter logging each line at level with msg as
// the record message and the line under the "line" key.
func NewLineWriter(log *slog.Logger, level Level, msg string) *LineWriter {
	if log == nil {
		log = Nop()
	}
	return &LineWriter{log: log, level: level, msg: msg}
}

// Write implements io.Writer. It never fails.
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	for len(w.buf) >= maxLineLength {
		w.emit(w.buf[:maxLineLength])
		w.buf = w.buf[maxLineLength:]
	}
	// Drop the consumed prefix so the backing array does not grow forever.
	if len(w.buf) == 0 {
		w.buf = nil
	}
	return len(p), nil
}

// Flush emits any buffered partial line.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
}

func (w *LineWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	w.log.Log(context.Background(), w.level, w.msg, "line", string(line))
}
