package stream

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/capstream/capstream/pkg/filter"
	"github.com/capstream/capstream/pkg/httputil"
	"github.com/capstream/capstream/pkg/metrics"
	"github.com/capstream/capstream/pkg/relay"
)

// Response headers of a capture stream.
const (
	ContentType        = "application/vnd.tcpdump.pcap"
	ContentDisposition = `attachment; filename="capture.pcap"`
	HeaderSessionID    = "X-Session-ID"
)

const (
	transportHTTP      = "http"
	transportWebSocket = "websocket"
)

// openSession parses the request and opens a session for it. On failure it
// writes the error response and returns nil.
func (s *Server) openSession(w http.ResponseWriter, r *http.Request) *filter.Session {
	cfg := s.sessions.Config()
	req, err := filter.ParseRequest(r.URL.Query(), cfg.MaxFilterLength, cfg.MaxDuration)
	if err != nil {
		s.rejectBadRequest(w, err.Error())
		return nil
	}

	sess, err := s.sessions.Open(r.Context(), req, httputil.ClientAddr(r))
	if err != nil {
		s.rejectOpen(w, err)
		return nil
	}
	return sess
}

// rejectOpen maps a session open error to its HTTP response.
func (s *Server) rejectOpen(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, filter.ErrInvalidRequest):
		s.rejectBadRequest(w, err.Error())
	case errors.Is(err, filter.ErrCapacityExceeded):
		s.rejectUnavailable(w, httputil.CodeCapacityExceeded, err.Error())
	case errors.Is(err, filter.ErrLaunch):
		s.reject(w, http.StatusInternalServerError, httputil.CodeLaunchFailed, err.Error())
	case errors.Is(err, relay.ErrClosed):
		s.rejectUnavailable(w, httputil.CodeUpstreamClosed, "capture feed has ended")
	case errors.Is(err, filter.ErrManagerClosed):
		s.rejectUnavailable(w, httputil.CodeShuttingDown, "server is shutting down")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.log.Debug("client left before session opened", "error", err)
	default:
		s.log.Error("opening session", "error", err)
		s.reject(w, http.StatusInternalServerError, httputil.CodeInternal, err.Error())
	}
}

func (s *Server) reject(w http.ResponseWriter, status int, code, message string) {
	countRejected(code)
	httputil.WriteError(w, status, code, message)
}

func (s *Server) rejectBadRequest(w http.ResponseWriter, message string) {
	countRejected(httputil.CodeInvalidRequest)
	httputil.WriteBadRequest(w, message)
}

func (s *Server) rejectUnavailable(w http.ResponseWriter, code, message string) {
	countRejected(code)
	httputil.WriteServiceUnavailable(w, code, message)
}

// rejectFailed reports a session that ended before producing output.
func (s *Server) rejectFailed(w http.ResponseWriter, sess *filter.Session) {
	countRejected(httputil.CodeFilterFailed)
	httputil.WriteErrorWithDetails(w, http.StatusBadGateway, httputil.CodeFilterFailed,
		errorText(sess.Err(), "filter engine failed"),
		map[string]string{"stderr": sess.Stderr()})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess := s.openSession(w, r)
	if sess == nil {
		return
	}
	log := s.log.With("session", sess.ID())

	stop := make(chan struct{})
	defer func() {
		close(stop)
		_ = sess.Close()
	}()
	chunks := startPump(sess, s.cfg.ChunkSize, stop)
	ctx := r.Context()

	var first []byte
	select {
	case <-ctx.Done():
		log.Info("client disconnected before first byte")
		return
	case b, ok := <-chunks.out:
		if !ok {
			_ = sess.Close()
			if sess.State() == filter.StateFailed {
				s.rejectFailed(w, sess)
				return
			}
			if chunks.err != nil {
				log.Warn("reading session output", "error", chunks.err)
			}
			setStreamHeaders(w, sess.ID())
			w.WriteHeader(http.StatusOK)
			return
		}
		first = b
	}

	setStreamHeaders(w, sess.ID())
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	write := func(b []byte) error {
		n, err := w.Write(b)
		countStreamed(transportHTTP, n)
		if err != nil {
			return err
		}
		return rc.Flush()
	}

	if err := write(first); err != nil {
		log.Info("client write failed", "error", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			log.Info("client disconnected")
			return
		case b, ok := <-chunks.out:
			if !ok {
				if chunks.err != nil {
					log.Warn("reading session output", "error", chunks.err)
				}
				return
			}
			if err := write(b); err != nil {
				log.Info("client write failed", "error", err)
				return
			}
		}
	}
}

func setStreamHeaders(w http.ResponseWriter, id string) {
	h := w.Header()
	h.Set("Content-Type", ContentType)
	h.Set("Content-Disposition", ContentDisposition)
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	h.Set(HeaderSessionID, id)
}

// pump moves session output onto a channel so handlers can select on it
// together with the request context.
type pump struct {
	out chan []byte
	// err is the read error that ended the pump, other than io.EOF. It is
	// safe to read once out is closed.
	err error
}

func startPump(src io.Reader, size int, stop <-chan struct{}) *pump {
	p := &pump{out: make(chan []byte)}
	go func() {
		defer close(p.out)
		for {
			buf := make([]byte, size)
			n, err := src.Read(buf)
			if n > 0 {
				select {
				case p.out <- buf[:n]:
				case <-stop:
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					p.err = err
				}
				return
			}
		}
	}()
	return p
}

func countRejected(reason string) {
	if metrics.RejectedRequestsTotal == nil {
		return
	}
	if vec, err := metrics.RejectedRequestsTotal.WithLabels(reason); err == nil {
		_ = vec.Inc()
	}
}

func countStreamed(transport string, n int) {
	if n <= 0 || metrics.StreamBytesTotal == nil {
		return
	}
	if vec, err := metrics.StreamBytesTotal.WithLabels(transport); err == nil {
		_ = vec.Add(float64(n))
	}
}

func errorText(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	return err.Error()
}
