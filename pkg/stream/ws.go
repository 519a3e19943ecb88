package stream

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/coder/websocket"

	"github.com/capstream/capstream/pkg/filter"
	"github.com/capstream/capstream/pkg/httputil"
)

// maxCloseReason is the longest close reason a WebSocket close frame carries.
const maxCloseReason = 123

// handleWebSocket streams a session as binary WebSocket messages, one per
// output chunk. Request errors are answered before the upgrade so clients
// see the same status codes as on /stream.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess := s.openSession(w, r)
	if sess == nil {
		return
	}
	log := s.log.With("session", sess.ID(), "transport", transportWebSocket)

	stop := make(chan struct{})
	defer func() {
		close(stop)
		_ = sess.Close()
	}()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		log.Info("websocket upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles their close frame and cancels
	// ctx when they go away.
	ctx := conn.CloseRead(r.Context())
	chunks := startPump(sess, s.cfg.ChunkSize, stop)

	for {
		select {
		case <-ctx.Done():
			log.Info("client disconnected")
			return
		case b, ok := <-chunks.out:
			if !ok {
				s.closeWebSocket(conn, sess)
				return
			}
			if err := conn.Write(ctx, websocket.MessageBinary, b); err != nil {
				log.Info("client write failed", "error", err)
				return
			}
			countStreamed(transportWebSocket, len(b))
		}
	}
}

// closeWebSocket ends a finished session's connection. A failed engine is
// reported with an internal-error close status and its stderr tail.
func (s *Server) closeWebSocket(conn *websocket.Conn, sess *filter.Session) {
	_ = sess.Close()
	if sess.State() == filter.StateFailed {
		countRejected(httputil.CodeFilterFailed)
		reason := strings.TrimSpace(sess.Stderr())
		if reason == "" {
			reason = errorText(sess.Err(), "filter engine failed")
		}
		_ = conn.Close(websocket.StatusInternalError, lastBytes(reason, maxCloseReason))
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "capture complete")
}

// lastBytes returns at most the final n bytes of s, starting on a rune
// boundary.
func lastBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}
