package stream

import (
	"html/template"
	"net/http"
	"time"

	"github.com/capstream/capstream/pkg/feed"
	"github.com/capstream/capstream/pkg/filter"
	"github.com/capstream/capstream/pkg/httputil"
	"github.com/capstream/capstream/pkg/relay"
)

// SessionsResponse is the body of GET /sessions.
type SessionsResponse struct {
	Sessions []filter.SessionInfo `json:"sessions"`
	Count    int                  `json:"count"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status   string      `json:"status"`
	Uptime   int         `json:"uptimeSeconds"`
	Sessions int         `json:"sessions"`
	Relay    relay.Stats `json:"relay"`
}

const (
	statusOK             = "ok"
	statusUpstreamClosed = "upstream_closed"
)

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := s.sessions.List()
	httputil.WriteOK(w, SessionsResponse{Sessions: sessions, Count: len(sessions)})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.Get(r.PathValue("id"))
	if !ok {
		httputil.WriteError(w, http.StatusNotFound, httputil.CodeNotFound, "no running session with that id")
		return
	}
	httputil.WriteOK(w, sess.Info())
}

// handleFallback answers requests no route matched. Every route is GET only.
func (s *Server) handleFallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		httputil.WriteError(w, http.StatusMethodNotAllowed, httputil.CodeMethodNotAllowed, r.Method+" is not supported")
		return
	}
	httputil.WriteError(w, http.StatusNotFound, httputil.CodeNotFound, "no such endpoint: "+r.URL.Path)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status:   statusOK,
		Uptime:   int(time.Since(s.startedAt).Seconds()),
		Sessions: len(s.sessions.List()),
		Relay:    s.relay.Stats(),
	}
	if resp.Relay.Closed {
		resp.Status = statusUpstreamClosed
		httputil.WriteJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	httputil.WriteOK(w, resp)
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>capstream</title>
</head>
<body>
<h1>capstream</h1>
<p>Live capture from <code>{{.Input}}</code>.</p>
<h2>Endpoints</h2>
<dl>
<dt><code>GET /stream?filter=&lt;expr&gt;&amp;duration=&lt;seconds&gt;</code></dt>
<dd>Streams the capture as <code>{{.ContentType}}</code>. Both parameters are optional:
without a filter every packet is sent, without a duration the stream runs until
you disconnect or the capture ends.</dd>
<dt><code>GET /ws?filter=&lt;expr&gt;&amp;duration=&lt;seconds&gt;</code></dt>
<dd>The same stream over a WebSocket, one binary message per chunk.</dd>
<dt><code>GET /sessions</code></dt>
<dd>Running capture sessions.</dd>
<dt><code>GET /sessions/&lt;id&gt;</code></dt>
<dd>One running session, including how far it lags the capture.</dd>
<dt><code>GET /healthz</code></dt>
<dd>Capture feed status.</dd>
{{- if .Metrics}}
<dt><code>GET /metrics</code></dt>
<dd>Prometheus metrics.</dd>
{{- end}}
</dl>
<h2>Example</h2>
<pre>curl -N 'http://{{.Host}}/stream?filter=tcp.port==443&amp;duration=30' -o capture.pcap</pre>
<p>Up to {{.MaxSessions}} sessions run at once.</p>
</body>
</html>
`))

type indexData struct {
	Input       string
	ContentType string
	Host        string
	Metrics     bool
	MaxSessions int
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := indexData{
		Input:       feed.Describe(s.cfg.Input),
		ContentType: ContentType,
		Host:        r.Host,
		Metrics:     s.registry != nil,
		MaxSessions: s.sessions.Config().MaxSessions,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, data); err != nil {
		s.log.Debug("rendering index page", "error", err)
	}
}
