// Package httpd is a single-connection incremental HTTP/1.1 server driven
// from the scheduler tick. Each Step consumes whatever bytes have arrived and
// returns; nothing blocks. It serves the liveness page, the telemetry JSON
// document and the credential provisioning form, and closes every connection
// after one response.
package httpd

import (
	"errors"
	"io"
	"log/slog"
	"strconv"
	"time"

	"inverterzone/gateway/credential"
)

const (
	// maxRequestSize caps one request (head plus body). Larger requests get
	// 413 and the connection is dropped.
	maxRequestSize = 8192
	// requestDeadline bounds how long one connection may take to deliver a
	// complete request.
	requestDeadline = 5 * time.Second

	jsonBufSize = 4096
)

// ErrNoPending is returned by Listener.Accept when no connection is waiting.
var ErrNoPending = errors.New("httpd: no pending connection")

// Conn is one accepted connection. Read must not block: (0, nil) means no
// data pending, io.EOF means the peer closed its side.
type Conn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Listener accepts connections on port 80. Rebind re-arms the listening
// socket after an interface change (hotspot restart).
type Listener interface {
	Accept() (Conn, error)
	Rebind() error
	Close() error
}

// Server handles at most one connection at a time, a deliberate fit for the
// single-socket TCP stack underneath.
type Server struct {
	ln  Listener
	log *slog.Logger

	// BuildJSON fills buf with the telemetry document and returns its
	// length. Served on /livejson.
	BuildJSON func(buf []byte) int
	// SaveCredential persists a credential posted to /wifisave.
	SaveCredential func(credential.Record) error

	conn       Conn
	acceptedAt time.Time
	sent100    bool
	peerClosed bool
	used       int

	buf     [maxRequestSize]byte
	jsonBuf [jsonBufSize]byte
	out     []byte

	now func() time.Time
}

// New returns a server over ln.
func New(ln Listener, logger *slog.Logger) *Server {
	return &Server{
		ln:  ln,
		log: logger,
		out: make([]byte, 0, 512),
		now: time.Now,
	}
}

// Rebind re-arms the listening socket, dropping any half-read connection.
// Called when the hotspot interface comes (back) up.
func (s *Server) Rebind() {
	s.dropConn()
	if err := s.ln.Rebind(); err != nil {
		s.log.Error("http:rebind-failed", slog.String("err", err.Error()))
		return
	}
	s.log.Info("http:listening")
}

// Step runs one increment of the accept/read/respond loop.
func (s *Server) Step() {
	if s.conn == nil {
		conn, err := s.ln.Accept()
		if err != nil {
			if !errors.Is(err, ErrNoPending) {
				s.log.Debug("http:accept-failed", slog.String("err", err.Error()))
			}
			return
		}
		s.conn = conn
		s.acceptedAt = s.now()
		s.sent100 = false
		s.peerClosed = false
		s.used = 0
	}

	if !s.peerClosed {
		n, err := s.conn.Read(s.buf[s.used:])
		s.used += n
		switch {
		case errors.Is(err, io.EOF):
			s.peerClosed = true
		case err != nil:
			s.log.Debug("http:read-failed", slog.String("err", err.Error()))
			s.dropConn()
			return
		}
	}

	if s.used == len(s.buf) {
		// Even if the head never completed, the client has exceeded its
		// allowance.
		s.respondError(413, "payload too large")
		return
	}

	headerEnd := findHeaderEnd(s.buf[:s.used])
	if headerEnd < 0 {
		if s.peerClosed || s.expired() {
			s.dropConn()
		}
		return
	}

	req, ok := parseRequest(s.buf[:s.used], headerEnd)
	if !ok {
		s.respondError(400, "bad request")
		return
	}

	if req.expectContinue && !s.sent100 {
		s.sent100 = true
		s.conn.Write([]byte("HTTP/1.1 100 Continue\r\n\r\n"))
	}

	body, complete := s.collectBody(req)
	if !complete {
		if s.peerClosed || s.expired() {
			s.dropConn()
		}
		return
	}

	s.route(req, body)
}

// collectBody applies the request's framing mode to the bytes received so
// far. complete is false while more body bytes are expected.
func (s *Server) collectBody(req request) ([]byte, bool) {
	avail := s.buf[req.headerEnd:s.used]

	switch {
	case req.chunked:
		body, done, ok := decodeChunked(avail)
		if !ok {
			s.respondError(400, "bad chunked encoding")
			return nil, false
		}
		return body, done

	case req.contentLength >= 0:
		if req.headerEnd+req.contentLength > maxRequestSize {
			s.respondError(413, "payload too large")
			return nil, false
		}
		if len(avail) < req.contentLength {
			return nil, false
		}
		return avail[:req.contentLength], true

	case req.method == "POST":
		// No framing declared: the body runs until the peer closes.
		return avail, s.peerClosed

	default:
		return nil, true
	}
}

// route dispatches on method and path together: an unmatched pair is a plain
// 404. Only /wifisave distinguishes a wrong method, because a GET there is a
// browser retrying the provisioning form.
func (s *Server) route(req request, body []byte) {
	get := req.method == "GET" || req.method == "HEAD"

	switch {
	case get && (req.path == "/" || req.path == "/index.html"):
		s.respond(200, "text/html", []byte("OK"), req.method == "HEAD")

	case get && req.path == "/livejson":
		n := 0
		if s.BuildJSON != nil {
			n = s.BuildJSON(s.jsonBuf[:])
		}
		s.respond(200, "application/json", s.jsonBuf[:n], req.method == "HEAD")

	case req.path == "/wifisave":
		if req.method != "POST" {
			s.respondError(405, "method not allowed")
			return
		}
		s.handleWifiSave(req, body)

	default:
		s.respondError(404, "not found")
	}
}

func (s *Server) handleWifiSave(req request, body []byte) {
	var ssid, pass string
	var haveSSID bool

	switch {
	case hasPrefixFold(req.contentType, "application/x-www-form-urlencoded"):
		ssid, haveSSID = parseURLEncoded(body, "s")
		pass, _ = parseURLEncoded(body, "p")

	case hasPrefixFold(req.contentType, "multipart/form-data"):
		boundary, ok := multipartBoundary(req.contentType)
		if !ok {
			s.respondError(400, "missing boundary")
			return
		}
		ssid, haveSSID = parseMultipart(body, boundary, "s")
		pass, _ = parseMultipart(body, boundary, "p")

	default:
		s.respondError(415, "unsupported media type")
		return
	}

	if !haveSSID || ssid == "" {
		s.respondError(400, "missing ssid")
		return
	}

	rec := credential.Record{SSID: ssid, Password: pass}
	if s.SaveCredential != nil {
		if err := s.SaveCredential(rec); err != nil {
			s.log.Error("http:save-failed", slog.String("err", err.Error()))
			s.respondError(500, "save failed")
			return
		}
	}
	s.log.Info("http:credential-saved", slog.String("ssid", ssid))
	s.respond(200, "text/html", []byte("saved"), false)
}

func (s *Server) respondError(status int, msg string) {
	s.respond(status, "text/plain", []byte(msg), false)
}

// respond writes one complete response and closes the connection. Every
// response carries Connection: close; keep-alive would pin the single socket.
func (s *Server) respond(status int, contentType string, body []byte, headOnly bool) {
	out := s.out[:0]
	out = append(out, "HTTP/1.1 "...)
	out = strconv.AppendInt(out, int64(status), 10)
	out = append(out, ' ')
	out = append(out, statusText(status)...)
	out = append(out, "\r\nContent-Type: "...)
	out = append(out, contentType...)
	out = append(out, "\r\nContent-Length: "...)
	out = strconv.AppendInt(out, int64(len(body)), 10)
	out = append(out, "\r\nConnection: close\r\n\r\n"...)

	if _, err := s.conn.Write(out); err == nil && !headOnly && len(body) > 0 {
		s.conn.Write(body)
	}
	s.out = out[:0]
	s.dropConn()
}

func (s *Server) dropConn() {
	if s.conn == nil {
		return
	}
	s.conn.Close()
	s.conn = nil
	s.used = 0
}

func (s *Server) expired() bool {
	return s.now().Sub(s.acceptedAt) > requestDeadline
}

func statusText(status int) string {
	switch status {
	case 200:
		return "OK"
	case 400:
		return "Bad Request"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 413:
		return "Payload Too Large"
	case 415:
		return "Unsupported Media Type"
	case 500:
		return "Internal Server Error"
	default:
		return "Error"
	}
}

func hasPrefixFold(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		a, b := s[i], prefix[i]
		if 'A' <= a && a <= 'Z' {
			a += 'a' - 'A'
		}
		if 'A' <= b && b <= 'Z' {
			b += 'a' - 'A'
		}
		if a != b {
			return false
		}
	}
	return true
}
