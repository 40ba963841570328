package httpd

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"inverterzone/gateway/credential"
)

// fakeConn delivers its input in caller-chosen fragments, mimicking TCP
// segmentation. Read never blocks: an exhausted open connection yields
// (0, nil), a closed one io.EOF.
type fakeConn struct {
	fragments [][]byte
	closed    bool // peer half-close after the last fragment
	out       []byte
	dropped   bool
}

func (c *fakeConn) Read(p []byte) (int, error) {
	if len(c.fragments) == 0 {
		if c.closed {
			return 0, io.EOF
		}
		return 0, nil
	}
	n := copy(p, c.fragments[0])
	if n < len(c.fragments[0]) {
		c.fragments[0] = c.fragments[0][n:]
	} else {
		c.fragments = c.fragments[1:]
	}
	return n, nil
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.out = append(c.out, p...)
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.dropped = true
	return nil
}

type fakeListener struct {
	pending []*fakeConn
	rebinds int
}

func (l *fakeListener) Accept() (Conn, error) {
	if len(l.pending) == 0 {
		return nil, ErrNoPending
	}
	c := l.pending[0]
	l.pending = l.pending[1:]
	return c, nil
}

func (l *fakeListener) Rebind() error { l.rebinds++; return nil }
func (l *fakeListener) Close() error  { return nil }

func newTestServer(ln *fakeListener) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(ln, logger)
	s.BuildJSON = func(buf []byte) int {
		return copy(buf, `{"EspData":{}}`)
	}
	return s
}

// serve steps the server until the connection is finished, bounding the
// iteration count so a stuck state machine fails instead of hanging.
func serve(t *testing.T, s *Server, conn *fakeConn) string {
	t.Helper()
	for i := 0; i < 100; i++ {
		s.Step()
		if conn.dropped {
			return string(conn.out)
		}
	}
	t.Fatalf("connection never completed; wrote %q", conn.out)
	return ""
}

func rawRequest(lines ...string) []byte {
	return []byte(strings.Join(lines, "\r\n") + "\r\n\r\n")
}

func TestIndexRoutes(t *testing.T) {
	for _, path := range []string{"/", "/index.html"} {
		ln := &fakeListener{}
		s := newTestServer(ln)
		conn := &fakeConn{fragments: [][]byte{rawRequest("GET "+path+" HTTP/1.1", "Host: x")}}
		ln.pending = append(ln.pending, conn)

		resp := serve(t, s, conn)
		if !strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n") {
			t.Errorf("%s: response = %q, want 200", path, resp)
		}
		if !strings.HasSuffix(resp, "\r\n\r\nOK") {
			t.Errorf("%s: body missing: %q", path, resp)
		}
		if !strings.Contains(resp, "Connection: close\r\n") {
			t.Errorf("%s: Connection: close header missing", path)
		}
	}
}

func TestHeadOmitsBody(t *testing.T) {
	ln := &fakeListener{}
	s := newTestServer(ln)
	conn := &fakeConn{fragments: [][]byte{rawRequest("HEAD /livejson HTTP/1.1", "Host: x")}}
	ln.pending = append(ln.pending, conn)

	resp := serve(t, s, conn)
	if !strings.HasPrefix(resp, "HTTP/1.1 200") {
		t.Fatalf("response = %q, want 200", resp)
	}
	if !strings.HasSuffix(resp, "\r\n\r\n") {
		t.Errorf("HEAD response carries a body: %q", resp)
	}
	if !strings.Contains(resp, "Content-Length: 14\r\n") {
		t.Errorf("HEAD response lost the entity length: %q", resp)
	}
}

func TestLiveJSON(t *testing.T) {
	ln := &fakeListener{}
	s := newTestServer(ln)
	conn := &fakeConn{fragments: [][]byte{rawRequest("GET /livejson HTTP/1.1", "Host: x")}}
	ln.pending = append(ln.pending, conn)

	resp := serve(t, s, conn)
	if !strings.Contains(resp, "Content-Type: application/json\r\n") {
		t.Errorf("content type wrong: %q", resp)
	}
	if !strings.HasSuffix(resp, `{"EspData":{}}`) {
		t.Errorf("body = %q, want builder output", resp)
	}
}

func TestRequestSplitAcrossFragments(t *testing.T) {
	raw := rawRequest("GET /livejson HTTP/1.1", "Host: x")
	// One byte at a time is the worst case the stack can produce.
	frags := make([][]byte, 0, len(raw))
	for i := range raw {
		frags = append(frags, raw[i:i+1])
	}

	ln := &fakeListener{}
	s := newTestServer(ln)
	conn := &fakeConn{fragments: frags}
	ln.pending = append(ln.pending, conn)

	resp := serve(t, s, conn)
	if !strings.HasPrefix(resp, "HTTP/1.1 200") {
		t.Errorf("fragmented request failed: %q", resp)
	}
}

func TestWifiSaveURLEncoded(t *testing.T) {
	body := "s=my+net&p=p%40ss"
	raw := []byte("POST /wifisave HTTP/1.1\r\n" +
		"Host: x\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\n" +
		"Content-Length: " + itoa(len(body)) + "\r\n\r\n" + body)

	var saved credential.Record
	ln := &fakeListener{}
	s := newTestServer(ln)
	s.SaveCredential = func(r credential.Record) error { saved = r; return nil }
	conn := &fakeConn{fragments: [][]byte{raw}}
	ln.pending = append(ln.pending, conn)

	resp := serve(t, s, conn)
	if !strings.HasPrefix(resp, "HTTP/1.1 200") {
		t.Fatalf("response = %q, want 200", resp)
	}
	if saved.SSID != "my net" || saved.Password != "p@ss" {
		t.Errorf("saved = %+v, want decoded form fields", saved)
	}
}

func TestWifiSaveTrailingSlash(t *testing.T) {
	body := "s=net&p=pw"
	raw := []byte("POST /wifisave/ HTTP/1.1\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\n" +
		"Content-Length: " + itoa(len(body)) + "\r\n\r\n" + body)

	saves := 0
	ln := &fakeListener{}
	s := newTestServer(ln)
	s.SaveCredential = func(credential.Record) error { saves++; return nil }
	conn := &fakeConn{fragments: [][]byte{raw}}
	ln.pending = append(ln.pending, conn)

	if resp := serve(t, s, conn); !strings.HasPrefix(resp, "HTTP/1.1 200") {
		t.Fatalf("trailing-slash form rejected: %q", resp)
	}
	if saves != 1 {
		t.Errorf("saves = %d, want 1", saves)
	}
}

func TestWifiSaveMultipart(t *testing.T) {
	body := "--XBOUND\r\n" +
		"Content-Disposition: form-data; name=\"s\"\r\n\r\n" +
		"garden\r\n" +
		"--XBOUND\r\n" +
		"Content-Disposition: form-data; name=\"p\"\r\n\r\n" +
		"trellis42\r\n" +
		"--XBOUND--\r\n"
	raw := []byte("POST /wifisave HTTP/1.1\r\n" +
		"Content-Type: multipart/form-data; boundary=XBOUND\r\n" +
		"Content-Length: " + itoa(len(body)) + "\r\n\r\n" + body)

	var saved credential.Record
	ln := &fakeListener{}
	s := newTestServer(ln)
	s.SaveCredential = func(r credential.Record) error { saved = r; return nil }
	conn := &fakeConn{fragments: [][]byte{raw}}
	ln.pending = append(ln.pending, conn)

	if resp := serve(t, s, conn); !strings.HasPrefix(resp, "HTTP/1.1 200") {
		t.Fatalf("multipart form rejected: %q", resp)
	}
	if saved.SSID != "garden" || saved.Password != "trellis42" {
		t.Errorf("saved = %+v, want multipart fields", saved)
	}
}

func TestWifiSaveChunked(t *testing.T) {
	raw := []byte("POST /wifisave HTTP/1.1\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\n" +
		"Transfer-Encoding: chunked\r\n\r\n" +
		"5\r\ns=att\r\n7\r\nic&p=pw\r\n0\r\n\r\n")
	// Split mid-chunk to exercise incremental reassembly.
	frags := [][]byte{raw[:60], raw[60:75], raw[75:]}

	var saved credential.Record
	ln := &fakeListener{}
	s := newTestServer(ln)
	s.SaveCredential = func(r credential.Record) error { saved = r; return nil }
	conn := &fakeConn{fragments: frags}
	ln.pending = append(ln.pending, conn)

	if resp := serve(t, s, conn); !strings.HasPrefix(resp, "HTTP/1.1 200") {
		t.Fatalf("chunked form rejected: %q", resp)
	}
	if saved.SSID != "attic" || saved.Password != "pw" {
		t.Errorf("saved = %+v, want reassembled fields", saved)
	}
}

func TestWifiSaveMissingSSID(t *testing.T) {
	body := "p=lonely"
	raw := []byte("POST /wifisave HTTP/1.1\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\n" +
		"Content-Length: " + itoa(len(body)) + "\r\n\r\n" + body)

	ln := &fakeListener{}
	s := newTestServer(ln)
	s.SaveCredential = func(credential.Record) error {
		t.Fatal("SaveCredential called without an ssid")
		return nil
	}
	conn := &fakeConn{fragments: [][]byte{raw}}
	ln.pending = append(ln.pending, conn)

	if resp := serve(t, s, conn); !strings.HasPrefix(resp, "HTTP/1.1 400") {
		t.Errorf("response = %q, want 400", resp)
	}
}

func TestWifiSaveUnsupportedMediaType(t *testing.T) {
	raw := []byte("POST /wifisave HTTP/1.1\r\n" +
		"Content-Type: application/json\r\n" +
		"Content-Length: 2\r\n\r\n{}")

	ln := &fakeListener{}
	s := newTestServer(ln)
	conn := &fakeConn{fragments: [][]byte{raw}}
	ln.pending = append(ln.pending, conn)

	if resp := serve(t, s, conn); !strings.HasPrefix(resp, "HTTP/1.1 415") {
		t.Errorf("response = %q, want 415", resp)
	}
}

func TestExpectContinue(t *testing.T) {
	body := "s=net&p=pw"
	head := []byte("POST /wifisave HTTP/1.1\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\n" +
		"Expect: 100-continue\r\n" +
		"Content-Length: " + itoa(len(body)) + "\r\n\r\n")

	ln := &fakeListener{}
	s := newTestServer(ln)
	s.SaveCredential = func(credential.Record) error { return nil }
	conn := &fakeConn{fragments: [][]byte{head, []byte(body)}}
	ln.pending = append(ln.pending, conn)

	resp := serve(t, s, conn)
	if strings.Count(resp, "HTTP/1.1 100 Continue\r\n\r\n") != 1 {
		t.Errorf("interim response sent %d times, want once: %q",
			strings.Count(resp, "100 Continue"), resp)
	}
	if !strings.Contains(resp, "HTTP/1.1 200") {
		t.Errorf("final response missing: %q", resp)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ln := &fakeListener{}
	s := newTestServer(ln)
	conn := &fakeConn{fragments: [][]byte{rawRequest("GET /wifisave HTTP/1.1", "Host: x")}}
	ln.pending = append(ln.pending, conn)

	if resp := serve(t, s, conn); !strings.HasPrefix(resp, "HTTP/1.1 405") {
		t.Errorf("response = %q, want 405", resp)
	}
}

func TestUnmatchedMethodIs404(t *testing.T) {
	// Any method/path pair outside the routing table is a plain 404, even
	// when the path alone would match.
	for _, line := range []string{"DELETE / HTTP/1.1", "POST /livejson HTTP/1.1"} {
		ln := &fakeListener{}
		s := newTestServer(ln)
		conn := &fakeConn{fragments: [][]byte{rawRequest(line, "Host: x", "Content-Length: 0")}}
		ln.pending = append(ln.pending, conn)

		if resp := serve(t, s, conn); !strings.HasPrefix(resp, "HTTP/1.1 404") {
			t.Errorf("%s: response = %q, want 404", line, resp)
		}
	}
}

func TestNotFound(t *testing.T) {
	ln := &fakeListener{}
	s := newTestServer(ln)
	conn := &fakeConn{fragments: [][]byte{rawRequest("GET /nope HTTP/1.1", "Host: x")}}
	ln.pending = append(ln.pending, conn)

	if resp := serve(t, s, conn); !strings.HasPrefix(resp, "HTTP/1.1 404") {
		t.Errorf("response = %q, want 404", resp)
	}
}

func TestOversizeRequestRejected(t *testing.T) {
	raw := []byte("POST /wifisave HTTP/1.1\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\n" +
		"Content-Length: 9000\r\n\r\n")

	ln := &fakeListener{}
	s := newTestServer(ln)
	conn := &fakeConn{fragments: [][]byte{raw}}
	ln.pending = append(ln.pending, conn)

	if resp := serve(t, s, conn); !strings.HasPrefix(resp, "HTTP/1.1 413") {
		t.Errorf("response = %q, want 413", resp)
	}
}

func TestAbsoluteURITarget(t *testing.T) {
	ln := &fakeListener{}
	s := newTestServer(ln)
	conn := &fakeConn{fragments: [][]byte{
		rawRequest("GET http://192.168.4.1/livejson?x=1 HTTP/1.1", "Host: x"),
	}}
	ln.pending = append(ln.pending, conn)

	if resp := serve(t, s, conn); !strings.HasPrefix(resp, "HTTP/1.1 200") {
		t.Errorf("absolute-URI request failed: %q", resp)
	}
}

func TestStalledRequestTimesOut(t *testing.T) {
	ln := &fakeListener{}
	s := newTestServer(ln)
	conn := &fakeConn{fragments: [][]byte{[]byte("GET / HT")}} // never finishes
	ln.pending = append(ln.pending, conn)

	now := time.Unix(0, 0)
	s.now = func() time.Time { return now }
	s.Step() // accept + partial read
	s.Step()
	if conn.dropped {
		t.Fatal("connection dropped before the deadline")
	}
	now = now.Add(requestDeadline + time.Second)
	s.Step()
	if !conn.dropped {
		t.Error("stalled connection survived the deadline")
	}
}

func TestRebindDropsActiveConnection(t *testing.T) {
	ln := &fakeListener{}
	s := newTestServer(ln)
	conn := &fakeConn{fragments: [][]byte{[]byte("GET / HT")}}
	ln.pending = append(ln.pending, conn)
	s.Step()

	s.Rebind()
	if !conn.dropped {
		t.Error("rebind left the old connection open")
	}
	if ln.rebinds != 1 {
		t.Errorf("listener rebinds = %d, want 1", ln.rebinds)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b [8]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b[i:])
}
