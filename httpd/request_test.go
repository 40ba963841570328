package httpd

import (
	"bytes"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, out string
	}{
		{"/", "/"},
		{"/livejson", "/livejson"},
		{"/wifisave/", "/wifisave"},
		{"/livejson?refresh=1", "/livejson"},
		{"http://192.168.4.1/wifisave", "/wifisave"},
		{"http://device.local", "/"},
		{"https://x/a/?q", "/a"},
	}
	for _, tc := range tests {
		if got := normalizePath(tc.in); got != tc.out {
			t.Errorf("normalizePath(%q) = %q, want %q", tc.in, got, tc.out)
		}
	}
}

func TestParseRequestBareLFEndings(t *testing.T) {
	raw := []byte("POST /wifisave HTTP/1.1\nContent-Length: 4\ncontent-type: text/plain\n\nbody")
	end := findHeaderEnd(raw)
	if end < 0 {
		t.Fatal("LF-only head not terminated")
	}
	req, ok := parseRequest(raw, end)
	if !ok {
		t.Fatal("LF-only request rejected")
	}
	if req.method != "POST" || req.path != "/wifisave" {
		t.Errorf("request line = %q %q", req.method, req.path)
	}
	if req.contentLength != 4 || req.contentType != "text/plain" {
		t.Errorf("headers = %+v, case-insensitive parse failed", req)
	}
}

func TestParseRequestMalformed(t *testing.T) {
	for _, raw := range []string{"\r\n\r\n", "GETINDEX\r\n\r\n", " / \r\n\r\n"} {
		end := findHeaderEnd([]byte(raw))
		if end < 0 {
			t.Fatalf("%q: no header end", raw)
		}
		if _, ok := parseRequest([]byte(raw), end); ok {
			t.Errorf("parseRequest(%q) accepted a malformed request line", raw)
		}
	}
}

func TestDecodeChunkedIncremental(t *testing.T) {
	full := []byte("4\r\nWiki\r\n5;ext=1\r\npedia\r\n0\r\n\r\n")
	// Every prefix must report incomplete without error; only the full
	// stream completes.
	for i := 0; i < len(full)-4; i++ {
		body, complete, ok := decodeChunked(full[:i])
		if !ok {
			t.Fatalf("prefix %d rejected (body %q)", i, body)
		}
		if complete {
			t.Fatalf("prefix %d reported complete", i)
		}
	}
	body, complete, ok := decodeChunked(full)
	if !ok || !complete || string(body) != "Wikipedia" {
		t.Errorf("decodeChunked = (%q, %v, %v), want complete Wikipedia", body, complete, ok)
	}
}

func TestDecodeChunkedMalformed(t *testing.T) {
	if _, _, ok := decodeChunked([]byte("zz\r\n")); ok {
		t.Error("bad size digits accepted")
	}
	if _, _, ok := decodeChunked([]byte("4\r\nWikiXX")); ok {
		t.Error("missing chunk terminator accepted")
	}
}

func TestParseURLEncoded(t *testing.T) {
	body := []byte("s=caf%C3%A9+net&p=a%3Db&empty=&flag")
	tests := []struct {
		name  string
		value string
		found bool
	}{
		{"s", "caf\xc3\xa9 net", true},
		{"p", "a=b", true},
		{"empty", "", true},
		{"flag", "", true},
		{"missing", "", false},
	}
	for _, tc := range tests {
		got, found := parseURLEncoded(body, tc.name)
		if got != tc.value || found != tc.found {
			t.Errorf("parseURLEncoded(%s) = (%q, %v), want (%q, %v)",
				tc.name, got, found, tc.value, tc.found)
		}
	}
}

func TestMultipartBoundary(t *testing.T) {
	tests := []struct {
		ct, boundary string
		ok           bool
	}{
		{"multipart/form-data; boundary=abc123", "abc123", true},
		{`multipart/form-data; boundary="quoted bound"`, "quoted bound", true},
		{"multipart/form-data; charset=utf-8; boundary=x; q=1", "x", true},
		{"multipart/form-data", "", false},
	}
	for _, tc := range tests {
		got, ok := multipartBoundary(tc.ct)
		if got != tc.boundary || ok != tc.ok {
			t.Errorf("multipartBoundary(%q) = (%q, %v), want (%q, %v)",
				tc.ct, got, ok, tc.boundary, tc.ok)
		}
	}
}

func TestParseMultipartHeaderCase(t *testing.T) {
	// Part headers arrive in whatever case the client fancies; field values
	// keep theirs.
	body := []byte("--B\r\n" +
		"CONTENT-DISPOSITION: FORM-DATA; NAME=\"s\"\r\n\r\n" +
		"MyNet\r\n" +
		"--B\r\n" +
		"Content-disposition: form-data; Name=\"p\"\r\n\r\n" +
		"Secret42\r\n" +
		"--B--\r\n")

	if got, ok := parseMultipart(body, "B", "s"); !ok || got != "MyNet" {
		t.Errorf("parseMultipart(s) = (%q, %v), want (MyNet, true)", got, ok)
	}
	if got, ok := parseMultipart(body, "B", "p"); !ok || got != "Secret42" {
		t.Errorf("parseMultipart(p) = (%q, %v), want (Secret42, true)", got, ok)
	}
}

func TestFindHeaderEndPrefersEarliest(t *testing.T) {
	raw := []byte("GET / HTTP/1.1\r\nHost: x\r\n\r\nPOST trailing\r\n\r\n")
	end := findHeaderEnd(raw)
	if !bytes.HasPrefix(raw[end:], []byte("POST trailing")) {
		t.Errorf("header end = %d, split at the wrong terminator", end)
	}
}
