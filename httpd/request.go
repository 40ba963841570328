package httpd

import "strings"

// request is the parsed view of one HTTP request head. Body handling stays
// with the server loop: the head only records which framing mode applies.
type request struct {
	method string
	path   string

	contentType    string
	contentLength  int // -1 when absent
	chunked        bool
	expectContinue bool

	headerEnd int // offset of the first body byte
}

// findHeaderEnd locates the blank line terminating the request head. Both
// CRLF and bare LF endings occur in the wild; accept either. Returns -1 while
// the head is still incomplete.
func findHeaderEnd(b []byte) int {
	for i := 0; i+3 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' && b[i+2] == '\r' && b[i+3] == '\n' {
			return i + 4
		}
	}
	for i := 0; i+1 < len(b); i++ {
		if b[i] == '\n' && b[i+1] == '\n' {
			return i + 2
		}
	}
	return -1
}

// parseRequest parses the request head in b[:headerEnd]. ok is false on a
// malformed request line.
func parseRequest(b []byte, headerEnd int) (request, bool) {
	req := request{contentLength: -1, headerEnd: headerEnd}

	head := string(b[:headerEnd])
	lines := strings.Split(head, "\n")
	if len(lines) == 0 {
		return req, false
	}

	line := strings.TrimRight(lines[0], "\r")
	sp1 := strings.IndexByte(line, ' ')
	sp2 := strings.LastIndexByte(line, ' ')
	if sp1 < 0 || sp2 <= sp1 {
		return req, false
	}
	req.method = line[:sp1]
	req.path = normalizePath(line[sp1+1 : sp2])
	if req.method == "" || req.path == "" {
		return req, false
	}

	for _, raw := range lines[1:] {
		h := strings.TrimRight(raw, "\r")
		if h == "" {
			break
		}
		colon := strings.IndexByte(h, ':')
		if colon < 0 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(h[:colon]))
		value := strings.TrimSpace(h[colon+1:])
		switch name {
		case "content-length":
			if n, ok := parseDecimal(value); ok {
				req.contentLength = n
			}
		case "transfer-encoding":
			if strings.Contains(strings.ToLower(value), "chunked") {
				req.chunked = true
			}
		case "content-type":
			req.contentType = value
		case "expect":
			if strings.EqualFold(value, "100-continue") {
				req.expectContinue = true
			}
		}
	}
	return req, true
}

// normalizePath reduces the request target to a routable path: absolute URIs
// (proxy-style requests) lose their scheme and authority, the query string is
// dropped, and a trailing slash is stripped so /wifisave/ routes like
// /wifisave.
func normalizePath(target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		rest := target[strings.Index(target, "://")+3:]
		if slash := strings.IndexByte(rest, '/'); slash >= 0 {
			target = rest[slash:]
		} else {
			target = "/"
		}
	}
	if q := strings.IndexByte(target, '?'); q >= 0 {
		target = target[:q]
	}
	if len(target) > 1 && strings.HasSuffix(target, "/") {
		target = target[:len(target)-1]
	}
	return target
}

func parseDecimal(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
		if n > maxRequestSize {
			// Anything past the request cap is rejected later anyway.
			return n, true
		}
	}
	return n, true
}
