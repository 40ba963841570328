package httpd

import "strings"

// parseURLEncoded extracts the named field from an
// application/x-www-form-urlencoded body: '+' decodes to space and %XX
// escapes decode to their byte value. Broken escapes pass through verbatim.
func parseURLEncoded(body []byte, name string) (string, bool) {
	for _, pair := range strings.Split(string(body), "&") {
		eq := strings.IndexByte(pair, '=')
		if eq < 0 {
			if pair == name {
				return "", true
			}
			continue
		}
		if urlDecode(pair[:eq]) != name {
			continue
		}
		return urlDecode(pair[eq+1:]), true
	}
	return "", false
}

func urlDecode(s string) string {
	if !strings.ContainsAny(s, "+%") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '+':
			b.WriteByte(' ')
		case s[i] == '%' && i+2 < len(s):
			hi, ok1 := hexVal(s[i+1])
			lo, ok2 := hexVal(s[i+2])
			if ok1 && ok2 {
				b.WriteByte(hi<<4 | lo)
				i += 2
			} else {
				b.WriteByte(s[i])
			}
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// multipartBoundary pulls the boundary parameter out of a
// multipart/form-data content type. Quoted and bare forms both occur.
func multipartBoundary(contentType string) (string, bool) {
	const key = "boundary="
	idx := strings.Index(strings.ToLower(contentType), key)
	if idx < 0 {
		return "", false
	}
	v := contentType[idx+len(key):]
	if semi := strings.IndexByte(v, ';'); semi >= 0 {
		v = v[:semi]
	}
	v = strings.TrimSpace(v)
	v = strings.Trim(v, `"`)
	if v == "" {
		return "", false
	}
	return v, true
}

// parseMultipart extracts the named form field from a multipart/form-data
// body. Only simple text fields are supported; file parts are skipped.
func parseMultipart(body []byte, boundary, name string) (string, bool) {
	delim := "--" + boundary
	text := string(body)

	for {
		start := strings.Index(text, delim)
		if start < 0 {
			return "", false
		}
		text = text[start+len(delim):]
		if strings.HasPrefix(text, "--") {
			return "", false // closing delimiter
		}
		// Skip the line ending after the delimiter.
		text = strings.TrimPrefix(text, "\r")
		text = strings.TrimPrefix(text, "\n")

		headEnd := strings.Index(text, "\n\n")
		crlfEnd := strings.Index(text, "\r\n\r\n")
		sep := 2
		if crlfEnd >= 0 && (headEnd < 0 || crlfEnd < headEnd) {
			headEnd = crlfEnd
			sep = 4
		}
		if headEnd < 0 {
			return "", false
		}

		partName := multipartFieldName(text[:headEnd])
		content := text[headEnd+sep:]
		end := strings.Index(content, delim)
		if end < 0 {
			return "", false
		}
		value := strings.TrimRight(content[:end], "\r\n")
		if partName == name {
			return value, true
		}
		text = content[end:]
	}
}

// multipartFieldName digs the name="..." parameter out of a part's
// Content-Disposition header. The header name and its parameter names are
// case-insensitive; the value keeps its original case.
func multipartFieldName(head string) string {
	for _, raw := range strings.Split(head, "\n") {
		h := strings.TrimRight(raw, "\r")
		lower := strings.ToLower(h)
		if !strings.HasPrefix(lower, "content-disposition:") {
			continue
		}
		const key = `name="`
		idx := strings.Index(lower, key)
		if idx < 0 {
			return ""
		}
		v := h[idx+len(key):]
		if q := strings.IndexByte(v, '"'); q >= 0 {
			return v[:q]
		}
		return ""
	}
	return ""
}
