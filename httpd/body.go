package httpd

// decodeChunked reassembles a chunked transfer-coded body from b. It returns
// the decoded bytes and complete=true once the zero-length terminator chunk
// has arrived; while data is still in flight it returns complete=false so the
// caller keeps accumulating. ok is false only on a malformed framing byte.
//
// Chunk extensions are tolerated and ignored; trailer headers after the
// terminator chunk are discarded.
func decodeChunked(b []byte) (body []byte, complete bool, ok bool) {
	var out []byte
	pos := 0
	for {
		line, next := chunkLine(b, pos)
		if next < 0 {
			return out, false, true // size line incomplete
		}
		size, sizeOK := parseChunkSize(line)
		if !sizeOK {
			return nil, false, false
		}
		pos = next

		if size == 0 {
			// Terminator chunk. Trailers (if any) run to a blank line,
			// but completion does not wait on them.
			return out, true, true
		}

		if pos+size > len(b) {
			return out, false, true // chunk data incomplete
		}
		out = append(out, b[pos:pos+size]...)
		pos += size

		// Consume the CRLF (or LF) after the chunk data.
		if pos >= len(b) {
			return out, false, true
		}
		if b[pos] == '\r' {
			pos++
			if pos >= len(b) {
				return out, false, true
			}
		}
		if b[pos] != '\n' {
			return nil, false, false
		}
		pos++
	}
}

// chunkLine returns the line starting at pos without its ending, and the
// offset just past it. next is -1 while the line ending has not arrived.
func chunkLine(b []byte, pos int) (line []byte, next int) {
	for i := pos; i < len(b); i++ {
		if b[i] == '\n' {
			end := i
			if end > pos && b[end-1] == '\r' {
				end--
			}
			return b[pos:end], i + 1
		}
	}
	return nil, -1
}

// parseChunkSize parses the hex chunk size, ignoring any ;extension suffix.
func parseChunkSize(line []byte) (int, bool) {
	n := 0
	digits := 0
	for _, c := range line {
		if c == ';' || c == ' ' || c == '\t' {
			break
		}
		var v int
		switch {
		case c >= '0' && c <= '9':
			v = int(c - '0')
		case c >= 'a' && c <= 'f':
			v = int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			v = int(c-'A') + 10
		default:
			return 0, false
		}
		n = n<<4 | v
		digits++
		if n > maxRequestSize {
			return 0, false
		}
	}
	if digits == 0 {
		return 0, false
	}
	return n, true
}
