package report

// jsonWriter is a zero-allocation JSON writer over a fixed buffer. Writes
// past the end are silently dropped; the buffer is sized so that only a
// pathological snapshot could hit the cap.
type jsonWriter struct {
	buf []byte
	pos int
}

func (w *jsonWriter) len() int {
	return w.pos
}

func (w *jsonWriter) writeRaw(s string) {
	if w.pos+len(s) > len(w.buf) {
		return
	}
	copy(w.buf[w.pos:], s)
	w.pos += len(s)
}

func (w *jsonWriter) writeByte(b byte) {
	if w.pos < len(w.buf) {
		w.buf[w.pos] = b
		w.pos++
	}
}

// writeString writes a quoted JSON string. Control and non-ASCII bytes are
// dropped; the serial layer already strips them, this is the backstop.
func (w *jsonWriter) writeString(s string) {
	w.writeByte('"')
	for i := 0; i < len(s); i++ {
		b := s[i]
		switch b {
		case '"':
			w.writeRaw("\\\"")
		case '\\':
			w.writeRaw("\\\\")
		case '\n':
			w.writeRaw("\\n")
		case '\r':
			w.writeRaw("\\r")
		case '\t':
			w.writeRaw("\\t")
		default:
			if b >= 32 && b < 127 {
				w.writeByte(b)
			}
		}
	}
	w.writeByte('"')
}

func (w *jsonWriter) writeInt(n int) {
	if n == 0 {
		w.writeByte('0')
		return
	}
	if n < 0 {
		w.writeByte('-')
		n = -n
	}
	w.writeUint64(uint64(n))
}

func (w *jsonWriter) writeUint64(n uint64) {
	if n == 0 {
		w.writeByte('0')
		return
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	for j := i; j < len(buf); j++ {
		w.writeByte(buf[j])
	}
}
