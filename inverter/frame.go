package inverter

// ReplyKind classifies an inverter answer.
type ReplyKind uint8

const (
	// ReplyOK is a validated payload.
	ReplyOK ReplyKind = iota
	// ReplyNAK covers negative acknowledgements and empty/short replies.
	ReplyNAK
	// ReplyCRCError is a well-formed reply whose checksum did not verify.
	ReplyCRCError
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyOK:
		return "OK"
	case ReplyNAK:
		return "NAK"
	default:
		return "ERCRC"
	}
}

// encodeFrame appends the wire frame for cmd to buf: the ASCII command, two
// calibrated checksum bytes and the CR terminator.
func encodeFrame(buf []byte, cmd string) []byte {
	start := len(buf)
	buf = append(buf, cmd...)
	hi, lo := checksumBytes(buf[start:])
	return append(buf, hi, lo, frameEnd)
}

// classifyReply validates a raw reply (terminator already stripped) and
// returns its cleaned payload. The two trailing bytes are checked as a
// calibrated CRC over the preceding body; when that fails, a single trailing
// sum+1 byte is accepted as a fallback before declaring a checksum error.
func classifyReply(raw []byte) (payload string, kind ReplyKind) {
	if len(raw) == 0 || (len(raw) == 1 && raw[0] == ' ') {
		return "", ReplyNAK
	}
	if containsNAK(raw) {
		return "", ReplyNAK
	}
	if len(raw) < 3 {
		return "", ReplyNAK
	}
	body := raw[:len(raw)-2]
	if verifyChecksum(body, raw[len(raw)-2], raw[len(raw)-1]) {
		return cleanReply(stripReplyPrefix(body)), ReplyOK
	}
	if raw[len(raw)-1] == byteSum(raw[:len(raw)-1])+1 {
		return cleanReply(stripReplyPrefix(raw[:len(raw)-1])), ReplyOK
	}
	return "", ReplyCRCError
}

// stripReplyPrefix drops the protocol-specific reply marker: a single '('
// for PI30-style answers, the 5-byte "^Dxxx" header for PI18-style answers.
func stripReplyPrefix(b []byte) []byte {
	if len(b) > 0 && b[0] == replyStart {
		return b[1:]
	}
	if len(b) >= 5 && b[0] == '^' && b[1] == 'D' {
		return b[5:]
	}
	return b
}

// cleanReply decodes a payload as ASCII text, dropping NUL and non-ASCII bytes.
func cleanReply(b []byte) string {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c != 0 && c < 0x80 {
			out = append(out, c)
		}
	}
	return string(out)
}

func containsNAK(b []byte) bool {
	for i := 0; i+3 <= len(b); i++ {
		if b[i] == 'N' && b[i+1] == 'A' && b[i+2] == 'K' {
			return true
		}
	}
	return false
}
