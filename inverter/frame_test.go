package inverter

import (
	"bytes"
	"testing"
)

// replyFrame builds a raw reply (without terminator) the way a device would:
// payload followed by the calibrated checksum bytes.
func replyFrame(payload string) []byte {
	b := []byte(payload)
	hi, lo := checksumBytes(b)
	return append(b, hi, lo)
}

func TestEncodeFrame(t *testing.T) {
	frame := encodeFrame(nil, "QPI")
	want := []byte{'Q', 'P', 'I', 0xBE, 0xAC, 0x0D}
	if !bytes.Equal(frame, want) {
		t.Errorf("encodeFrame(QPI) = % X, want % X", frame, want)
	}
}

func TestFrameVerificationSymmetric(t *testing.T) {
	payloads := []string{"(PI30", "(ACK", "(230.0 49.9 0001", "^D00518"}
	for _, p := range payloads {
		raw := replyFrame(p)
		body := raw[:len(raw)-2]
		if !verifyChecksum(body, raw[len(raw)-2], raw[len(raw)-1]) {
			t.Errorf("own checksum of %q did not verify", p)
			continue
		}
		// Flipping any payload bit must break verification.
		for i := 0; i < len(body); i++ {
			for bit := 0; bit < 8; bit++ {
				corrupted := append([]byte(nil), body...)
				corrupted[i] ^= 1 << bit
				if verifyChecksum(corrupted, raw[len(raw)-2], raw[len(raw)-1]) {
					t.Fatalf("corrupted payload %q (byte %d bit %d) still verified", p, i, bit)
				}
			}
		}
	}
}

func TestClassifyReply(t *testing.T) {
	tests := []struct {
		name    string
		raw     []byte
		payload string
		kind    ReplyKind
	}{
		{"empty", nil, "", ReplyNAK},
		{"blank", []byte(" "), "", ReplyNAK},
		{"nak marker", replyFrame("(NAK"), "", ReplyNAK},
		{"short", []byte("ab"), "", ReplyNAK},
		{"valid pi30", replyFrame("(PI30"), "PI30", ReplyOK},
		{"valid pi18", replyFrame("^D00518"), "18", ReplyOK},
		{"no prefix", replyFrame("B3"), "B3", ReplyOK},
		{"bad crc", append([]byte("(PI30"), 0x11, 0x22), "", ReplyCRCError},
	}

	for _, tc := range tests {
		payload, kind := classifyReply(tc.raw)
		if payload != tc.payload || kind != tc.kind {
			t.Errorf("%s: classifyReply(% X) = (%q, %v), want (%q, %v)",
				tc.name, tc.raw, payload, kind, tc.payload, tc.kind)
		}
	}
}

func TestClassifyReplyByteSumFallback(t *testing.T) {
	// Legacy frames carry a single trailing sum+1 byte instead of the CRC.
	body := []byte("(87.4")
	raw := append(append([]byte(nil), body...), byteSum(body)+1)
	payload, kind := classifyReply(raw)
	if kind != ReplyOK || payload != "87.4" {
		t.Errorf("classifyReply(sum+1 frame) = (%q, %v), want (%q, OK)", payload, kind, "87.4")
	}
}

func TestCleanReplyDropsControlBytes(t *testing.T) {
	got := cleanReply([]byte{'A', 0x00, 'B', 0xC3, 'C'})
	if got != "ABC" {
		t.Errorf("cleanReply = %q, want ABC", got)
	}
}

func TestStripReplyPrefix(t *testing.T) {
	tests := []struct {
		in, out string
	}{
		{"(PI30", "PI30"},
		{"^Dxxx18", "18"},
		{"plain", "plain"},
		{"^D12", "^D12"}, // too short for a PI18 header
	}
	for _, tc := range tests {
		if got := string(stripReplyPrefix([]byte(tc.in))); got != tc.out {
			t.Errorf("stripReplyPrefix(%q) = %q, want %q", tc.in, got, tc.out)
		}
	}
}
