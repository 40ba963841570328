package inverter

// Reserved framing bytes. A calibrated checksum byte never takes one of
// these values, so the checksum cannot be misread as framing.
const (
	frameEnd   = 0x0D // CR terminates every frame
	replyStart = 0x28 // '(' opens a PI30-style reply
	frameLF    = 0x0A
)

// crc16Table is the nibble lookup table for CRC-16/CCITT, poly 0x1021, init 0.
var crc16Table = [16]uint16{
	0x0000, 0x1021, 0x2042, 0x3063, 0x4084, 0x50A5, 0x60C6, 0x70E7,
	0x8108, 0x9129, 0xA14A, 0xB16B, 0xC18C, 0xD1AD, 0xE1CE, 0xF1EF,
}

// CRC16 computes the CRC-16/CCITT checksum the PI wire protocols use,
// processing each byte one nibble at a time.
func CRC16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		da := byte(crc>>8) >> 4
		crc = (crc << 4) ^ crc16Table[da^(b>>4)]
		da = byte(crc>>8) >> 4
		crc = (crc << 4) ^ crc16Table[da^(b&0x0F)]
	}
	return crc
}

// calibrateCRCByte bumps a checksum byte off the reserved framing values.
// The exact byte set matches observed device traffic; do not widen it.
func calibrateCRCByte(b byte) byte {
	if b == replyStart || b == frameEnd || b == frameLF {
		return b + 1
	}
	return b
}

// checksumBytes returns the calibrated hi/lo checksum bytes for payload.
func checksumBytes(payload []byte) (hi, lo byte) {
	raw := CRC16(payload)
	return calibrateCRCByte(byte(raw >> 8)), calibrateCRCByte(byte(raw))
}

// verifyChecksum reports whether the received checksum bytes match payload.
// An all-zero checksum on either side is rejected outright.
func verifyChecksum(payload []byte, recvHi, recvLo byte) bool {
	hi, lo := checksumBytes(payload)
	if (hi == 0 && lo == 0) || (recvHi == 0 && recvLo == 0) {
		return false
	}
	return hi == recvHi && lo == recvLo
}

// byteSum is the additive checksum some legacy firmwares answer with.
func byteSum(data []byte) byte {
	var s byte
	for _, b := range data {
		s += b
	}
	return s
}
