//go:build tinygo

package main

import (
	"machine"

	"inverterzone/gateway/credential"
)

// The credential record lives in the last erase block of the onboard flash,
// far above the firmware image. Layout: 4-byte magic, 2-byte big-endian
// payload length, then the marshalled record. Erased flash reads 0xFF so a
// cleared or never-written block fails the magic check.
const flashMagic = "IZC1"

type flashStore struct {
	// One write page; the RP2040 programs flash in 256-byte pages.
	buf [256]byte
}

func newFlashStore() *flashStore { return &flashStore{} }

func (s *flashStore) regionOffset() int64 {
	return machine.Flash.Size() - machine.Flash.EraseBlockSize()
}

func (s *flashStore) Load() (credential.Record, bool) {
	if _, err := machine.Flash.ReadAt(s.buf[:], s.regionOffset()); err != nil {
		return credential.Record{}, false
	}
	if string(s.buf[:4]) != flashMagic {
		return credential.Record{}, false
	}
	n := int(s.buf[4])<<8 | int(s.buf[5])
	if n <= 0 || n > len(s.buf)-6 {
		return credential.Record{}, false
	}
	return credential.Parse(s.buf[6 : 6+n])
}

func (s *flashStore) Save(rec credential.Record) error {
	for i := range s.buf {
		s.buf[i] = 0xFF
	}
	data := credential.Marshal(s.buf[6:6], rec)
	if len(data) > len(s.buf)-6 {
		// Too long to persist; drop the password first, the SSID alone
		// still lets the device retry the network.
		data = credential.Marshal(s.buf[6:6], credential.Record{SSID: rec.SSID})
		if len(data) > len(s.buf)-6 {
			return errCredentialTooLong
		}
	}
	copy(s.buf[:4], flashMagic)
	s.buf[4] = byte(len(data) >> 8)
	s.buf[5] = byte(len(data))

	off := s.regionOffset()
	if err := machine.Flash.EraseBlocks(off/machine.Flash.EraseBlockSize(), 1); err != nil {
		return err
	}
	_, err := machine.Flash.WriteAt(s.buf[:], off)
	return err
}

func (s *flashStore) Clear() {
	off := s.regionOffset()
	machine.Flash.EraseBlocks(off/machine.Flash.EraseBlockSize(), 1)
}

type credErr string

func (e credErr) Error() string { return string(e) }

const errCredentialTooLong = credErr("credential record exceeds the flash page")
