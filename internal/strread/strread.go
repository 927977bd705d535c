// Package strread reads a NUL-terminated byte run out of a traced
// process's memory, word at a time.
package strread

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"

	"github.com/ptrace-tools/genvtrace/internal/addrspace"
	"github.com/ptrace-tools/genvtrace/internal/ptrace"
)

// ReadCString walks target memory starting at addr in word-sized peeks,
// stopping at the first word containing a zero byte in any lane (the usual
// NUL terminator), and returns the bytes up to but not including that NUL.
//
// This scans for an explicit zero byte per lane, unlike the source this
// was grounded on, whose equivalent loop tested whether each byte shifted
// into the high lane was "less than" 0x01000000 — a check that is subtly
// wrong for bytes with the high bit set and does not test for NUL at all.
func ReadCString(c *ptrace.Controller, addr addrspace.TargetAddr, log *logrus.Entry) (string, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	var out []byte
	cur := uintptr(addr)
	for {
		word, err := c.PeekWord(cur)
		if err != nil {
			return "", err
		}
		log.Debugf("peeked word at 0x%x: 0x%x", cur, word)
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], word)
		for _, b := range buf {
			if b == 0 {
				return string(out), nil
			}
			out = append(out, b)
		}
		cur += 8
	}
}
