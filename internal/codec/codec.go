// Package codec emits the exact byte sequences for the handful of x86_64
// instructions the injector needs: a direct syscall, an indirect jump
// through the accumulator register, a relative call, and a software
// breakpoint.
package codec

import (
	"encoding/binary"
	"math"

	"github.com/ptrace-tools/genvtrace/internal/traceerr"
)

// Syscall is the two-byte encoding of SYSCALL.
var Syscall = [2]byte{0x0f, 0x05}

// JmpRAX is the two-byte encoding of an indirect jump through RAX (FF E0).
var JmpRAX = [2]byte{0xff, 0xe0}

// Breakpoint is the one-byte encoding of INT3.
const Breakpoint = byte(0xcc)

const callOpcode = byte(0xe8)

// callLen is the length of a CALL rel32 instruction: the opcode plus a
// 32-bit displacement.
const callLen = 5

// Displacement computes the signed 32-bit delta between from (the address
// of the byte immediately following the instruction, as x86 rel32 forms
// measure it) and to (the destination). It fails if the delta does not fit
// in an int32: that is the signal that the target library is out of the
// ±2GiB range a rel32 can reach, most often because something in the chain
// was not built position-independent.
func Displacement(from, to uintptr) (int32, error) {
	delta := int64(to) - int64(from)
	if delta < math.MinInt32 || delta > math.MaxInt32 {
		return 0, &traceerr.RangeOverflowError{Delta: delta}
	}
	return int32(delta), nil
}

// CallRel32 encodes "CALL rel32" at instruction address addr, transferring
// control to the absolute address to.
func CallRel32(addr, to uintptr) ([callLen]byte, error) {
	var out [callLen]byte
	delta, err := Displacement(addr+callLen, to)
	if err != nil {
		return out, err
	}
	out[0] = callOpcode
	binary.LittleEndian.PutUint32(out[1:], uint32(delta))
	return out, nil
}
