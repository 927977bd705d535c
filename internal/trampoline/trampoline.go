// Package trampoline composes the small call+breakpoint+argument blob that
// is written into a target's scratch page to invoke a resolved library
// function and hand control back via a breakpoint.
package trampoline

import (
	"github.com/sirupsen/logrus"

	"github.com/ptrace-tools/genvtrace/internal/addrspace"
	"github.com/ptrace-tools/genvtrace/internal/codec"
	"github.com/ptrace-tools/genvtrace/internal/ptrace"
)

// callOffset is where the CALL rel32 starts within the blob.
const callOffset = 0

// breakpointOffset is where the one-byte INT3 starts.
const breakpointOffset = 5

// argOffset is where the argument string begins.
const argOffset = 6

const minBlobLen = 32

// Build lays out a blob at scratch that calls target (the resolved
// environment-lookup symbol), traps, and is followed by name as its
// argument string with an explicit trailing NUL (the source this was
// grounded on relies on the scratch page being zero-initialized instead;
// this implementation terminates the string explicitly rather than
// depending on that).
func Build(scratch, target addrspace.TargetAddr, name string) ([]byte, error) {
	call, err := codec.CallRel32(uintptr(scratch)+callOffset, uintptr(target))
	if err != nil {
		return nil, err
	}

	need := argOffset + len(name) + 1
	blockSize := minBlobLen
	for blockSize < need {
		blockSize <<= 1
	}

	blob := make([]byte, blockSize)
	copy(blob[callOffset:], call[:])
	blob[breakpointOffset] = codec.Breakpoint
	copy(blob[argOffset:], name)
	// blob[argOffset+len(name)] is already 0 from make(); left explicit
	// in the doc comment above as the NUL terminator.

	return blob, nil
}

// ArgAddr returns the address of the argument string within a blob
// installed at scratch, i.e. the value to load into RDI before calling.
func ArgAddr(scratch addrspace.TargetAddr) addrspace.TargetAddr {
	return scratch.Add(argOffset)
}

// Call installs blob at scratch, points the target's instruction pointer
// and first argument register at it, continues until the breakpoint traps,
// and returns the value left in RAX (the resolved function's return value).
func Call(c *ptrace.Controller, scratch addrspace.TargetAddr, blob []byte, log *logrus.Entry) (uint64, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	log.Debugf("installing %d byte blob at 0x%x", len(blob), scratch)
	if err := c.PokeRegion(uintptr(scratch), blob, nil); err != nil {
		return 0, err
	}

	regs, err := c.GetRegs()
	if err != nil {
		return 0, err
	}
	regs.Rip = uint64(scratch)
	regs.Rdi = uint64(ArgAddr(scratch))
	regs.Rax = 0
	if err := c.SetRegs(&regs); err != nil {
		return 0, err
	}

	log.Debug("continuing to breakpoint")
	if err := c.Continue(); err != nil {
		return 0, err
	}

	result, err := c.GetRegs()
	if err != nil {
		return 0, err
	}
	log.Debugf("breakpoint hit, rax=0x%x", result.Rax)
	return result.Rax, nil
}
