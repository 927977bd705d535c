// Package alloc maps and unmaps a scratch page inside a traced process by
// trampolining a direct mmap(2)/munmap(2) syscall through it.
package alloc

import (
	"github.com/sirupsen/logrus"
	sys "golang.org/x/sys/unix"

	"github.com/ptrace-tools/genvtrace/internal/addrspace"
	"github.com/ptrace-tools/genvtrace/internal/codec"
	"github.com/ptrace-tools/genvtrace/internal/ptrace"
	"github.com/ptrace-tools/genvtrace/internal/traceerr"
)

const pageSize = 4096

// Map executes an anonymous, private, read+execute mmap(2) inside the
// target at its current instruction pointer and returns the scratch
// address. pivot is the instruction pointer the syscall stub is written
// to; origWord receives the 8 original bytes at pivot so the caller can
// restore them later.
//
// mutated reports whether pivot's bytes were actually overwritten, and is
// set independently of err: once the stub is written, every later failure
// (mmap returning -1, a ptrace call erroring, a pivot landing somewhere
// unexpected) still leaves the target's text mutated, and the caller must
// restore origWord during teardown even though Map itself failed.
func Map(c *ptrace.Controller, pivot addrspace.TargetAddr, log *logrus.Entry) (scratch addrspace.TargetAddr, origWord [8]byte, mutated bool, err error) {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	regs, err := c.GetRegs()
	if err != nil {
		return 0, [8]byte{}, false, err
	}

	log.Debugf("installing mmap pivot at 0x%x", pivot)
	stub := stubBytes()
	if err := c.PokeRegion(uintptr(pivot), stub[:], origWord[:]); err != nil {
		return 0, [8]byte{}, false, err
	}
	mutated = true

	mmapRegs := regs
	mmapRegs.Rax = sys.SYS_MMAP
	mmapRegs.Rdi = 0
	mmapRegs.Rsi = pageSize
	mmapRegs.Rdx = sys.PROT_READ | sys.PROT_EXEC
	mmapRegs.R10 = sys.MAP_PRIVATE | sys.MAP_ANON
	mmapRegs.R8 = ^uint64(0) // fd -1
	mmapRegs.R9 = 0
	if err := c.SetRegs(&mmapRegs); err != nil {
		return 0, origWord, mutated, err
	}

	if err := c.SingleStep(); err != nil {
		return 0, origWord, mutated, err
	}
	afterSyscall, err := c.GetRegs()
	if err != nil {
		return 0, origWord, mutated, err
	}
	if afterSyscall.Rax == ^uint64(0) {
		return 0, origWord, mutated, &traceerr.MapFailedError{Pid: c.Pid}
	}
	scratch = addrspace.TargetAddr(uintptr(afterSyscall.Rax))

	if err := c.SingleStep(); err != nil {
		return 0, origWord, mutated, err
	}
	afterJump, err := c.GetRegs()
	if err != nil {
		return 0, origWord, mutated, err
	}
	if uintptr(afterJump.Rip) != uintptr(scratch) {
		return 0, origWord, mutated, &traceerr.PivotFailedError{Want: uintptr(scratch), Got: uintptr(afterJump.Rip)}
	}

	log.Debugf("mapped scratch page at 0x%x", scratch)
	return scratch, origWord, mutated, nil
}

// Unmap executes munmap(2) on the scratch page via the same pivot
// mechanism. It moves the target's instruction pointer back to pivot
// itself; pivot must still hold the syscall stub written by Map (the
// caller is responsible for not having restored it yet).
func Unmap(c *ptrace.Controller, pivot, scratch addrspace.TargetAddr, log *logrus.Entry) error {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	log.Debugf("unmapping scratch page at 0x%x via pivot 0x%x", scratch, pivot)
	regs, err := c.GetRegs()
	if err != nil {
		return err
	}
	regs.Rip = uint64(pivot)
	regs.Rax = sys.SYS_MUNMAP
	regs.Rdi = uint64(scratch)
	regs.Rsi = pageSize
	if err := c.SetRegs(&regs); err != nil {
		return err
	}
	return c.SingleStep()
}

// stubBytes returns the two-instruction sequence Map/Unmap pivot through:
// SYSCALL followed by an indirect jump through RAX, word-padded.
func stubBytes() [8]byte {
	var b [8]byte
	b[0], b[1] = codec.Syscall[0], codec.Syscall[1]
	b[2], b[3] = codec.JmpRAX[0], codec.JmpRAX[1]
	return b
}
