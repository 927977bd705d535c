// Package ptrace is a thin, synchronous contract over the kernel's process
// debugging interface: attach, wait-for-stop, get/set the register file,
// peek/poke the text segment, single-step, continue-to-trap, detach.
//
// Every operation blocks until the kernel confirms the requested state
// change; the package never issues overlapping ptrace(2) commands against
// the same tracee.
package ptrace

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	sys "golang.org/x/sys/unix"

	"github.com/ptrace-tools/genvtrace/internal/traceerr"
)

const wordSize = 8

// Controller controls exactly one traced thread.
type Controller struct {
	Pid int
	log *logrus.Entry
}

// Attach requests tracing of pid and blocks until it is observed stopped.
// log receives every ptrace request and its outcome at debug level; a nil
// log is replaced with one that discards below logrus's default info
// level, so passing nil is equivalent to silence.
func Attach(pid int, log *logrus.Entry) (*Controller, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	log.Debugf("PTRACE_ATTACH pid=%d", pid)
	var err error
	onPtraceThread(func() { err = sys.PtraceAttach(pid) })
	if err != nil {
		if err == sys.EPERM || err == sys.EACCES {
			return nil, &traceerr.PermissionDeniedError{Pid: pid, Advisory: yamaAdvisory()}
		}
		return nil, &traceerr.KernelRefusedError{Op: "PTRACE_ATTACH", Err: err}
	}
	c := &Controller{Pid: pid, log: log}
	// The attach stop is the SIGSTOP PTRACE_ATTACH sends, not a trap, so
	// this wait cannot go through waitTrap.
	var ws sys.WaitStatus
	onPtraceThread(func() { _, err = sys.Wait4(pid, &ws, 0, nil) })
	if err != nil {
		return nil, &traceerr.KernelRefusedError{Op: "PTRACE_ATTACH wait4", Err: err}
	}
	log.Debugf("PTRACE_ATTACH wait4 status=%s", waitStatusString(ws))
	if !ws.Stopped() || ws.StopSignal() != sys.SIGSTOP {
		return nil, &traceerr.UnexpectedStopError{Op: "PTRACE_ATTACH", Status: waitStatusString(ws)}
	}
	log.Debug("PTRACE_ATTACH stopped")
	return c, nil
}

// Detach releases tracing control; the target resumes normal execution.
func (c *Controller) Detach() error {
	c.log.Debugf("PTRACE_DETACH pid=%d", c.Pid)
	var err error
	onPtraceThread(func() { err = sys.PtraceDetach(c.Pid) })
	if err != nil {
		return &traceerr.KernelRefusedError{Op: "PTRACE_DETACH", Err: err}
	}
	return nil
}

// GetRegs reads the entire general-purpose register file.
func (c *Controller) GetRegs() (sys.PtraceRegs, error) {
	var regs sys.PtraceRegs
	var err error
	onPtraceThread(func() { err = sys.PtraceGetRegs(c.Pid, &regs) })
	if err != nil {
		return regs, &traceerr.KernelRefusedError{Op: "PTRACE_GETREGS", Err: err}
	}
	c.log.Debugf("PTRACE_GETREGS rip=0x%x rax=0x%x", regs.Rip, regs.Rax)
	return regs, nil
}

// SetRegs replaces the entire general-purpose register file.
func (c *Controller) SetRegs(regs *sys.PtraceRegs) error {
	c.log.Debugf("PTRACE_SETREGS rip=0x%x rax=0x%x", regs.Rip, regs.Rax)
	var err error
	onPtraceThread(func() { err = sys.PtraceSetRegs(c.Pid, regs) })
	if err != nil {
		return &traceerr.KernelRefusedError{Op: "PTRACE_SETREGS", Err: err}
	}
	return nil
}

// PeekWord reads one machine word from the target's address space.
func (c *Controller) PeekWord(addr uintptr) (uint64, error) {
	var buf [wordSize]byte
	var n int
	var err error
	onPtraceThread(func() { n, err = sys.PtracePeekData(c.Pid, addr, buf[:]) })
	if err != nil {
		return 0, &traceerr.KernelRefusedError{Op: "PTRACE_PEEKTEXT", Err: err}
	}
	if n != wordSize {
		return 0, &traceerr.KernelRefusedError{Op: "PTRACE_PEEKTEXT", Err: fmt.Errorf("short read: %d bytes", n)}
	}
	word := binary.LittleEndian.Uint64(buf[:])
	c.log.Debugf("PTRACE_PEEKTEXT addr=0x%x word=0x%x", addr, word)
	return word, nil
}

// PokeWord writes one machine word to the target's address space.
func (c *Controller) PokeWord(addr uintptr, word uint64) error {
	c.log.Debugf("PTRACE_POKETEXT addr=0x%x word=0x%x", addr, word)
	var buf [wordSize]byte
	binary.LittleEndian.PutUint64(buf[:], word)
	var err error
	onPtraceThread(func() { _, err = sys.PtracePokeData(c.Pid, addr, buf[:]) })
	if err != nil {
		return &traceerr.KernelRefusedError{Op: "PTRACE_POKETEXT", Err: err}
	}
	return nil
}

// PokeRegion writes newBytes (padded to a word multiple by the caller) to
// addr, word by word. If oldOut is non-nil it receives the original words
// read before each overwrite, giving an exact undo buffer.
func (c *Controller) PokeRegion(addr uintptr, newBytes []byte, oldOut []byte) error {
	if len(newBytes)%wordSize != 0 {
		return &traceerr.BadArgsError{Msg: fmt.Sprintf("invalid len %d, not a multiple of %d", len(newBytes), wordSize)}
	}
	if oldOut != nil && len(oldOut) != len(newBytes) {
		return &traceerr.BadArgsError{Msg: "oldOut must be the same size as newBytes"}
	}
	for off := 0; off < len(newBytes); off += wordSize {
		if oldOut != nil {
			old, err := c.PeekWord(addr + uintptr(off))
			if err != nil {
				return err
			}
			binary.LittleEndian.PutUint64(oldOut[off:off+wordSize], old)
		}
		word := binary.LittleEndian.Uint64(newBytes[off : off+wordSize])
		if err := c.PokeWord(addr+uintptr(off), word); err != nil {
			return err
		}
	}
	return nil
}

// SingleStep advances one instruction and waits for the implied trap.
func (c *Controller) SingleStep() error {
	c.log.Debug("PTRACE_SINGLESTEP")
	var err error
	onPtraceThread(func() { err = sys.PtraceSingleStep(c.Pid) })
	if err != nil {
		return &traceerr.KernelRefusedError{Op: "PTRACE_SINGLESTEP", Err: err}
	}
	return c.waitTrap("PTRACE_SINGLESTEP")
}

// Continue resumes the target and waits for the next stop, which is
// expected to be the software breakpoint installed by the caller.
func (c *Controller) Continue() error {
	c.log.Debug("PTRACE_CONT")
	var err error
	onPtraceThread(func() { err = sys.PtraceCont(c.Pid, 0) })
	if err != nil {
		return &traceerr.KernelRefusedError{Op: "PTRACE_CONT", Err: err}
	}
	return c.waitTrap("PTRACE_CONT")
}

// waitTrap blocks for the next stop of c.Pid and verifies it was a trap
// signal; any other stop reason is surfaced as UnexpectedStopError.
func (c *Controller) waitTrap(op string) error {
	var ws sys.WaitStatus
	var err error
	onPtraceThread(func() {
		_, err = sys.Wait4(c.Pid, &ws, 0, nil)
	})
	if err != nil {
		return &traceerr.KernelRefusedError{Op: op + " wait4", Err: err}
	}
	c.log.Debugf("%s wait4 status=%s", op, waitStatusString(ws))
	if !ws.Stopped() {
		return &traceerr.UnexpectedStopError{Op: op, Status: waitStatusString(ws)}
	}
	if ws.StopSignal() != sys.SIGTRAP {
		return &traceerr.UnexpectedStopError{Op: op, Status: ws.StopSignal().String()}
	}
	return nil
}

// waitStatusString formats a WaitStatus for logs and errors; the x/sys/unix
// type doesn't implement Stringer itself.
func waitStatusString(ws sys.WaitStatus) string {
	switch {
	case ws.Exited():
		return fmt.Sprintf("exit status %d", ws.ExitStatus())
	case ws.Signaled():
		s := fmt.Sprintf("signal: %s", ws.Signal())
		if ws.CoreDump() {
			s += " (core dumped)"
		}
		return s
	case ws.Stopped():
		return fmt.Sprintf("stop signal: %s", ws.StopSignal())
	case ws.Continued():
		return "continued"
	default:
		return fmt.Sprintf("unknown wait status %#x", uint32(ws))
	}
}

// yamaAdvisory reads the kernel's trace-scope sysctl and, if it forbids
// unprivileged cross-process tracing, returns a hint for the operator.
func yamaAdvisory() string {
	data, err := os.ReadFile("/proc/sys/kernel/yama/ptrace_scope")
	if err != nil {
		return ""
	}
	val := strings.TrimSpace(string(data))
	if val == "0" {
		return ""
	}
	return fmt.Sprintf("The likely cause of this failure is that your system has "+
		"kernel.yama.ptrace_scope = %s\nIf you would like to disable Yama, you can run: "+
		"sudo sysctl kernel.yama.ptrace_scope=0", val)
}
