// Package session sequences the memory-map scanner, symbol resolver,
// remote allocator, trampoline builder and string reader into the full
// attach/inject/restore protocol, with strict restore-on-failure.
package session

import (
	"os"

	"github.com/sirupsen/logrus"
	sys "golang.org/x/sys/unix"

	"github.com/ptrace-tools/genvtrace/internal/addrspace"
	"github.com/ptrace-tools/genvtrace/internal/alloc"
	"github.com/ptrace-tools/genvtrace/internal/mapscan"
	"github.com/ptrace-tools/genvtrace/internal/ptrace"
	"github.com/ptrace-tools/genvtrace/internal/resolve"
	"github.com/ptrace-tools/genvtrace/internal/strread"
	"github.com/ptrace-tools/genvtrace/internal/trampoline"
	"github.com/ptrace-tools/genvtrace/pkg/logflags"
)

// lookupSymbol is the libc routine THE CORE calls in the target: the
// runtime environment-lookup function behind every C program's getenv(3).
const lookupSymbol = "getenv"

// State names a position in the orchestrator's forward-only state machine.
type State string

const (
	Initial              State = "Initial"
	Attached             State = "Attached"
	Stopped              State = "Stopped"
	AllocProbeInstalled  State = "AllocProbeInstalled"
	ScratchMapped        State = "ScratchMapped"
	PivotedToScratch     State = "PivotedToScratch"
	BlobInstalled        State = "BlobInstalled"
	BreakpointHit        State = "BreakpointHit"
	ResultCaptured       State = "ResultCaptured"
	PivotRestored        State = "PivotRestored"
	ScratchUnmapped      State = "ScratchUnmapped"
	OriginalTextRestored State = "OriginalTextRestored"
	OriginalRegsRestored State = "OriginalRegsRestored"
	Detached             State = "Detached"
	FailedCleaned        State = "FailedCleaned"
)

// Placement is a library's load base in both this process and a target,
// the unit the REPL's placement cache remembers across queries.
type Placement struct {
	SelfBase   addrspace.SelfAddr
	TargetBase addrspace.TargetAddr
}

// Lookup attaches to pid, reads name out of the target's own environment
// by calling its getenv, and restores the target exactly as found.
//
// placement, when non-nil, is reused instead of rescanning the target's
// memory map; it is still sanity-checked (one word is peeked at its
// target base) before being trusted, since a stale base would otherwise
// silently corrupt the resolved symbol address. The placement actually
// used (freshly scanned or reused) is returned on success, and when only
// teardown failed, so the caller can update its cache; any earlier failure
// returns a nil placement.
//
// found reports whether the variable was set in the target; when it is
// not, value is empty and err is nil.
func Lookup(pid int, name string, rule mapscan.Rule, placement *Placement, log *logrus.Entry) (value string, found bool, used *Placement, err error) {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	s := &session{pid: pid, rule: rule, log: log, state: Initial}
	return s.run(name, placement)
}

type session struct {
	pid   int
	rule  mapscan.Rule
	log   *logrus.Entry
	state State

	ctl *ptrace.Controller

	origRegs    sys.PtraceRegs
	haveOrigReg bool

	pivot       addrspace.TargetAddr
	pivotWord   [8]byte
	textMutated bool

	scratch      addrspace.TargetAddr
	scratchBytes bool
}

func (s *session) goTo(st State) {
	s.state = st
	s.log.Debugf("state -> %s", st)
}

func (s *session) run(name string, placement *Placement) (string, bool, *Placement, error) {
	ctl, err := ptrace.Attach(s.pid, logflags.AttachLogger())
	if err != nil {
		return "", false, nil, err
	}
	s.ctl = ctl
	s.goTo(Attached)

	origRegs, err := ctl.GetRegs()
	if err != nil {
		return s.fail(err)
	}
	s.origRegs = origRegs
	s.haveOrigReg = true
	s.pivot = addrspace.TargetAddr(origRegs.Rip)
	s.goTo(Stopped)

	used, err := s.resolvePlacement(placement)
	if err != nil {
		return s.fail(err)
	}

	selfSymbol, err := resolve.SelfSymbol(used.SelfBase, lookupSymbol)
	if err != nil {
		return s.fail(err)
	}
	target := resolve.Symbol(used.SelfBase, selfSymbol, used.TargetBase)
	s.log.Debugf("resolved %s to %s", lookupSymbol, target)

	scratch, origWord, mutated, err := alloc.Map(ctl, s.pivot, logflags.AllocLogger())
	if mutated {
		// The stub is written as soon as PokeRegion succeeds, before mmap
		// itself can fail; record the undo bytes regardless of err so
		// teardown restores them even on a failed Map.
		s.pivotWord = origWord
		s.textMutated = true
	}
	if err != nil {
		return s.fail(err)
	}
	s.scratch = scratch
	s.scratchBytes = true
	s.goTo(AllocProbeInstalled)
	s.goTo(ScratchMapped)
	s.goTo(PivotedToScratch)

	blob, err := trampoline.Build(scratch, target, name)
	if err != nil {
		return s.fail(err)
	}
	s.goTo(BlobInstalled)

	rax, err := trampoline.Call(ctl, scratch, blob, logflags.TrampolineLogger())
	if err != nil {
		return s.fail(err)
	}
	s.goTo(BreakpointHit)

	var value string
	found := rax != 0
	if found {
		value, err = strread.ReadCString(ctl, addrspace.TargetAddr(uintptr(rax)), logflags.StrreadLogger())
		if err != nil {
			return s.fail(err)
		}
	}
	s.goTo(ResultCaptured)

	if err := s.teardown(); err != nil {
		return "", false, used, err
	}

	return value, found, used, nil
}

// findLibraryBase is mapscan.FindLibraryBase, indirected through a package
// variable so white-box tests can substitute a counting fake and verify how
// many times the memory map is actually scanned.
var findLibraryBase = mapscan.FindLibraryBase

// resolvePlacement returns a Placement to use, either the supplied cached
// one (after a sanity peek) or a freshly scanned one.
func (s *session) resolvePlacement(placement *Placement) (*Placement, error) {
	if placement != nil {
		if _, err := s.ctl.PeekWord(uintptr(placement.TargetBase)); err == nil {
			s.log.Debug("reusing cached placement")
			return placement, nil
		}
		s.log.Debug("cached placement failed sanity check, rescanning")
	}

	selfBaseRaw, err := findLibraryBase(os.Getpid(), s.rule)
	if err != nil {
		return nil, err
	}
	targetBaseRaw, err := findLibraryBase(s.pid, s.rule)
	if err != nil {
		return nil, err
	}
	p := &Placement{
		SelfBase:   addrspace.SelfAddr(selfBaseRaw),
		TargetBase: addrspace.TargetAddr(targetBaseRaw),
	}
	return p, nil
}

// teardown restores the pivot, unmaps the scratch page, restores the
// original text and registers, and detaches, in that order, tolerating
// and reporting only the first error encountered while still attempting
// every remaining step. A second call after a completed teardown is a
// no-op.
func (s *session) teardown() error {
	if s.ctl == nil {
		return nil
	}
	var first error
	record := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if s.scratchBytes {
		record(alloc.Unmap(s.ctl, s.pivot, s.scratch, logflags.AllocLogger()))
		s.scratchBytes = false
		s.goTo(PivotRestored)
		s.goTo(ScratchUnmapped)
	}

	if s.textMutated {
		record(s.ctl.PokeRegion(uintptr(s.pivot), s.pivotWord[:], nil))
		s.textMutated = false
		s.goTo(OriginalTextRestored)
	}

	if s.haveOrigReg {
		record(s.ctl.SetRegs(&s.origRegs))
		s.haveOrigReg = false
		s.goTo(OriginalRegsRestored)
	}

	record(s.ctl.Detach())
	s.ctl = nil
	if first != nil {
		s.goTo(FailedCleaned)
	} else {
		s.goTo(Detached)
	}
	return first
}

// fail runs best-effort cleanup and returns the original error, not
// whatever the cleanup path itself produced: the caller needs to know why
// the session failed, not that a subsequent restore step also failed.
func (s *session) fail(cause error) (string, bool, *Placement, error) {
	s.log.WithError(cause).Debug("session failing, cleaning up")
	if s.ctl != nil {
		_ = s.teardown()
	}
	return "", false, nil, cause
}
