package resolve

import (
	"debug/elf"
	"fmt"
	"os"

	"github.com/ptrace-tools/genvtrace/internal/addrspace"
	"github.com/ptrace-tools/genvtrace/internal/mapscan"
	"github.com/ptrace-tools/genvtrace/internal/traceerr"
)

// SelfSymbol locates symbolName inside the library mapped at selfBase in
// this process's own address space. It does so by reading the on-disk ELF
// image backing that mapping and looking the symbol up in its dynamic
// symbol table, rather than by linking against the library directly: a
// pure Go binary has no compile-time reference to take the address of a C
// library symbol, so the address is derived from the ELF metadata instead.
func SelfSymbol(selfBase addrspace.SelfAddr, symbolName string) (addrspace.SelfAddr, error) {
	path, err := mapscan.PathForBase(os.Getpid(), uintptr(selfBase))
	if err != nil {
		return 0, err
	}

	f, err := elf.Open(path)
	if err != nil {
		return 0, &traceerr.KernelRefusedError{Op: "elf.Open " + path, Err: err}
	}
	defer f.Close()

	loadOffset, err := execLoadBias(f)
	if err != nil {
		return 0, err
	}

	syms, err := f.DynamicSymbols()
	if err != nil {
		return 0, &traceerr.KernelRefusedError{Op: "read dynamic symbols of " + path, Err: err}
	}
	for _, sym := range syms {
		if sym.Name == symbolName {
			return addrspace.SelfAddr(uintptr(selfBase) + uintptr(sym.Value-loadOffset)), nil
		}
	}
	return 0, &traceerr.LibraryNotFoundError{Pid: os.Getpid(), Library: fmt.Sprintf("symbol %q in %s", symbolName, path)}
}

// execLoadBias returns the page-aligned virtual address of the first
// executable PT_LOAD segment. The scanner's base is the start of that
// segment's r-xp mapping, so this is the constant that must be subtracted
// from a symbol's recorded value to get its offset from that base.
func execLoadBias(f *elf.File) (uint64, error) {
	for _, prog := range f.Progs {
		if prog.Type == elf.PT_LOAD && prog.Flags&elf.PF_X != 0 {
			return prog.Vaddr &^ 0xfff, nil
		}
	}
	return 0, &traceerr.KernelRefusedError{Op: "locate PT_LOAD segment", Err: fmt.Errorf("no executable loadable segment")}
}
