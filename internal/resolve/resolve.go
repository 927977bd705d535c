// Package resolve derives a symbol's address in a traced process from its
// address in this one, applying the ASLR-relative offset between the two
// processes' copies of the same shared library.
package resolve

import "github.com/ptrace-tools/genvtrace/internal/addrspace"

// Symbol computes target_base + (selfSymbol - selfBase): the target-space
// address of a symbol given its self-space address and both processes'
// library load bases. Correctness requires this process and the target to
// have loaded the same on-disk library; that is a documented prerequisite,
// not something this function can verify.
func Symbol(selfBase, selfSymbol addrspace.SelfAddr, targetBase addrspace.TargetAddr) addrspace.TargetAddr {
	delta := selfSymbol.Sub(selfBase)
	return targetBase.Add(uintptr(delta))
}
