// Package addrspace gives self-space and target-space addresses distinct
// types so that the two can never be added together by accident; only the
// resolve package is allowed to turn one into the other.
package addrspace

import "fmt"

// SelfAddr is an address as it appears in this process's own address space.
type SelfAddr uintptr

// TargetAddr is an address as it appears in the traced process's address
// space.
type TargetAddr uintptr

func (a SelfAddr) String() string   { return fmt.Sprintf("self:0x%x", uintptr(a)) }
func (a TargetAddr) String() string { return fmt.Sprintf("target:0x%x", uintptr(a)) }

// Add returns a+delta, staying in target space.
func (a TargetAddr) Add(delta uintptr) TargetAddr { return TargetAddr(uintptr(a) + delta) }

// Sub returns the distance between two self-space addresses.
func (a SelfAddr) Sub(b SelfAddr) int64 { return int64(a) - int64(b) }
