package codec

import (
	"math"
	"testing"

	"golang.org/x/arch/x86/x86asm"
)

func decode(t *testing.T, b []byte) x86asm.Inst {
	t.Helper()
	inst, err := x86asm.Decode(b, 64)
	if err != nil {
		t.Fatalf("x86asm.Decode: %v", err)
	}
	return inst
}

func TestSyscallDecodesAsSyscall(t *testing.T) {
	inst := decode(t, Syscall[:])
	if inst.Op != x86asm.SYSCALL {
		t.Fatalf("got %v, want SYSCALL", inst.Op)
	}
	if inst.Len != len(Syscall) {
		t.Fatalf("got length %d, want %d", inst.Len, len(Syscall))
	}
}

func TestJmpRAXDecodesAsIndirectJump(t *testing.T) {
	inst := decode(t, JmpRAX[:])
	if inst.Op != x86asm.JMP {
		t.Fatalf("got %v, want JMP", inst.Op)
	}
	reg, ok := inst.Args[0].(x86asm.Reg)
	if !ok || reg != x86asm.RAX {
		t.Fatalf("got %v, want indirect jump through RAX", inst.Args[0])
	}
}

func TestBreakpointDecodesAsInt3(t *testing.T) {
	// INT3 (0xCC) decodes as the one-byte form of INT with an implicit
	// immediate of 3.
	inst := decode(t, []byte{Breakpoint})
	if inst.Op != x86asm.INT {
		t.Fatalf("got %v, want INT", inst.Op)
	}
	imm, ok := inst.Args[0].(x86asm.Imm)
	if !ok || imm != 3 {
		t.Fatalf("got %v, want immediate 3", inst.Args[0])
	}
}

func TestCallRel32DecodesWithExpectedTarget(t *testing.T) {
	const addr = 0x1000
	const target = 0x2000
	enc, err := CallRel32(addr, target)
	if err != nil {
		t.Fatal(err)
	}
	inst := decode(t, enc[:])
	if inst.Op != x86asm.CALL {
		t.Fatalf("got %v, want CALL", inst.Op)
	}
	rel, ok := inst.Args[0].(x86asm.Rel)
	if !ok {
		t.Fatalf("unexpected operand kind %T", inst.Args[0])
	}
	gotTarget := addr + uintptr(inst.Len) + uintptr(int64(rel))
	if gotTarget != target {
		t.Fatalf("decoded target 0x%x, want 0x%x", gotTarget, target)
	}
}

func TestDisplacementRangeCheck(t *testing.T) {
	if _, err := Displacement(0, math.MaxInt32); err != nil {
		t.Fatalf("expected delta just inside range to succeed: %v", err)
	}
	if _, err := Displacement(0, uintptr(1)<<32+(1<<31)); err == nil {
		t.Fatalf("expected out-of-range delta to fail")
	}
}

func TestCallRel32OutOfRange(t *testing.T) {
	_, err := CallRel32(0, uintptr(1)<<40)
	if err == nil {
		t.Fatalf("expected RangeOverflowError")
	}
}
