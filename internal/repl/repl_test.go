package repl

import (
	"testing"

	"github.com/ptrace-tools/genvtrace/internal/mapscan"
)

func TestParseLineRejectsMissingEnv(t *testing.T) {
	if _, _, err := parseLine("-p 1234"); err == nil {
		t.Fatalf("expected error for missing -e")
	}
}

func TestParseLineRejectsMissingPid(t *testing.T) {
	if _, _, err := parseLine("-e FOO"); err == nil {
		t.Fatalf("expected error for missing -p")
	}
}

func TestParseLineParsesBothFlags(t *testing.T) {
	pid, name, err := parseLine("-p 1234 -e FOO")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pid != 1234 || name != "FOO" {
		t.Fatalf("got (%d, %q), want (1234, \"FOO\")", pid, name)
	}
}

func TestProcessEmptyLineIsNoop(t *testing.T) {
	l := NewLoop(mapscan.DefaultLibc, nil)
	res, err := l.Process("   ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Found || res.Value != "" {
		t.Fatalf("expected zero-value result for an empty line, got %+v", res)
	}
}

func TestProcessExitReturnsErrExit(t *testing.T) {
	l := NewLoop(mapscan.DefaultLibc, nil)
	if _, err := l.Process("exit"); err != ErrExit {
		t.Fatalf("got %v, want ErrExit", err)
	}
}
