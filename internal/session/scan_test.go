package session

import (
	"os"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/ptrace-tools/genvtrace/internal/mapscan"
)

const scanTestHelperEnvVar = "GENVTRACE_TEST_HELPER"

func requireScanPtraceable(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("requires linux")
	}
	bs, _ := os.ReadFile("/proc/sys/kernel/yama/ptrace_scope")
	if bs != nil && strings.TrimSpace(string(bs)) != "0" && os.Geteuid() != 0 {
		t.Skip("kernel.yama.ptrace_scope forbids attaching to a non-child-of-tracer process in this environment")
	}
}

func startScanHelper(t *testing.T) *exec.Cmd {
	t.Helper()
	cmd := exec.Command(os.Args[0], "-test.run=^$")
	cmd.Env = append(os.Environ(), scanTestHelperEnvVar+"=1")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start helper: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})
	return cmd
}

// TestResolvePlacementSkipsScanOnCacheHit covers the REPL's two-sequential-
// query property: the first lookup against a pid scans /proc/<pid>/maps
// once for this process and once for the target, but a second lookup
// supplied the first's placement (the shape a placement cache hands back)
// must not scan at all.
func TestResolvePlacementSkipsScanOnCacheHit(t *testing.T) {
	requireScanPtraceable(t)
	cmd := startScanHelper(t)

	var scans int
	orig := findLibraryBase
	findLibraryBase = func(pid int, rule mapscan.Rule) (uintptr, error) {
		scans++
		return orig(pid, rule)
	}
	defer func() { findLibraryBase = orig }()

	_, _, used, err := Lookup(cmd.Process.Pid, "FOO", mapscan.DefaultLibc, nil, nil)
	if err != nil {
		t.Fatalf("first lookup: %v", err)
	}
	if scans != 2 {
		t.Fatalf("first lookup: got %d scans, want 2 (self + target)", scans)
	}

	scans = 0
	if _, _, _, err := Lookup(cmd.Process.Pid, "FOO", mapscan.DefaultLibc, used, nil); err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if scans != 0 {
		t.Fatalf("second lookup with a cached placement: got %d scans, want 0", scans)
	}
}
