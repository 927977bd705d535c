// Package mapscan parses /proc/<pid>/maps to locate the load base of a
// named shared library in a process.
package mapscan

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/ptrace-tools/genvtrace/internal/traceerr"
)

// Rule describes how to recognize one library's mapping line.
type Rule struct {
	// Name is a human-readable label used only in error messages.
	Name string
	// Substring must appear in the mapping's pathname.
	Substring string
	// RejectIfNextByteMatches is a regexp applied to the single character
	// following Substring in the matched line; a match means the
	// substring was only a prefix of a longer library name (e.g.
	// "/libc" matching inside "/libcrypt") and the line is rejected.
	RejectIfNextByteMatches *regexp.Regexp
}

// DefaultLibc is the rule used when no configuration overrides it: find a
// path containing "/libc" whose next character is not a lowercase letter,
// restricted to executable, non-writable mappings.
var DefaultLibc = Rule{
	Name:                    "libc",
	Substring:               "/libc",
	RejectIfNextByteMatches: regexp.MustCompile(`[a-z]`),
}

const textPerms = "r-xp"

// FindLibraryBase scans /proc/<pid>/maps for the first qualifying line and
// returns its starting address.
func FindLibraryBase(pid int, rule Rule) (uintptr, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return 0, &traceerr.KernelRefusedError{Op: "open maps", Err: err}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		addr, ok := matchLine(line, rule)
		if ok {
			return addr, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, &traceerr.KernelRefusedError{Op: "read maps", Err: err}
	}
	return 0, &traceerr.LibraryNotFoundError{Pid: pid, Library: rule.Name}
}

// matchLine reports whether line qualifies under rule, and if so returns
// its starting address.
func matchLine(line string, rule Rule) (uintptr, bool) {
	pos := strings.Index(line, rule.Substring)
	if pos < 0 {
		return 0, false
	}
	if !strings.Contains(line, textPerms) {
		return 0, false
	}
	nextIdx := pos + len(rule.Substring)
	if rule.RejectIfNextByteMatches != nil && nextIdx < len(line) {
		if rule.RejectIfNextByteMatches.MatchString(line[nextIdx : nextIdx+1]) {
			return 0, false
		}
	}
	dash := strings.IndexByte(line, '-')
	if dash < 0 {
		return 0, false
	}
	addr, err := strconv.ParseUint(line[:dash], 16, 64)
	if err != nil {
		return 0, false
	}
	return uintptr(addr), true
}

// PathForBase returns the pathname of the mapping whose starting address
// equals base, or an error if no such mapping exists. Used to locate the
// on-disk file backing a library base address so its ELF symbol table can
// be read.
func PathForBase(pid int, base uintptr) (string, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return "", &traceerr.KernelRefusedError{Op: "open maps", Err: err}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		dash := strings.IndexByte(line, '-')
		if dash < 0 {
			continue
		}
		addr, err := strconv.ParseUint(line[:dash], 16, 64)
		if err != nil {
			continue
		}
		if uintptr(addr) != base {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		return fields[len(fields)-1], nil
	}
	return "", &traceerr.LibraryNotFoundError{Pid: pid, Library: fmt.Sprintf("mapping at 0x%x", base)}
}
