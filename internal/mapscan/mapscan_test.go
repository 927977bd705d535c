package mapscan

import "testing"

const sampleMaps = `55a1b2c00000-55a1b2c01000 r-xp 00000000 08:01 123 /usr/bin/sleep
7f1234500000-7f1234524000 r-xp 00022000 08:01 456 /usr/lib/x86_64-linux-gnu/libcrypt.so.1
7f1234600000-7f123463a000 r-xp 00022000 08:01 789 /usr/lib/x86_64-linux-gnu/libc-2.31.so
7ffd00000000-7ffd00021000 rw-p 00000000 00:00 0 [stack]
`

const cryptOnlyMaps = `7f1234500000-7f1234524000 r-xp 00022000 08:01 456 /usr/lib/x86_64-linux-gnu/libcrypt.so.1
`

// FindLibraryBase always reads /proc/<pid>/maps, which these tests cannot
// fabricate for an arbitrary pid; they instead exercise matchLine directly
// against fixture content, line by line, the same way FindLibraryBase does.

func TestMatchLinePrefersLibcOverLibcrypt(t *testing.T) {
	var got uintptr
	for _, line := range splitLines(sampleMaps) {
		if addr, ok := matchLine(line, DefaultLibc); ok {
			got = addr
			break
		}
	}
	if got != 0x7f1234600000 {
		t.Fatalf("got base 0x%x, want 0x7f1234600000", got)
	}
}

func TestMatchLineRejectsLibcryptPrefixMatch(t *testing.T) {
	for _, line := range splitLines(cryptOnlyMaps) {
		if _, ok := matchLine(line, DefaultLibc); ok {
			t.Fatalf("libcrypt-only maps should not match the libc rule")
		}
	}
}

func TestMatchLineRejectsNonExecutableMapping(t *testing.T) {
	line := "7f1234600000-7f123463a000 rw-p 00022000 08:01 789 /usr/lib/x86_64-linux-gnu/libc-2.31.so"
	if _, ok := matchLine(line, DefaultLibc); ok {
		t.Fatalf("writable libc mapping should not match the text-segment rule")
	}
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return out
}
