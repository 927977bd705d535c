// Command genvtrace reads a named environment variable out of the live
// address space of another running process by briefly hijacking it and
// calling its own libc getenv.
package main

import "os"

func main() {
	os.Exit(Execute())
}
