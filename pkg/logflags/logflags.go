// Package logflags gates per-component debug logging behind the --log and
// --log-output flags exposed by cmd/genvtrace. Each component of the
// injector gets its own logrus entry, silenced at logrus.PanicLevel unless
// named on --log-output.
package logflags

import (
	"errors"
	"io/ioutil"
	"log"
	"strings"

	"github.com/sirupsen/logrus"
)

var attach = false
var alloc = false
var trampoline = false
var strread = false
var session = false

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return logger
}

// Attach returns true if the process controller should log attach, detach
// and ptrace request/response activity.
func Attach() bool {
	return attach
}

// AttachLogger returns a configured logger for the process controller.
func AttachLogger() *logrus.Entry {
	return makeLogger(attach, logrus.Fields{"layer": "ptrace"})
}

// Alloc returns true if the remote allocator should log the mmap/munmap
// pivot it drives through the target.
func Alloc() bool {
	return alloc
}

// AllocLogger returns a configured logger for the remote allocator.
func AllocLogger() *logrus.Entry {
	return makeLogger(alloc, logrus.Fields{"layer": "alloc"})
}

// Trampoline returns true if the trampoline builder/caller should log the
// blob it installs and the call it drives through it.
func Trampoline() bool {
	return trampoline
}

// TrampolineLogger returns a configured logger for the trampoline package.
func TrampolineLogger() *logrus.Entry {
	return makeLogger(trampoline, logrus.Fields{"layer": "trampoline"})
}

// Strread returns true if the string reader should log each word it peeks.
func Strread() bool {
	return strread
}

// StrreadLogger returns a configured logger for the string reader.
func StrreadLogger() *logrus.Entry {
	return makeLogger(strread, logrus.Fields{"layer": "strread"})
}

// Session returns true if the session orchestrator should log its state
// transitions.
func Session() bool {
	return session
}

// SessionLogger returns a configured logger for the session orchestrator.
func SessionLogger() *logrus.Entry {
	return makeLogger(session, logrus.Fields{"layer": "session"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup enables the components named in logstr (comma separated) when
// logFlag is set. logstr defaults to "session" when logFlag is set but
// logstr is empty.
func Setup(logFlag bool, logstr string) error {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "session"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch strings.TrimSpace(logcmd) {
		case "attach":
			attach = true
		case "alloc":
			alloc = true
		case "trampoline":
			trampoline = true
		case "strread":
			strread = true
		case "session":
			session = true
		}
	}
	return nil
}
