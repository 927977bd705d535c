package logflags

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func resetAll() {
	attach = false
	alloc = false
	trampoline = false
	strread = false
	session = false
}

func TestSetupWithoutLogLeavesComponentsDisabled(t *testing.T) {
	resetAll()
	if err := Setup(false, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if Attach() || Alloc() || Trampoline() || Strread() || Session() {
		t.Fatalf("expected all components disabled")
	}
}

func TestSetupWithoutLogButWithOutputIsError(t *testing.T) {
	resetAll()
	if err := Setup(false, "session"); err == nil {
		t.Fatalf("expected error when --log-output is set without --log")
	}
}

func TestSetupWithLogAndEmptyOutputDefaultsToSession(t *testing.T) {
	resetAll()
	if err := Setup(true, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !Session() {
		t.Fatalf("expected session logging enabled by default")
	}
	if Attach() || Alloc() || Trampoline() || Strread() {
		t.Fatalf("expected only session enabled")
	}
}

func TestSetupEnablesNamedComponentsOnly(t *testing.T) {
	resetAll()
	if err := Setup(true, "attach, strread"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !Attach() || !Strread() {
		t.Fatalf("expected attach and strread enabled")
	}
	if Alloc() || Trampoline() || Session() {
		t.Fatalf("expected alloc, trampoline and session disabled")
	}
}

func TestMakeLoggerLevelFollowsFlag(t *testing.T) {
	enabled := makeLogger(true, logrus.Fields{"layer": "test"})
	if enabled.Logger.Level != logrus.DebugLevel {
		t.Fatalf("expected debug level when flag is set, got %v", enabled.Logger.Level)
	}

	disabled := makeLogger(false, logrus.Fields{"layer": "test"})
	if disabled.Logger.Level != logrus.PanicLevel {
		t.Fatalf("expected panic level when flag is unset, got %v", disabled.Logger.Level)
	}
}
