// Package repl drives repeated environment-variable queries against one or
// more targets without re-invoking the process per lookup, reusing a small
// placement cache across lines.
package repl

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cosiner/argv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/ptrace-tools/genvtrace/internal/mapscan"
	"github.com/ptrace-tools/genvtrace/internal/session"
)

// ErrExit is returned by Process when the line was "exit".
var ErrExit = errors.New("exit")

// Result is the outcome of one processed line.
type Result struct {
	Value string
	Found bool
}

// Loop holds the state shared across lines of one REPL invocation: the
// active library rule and the placement cache amortizing repeated queries
// against the same pid.
type Loop struct {
	Rule  mapscan.Rule
	Log   *logrus.Entry
	cache *session.PlacementCache
}

// NewLoop returns a Loop ready to process lines.
func NewLoop(rule mapscan.Rule, log *logrus.Entry) *Loop {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &Loop{Rule: rule, Log: log, cache: session.NewPlacementCache()}
}

// Process tokenizes line the same way a shell would, parses the tokens
// against the "-p/-e" flag grammar the root command uses, and runs one
// session. An empty line is a no-op. "exit" returns ErrExit.
func (l *Loop) Process(line string) (Result, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Result{}, nil
	}
	if trimmed == "exit" {
		return Result{}, ErrExit
	}

	pid, name, err := parseLine(trimmed)
	if err != nil {
		return Result{}, err
	}

	placement, hadPlacement := l.cache.Get(pid, l.Rule.Name)
	var placementArg *session.Placement
	if hadPlacement {
		placementArg = &placement
	}

	value, found, used, err := session.Lookup(pid, name, l.Rule, placementArg, l.Log)
	if err != nil {
		l.cache.Evict(pid, l.Rule.Name)
		return Result{}, err
	}
	if used != nil {
		l.cache.Put(pid, l.Rule.Name, *used)
	}
	return Result{Value: value, Found: found}, nil
}

// parseLine tokenizes and flag-parses one REPL line into a (pid, name)
// query, the same grammar the root command's -p/-e flags accept.
func parseLine(line string) (pid int, name string, err error) {
	groups, err := argv.Argv(line, func(s string) (string, error) {
		return "", fmt.Errorf("backtick not supported in %q", s)
	}, nil)
	if err != nil {
		return 0, "", err
	}
	if len(groups) != 1 {
		return 0, "", fmt.Errorf("illegal line %q", line)
	}
	tokens := groups[0]

	fs := pflag.NewFlagSet("repl-line", pflag.ContinueOnError)
	fs.SetOutput(noopWriter{})
	pidFlag := fs.IntP("pid", "p", -1, "")
	envFlag := fs.StringP("env", "e", "", "")
	if err := fs.Parse(tokens); err != nil {
		return 0, "", err
	}
	if *pidFlag < 0 {
		return 0, "", fmt.Errorf("must specify a pid with -p")
	}
	if *envFlag == "" {
		return 0, "", fmt.Errorf("must specify an env var with -e")
	}
	return *pidFlag, *envFlag, nil
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
