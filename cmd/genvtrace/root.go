package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ptrace-tools/genvtrace/internal/config"
	"github.com/ptrace-tools/genvtrace/internal/session"
	"github.com/ptrace-tools/genvtrace/pkg/logflags"
)

var (
	pid        int
	envVar     string
	logFlag    bool
	logOutput  string
	configPath string
)

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	root := newRootCommand()
	root.SilenceUsage = true
	root.SilenceErrors = true
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "genvtrace",
		Short: "Read an environment variable out of another process's live memory.",
		Long: `genvtrace attaches to a running process, calls its own libc getenv
from inside it, and prints the value it returns. This sees the value the
target's runtime currently has, not the snapshot the kernel exposed at exec.`,
		RunE: runLookup,
	}

	root.PersistentFlags().IntVarP(&pid, "pid", "p", -1, "Process ID of the target.")
	root.PersistentFlags().StringVarP(&envVar, "env", "e", "", "Name of the environment variable to read.")
	root.PersistentFlags().BoolVarP(&logFlag, "log", "", false, "Enable debug logging.")
	root.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", "Comma separated list of components to log: attach,alloc,trampoline,strread,session.")
	root.PersistentFlags().StringVarP(&configPath, "config", "", "", "Path to a YAML file retargeting the library-matching rule.")

	root.AddCommand(newReplCommand())

	return root
}

func runLookup(cmd *cobra.Command, args []string) error {
	if pid < 0 {
		return fmt.Errorf("must specify a pid with -p")
	}
	if envVar == "" {
		return fmt.Errorf("must specify an env var with -e")
	}

	if err := logflags.Setup(logFlag, logOutput); err != nil {
		return err
	}
	rule, err := config.Load(configPath)
	if err != nil {
		return err
	}

	value, found, _, err := session.Lookup(pid, envVar, rule, nil, logflags.SessionLogger())
	if err != nil {
		return err
	}
	if found {
		fmt.Println(value)
	}
	return nil
}
