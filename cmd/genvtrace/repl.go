package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-delve/liner"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/ptrace-tools/genvtrace/internal/config"
	"github.com/ptrace-tools/genvtrace/internal/repl"
	"github.com/ptrace-tools/genvtrace/pkg/logflags"
)

const historyFileName = ".genvtrace_history"

func newReplCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Run repeated -p/-e queries against one or more targets.",
		Long: `repl reads lines of the form "-p <pid> -e <name>" and prints one
result per line, reusing cached library placements across queries against
the same target. "exit" or end of input ends the session.`,
		RunE: runRepl,
	}
}

func runRepl(cmd *cobra.Command, args []string) error {
	if err := logflags.Setup(logFlag, logOutput); err != nil {
		return err
	}
	rule, err := config.Load(configPath)
	if err != nil {
		return err
	}

	loop := repl.NewLoop(rule, logflags.SessionLogger())

	if isatty.IsTerminal(os.Stdin.Fd()) {
		return runInteractive(loop)
	}
	return runBatch(loop, os.Stdin)
}

func runInteractive(loop *repl.Loop) error {
	line := liner.NewLiner()
	defer line.Close()

	historyPath := historyPath()
	if f, err := os.Open(historyPath); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	for {
		input, err := line.Prompt("(genvtrace) ")
		if err == liner.ErrPromptAborted || err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		line.AppendHistory(input)

		result, err := loop.Process(input)
		if errors.Is(err, repl.ErrExit) {
			break
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		if result.Found {
			fmt.Println(result.Value)
		}
	}

	if f, err := os.Create(historyPath); err == nil {
		line.WriteHistory(f)
		f.Close()
	}
	return nil
}

func runBatch(loop *repl.Loop, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		result, err := loop.Process(scanner.Text())
		if errors.Is(err, repl.ErrExit) {
			break
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		if result.Found {
			fmt.Println(result.Value)
		}
	}
	return scanner.Err()
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return historyFileName
	}
	return filepath.Join(home, historyFileName)
}
