// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"io"
	"os"
	osexec "os/exec"
	"strings"
)

// A Command is a shell command line together with the environment
// and directory in which it is run.
type Command struct {
	// Line is the command line, interpreted by bash.
	Line string
	// Env is the complete environment of the command, as a list of
	// key=value strings. If Env is nil, the command inherits the
	// environment of the current process.
	Env []string
	// Dir is the command's working directory. If empty, the command
	// runs in the current directory.
	Dir string
}

// Shell runs commands as blocking child processes. Shells must be
// safe for concurrent use.
type Shell interface {
	// Run runs the command to completion. Run returns a nil error
	// only if the command exits successfully.
	Run(ctx context.Context, cmd Command) error
	// Output runs the command to completion and returns its combined
	// standard output and standard error.
	Output(ctx context.Context, cmd Command) ([]byte, error)
}

// Bash is a Shell that runs command lines with bash, forwarding their
// output to Stdout and Stderr.
type Bash struct {
	// Stdout and Stderr receive the output of commands run by Run.
	// They default to os.Stdout and os.Stderr.
	Stdout, Stderr io.Writer
}

func (b Bash) command(ctx context.Context, cmd Command) *osexec.Cmd {
	c := osexec.CommandContext(ctx, "bash", "-c", cmd.Line)
	c.Env = cmd.Env
	c.Dir = cmd.Dir
	return c
}

// Run implements Shell.
func (b Bash) Run(ctx context.Context, cmd Command) error {
	c := b.command(ctx, cmd)
	c.Stdout, c.Stderr = b.Stdout, b.Stderr
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}
	return c.Run()
}

// Output implements Shell.
func (b Bash) Output(ctx context.Context, cmd Command) ([]byte, error) {
	return b.command(ctx, cmd).CombinedOutput()
}

// ExitCode returns the exit code carried by an error returned from
// Shell.Run, or -1 if the error does not carry one.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if exit, ok := err.(*osexec.ExitError); ok {
		return exit.ExitCode()
	}
	return -1
}

// Quote quotes s so that it is interpreted as a single word by a POSIX
// shell.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, needsQuote) < 0 {
		return s
	}
	return "'" + strings.Replace(s, "'", `'\''`, -1) + "'"
}

func needsQuote(r rune) bool {
	switch {
	case 'a' <= r && r <= 'z', 'A' <= r && r <= 'Z', '0' <= r && r <= '9':
		return false
	}
	return !strings.ContainsRune("@%+=:,./-_", r)
}
