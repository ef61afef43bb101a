// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"bytes"
	"context"
	"sync"
	"testing"
)

// fakeShell records the commands it is asked to run. Commands
// succeed unless run or output say otherwise.
type fakeShell struct {
	run    func(Command) error
	// runContext, if set, takes precedence over run.
	runContext func(context.Context, Command) error
	output func(Command) ([]byte, error)

	mu   sync.Mutex
	cmds []Command
}

func (s *fakeShell) record(cmd Command) {
	s.mu.Lock()
	s.cmds = append(s.cmds, cmd)
	s.mu.Unlock()
}

func (s *fakeShell) Run(ctx context.Context, cmd Command) error {
	s.record(cmd)
	if s.runContext != nil {
		return s.runContext(ctx, cmd)
	}
	if s.run != nil {
		return s.run(cmd)
	}
	return nil
}

func (s *fakeShell) Output(ctx context.Context, cmd Command) ([]byte, error) {
	s.record(cmd)
	if s.output != nil {
		return s.output(cmd)
	}
	return nil, nil
}

func (s *fakeShell) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Command(nil), s.cmds...)
}

func (s *fakeShell) Lines() []string {
	var lines []string
	for _, cmd := range s.Commands() {
		lines = append(lines, cmd.Line)
	}
	return lines
}

func TestQuote(t *testing.T) {
	for _, c := range []struct{ in, want string }{
		{"", "''"},
		{"abc", "abc"},
		{"/tmp/a-b_c.d", "/tmp/a-b_c.d"},
		{"K=V,W", "K=V,W"},
		{"a b", "'a b'"},
		{"it's", `'it'\''s'`},
		{"$HOME", "'$HOME'"},
	} {
		if got, want := Quote(c.in), c.want; got != want {
			t.Errorf("Quote(%q): got %v, want %v", c.in, got, want)
		}
	}
}

func TestBash(t *testing.T) {
	var (
		stdout bytes.Buffer
		sh     = Bash{Stdout: &stdout}
		ctx    = context.Background()
	)
	err := sh.Run(ctx, Command{Line: `echo "$GREETING"`, Env: []string{"GREETING=hello"}})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := stdout.String(), "hello\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	err = sh.Run(ctx, Command{Line: "exit 3"})
	if got, want := ExitCode(err), 3; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	out, err := sh.Output(ctx, Command{Line: "pwd", Dir: "/"})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(out), "/\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
