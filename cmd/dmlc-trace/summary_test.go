// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/grailbio/tracker/internal/trace"
)

func testEvents() []trace.Event {
	task := func(pid int, name, role string, attempt int, ts, dur int64, err string) trace.Event {
		e := trace.Event{
			Pid:  pid,
			Ph:   "X",
			Ts:   ts,
			Dur:  dur,
			Name: name,
			Cat:  "task",
			Args: map[string]interface{}{
				// Decoded JSON numbers are float64.
				"attempt": float64(attempt),
				"role":    role,
			},
		}
		if err != "" {
			e.Args["error"] = err
		}
		return e
	}
	return []trace.Event{
		{Pid: 1, Ph: "M", Name: "process_name", Args: map[string]interface{}{"name": "10.0.0.1"}},
		{Pid: 2, Ph: "M", Name: "process_name", Args: map[string]interface{}{"name": "10.0.0.2"}},
		task(1, "worker[0]@10.0.0.1", "worker", 0, 0, 1000, ""),
		task(2, "worker[1]@10.0.0.2", "worker", 0, 0, 2000, "exit status 1"),
		task(2, "worker[1]@10.0.0.2", "worker", 1, 3000, 3000, ""),
		task(1, "server[0]@10.0.0.1", "server", 0, 500, 1000, "exit status 2"),
		task(1, "server[0]@10.0.0.1", "server", 1, 1500, 1000, "exit status 2"),
	}
}

func TestSummary(t *testing.T) {
	s := newSummary(testEvents())
	if got, want := len(s.attempts), 5; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := s.attempts[0].host, "10.0.0.1"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := len(s.roles), 2; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	worker, server := s.roles[0], s.roles[1]
	if got, want := worker.role, "worker"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := worker.tasks, 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := worker.attempts, 3; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := worker.retried, 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := worker.failed, 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := worker.duration, 6*time.Millisecond; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := worker.q2, 2*time.Millisecond; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := server.failed, 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := len(s.failures), 1; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := s.failures[0].attempt, 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestWriteSummary(t *testing.T) {
	var b bytes.Buffer
	writeSummary(&b, newSummary(testEvents()))
	out := b.String()
	for _, want := range []string{
		"role", "worker", "server",
		"server[0]@10.0.0.1", "exit status 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q does not contain %q", out, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	s := truncatef(strings.Repeat("x", 200))
	if len(s) >= 200 {
		t.Errorf("error not truncated: %d bytes", len(s))
	}
	if !strings.HasPrefix(s, strings.Repeat("x", 80)) {
		t.Errorf("bad prefix: %q", s)
	}
}
