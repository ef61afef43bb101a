// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/grailbio/tracker/internal/trace"
)

// A tracer records task attempts in the Chrome tracing format. Each
// host is represented as a Chrome "process" (pid 0 collects tasks
// without a host), and each task is a "thread" keyed by its global
// index. Every attempt becomes a complete (X) event.
//
// Attempts are recorded when they finish, which is not the order in
// which they started. Events therefore hold absolute timestamps, and
// offsets from the earliest start are computed when the trace is
// marshaled.
type tracer struct {
	mu sync.Mutex

	events []trace.Event
	pids   map[string]int
}

func newTracer() *tracer {
	return &tracer{pids: make(map[string]int)}
}

// Event records an attempt of the task that started at start and
// finished now with the provided error.
func (t *tracer) Event(task *Task, attempt int, start time.Time, err error) {
	if t == nil {
		return
	}
	end := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	event := trace.Event{
		Tid:  task.Index + 1,
		Ts:   start.UnixNano() / 1e3,
		Ph:   "X",
		Dur:  end.Sub(start).Nanoseconds() / 1e3,
		Name: task.Name,
		Cat:  "task",
		Args: map[string]interface{}{
			"attempt": attempt,
			"role":    task.Role.String(),
		},
	}
	if event.Dur == 0 {
		event.Dur = 1
	}
	if err != nil {
		event.Args["error"] = err.Error()
	}
	if addr := task.Host.Addr; addr != "" {
		pid, ok := t.pids[addr]
		if !ok {
			pid = len(t.pids) + 1
			t.pids[addr] = pid
			// Attach "process" name metadata so we can identify where a task is running.
			t.events = append(t.events, trace.Event{
				Pid:  pid,
				Ph:   "M",
				Name: "process_name",
				Args: map[string]interface{}{"name": addr},
			})
		}
		event.Pid = pid
	}
	t.events = append(t.events, event)
}

// Marshal writes the trace captured by t into the writer w in
// Chrome's event tracing format. Timestamps are offsets from the
// earliest recorded attempt.
func (t *tracer) Marshal(w io.Writer) error {
	t.mu.Lock()
	tr := trace.T{Events: make([]trace.Event, len(t.events))}
	copy(tr.Events, t.events)
	t.mu.Unlock()
	var (
		origin int64
		first  = true
	)
	for _, event := range tr.Events {
		if event.Ph == "X" && (first || event.Ts < origin) {
			origin, first = event.Ts, false
		}
	}
	for i := range tr.Events {
		if tr.Events[i].Ph == "X" {
			tr.Events[i].Ts -= origin
		}
	}
	return tr.Encode(w)
}

// WriteFile writes the trace to the named file.
func (t *tracer) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := t.Marshal(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
