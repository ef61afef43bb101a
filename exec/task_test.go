// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTaskWaitState(t *testing.T) {
	task := &Task{Name: "worker[0]"}
	donec := make(chan TaskState)
	go func() {
		state, err := task.WaitState(context.Background(), TaskSucceeded)
		if err != nil {
			t.Error(err)
		}
		donec <- state
	}()
	task.Set(TaskRunning)
	task.Set(TaskRetrying)
	task.Set(TaskRunning)
	task.Set(TaskSucceeded)
	if got, want := <-donec, TaskSucceeded; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if err := task.Err(); err != nil {
		t.Errorf("unexpected error %v", err)
	}
}

func TestTaskWaitStateContext(t *testing.T) {
	task := &Task{Name: "worker[0]"}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := task.WaitState(ctx, TaskSucceeded)
	if got, want := err, context.DeadlineExceeded; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestTaskStateTerminal(t *testing.T) {
	for state, terminal := range map[TaskState]bool{
		TaskPending:   false,
		TaskRunning:   false,
		TaskRetrying:  false,
		TaskSucceeded: true,
		TaskFailed:    true,
	} {
		if got, want := state.Terminal(), terminal; got != want {
			t.Errorf("%v: got %v, want %v", state, got, want)
		}
	}
}

func TestTasksWait(t *testing.T) {
	tasks := Tasks{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	errc := make(chan error)
	go func() { errc <- tasks.Wait(context.Background()) }()
	for _, task := range tasks {
		task.Set(TaskSucceeded)
	}
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	if got, want := tasks.Counts()[TaskSucceeded], 3; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestTasksWaitError(t *testing.T) {
	tasks := Tasks{{Name: "a"}, {Name: "b"}}
	expected := errors.New("expected error")
	errc := make(chan error)
	go func() { errc <- tasks.Wait(context.Background()) }()
	tasks[1].Error(expected)
	if got, want := <-errc, expected; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// Failures do not affect sibling tasks.
	if got, want := tasks[0].State(), TaskPending; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
