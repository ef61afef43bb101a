// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/status"
	"github.com/grailbio/tracker"
	"golang.org/x/sync/errgroup"
)

// TaskState represents the runtime state of a Task.
type TaskState int

const (
	// TaskPending is the initial state of a task: it has been created
	// by a launcher but its command has not yet been started.
	TaskPending TaskState = iota
	// TaskRunning is the state of a task whose command is running.
	TaskRunning
	// TaskRetrying indicates that the task's last attempt failed and
	// that it is about to be run again.
	TaskRetrying

	// TaskSucceeded indicates that the task's command exited
	// successfully.
	//
	// TaskSucceeded and all larger TaskState values are terminal.
	TaskSucceeded
	// TaskFailed indicates that the task failed and will not be
	// retried.
	TaskFailed

	maxState
)

var states = [...]string{
	TaskPending:   "PENDING",
	TaskRunning:   "RUNNING",
	TaskRetrying:  "RETRYING",
	TaskSucceeded: "SUCCEEDED",
	TaskFailed:    "FAILED",
}

// String returns the task's state as an upper-case string.
func (s TaskState) String() string {
	return states[s]
}

// Terminal tells whether s is a terminal state.
func (s TaskState) Terminal() bool {
	return s >= TaskSucceeded
}

// A Task is a unit of work initiated by a launcher: a single job task
// for backends that manage tasks locally (local, ssh), or a single
// scheduler invocation for backends that delegate task placement
// (mpi, sge, yarn, slurm).
//
// Tasks are run by exactly one goroutine, which owns the task's retry
// state. The state is published through the task's mutex, and changes
// are broadcast to waiters.
type Task struct {
	// Identity is the identity of the job task. It is the zero value
	// for scheduler invocations.
	tracker.Identity
	// Name names the task in logs and status displays.
	Name string
	// MaxAttempts is the number of times a failed command is retried
	// before the task fails.
	MaxAttempts int

	// Status is the status object to which task progress is reported.
	Status *status.Task

	sync.Mutex
	waitc chan struct{}

	// state is the task's state, protected by the task's lock.
	state TaskState
	// retries is the number of retries consumed so far.
	retries int
	// command is the command line of the current (or last) attempt.
	command string
	// err is defined when state == TaskFailed.
	err error
}

// String returns a short, human-readable string describing the
// task's state.
func (t *Task) String() string {
	// State and err are read without holding the task's lock so that
	// String is safe to call while the lock is held.
	var b bytes.Buffer
	fmt.Fprintf(&b, "task %s %s", t.Name, t.state)
	if t.retries > 0 {
		fmt.Fprintf(&b, " (retry %d/%d)", t.retries, t.MaxAttempts)
	}
	if t.err != nil {
		fmt.Fprintf(&b, ": %v", t.err)
	}
	return b.String()
}

// Set sets the task's state to the provided state and notifies
// any waiters.
func (t *Task) Set(state TaskState) {
	t.Lock()
	t.state = state
	t.Broadcast()
	t.Unlock()
}

// Error sets the task's state to TaskFailed and its error to the
// provided error. Waiters are notified.
func (t *Task) Error(err error) {
	t.Lock()
	t.state = TaskFailed
	t.err = err
	t.Status.Print(err.Error())
	t.Broadcast()
	t.Unlock()
}

// Err returns the task's error if it has failed.
func (t *Task) Err() error {
	t.Lock()
	defer t.Unlock()
	if t.state == TaskFailed {
		if t.err == nil {
			panic("TaskFailed without an err")
		}
		return t.err
	}
	return nil
}

// State returns the task's current state.
func (t *Task) State() TaskState {
	t.Lock()
	state := t.state
	t.Unlock()
	return state
}

// Retries returns the number of retries the task has consumed.
func (t *Task) Retries() int {
	t.Lock()
	defer t.Unlock()
	return t.retries
}

// Command returns the command line of the task's current or most
// recent attempt.
func (t *Task) Command() string {
	t.Lock()
	defer t.Unlock()
	return t.command
}

// Broadcast notifies waiters of a state change. Broadcast must only
// be called while the task's lock is held.
func (t *Task) Broadcast() {
	if t.waitc != nil {
		close(t.waitc)
		t.waitc = nil
	}
}

// Wait returns after the next call to Broadcast, or if the context
// is complete. The task's lock must be held when calling Wait.
func (t *Task) Wait(ctx context.Context) error {
	if t.waitc == nil {
		t.waitc = make(chan struct{})
	}
	waitc := t.waitc
	t.Unlock()
	var err error
	select {
	case <-waitc:
	case <-ctx.Done():
		err = ctx.Err()
	}
	t.Lock()
	return err
}

// WaitState returns when the task's state is at least the provided state,
// or else when the context is done.
func (t *Task) WaitState(ctx context.Context, state TaskState) (TaskState, error) {
	t.Lock()
	defer t.Unlock()
	var err error
	for t.state < state && err == nil {
		err = t.Wait(ctx)
	}
	return t.state, err
}

// Tasks is a set of tasks initiated by a submission.
type Tasks []*Task

// Wait blocks until all tasks have completed successfully, or until
// the first task fails, in which case its error is returned. Wait does
// not stop the remaining tasks.
func (ts Tasks) Wait(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, task := range ts {
		task := task
		g.Go(func() error {
			if _, err := task.WaitState(ctx, TaskSucceeded); err != nil {
				return err
			}
			return task.Err()
		})
	}
	return g.Wait()
}

// Counts returns the number of tasks in each state.
func (ts Tasks) Counts() (counts [maxState]int) {
	for _, task := range ts {
		counts[task.State()]++
	}
	return
}
