// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/tracker"
	"github.com/grailbio/tracker/environ"
)

// MaxRetryToken is the command-line token prefix with which a job
// command declares its own retry budget, e.g., "DMLC_MAX_RETRY=3". A
// token in the command overrides the session's configured budget.
const MaxRetryToken = "DMLC_MAX_RETRY="

// attemptToken is the command-line token through which a command
// observes its attempt number. It is rewritten on every retry.
const attemptToken = environ.NumAttempt + "="

// maxAttempts returns the retry budget declared by args, or def if
// args do not declare one.
func maxAttempts(args []string, def int) int {
	n := def
	for _, arg := range args {
		if !strings.HasPrefix(arg, MaxRetryToken) {
			continue
		}
		v, err := strconv.Atoi(arg[len(MaxRetryToken):])
		if err != nil || v < 0 {
			log.Printf("ignoring malformed retry token %q", arg)
			continue
		}
		n = v
	}
	return n
}

// withAttempt returns a copy of args in which attempt tokens are
// advanced by the provided attempt number.
func withAttempt(args []string, attempt int) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = arg
		if !strings.HasPrefix(arg, attemptToken) {
			continue
		}
		base, err := strconv.Atoi(arg[len(attemptToken):])
		if err != nil {
			continue
		}
		out[i] = attemptToken + strconv.Itoa(base+attempt)
	}
	return out
}

// ExhaustedError is the error recorded by a task whose command kept
// failing after all of its retries were consumed. It is fatal to the
// submission.
type ExhaustedError struct {
	// Name and Identity identify the failed task.
	Name     string
	Identity tracker.Identity
	// Command is the command line of the last attempt.
	Command string
	// Executions is the total number of times the command was run.
	Executions int
	// Err is the error returned by the last execution.
	Err error
}

// Error implements error.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("task %s (%s): nonzero exit after %d executions: %s: %v",
		e.Name, e.Identity, e.Executions, e.Command, e.Err)
}

// run executes the task's command until it succeeds or exhausts its
// retries. Build materializes the command for an attempt (0-based).
// Failed attempts that are retried are logged but not otherwise
// surfaced. Run is the only writer of the task's retry state.
func (s *Session) run(ctx context.Context, task *Task, build func(attempt int) Command) {
	for {
		task.Lock()
		attempt := task.retries
		cmd := build(attempt)
		task.command = cmd.Line
		task.state = TaskRunning
		task.Broadcast()
		task.Unlock()
		task.Status.Printf("running attempt %d", attempt)

		start := time.Now()
		s.stats.Int(statAttempts).Add(1)
		err := s.shell.Run(ctx, cmd)
		s.tracer.Event(task, attempt, start, err)
		if err == nil {
			log.Debug.Printf("%s: exited with 0", task.Name)
			task.Set(TaskSucceeded)
			task.Status.Done()
			return
		}
		if ctx.Err() != nil {
			task.Error(ctx.Err())
			task.Status.Done()
			return
		}

		task.Lock()
		if task.retries >= task.MaxAttempts {
			task.state = TaskFailed
			task.err = &ExhaustedError{
				Name:       task.Name,
				Identity:   task.Identity,
				Command:    cmd.Line,
				Executions: task.retries + 1,
				Err:        err,
			}
			task.Broadcast()
			task.Unlock()
			s.stats.Int(statExhausted).Add(1)
			log.Error.Printf("%s: giving up: %v", task.Name, task.err)
			task.Status.Print(task.err.Error())
			task.Status.Done()
			return
		}
		s.stats.Int(statRetries).Add(1)
		task.retries++
		task.state = TaskRetrying
		task.Broadcast()
		task.Unlock()
		log.Debug.Printf("%s: attempt %d exited with %d: %v; retrying", task.Name, attempt, ExitCode(err), err)
	}
}
