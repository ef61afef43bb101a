// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/tracker"
	"github.com/grailbio/tracker/environ"
)

// Launcher is the interface implemented by cluster backends. A
// launcher turns a job and its resolved environments into launched
// tasks.
//
// Launch is fire-and-forget: it returns once every task has been
// initiated (a goroutine started, a remote command dispatched, or a
// scheduler invocation started), not when tasks complete. The
// returned tasks are used by the caller to wait for completion.
// Launch must not start any task if it returns an error.
type Launcher interface {
	// Name returns the cluster name exported to tasks in
	// DMLC_JOB_CLUSTER.
	Name() string
	// Mode returns the launcher's default environment mode.
	Mode() environ.Mode
	// Launch launches the job's tasks.
	Launch(ctx context.Context, sess *Session, job tracker.Job, envs environ.RoleEnvs) (Tasks, error)
}

// invoke runs a single scheduler invocation for the task. Scheduler
// failures are not retried: the scheduler owns task placement and
// recovery, and its errors are recorded as-is.
func (s *Session) invoke(ctx context.Context, task *Task, cmd Command) {
	task.Lock()
	task.command = cmd.Line
	task.state = TaskRunning
	task.Broadcast()
	task.Unlock()
	log.Printf("%s: %s", task.Name, cmd.Line)
	task.Status.Print(cmd.Line)
	if err := s.shell.Run(ctx, cmd); err != nil {
		log.Error.Printf("%s: %v", task.Name, err)
		task.Error(err)
	} else {
		task.Set(TaskSucceeded)
	}
	task.Status.Done()
}

// ignoreRoleScopes warns when role-scoped overrides are configured
// for a launcher that submits all roles in one invocation and thus
// cannot apply them.
func ignoreRoleScopes(sess *Session, name string) {
	if len(sess.scopes.Worker) > 0 || len(sess.scopes.Server) > 0 {
		log.Printf("%s: role-scoped environment overrides are not applied by aggregate submissions", name)
	}
}

// fileExists tells whether path names an existing file.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// joinArgs returns the command line for args. Arguments are joined
// as-is, so that they may carry shell syntax.
func joinArgs(args []string) string {
	return strings.Join(args, " ")
}

// sortedKeys returns the keys of m in sorted order.
func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
