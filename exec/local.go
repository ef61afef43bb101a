// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/tracker"
	"github.com/grailbio/tracker/environ"
)

// localLauncher runs tasks as child processes of the current
// process, one goroutine per task.
type localLauncher struct{}

func (localLauncher) Name() string { return "local" }

func (localLauncher) Mode() environ.Mode { return environ.Inherit }

func (l localLauncher) Launch(ctx context.Context, sess *Session, job tracker.Job, envs environ.RoleEnvs) (Tasks, error) {
	args := localCommand(job.Command)
	max := maxAttempts(job.Command, sess.maxRetry)
	log.Debug.Printf("local: %d retries per task", max)
	tasks := make(Tasks, job.NumTask())
	for i := range tasks {
		var (
			id   = tracker.Assign(i, job.NumWorker, nil)
			env  = envs.Role(id.Role)
			task = sess.newTask(id.String(), id, max)
		)
		tasks[i] = task
		go func() {
			if sess.limiter != nil {
				if err := sess.limiter.Acquire(ctx, 1); err != nil {
					task.Error(err)
					task.Status.Done()
					return
				}
				defer sess.limiter.Release(1)
			}
			sess.run(ctx, task, func(attempt int) Command {
				return Command{
					Line: joinArgs(withAttempt(args, attempt)),
					Env:  env.With(environ.Identity(id, l.Name(), attempt)).Environ(),
				}
			})
		}()
	}
	return tasks, nil
}

// localCommand returns args with a bare program name that refers to a
// file in the current directory made explicitly relative, so that
// bash does not look it up in PATH.
func localCommand(args []string) []string {
	if len(args) == 0 {
		return args
	}
	out := append([]string(nil), args...)
	if !strings.Contains(out[0], "/") && fileExists(out[0]) {
		out[0] = "./" + out[0]
	}
	return out
}
