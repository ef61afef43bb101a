// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tracker

import (
	"context"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// SubmitFunc launches a job's tasks. It is invoked exactly once by a
// Tracker with the number of workers and servers to start and the
// environment variables that must be visible to every task. A
// SubmitFunc returns once all tasks have been initiated; it does not
// wait for them to complete.
type SubmitFunc func(nworker, nserver int, envs map[string]string) error

// A Tracker is the rendezvous collaborator for a dmlc job. It
// determines the job's topology, invokes the backend's submit
// function once, and owns the wait for the job's completion.
type Tracker interface {
	Submit(ctx context.Context, nworker, nserver int, submit SubmitFunc, command string) error
}

// Static is a Tracker that performs no rendezvous: it passes the
// requested counts through unchanged, exports them as
// DMLC_NUM_WORKER and DMLC_NUM_SERVER together with Env, and then
// waits for the job with Join.
type Static struct {
	// Env is an additional set of variables exported to every task.
	Env map[string]string
	// Join, if not nil, is called after submission and blocks until
	// all launched tasks are done.
	Join func(ctx context.Context) error
}

// Submit implements Tracker.
func (s Static) Submit(ctx context.Context, nworker, nserver int, submit SubmitFunc, command string) error {
	if nworker < 0 || nserver < 0 {
		return errors.E(errors.Invalid, "negative task count")
	}
	envs := make(map[string]string, len(s.Env)+2)
	for k, v := range s.Env {
		envs[k] = v
	}
	envs["DMLC_NUM_WORKER"] = strconv.Itoa(nworker)
	envs["DMLC_NUM_SERVER"] = strconv.Itoa(nserver)
	log.Printf("submitting %d workers and %d servers: %s", nworker, nserver, command)
	if err := submit(nworker, nserver, envs); err != nil {
		return err
	}
	if s.Join == nil {
		return nil
	}
	return s.Join(ctx)
}
