// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
	Package tracker defines the launch contract shared by every dmlc
	cluster backend: how a fixed-size job of workers and servers is
	split into tasks, which role and rank each task receives, and how
	tasks are placed on a list of hosts.

	A job is submitted through a Tracker, the rendezvous collaborator
	that decides worker and server counts and the coordination
	environment every task must observe. The tracker invokes a
	SubmitFunc exactly once; the SubmitFunc is provided by an execution
	session (package exec) which resolves environments and launches
	tasks on the configured backend:

		sess := exec.Start(exec.SSH(exec.SSHConfig{HostFile: "hosts"}))
		job := tracker.Job{Command: args, NumWorker: 4, NumServer: 2}
		t := tracker.Static{Join: sess.Wait}
		if err := t.Submit(ctx, job.NumWorker, job.NumServer, sess.SubmitFunc(ctx, job), job.String()); err != nil {
			log.Fatal(err)
		}

	Workers always occupy the low range of global task indices and
	servers the high range. All backends share this ordering, so a task
	can recover its role from its index alone (see RoleOf).
*/
package tracker
