// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/tracker"
	"github.com/grailbio/tracker/environ"
)

// SlurmConfig configures the slurm launcher.
type SlurmConfig struct {
	// WorkerNodes and ServerNodes are the number of nodes requested
	// for workers and servers. They default to the number of tasks of
	// each role.
	WorkerNodes, ServerNodes int
}

type slurmLauncher struct {
	config SlurmConfig
}

func (*slurmLauncher) Name() string { return "slurm" }

func (*slurmLauncher) Mode() environ.Mode { return environ.Allowlist }

// Launch starts one srun invocation per role that has tasks.
func (l *slurmLauncher) Launch(ctx context.Context, sess *Session, job tracker.Job, envs environ.RoleEnvs) (Tasks, error) {
	var (
		tasks Tasks
		cmds  []Command
	)
	for _, role := range []tracker.Role{tracker.Worker, tracker.Server} {
		n, nodes := job.NumWorker, l.config.WorkerNodes
		if role == tracker.Server {
			n, nodes = job.NumServer, l.config.ServerNodes
		}
		if n == 0 {
			continue
		}
		if nodes <= 0 {
			nodes = n
		}
		env := envs.Role(role).With(map[string]string{
			environ.Role:       role.String(),
			environ.JobCluster: l.Name(),
		})
		log.Printf("slurm: starting %d %ss by srun", n, role)
		tasks = append(tasks, sess.newTask("srun "+role.String(), tracker.Identity{Role: role}, 0))
		cmds = append(cmds, Command{Line: srunCommand(env, nodes, n, job.Command)})
	}
	for i := range tasks {
		go sess.invoke(ctx, tasks[i], cmds[i])
	}
	return tasks, nil
}

// srunCommand returns the srun command line that starts n tasks over
// the given number of nodes with the provided environment.
func srunCommand(env environ.Env, nodes, n int, args []string) string {
	var b strings.Builder
	for _, k := range env.Keys() {
		fmt.Fprintf(&b, "%s=%s ", k, Quote(env[k]))
	}
	fmt.Fprintf(&b, "srun --share --exclusive=user -N %d -n %d %s", nodes, n, joinArgs(args))
	return b.String()
}
