// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/tracker"
	"github.com/grailbio/tracker/environ"
)

// SSHConfig configures the ssh launcher.
type SSHConfig struct {
	// HostFile names the host list (one ip[:port] per line). It is
	// read at launch time unless Hosts is set.
	HostFile string
	// Hosts is the list of destination hosts.
	Hosts []tracker.Host
	// SyncDir, if set, is the remote directory to which the local
	// working directory is mirrored before any task is launched.
	// Tasks then run in SyncDir.
	SyncDir string
	// WorkDir is the local working directory. It defaults to the
	// current directory.
	WorkDir string
}

type sshLauncher struct {
	config SSHConfig
}

func (*sshLauncher) Name() string { return "ssh" }

func (*sshLauncher) Mode() environ.Mode { return environ.Allowlist }

func (l *sshLauncher) hosts() ([]tracker.Host, error) {
	if len(l.config.Hosts) > 0 {
		return l.config.Hosts, nil
	}
	if l.config.HostFile == "" {
		return nil, errors.E(errors.Invalid, "ssh: no host file")
	}
	return tracker.ReadHostFile(l.config.HostFile)
}

func (l *sshLauncher) Launch(ctx context.Context, sess *Session, job tracker.Job, envs environ.RoleEnvs) (Tasks, error) {
	hosts, err := l.hosts()
	if err != nil {
		return nil, err
	}
	local := l.config.WorkDir
	if local == "" {
		if local, err = os.Getwd(); err != nil {
			return nil, err
		}
	}
	local = strings.TrimSuffix(local, "/") + "/"
	dir := local
	if l.config.SyncDir != "" {
		dir = l.config.SyncDir
		used := tracker.RoundRobin(hosts).Used(job.NumWorker, job.NumServer)
		if err := sess.syncer.Sync(ctx, used, local, dir); err != nil {
			return nil, err
		}
	}
	max := maxAttempts(job.Command, sess.maxRetry)
	tasks := make(Tasks, job.NumTask())
	for i := range tasks {
		var (
			id   = tracker.Assign(i, job.NumWorker, hosts)
			env  = envs.Role(id.Role)
			task = sess.newTask(id.String(), id, max)
		)
		tasks[i] = task
		go sess.run(ctx, task, func(attempt int) Command {
			env := env.With(environ.Identity(id, l.Name(), attempt))
			return Command{Line: sshCommand(id.Host, env, dir, withAttempt(job.Command, attempt))}
		})
	}
	return tasks, nil
}

// sshCommand returns the command line that runs args on the host in
// directory dir with the provided environment.
func sshCommand(host tracker.Host, env environ.Env, dir string, args []string) string {
	var b strings.Builder
	for _, k := range env.Keys() {
		fmt.Fprintf(&b, "export %s=%s; ", k, Quote(env[k]))
	}
	fmt.Fprintf(&b, "cd %s; %s", Quote(dir), joinArgs(args))
	return fmt.Sprintf("ssh -o StrictHostKeyChecking=no %s -p %s %s", host.Addr, host.Port, Quote(b.String()))
}
