// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/tracker"
	"github.com/grailbio/tracker/environ"
)

// MPIVersionKey is the variable through which tasks learn the MPI
// implementation that launched them.
const MPIVersionKey = "DMLC_MPI_VERSION"

// MPI implementations.
const (
	OpenMPI = "openmpi"
	MPICH   = "mpich"
)

// MPIConfig configures the mpi launcher.
type MPIConfig struct {
	// HostFile is passed to mpirun as --hostfile, if set.
	HostFile string
	// Version is the MPI implementation (OpenMPI or MPICH). If empty,
	// it is detected from the output of mpirun.
	Version string
}

type mpiLauncher struct {
	config MPIConfig
}

func (*mpiLauncher) Name() string { return "mpi" }

func (*mpiLauncher) Mode() environ.Mode { return environ.Allowlist }

// version returns the configured MPI implementation or detects it.
func (l *mpiLauncher) version(ctx context.Context, shell Shell) (string, error) {
	switch l.config.Version {
	case OpenMPI, MPICH:
		return l.config.Version, nil
	case "":
	default:
		return "", errors.E(errors.Invalid, fmt.Sprintf("mpi: unknown version %q", l.config.Version))
	}
	// mpirun without arguments prints its usage and exits with a
	// nonzero status; only the output matters here.
	out, err := shell.Output(ctx, Command{Line: "mpirun"})
	switch {
	case bytes.Contains(out, []byte("Open MPI")):
		return OpenMPI, nil
	case bytes.Contains(out, []byte("mpich")):
		return MPICH, nil
	}
	if err != nil {
		return "", errors.E(errors.Invalid, "mpi: unknown MPI version", err)
	}
	return "", errors.E(errors.Invalid, "mpi: unknown MPI version")
}

func (l *mpiLauncher) Launch(ctx context.Context, sess *Session, job tracker.Job, envs environ.RoleEnvs) (Tasks, error) {
	version, err := l.version(ctx, sess.shell)
	if err != nil {
		return nil, err
	}
	ignoreRoleScopes(sess, l.Name())
	env := envs.Common.With(map[string]string{
		environ.JobCluster: l.Name(),
		MPIVersionKey:      version,
	})
	cmd := Command{Line: mpiCommand(version, l.config.HostFile, job, env)}
	task := sess.newTask("mpirun", tracker.Identity{}, 0)
	log.Printf("mpi: starting %d tasks with %s", job.NumTask(), version)
	go sess.invoke(ctx, task, cmd)
	return Tasks{task}, nil
}

// mpiCommand returns the mpirun command line that starts all of the
// job's tasks with the provided environment.
func mpiCommand(version, hostFile string, job tracker.Job, env environ.Env) string {
	var b strings.Builder
	fmt.Fprintf(&b, "mpirun -n %d", job.NumTask())
	if hostFile != "" {
		fmt.Fprintf(&b, " --hostfile %s", Quote(hostFile))
	}
	for _, k := range env.Keys() {
		if version == MPICH {
			fmt.Fprintf(&b, " -env %s %s", k, Quote(env[k]))
		} else {
			fmt.Fprintf(&b, " -x %s=%s", k, Quote(env[k]))
		}
	}
	b.WriteString(" ")
	b.WriteString(joinArgs(job.Command))
	return b.String()
}
