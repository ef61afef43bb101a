// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package container prepares the environment of a task process
// started by a cluster scheduler. Schedulers such as MPI and SGE
// start every task with the same environment and expose only a rank;
// the container launcher derives the task's identity from that rank
// and sets up the library and class paths needed by Hadoop-based
// tasks before running the task's command.
package container

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/tracker"
	"github.com/grailbio/tracker/environ"
	"github.com/grailbio/tracker/exec"
)

// JobModeKey is the variable naming the scheduler that started the
// task.
const JobModeKey = "DMLC_JOB_MODE"

// Job modes.
const (
	ModeMPICH2  = "mpich2"
	ModeOpenMPI = "openmpi"
	ModeSGE     = "sge"
	ModeYARN    = "yarn"
)

// DefaultLibHDFSOpts is the libhdfs JVM configuration used when
// none is provided.
const DefaultLibHDFSOpts = "-Xmx128m"

// A Launcher prepares task environments and runs task commands.
type Launcher struct {
	// Shell runs the hadoop classpath query and the task command.
	Shell exec.Shell
	// Glob expands classpath entries. It defaults to filepath.Glob.
	Glob func(pattern string) ([]string, error)
}

// Env returns the environment in which the task command is run,
// given the environment provided by the scheduler.
func (l *Launcher) Env(ctx context.Context, env environ.Env) (environ.Env, error) {
	mode := env[JobModeKey]
	if mode == "" {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("%s is not set", JobModeKey))
	}
	env = env.Clone()
	hadoopHome := env["HADOOP_HOME"]
	if hadoopHome == "" {
		hadoopHome = env["HADOOP_PREFIX"]
	}
	hdfsHome, javaHome := env["HADOOP_HDFS_HOME"], env["JAVA_HOME"]
	if mode == ModeYARN {
		for _, kv := range [][2]string{
			{"HADOOP_HOME", hadoopHome},
			{"HADOOP_HDFS_HOME", hdfsHome},
			{"JAVA_HOME", javaHome},
		} {
			if kv[1] == "" {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("yarn tasks require %s", kv[0]))
			}
		}
	}

	switch mode {
	case ModeMPICH2, ModeOpenMPI, ModeSGE:
		if err := setRole(env, mode); err != nil {
			return nil, err
		}
	}

	libraryPath := []string{"./"}
	if hadoopHome != "" {
		libraryPath = append(libraryPath, hdfsHome+"/lib/native", hdfsHome+"/lib")
		classpath, err := l.classpath(ctx, hadoopHome, env)
		if err != nil {
			return nil, err
		}
		env["CLASSPATH"] = joinPath(env["CLASSPATH"], strings.Join(classpath, ":"))
	}
	if javaHome != "" {
		libraryPath = append(libraryPath, javaHome+"/jre/lib/amd64/server")
	}
	if opts := env["DMLC_HDFS_OPTS"]; opts != "" {
		env["LIBHDFS_OPTS"] = opts
	} else if env["LIBHDFS_OPTS"] == "" {
		env["LIBHDFS_OPTS"] = DefaultLibHDFSOpts
	}
	env["LD_LIBRARY_PATH"] = joinPath(env["LD_LIBRARY_PATH"], strings.Join(libraryPath, ":"))
	return env, nil
}

// Run prepares the task environment and runs the command in it.
func (l *Launcher) Run(ctx context.Context, env environ.Env, args []string) error {
	if len(args) == 0 {
		return errors.E(errors.Invalid, "no command")
	}
	env, err := l.Env(ctx, env)
	if err != nil {
		return err
	}
	log.Debug.Printf("%s %s[%s]: %s", env[JobModeKey], env[environ.Role], env[environ.TaskID], strings.Join(args, " "))
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = exec.Quote(arg)
	}
	return l.Shell.Run(ctx, exec.Command{Line: "exec " + strings.Join(quoted, " "), Env: env.Environ()})
}

// setRole derives the task's ID and role from the rank exposed by
// the scheduler.
func setRole(env environ.Env, mode string) error {
	nworker, err := strconv.Atoi(env["DMLC_NUM_WORKER"])
	if err != nil {
		return errors.E(errors.Invalid, "DMLC_NUM_WORKER", err)
	}
	if mode == ModeOpenMPI {
		env[environ.TaskID] = env["OMPI_COMM_WORLD_RANK"]
	}
	id, err := strconv.Atoi(env[environ.TaskID])
	if err != nil {
		return errors.E(errors.Invalid, environ.TaskID, err)
	}
	env[environ.TaskID] = strconv.Itoa(id)
	env[environ.Role] = tracker.RoleOf(id, nworker).String()
	return nil
}

// classpath returns the expanded hadoop classpath.
func (l *Launcher) classpath(ctx context.Context, hadoopHome string, env environ.Env) ([]string, error) {
	out, err := l.Shell.Output(ctx, exec.Command{
		Line: exec.Quote(hadoopHome+"/bin/hadoop") + " classpath",
		Env:  env.Environ(),
	})
	if err != nil {
		return nil, errors.E(errors.Unavailable, "hadoop classpath", err)
	}
	glob := l.Glob
	if glob == nil {
		glob = filepath.Glob
	}
	var classpath []string
	for _, pattern := range strings.Split(strings.TrimSpace(string(out)), ":") {
		if pattern == "" {
			continue
		}
		matches, err := glob(pattern)
		if err != nil {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("classpath entry %q", pattern), err)
		}
		classpath = append(classpath, matches...)
	}
	return classpath, nil
}

func joinPath(prefix, suffix string) string {
	if prefix == "" {
		return suffix
	}
	return prefix + ":" + suffix
}
