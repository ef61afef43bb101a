// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"strings"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/tracker/environ"
)

func init() {
	config.Register("dmlc/local", func(inst *config.Constructor) {
		inst.Doc = "dmlc/local runs tasks as local processes"
		inst.New = func() (interface{}, error) {
			return Launcher(localLauncher{}), nil
		}
	})
	config.Register("dmlc/ssh", func(inst *config.Constructor) {
		var c SSHConfig
		inst.StringVar(&c.HostFile, "host-file", "", "the file listing the hosts on which tasks are run")
		inst.StringVar(&c.SyncDir, "sync-dst-dir", "", "if set, the remote directory to which the working directory is synchronized")
		inst.Doc = "dmlc/ssh runs tasks on remote hosts over ssh"
		inst.New = func() (interface{}, error) {
			return Launcher(&sshLauncher{config: c}), nil
		}
	})
	config.Register("dmlc/mpi", func(inst *config.Constructor) {
		var c MPIConfig
		inst.StringVar(&c.HostFile, "host-file", "", "the mpirun host file")
		inst.StringVar(&c.Version, "version", "", "the MPI implementation (openmpi or mpich); detected if empty")
		inst.Doc = "dmlc/mpi submits jobs through mpirun"
		inst.New = func() (interface{}, error) {
			return Launcher(&mpiLauncher{config: c}), nil
		}
	})
	config.Register("dmlc/sge", func(inst *config.Constructor) {
		var c SGEConfig
		inst.StringVar(&c.Queue, "queue", "default", "the queue to which jobs are submitted")
		inst.StringVar(&c.JobName, "jobname", "", "the job name")
		inst.StringVar(&c.LogDir, "logdir", "", "the directory in which job logs are placed")
		inst.IntVar(&c.VCores, "vcores", 1, "the number of cores requested per task")
		inst.Doc = "dmlc/sge submits jobs to Sun Grid Engine"
		inst.New = func() (interface{}, error) {
			return Launcher(&sgeLauncher{config: c}), nil
		}
	})
	config.Register("dmlc/yarn", func(inst *config.Constructor) {
		var (
			c     YARNConfig
			files string
		)
		inst.StringVar(&c.HadoopBinary, "hadoop-binary", "", "the hadoop binary; defaults to $HADOOP_HOME/bin/hadoop")
		inst.StringVar(&c.Jar, "jar", DefaultYARNJar, "the dmlc YARN client jar")
		inst.StringVar(&c.BootScript, "boot-script", DefaultYARNBootScript, "the container boot script")
		inst.StringVar(&c.Queue, "queue", "default", "the YARN queue")
		inst.StringVar(&c.JobName, "jobname", "", "the application name")
		inst.StringVar(&c.TempDir, "tempdir", DefaultYARNTempDir, "the HDFS temporary directory")
		inst.IntVar(&c.VCores, "vcores", 1, "the number of vcores requested per container")
		inst.IntVar(&c.MemoryMB, "memory-mb", DefaultYARNMemoryMB, "the memory requested per container")
		inst.StringVar(&c.LibHDFSOpts, "libhdfs-opts", DefaultLibHDFSOpts, "the JVM options used by libhdfs")
		inst.StringVar(&files, "files", "", "additional files to ship, separated by '#'")
		inst.BoolVar(&c.NoFileCache, "no-file-cache", false, "do not ship the files named in the command")
		inst.Doc = "dmlc/yarn submits jobs as YARN applications"
		inst.New = func() (interface{}, error) {
			if files != "" {
				c.Files = []string{files}
			}
			return Launcher(&yarnLauncher{config: c}), nil
		}
	})
	config.Register("dmlc/slurm", func(inst *config.Constructor) {
		var c SlurmConfig
		inst.IntVar(&c.WorkerNodes, "worker-nodes", 0, "the number of worker nodes; defaults to the number of workers")
		inst.IntVar(&c.ServerNodes, "server-nodes", 0, "the number of server nodes; defaults to the number of servers")
		inst.Doc = "dmlc/slurm submits jobs through srun"
		inst.New = func() (interface{}, error) {
			return Launcher(&slurmLauncher{config: c}), nil
		}
	})

	config.Register("dmlc", func(inst *config.Constructor) {
		var (
			launcher        Launcher
			env, mode       string
			maxRetry, p     int
			syncParallelism int
		)
		inst.InstanceVar(&launcher, "launcher", "dmlc/local", "the launcher used to run tasks")
		inst.StringVar(&env, "env", "", "comma-separated names of variables that must be passed to every task")
		inst.StringVar(&mode, "env-mode", "", "the environment mode (allowlist or inherit); defaults to the launcher's")
		inst.IntVar(&maxRetry, "max-retry", 0, "the number of times a failed task is retried")
		inst.IntVar(&p, "parallelism", 0, "the maximum number of concurrent local tasks; 0 is unlimited")
		inst.IntVar(&syncParallelism, "sync-parallelism", DefaultSyncParallelism, "the number of hosts synchronized concurrently")
		inst.Doc = "dmlc configures job submission"
		inst.New = func() (interface{}, error) {
			if maxRetry < 0 {
				return nil, errors.E(errors.Invalid, "dmlc: max-retry must be nonnegative")
			}
			scopes := environ.DefaultScopes()
			scopes.User = environ.ParseNames(env)
			options := []Option{WithLauncher(launcher), Env(scopes), MaxRetry(maxRetry)}
			if mode = strings.TrimSpace(mode); mode != "" {
				m, err := environ.ParseMode(mode)
				if err != nil {
					return nil, err
				}
				options = append(options, EnvMode(m))
			}
			if p > 0 {
				options = append(options, Parallelism(p))
			}
			if syncParallelism > 0 {
				options = append(options, SyncParallelism(syncParallelism))
			}
			return Start(options...), nil
		}
	})
}
