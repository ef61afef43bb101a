// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/tracker"
	"github.com/grailbio/tracker/environ"
)

// sgeRunScript is the wrapper through which array tasks are run. SGE
// task IDs are 1-based; DMLC task IDs are 0-based.
const sgeRunScript = `source ~/.bashrc
export DMLC_TASK_ID=$((SGE_TASK_ID-1))
"$@"
`

// SGEConfig configures the Sun Grid Engine launcher.
type SGEConfig struct {
	// Queue is the queue to which the job is submitted. The empty
	// queue and "default" use the scheduler's default queue.
	Queue string
	// JobName names the job. It defaults to dmlc<nworker>.<program>.
	JobName string
	// LogDir is the directory in which job logs and the run script
	// are placed. It defaults to <jobname>.log.
	LogDir string
	// VCores is the number of cores requested per task. Defaults to 1.
	VCores int
}

type sgeLauncher struct {
	config SGEConfig
}

func (*sgeLauncher) Name() string { return "sge" }

func (*sgeLauncher) Mode() environ.Mode { return environ.Allowlist }

func (l *sgeLauncher) Launch(ctx context.Context, sess *Session, job tracker.Job, envs environ.RoleEnvs) (Tasks, error) {
	config := l.config
	if config.JobName == "" {
		config.JobName = fmt.Sprintf("dmlc%d.%s", job.NumWorker, path.Base(job.Command[0]))
	}
	if config.LogDir == "" {
		config.LogDir = config.JobName + ".log"
	}
	if config.VCores <= 0 {
		config.VCores = 1
	}
	runscript, err := writeRunScript(config.LogDir)
	if err != nil {
		return nil, err
	}
	ignoreRoleScopes(sess, l.Name())
	env := envs.Common.With(map[string]string{environ.JobCluster: l.Name()})
	cmd := Command{Line: qsubCommand(config, runscript, job, env)}
	task := sess.newTask("qsub "+config.JobName, tracker.Identity{}, 0)
	log.Printf("sge: submitting %d tasks as %s", job.NumTask(), config.JobName)
	go sess.invoke(ctx, task, cmd)
	return Tasks{task}, nil
}

// writeRunScript creates the log directory if needed and writes the
// run script into it, returning the script's path.
func writeRunScript(dir string) (string, error) {
	info, err := os.Stat(dir)
	switch {
	case err == nil && !info.IsDir():
		return "", errors.E(errors.Invalid, fmt.Sprintf("sge: log directory %s is a file", dir))
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, 0777); err != nil {
			return "", err
		}
	case err != nil:
		return "", err
	}
	runscript := filepath.Join(dir, "rundmlc.sh")
	if err := ioutil.WriteFile(runscript, []byte(sgeRunScript), 0755); err != nil {
		return "", err
	}
	return runscript, nil
}

// qsubCommand returns the qsub command line that submits the job as
// an array job.
func qsubCommand(config SGEConfig, runscript string, job tracker.Job, env environ.Env) string {
	var b strings.Builder
	fmt.Fprintf(&b, "qsub -cwd -t 1-%d -S /bin/bash", job.NumTask())
	if config.Queue != "" && config.Queue != "default" {
		fmt.Fprintf(&b, " -q %s", config.Queue)
	}
	fmt.Fprintf(&b, " -N %s", Quote(config.JobName))
	fmt.Fprintf(&b, " -e %s -o %s", Quote(config.LogDir), Quote(config.LogDir))
	fmt.Fprintf(&b, " -pe orte %d", config.VCores)
	b.WriteString(" -v ")
	for _, k := range env.Keys() {
		fmt.Fprintf(&b, `%s="%s",`, k, strings.Replace(env[k], `"`, `\"`, -1))
	}
	b.WriteString("PATH=${PATH}:.")
	fmt.Fprintf(&b, " %s %s", Quote(runscript), joinArgs(job.Command))
	return b.String()
}
