// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/tracker"
	"github.com/grailbio/tracker/environ"
)

// yarnClient is the main class of the dmlc YARN application client.
const yarnClient = "org.apache.hadoop.yarn.dmlc.Client"

// Defaults for YARNConfig.
const (
	DefaultYARNJar        = "dmlc-yarn.jar"
	DefaultYARNBootScript = "run_hdfs_prog.py"
	DefaultYARNTempDir    = "/tmp"
	DefaultYARNMemoryMB   = 1024
	DefaultLibHDFSOpts    = "-Xmx128m"
)

// YARNConfig configures the YARN launcher.
type YARNConfig struct {
	// HadoopBinary is the path of the hadoop binary. It defaults to
	// $HADOOP_HOME/bin/hadoop.
	HadoopBinary string
	// Jar is the path of the dmlc YARN client jar.
	Jar string
	// BootScript is the path of the script that starts tasks in
	// YARN containers.
	BootScript string
	// Queue is the YARN queue. Defaults to "default".
	Queue string
	// JobName names the application. It defaults to a name derived
	// from the task counts and the program name.
	JobName string
	// TempDir is an HDFS directory for intermediate results.
	TempDir string
	// VCores and MemoryMB are the resources requested per container.
	VCores, MemoryMB int
	// LibHDFSOpts are the JVM options used by libhdfs in tasks.
	LibHDFSOpts string
	// Files lists additional files to ship with the job. Each entry
	// may contain several files separated by '#'.
	Files []string
	// NoFileCache disables shipping the files named in the command.
	NoFileCache bool
}

type yarnLauncher struct {
	config YARNConfig
}

func (*yarnLauncher) Name() string { return "yarn" }

func (*yarnLauncher) Mode() environ.Mode { return environ.Inherit }

// withDefaults returns the configuration with defaults applied for
// the provided job.
func (l *yarnLauncher) withDefaults(sess *Session, job tracker.Job) (YARNConfig, error) {
	config := l.config
	if config.HadoopBinary == "" {
		home, ok := sess.lookupEnv("HADOOP_HOME")
		if !ok || home == "" {
			return config, errors.E(errors.Invalid, "yarn: no hadoop binary configured and HADOOP_HOME is not set")
		}
		config.HadoopBinary = path.Join(home, "bin", "hadoop")
	}
	if config.Jar == "" {
		config.Jar = DefaultYARNJar
	}
	if config.BootScript == "" {
		config.BootScript = DefaultYARNBootScript
	}
	for _, file := range []string{config.Jar, config.BootScript} {
		if !fileExists(file) {
			return config, errors.E(errors.Invalid, fmt.Sprintf("yarn: cannot find %s", file))
		}
	}
	if config.Queue == "" {
		config.Queue = "default"
	}
	if config.JobName == "" {
		config.JobName = yarnJobName(job)
	}
	if config.TempDir == "" {
		config.TempDir = DefaultYARNTempDir
	}
	if config.VCores <= 0 {
		config.VCores = 1
	}
	if config.MemoryMB <= 0 {
		config.MemoryMB = DefaultYARNMemoryMB
	}
	if config.LibHDFSOpts == "" {
		config.LibHDFSOpts = DefaultLibHDFSOpts
	}
	return config, nil
}

func (l *yarnLauncher) Launch(ctx context.Context, sess *Session, job tracker.Job, envs environ.RoleEnvs) (Tasks, error) {
	config, err := l.withDefaults(sess, job)
	if err != nil {
		return nil, err
	}
	out, err := sess.shell.Output(ctx, Command{Line: Quote(config.HadoopBinary) + " version"})
	if err != nil {
		return nil, errors.E(errors.Invalid, "yarn: hadoop version", err)
	}
	version, err := hadoopVersion(out)
	if err != nil {
		return nil, err
	}
	if version < 2 {
		log.Printf("yarn: hadoop version %d detected; YARN requires hadoop 2.0 or later", version)
	}
	ignoreRoleScopes(sess, l.Name())
	env := envs.Common.With(map[string]string{
		environ.JobCluster: l.Name(),
		"DMLC_CPU_VCORES":  strconv.Itoa(config.VCores),
		"DMLC_MEMORY_MB":   strconv.Itoa(config.MemoryMB),
		"DMLC_NUM_WORKER":  strconv.Itoa(job.NumWorker),
		"DMLC_NUM_SERVER":  strconv.Itoa(job.NumServer),
		"DMLC_HDFS_OPTS":   config.LibHDFSOpts,
	})
	cmd := Command{
		Line: yarnCommand(config, sess.lookupEnv, job.Command),
		Env:  env.Environ(),
	}
	task := sess.newTask("yarn "+config.JobName, tracker.Identity{}, 0)
	log.Printf("yarn: submitting %s to queue %s", config.JobName, config.Queue)
	go sess.invoke(ctx, task, cmd)
	return Tasks{task}, nil
}

// yarnJobName returns the default application name for the job.
func yarnJobName(job tracker.Job) string {
	base := path.Base(job.Command[0])
	if job.NumServer == 0 {
		return fmt.Sprintf("DMLC[nworker=%d]:%s", job.NumWorker, base)
	}
	return fmt.Sprintf("DMLC[nworker=%d,nsever=%d]:%s", job.NumWorker, job.NumServer, base)
}

// hadoopVersion parses the major version from the output of
// "hadoop version".
func hadoopVersion(out []byte) (int, error) {
	line, _ := bufio.NewReader(bytes.NewReader(out)).ReadString('\n')
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != "Hadoop" {
		return 0, errors.E(errors.Invalid, fmt.Sprintf("yarn: cannot parse hadoop version string %q", strings.TrimSpace(line)))
	}
	major := strings.SplitN(fields[1], ".", 2)[0]
	v, err := strconv.Atoi(major)
	if err != nil {
		return 0, errors.E(errors.Invalid, fmt.Sprintf("yarn: cannot parse hadoop version %q", fields[1]), err)
	}
	return v, nil
}

// yarnCommand returns the command line that submits the job through
// the dmlc YARN client. Files named by the command are shipped with
// the job and rewritten to refer to the container's working
// directory, unless the file cache is disabled.
func yarnCommand(config YARNConfig, lookupEnv func(string) (string, bool), args []string) string {
	files := map[string]bool{config.Jar: true, config.BootScript: true}
	args = append([]string(nil), args...)
	if !config.NoFileCache {
		for i, arg := range args {
			if fileExists(arg) {
				files[arg] = true
				args[i] = "./" + path.Base(arg)
			}
		}
	}
	for _, list := range config.Files {
		for _, file := range strings.Split(list, "#") {
			if file != "" {
				files[file] = true
			}
		}
	}
	java := "java"
	if home, ok := lookupEnv("JAVA_HOME"); ok && home != "" {
		java = path.Join(home, "bin", "java")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s -cp `%s classpath`:%s %s", Quote(java), Quote(config.HadoopBinary), Quote(config.Jar), yarnClient)
	for _, file := range sortedKeys(files) {
		fmt.Fprintf(&b, " -file %s", Quote(file))
	}
	fmt.Fprintf(&b, " -jobname %s -tempdir %s -queue %s", Quote(config.JobName), Quote(config.TempDir), Quote(config.Queue))
	fmt.Fprintf(&b, " ./%s %s", path.Base(config.BootScript), joinArgs(args))
	return b.String()
}
