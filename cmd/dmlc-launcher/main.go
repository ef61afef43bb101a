// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command dmlc-launcher runs a task command inside a scheduler
// container, deriving the task's identity from the scheduler's rank
// variables.
//
//	DMLC_JOB_MODE=openmpi dmlc-launcher ./train args...
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/tracker/container"
	"github.com/grailbio/tracker/environ"
	"github.com/grailbio/tracker/exec"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: dmlc-launcher command [args...]

Dmlc-launcher runs the command with an environment prepared for the
scheduler named by DMLC_JOB_MODE (mpich2, openmpi, sge, or yarn).
`)
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	log.AddFlags()
	log.SetFlags(0)
	log.SetPrefix("dmlc-launcher: ")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
	}
	env := make(environ.Env)
	for _, kv := range os.Environ() {
		if i := strings.Index(kv, "="); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	l := &container.Launcher{Shell: exec.Bash{Stdout: os.Stdout, Stderr: os.Stderr}}
	err := l.Run(context.Background(), env, flag.Args())
	if err == nil {
		os.Exit(0)
	}
	if code := exec.ExitCode(err); code > 0 {
		os.Exit(code)
	}
	log.Fatal(err)
}
