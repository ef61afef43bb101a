// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command dmlc-submit submits a distributed job to a cluster.
//
//	dmlc-submit -cluster=ssh:host-file=hosts,sync-dst-dir=/tmp/job \
//		-num-workers=4 -num-servers=2 -env=FOO -- ./train args...
//
// Use -cluster-help for the list of clusters and their options.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/tracker/submitcmd"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: dmlc-submit [flags] -- command [args...]

Dmlc-submit launches the command as the workers and servers of a
distributed job on the cluster selected by -cluster, and waits for
all tasks to complete. It exits with status 1 if any task fails.

Flags:
`)
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("dmlc-submit: ")
	must.Func = log.Fatal
	flag.Usage = usage
	submitcmd.Main(nil)
}
