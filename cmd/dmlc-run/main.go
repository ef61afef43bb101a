// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command dmlc-run submits a distributed job using the cluster
// configured in the dmlc profile ($HOME/.dmlc/config).
//
//	dmlc-run -num-workers=4 -num-servers=1 -- ./train args...
package main

import (
	"context"
	"flag"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/tracker"
	"github.com/grailbio/tracker/submitcmd"
	"github.com/grailbio/tracker/submitconfig"
)

func main() {
	var (
		nworker = flag.Int("num-workers", 0, "number of worker tasks")
		nserver = flag.Int("num-servers", 0, "number of server tasks")
	)
	log.AddFlags()
	log.SetPrefix("dmlc-run: ")
	must.Func = log.Fatal
	sess, shutdown := submitconfig.Parse()
	job := tracker.Job{Command: flag.Args(), NumWorker: *nworker, NumServer: *nserver}
	err := submitcmd.Run(context.Background(), sess, submitcmd.Static(sess), job)
	shutdown()
	if err != nil {
		log.Fatal(err)
	}
}
