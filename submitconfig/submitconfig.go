// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package submitconfig provides a mechanism to create a submission
// session from a shared configuration. Submitconfig uses the
// configuration mechanism in package
// github.com/grailbio/base/config, and reads a default profile from
// $HOME/.dmlc/config. For example, the profile
//
//	param dmlc/ssh (
//		host-file = "/etc/dmlc/hosts"
//		sync-dst-dir = "/scratch/job"
//	)
//	param dmlc (
//		launcher = dmlc/ssh
//		max-retry = 2
//	)
//
// configures sessions that run tasks over ssh.
package submitconfig

import (
	"flag"
	"os"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/must"
	"github.com/grailbio/tracker/exec"
)

// Path determines the location of the dmlc profile read by Parse.
var Path = os.ExpandEnv("$HOME/.dmlc/config")

// Parse registers configuration flags and calls flag.Parse. It reads
// the dmlc configuration from Path defined in this package. Parse
// returns a session as configured by the configuration and any flags
// provided. Parse panics if session creation fails.
func Parse() (sess *exec.Session, shutdown func()) {
	config.RegisterFlags("", Path)
	flag.Parse()
	must.Nil(config.ProcessFlags())
	config.Must("dmlc", &sess)
	return sess, sess.Shutdown
}
