// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package submitcmd provides utilities for implementing dmlc job
// submission command line tools. The main entry point,
// submitcmd.Main, configures a session according to a common set of
// flags, submits the job named by the remaining arguments through a
// tracker, and waits for it to complete.
//
// A submitcmd tool follows this form:
//
//	func main() {
//		submitcmd.Main(func(sess *exec.Session) tracker.Tracker {
//			return myTracker{join: sess.Wait}
//		})
//	}
package submitcmd

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof" // Pprof is included to be exposed on the local diagnostic web server.
	"os"
	"sort"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/tracker"
	"github.com/grailbio/tracker/exec"
	"github.com/grailbio/tracker/submitflags"
)

// Static returns a tracker that performs no rendezvous and waits for
// the session's tasks to complete.
func Static(sess *exec.Session) tracker.Tracker {
	return tracker.Static{Join: sess.Wait}
}

// Main is a convenient entry point for a submitcmd. Main does not
// return. Main parses (global) flags, configures a session
// accordingly, and submits the job given by the unparsed arguments
// through the tracker returned by newTracker. If newTracker is nil,
// Static is used.
//
// Main terminates the program after the tracker returns. If it
// returns with an error, it is reported and the process exits with
// code 1, otherwise it exits successfully.
//
// Integration with other command line processing is best achieved using
// the submitflags package and Init and DisplayStatus functions.
func Main(newTracker func(sess *exec.Session) tracker.Tracker) {
	var fl submitflags.Flags
	submitflags.RegisterFlags(flag.CommandLine, &fl, "")
	log.AddFlags()
	flag.Parse()
	sess, err := Init(fl)
	if err != nil {
		log.Fatal(err)
	}
	if newTracker == nil {
		newTracker = Static
	}
	job := tracker.Job{
		Command:   flag.Args(),
		NumWorker: fl.NumWorkers,
		NumServer: fl.NumServers,
	}
	err = Run(context.Background(), sess, newTracker(sess), job)
	sess.Shutdown()
	if err != nil {
		log.Fatal(err)
	}
	os.Exit(0)
}

// Run submits the job through the tracker using the provided session.
// It returns when the tracker does.
func Run(ctx context.Context, sess *exec.Session, tr tracker.Tracker, job tracker.Job) error {
	if len(job.Command) == 0 {
		return fmt.Errorf("no command provided")
	}
	return tr.Submit(ctx, job.NumWorker, job.NumServer, sess.SubmitFunc(ctx, job), strings.Join(job.Command, " "))
}

// Init initializes a session according to the supplied flags.
func Init(fl submitflags.Flags) (*exec.Session, error) {
	if fl.ClusterHelp {
		providers, profiles := submitflags.ProvidersAndProfiles()
		wr := fl.Output()
		str := []string{}
		fmt.Fprintf(wr, "%s\n\n", submitflags.ClusterHelpLong)
		fmt.Fprintf(wr, "The available providers are: %v\n",
			strings.Join(providers, ", "))
		for k, v := range profiles {
			str = append(str, fmt.Sprintf("%v is shorthand for: %v\n", k, v))
		}
		sort.Strings(str)
		for _, s := range str {
			wr.Write([]byte(s))
		}
		os.Exit(0)
	}
	options, err := fl.ExecOptions()
	if err != nil {
		return nil, err
	}
	sess := exec.Start(options...)
	DisplayStatus(fl, sess)
	return sess, nil
}

// DisplayStatus arranges for the submission status to be displayed
// on the console and/or a web page depending on the flags specified
// on the command line. The web page is hosted at /debug/status on
// http.DefaultServeMux.
func DisplayStatus(fl submitflags.Flags, sess *exec.Session) {
	if fl.ConsoleStatus {
		var console status.Reporter
		go console.Go(os.Stdout, sess.Status())
	}
	if len(fl.HTTPAddress.Address) > 0 {
		sess.HandleDebug(http.DefaultServeMux)
		http.Handle("/debug/status", status.Handler(sess.Status()))
		go func() {
			log.Printf("HTTP Status at: %v\n", fl.HTTPAddress)
			err := http.ListenAndServe(fl.HTTPAddress.Address, nil)
			if err != nil {
				log.Error.Printf("Failed to start HTTP at: %v: %v\n", fl.HTTPAddress, err)
			}
		}()
	}
}
