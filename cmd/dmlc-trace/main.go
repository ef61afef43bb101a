// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command dmlc-trace summarizes a task trace written by dmlc-submit
// -trace: per-role attempt counts and duration quartiles, and the
// last error of every task that did not succeed.
//
//	dmlc-trace trace.json
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/tracker/internal/trace"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: dmlc-trace trace.json\n")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	log.AddFlags()
	log.SetFlags(0)
	log.SetPrefix("dmlc-trace: ")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
	}
	f, err := os.Open(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	var t trace.T
	err = t.Decode(f)
	f.Close()
	if err != nil {
		log.Fatalf("decoding trace %s: %v", flag.Arg(0), err)
	}
	writeSummary(os.Stdout, newSummary(t.Events))
}

func writeSummary(w io.Writer, s *summary) {
	tw := tabwriter.NewWriter(w, 2, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "role\ttasks\tattempts\tretried\tfailed\tstart\tduration\tmin\tq1\tq2\tq3\tmax")
	for _, r := range s.roles {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.role, r.tasks, r.attempts, r.retried, r.failed,
			round(r.start), round(r.duration),
			round(r.min), round(r.q1), round(r.q2), round(r.q3), round(r.max))
	}
	tw.Flush()
	if len(s.failures) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 2, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "task\thost\tattempt\terror")
	for _, a := range s.failures {
		host := a.host
		if host == "" {
			host = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", a.name, host, a.attempt, a.err)
	}
	tw.Flush()
}

func round(d time.Duration) time.Duration {
	return d.Round(time.Millisecond)
}
