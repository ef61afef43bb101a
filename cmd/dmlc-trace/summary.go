// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/grailbio/base/limitbuf"
	"github.com/grailbio/tracker/internal/trace"
)

// attempt is a single execution of a task's command.
type attempt struct {
	name    string
	role    string
	host    string
	attempt int
	// start is measured as a duration offset from the start of tracing.
	start    time.Duration
	duration time.Duration
	err      string
}

// roleStat summarizes the attempts of the tasks of a role.
type roleStat struct {
	role     string
	tasks    int
	attempts int
	retried  int
	failed   int
	// start is measured as a duration offset from the start of tracing.
	start    time.Duration
	duration time.Duration
	quartiles
}

// summary is the interpretation of a submission trace.
type summary struct {
	attempts []attempt
	roles    []roleStat
	// failures holds the last failed attempt of each task that did not
	// succeed.
	failures []attempt
}

func newSummary(events []trace.Event) *summary {
	attempts := buildAttempts(events)
	roles, failures := buildRoleStats(attempts)
	return &summary{attempts: attempts, roles: roles, failures: failures}
}

func buildAttempts(events []trace.Event) []attempt {
	hosts := make(map[int]string)
	for _, event := range events {
		if event.Ph == "M" && event.Name == "process_name" {
			if name, ok := event.Args["name"].(string); ok {
				hosts[event.Pid] = name
			}
		}
	}
	var attempts []attempt
	for _, event := range events {
		if event.Cat != "task" || event.Ph != "X" {
			continue
		}
		a := attempt{
			name:     event.Name,
			host:     hosts[event.Pid],
			start:    time.Duration(event.Ts * 1e3),
			duration: time.Duration(event.Dur * 1e3),
		}
		a.role, _ = event.Args["role"].(string)
		// JSON numbers decode as float64.
		if n, ok := event.Args["attempt"].(float64); ok {
			a.attempt = int(n)
		}
		if err, ok := event.Args["error"].(string); ok {
			a.err = truncatef(err)
		}
		attempts = append(attempts, a)
	}
	sort.SliceStable(attempts, func(i, j int) bool {
		return attempts[i].start < attempts[j].start
	})
	return attempts
}

func buildRoleStats(attempts []attempt) ([]roleStat, []attempt) {
	type accum struct {
		tasks     map[string]attempt
		retried   map[string]bool
		minStart  time.Duration
		maxEnd    time.Duration
		durations []time.Duration
	}
	accums := make(map[string]*accum)
	for _, a := range attempts {
		acc, ok := accums[a.role]
		if !ok {
			acc = &accum{
				tasks:    make(map[string]attempt),
				retried:  make(map[string]bool),
				minStart: 1<<63 - 1,
			}
			accums[a.role] = acc
		}
		if last, ok := acc.tasks[a.name]; !ok || last.attempt <= a.attempt {
			acc.tasks[a.name] = a
		}
		if a.attempt > 0 {
			acc.retried[a.name] = true
		}
		if a.start < acc.minStart {
			acc.minStart = a.start
		}
		if end := a.start + a.duration; acc.maxEnd < end {
			acc.maxEnd = end
		}
		acc.durations = append(acc.durations, a.duration)
	}
	var (
		stats    = make([]roleStat, 0, len(accums))
		failures []attempt
	)
	for role, acc := range accums {
		sort.Slice(acc.durations, func(i, j int) bool {
			return acc.durations[i] < acc.durations[j]
		})
		stat := roleStat{
			role:      role,
			tasks:     len(acc.tasks),
			attempts:  len(acc.durations),
			retried:   len(acc.retried),
			start:     acc.minStart,
			duration:  acc.maxEnd - acc.minStart,
			quartiles: summarize(acc.durations),
		}
		for _, last := range acc.tasks {
			if last.err != "" {
				stat.failed++
				failures = append(failures, last)
			}
		}
		stats = append(stats, stat)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].role > stats[j].role })
	sort.Slice(failures, func(i, j int) bool { return failures[i].name < failures[j].name })
	return stats, failures
}

func truncatef(v interface{}) string {
	b := limitbuf.NewLogger(80)
	fmt.Fprint(b, v)
	return b.String()
}
