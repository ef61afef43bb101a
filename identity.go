// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tracker

import (
	"fmt"
	"strings"
)

// Role is the role of a task in a dmlc job.
type Role string

const (
	// Worker tasks occupy the global indices [0, NumWorker).
	Worker Role = "worker"
	// Server tasks occupy the global indices [NumWorker, NumWorker+NumServer).
	Server Role = "server"
)

// String returns the role's name as it is exported in DMLC_ROLE.
func (r Role) String() string { return string(r) }

// LocalRankKey returns the name of the environment variable that
// carries a task's host-local rank for this role.
func (r Role) LocalRankKey() string {
	return "DMLC_" + strings.ToUpper(string(r)) + "_LOCAL_RANK"
}

// A Job describes a fixed-size dmlc job. Jobs are immutable once
// submission begins.
type Job struct {
	// Command is the program (and its arguments) run by every task.
	Command []string
	// NumWorker and NumServer are the number of worker and server
	// tasks in the job.
	NumWorker, NumServer int
}

// NumTask returns the total number of tasks in the job.
func (j Job) NumTask() int {
	return j.NumWorker + j.NumServer
}

// String returns the job's command line.
func (j Job) String() string {
	return strings.Join(j.Command, " ")
}

// RoleOf returns the role of the task with the provided global index
// in a job with nworker workers.
func RoleOf(index, nworker int) Role {
	if index < nworker {
		return Worker
	}
	return Server
}

// Identity is the identity of a single launched task.
type Identity struct {
	// Role is the task's role.
	Role Role
	// Index is the task's global index in [0, NumWorker+NumServer).
	Index int
	// RoleIndex is the task's index within its role's sub-range.
	RoleIndex int
	// LocalRank is the task's rank among the tasks of the same role
	// placed on the same host.
	LocalRank int
	// Host is the host on which the task is placed. It is the zero
	// Host for backends that do not place tasks themselves.
	Host Host
}

// Assign computes the identity of the task with the provided global
// index in a job with nworker workers. If hosts is nonempty, the task
// is placed round-robin on hosts by its role index, and its local rank
// counts the number of times placement has wrapped around the host
// list. Otherwise all tasks share one (implicit) host and the local
// rank is the role index. Assign is deterministic.
func Assign(index, nworker int, hosts []Host) Identity {
	id := Identity{Role: RoleOf(index, nworker), Index: index, RoleIndex: index}
	if id.Role == Server {
		id.RoleIndex = index - nworker
	}
	if len(hosts) == 0 {
		id.LocalRank = id.RoleIndex
		return id
	}
	id.Host = RoundRobin(hosts).Host(id.RoleIndex)
	id.LocalRank = id.RoleIndex / len(hosts)
	return id
}

// String returns a short description of the identity, e.g.,
// "worker[3]@10.0.0.1:22".
func (id Identity) String() string {
	s := fmt.Sprintf("%s[%d]", id.Role, id.RoleIndex)
	if id.Host.Addr != "" {
		s += "@" + id.Host.String()
	}
	return s
}
