// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tracker

import (
	"fmt"
	"reflect"
	"testing"

	fuzz "github.com/google/gofuzz"
)

func TestRoleOf(t *testing.T) {
	fz := fuzz.NewWithSeed(12345)
	for i := 0; i < 1000; i++ {
		var nw, ns uint8
		fz.Fuzz(&nw)
		fz.Fuzz(&ns)
		nworker, nserver := int(nw%64), int(ns%64)
		for index := 0; index < nworker+nserver; index++ {
			want := Server
			if index < nworker {
				want = Worker
			}
			if got := RoleOf(index, nworker); got != want {
				t.Fatalf("RoleOf(%d, %d): got %v, want %v", index, nworker, got, want)
			}
		}
	}
}

func TestAssignRoundRobin(t *testing.T) {
	fz := fuzz.NewWithSeed(54321)
	for i := 0; i < 1000; i++ {
		var nh, nw, ns uint8
		fz.Fuzz(&nh)
		fz.Fuzz(&nw)
		fz.Fuzz(&ns)
		hosts := make([]Host, 1+int(nh%16))
		for j := range hosts {
			hosts[j] = Host{Addr: fmt.Sprintf("10.0.0.%d", j), Port: DefaultSSHPort}
		}
		nworker, nserver := int(nw%64), int(ns%64)
		for index := 0; index < nworker+nserver; index++ {
			id := Assign(index, nworker, hosts)
			roleIndex := index
			if index >= nworker {
				roleIndex -= nworker
			}
			if got, want := id.RoleIndex, roleIndex; got != want {
				t.Fatalf("role index: got %v, want %v", got, want)
			}
			if got, want := id.Host, hosts[roleIndex%len(hosts)]; got != want {
				t.Fatalf("host: got %v, want %v", got, want)
			}
			if got, want := id.LocalRank, roleIndex/len(hosts); got != want {
				t.Fatalf("local rank: got %v, want %v", got, want)
			}
		}
	}
}

func TestAssignWorkersAndServers(t *testing.T) {
	var (
		h1    = Host{Addr: "h1", Port: "22"}
		h2    = Host{Addr: "h2", Port: "22"}
		hosts = []Host{h1, h2}
	)
	var (
		roles      []Role
		placements []Host
		ranks      []int
	)
	for index := 0; index < 6; index++ {
		id := Assign(index, 4, hosts)
		roles = append(roles, id.Role)
		placements = append(placements, id.Host)
		ranks = append(ranks, id.LocalRank)
	}
	if got, want := roles, []Role{Worker, Worker, Worker, Worker, Server, Server}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := placements, []Host{h1, h2, h1, h2, h1, h2}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := ranks, []int{0, 0, 1, 1, 0, 0}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestAssignNoHosts(t *testing.T) {
	id := Assign(5, 3, nil)
	if got, want := id.Role, Server; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := id.LocalRank, 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := id.String(), "server[2]"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLocalRankKey(t *testing.T) {
	if got, want := Worker.LocalRankKey(), "DMLC_WORKER_LOCAL_RANK"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := Server.LocalRankKey(), "DMLC_SERVER_LOCAL_RANK"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
