// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tracker

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
)

// DefaultSSHPort is the port used for hosts that do not specify one.
const DefaultSSHPort = "22"

// A Host is a destination machine reachable over ssh.
type Host struct {
	Addr string
	Port string
}

// String returns the host formatted as addr:port.
func (h Host) String() string {
	return h.Addr + ":" + h.Port
}

// ParseHost parses a single host entry of the form ip[:port].
func ParseHost(s string) (Host, error) {
	h := Host{Addr: s, Port: DefaultSSHPort}
	if i := strings.Index(s, ":"); i != -1 {
		h.Addr, h.Port = s[:i], s[i+1:]
		if _, err := strconv.ParseUint(h.Port, 10, 16); err != nil {
			return Host{}, errors.E(errors.Invalid, fmt.Sprintf("host %q: bad port", s))
		}
	}
	if h.Addr == "" {
		return Host{}, errors.E(errors.Invalid, fmt.Sprintf("host %q: empty address", s))
	}
	return h, nil
}

// ParseHosts reads a host list, one ip[:port] entry per line. Blank
// lines are skipped. ParseHosts returns an error if the list contains
// no hosts.
func ParseHosts(r io.Reader) ([]Host, error) {
	var (
		hosts []Host
		scan  = bufio.NewScanner(r)
	)
	for lineno := 1; scan.Scan(); lineno++ {
		line := strings.TrimSpace(scan.Text())
		if line == "" {
			continue
		}
		h, err := ParseHost(line)
		if err != nil {
			return nil, errors.E(fmt.Sprintf("line %d", lineno), err)
		}
		hosts = append(hosts, h)
	}
	if err := scan.Err(); err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		return nil, errors.E(errors.Invalid, "host list is empty")
	}
	return hosts, nil
}

// ReadHostFile parses the host list stored in the named file.
func ReadHostFile(path string) ([]Host, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.E(errors.Invalid, "host file", err)
	}
	defer f.Close()
	hosts, err := ParseHosts(f)
	if err != nil {
		return nil, errors.E(path, err)
	}
	return hosts, nil
}

// RoundRobin places tasks on a fixed list of hosts in turn.
type RoundRobin []Host

// Host returns the host for the task with the provided role index.
// RoundRobin must be nonempty.
func (rr RoundRobin) Host(roleIndex int) Host {
	return rr[roleIndex%len(rr)]
}

// Used returns the distinct hosts that receive at least one task when
// nworker workers and nserver servers are placed on the list.
func (rr RoundRobin) Used(nworker, nserver int) []Host {
	n := nworker
	if nserver > n {
		n = nserver
	}
	if n > len(rr) {
		n = len(rr)
	}
	var (
		used []Host
		seen = make(map[Host]bool)
	)
	for _, h := range rr[:n] {
		if !seen[h] {
			seen[h] = true
			used = append(used, h)
		}
	}
	return used
}
