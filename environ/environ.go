// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package environ resolves the environment in which dmlc tasks run.
// A task's environment is assembled from scoped layers: a default
// layer taken from the launching process, a set of user-declared
// variables that must be present in the launching process, the
// coordination variables passed by the tracker, and per-role
// overrides. Reserved identity variables are set last and cannot be
// overridden by any earlier layer.
package environ

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/tracker"
)

// Reserved variables. These always reflect the task's true identity.
const (
	Role            = "DMLC_ROLE"
	TaskID          = "DMLC_TASK_ID"
	NumAttempt      = "DMLC_NUM_ATTEMPT"
	JobCluster      = "DMLC_JOB_CLUSTER"
	WorkerLocalRank = "DMLC_WORKER_LOCAL_RANK"
	ServerLocalRank = "DMLC_SERVER_LOCAL_RANK"
	NodeHost        = "DMLC_NODE_HOST"
)

var reserved = map[string]bool{
	Role:            true,
	TaskID:          true,
	NumAttempt:      true,
	JobCluster:      true,
	WorkerLocalRank: true,
	ServerLocalRank: true,
	NodeHost:        true,
}

// IsReserved tells whether key names a reserved variable.
func IsReserved(key string) bool {
	return reserved[key]
}

// DefaultPassthrough is the default set of variables passed from the
// launching process to tasks when they are set.
var DefaultPassthrough = []string{
	"OMP_NUM_THREADS",
	"KMP_AFFINITY",
	"LD_LIBRARY_PATH",
	"AWS_ACCESS_KEY_ID",
	"AWS_SECRET_ACCESS_KEY",
	"DMLC_INTERFACE",
}

// Mode determines how the base layer of an environment is drawn from
// the launching process.
type Mode int

const (
	// Allowlist passes only the explicitly named variables.
	Allowlist Mode = iota
	// Inherit passes the launching process's entire environment.
	Inherit
)

var modes = [...]string{
	Allowlist: "allowlist",
	Inherit:   "inherit",
}

// String returns the mode's name.
func (m Mode) String() string {
	return modes[m]
}

// ParseMode parses a mode name as returned by Mode.String.
func ParseMode(s string) (Mode, error) {
	for m, name := range modes {
		if name == s {
			return Mode(m), nil
		}
	}
	return 0, errors.E(errors.Invalid, fmt.Sprintf("unknown environment mode %q", s))
}

// Scopes is the set of scoped variable declarations from which task
// environments are resolved.
type Scopes struct {
	// Default names variables passed through from the launching
	// process if they are set.
	Default []string
	// User names variables that must be set in the launching process.
	User []string
	// Server and Worker are explicit overrides that apply only to tasks
	// of the respective role.
	Server, Worker map[string]string
}

// DefaultScopes returns scopes with the default passthrough set and
// no user declarations or overrides.
func DefaultScopes() Scopes {
	return Scopes{Default: append([]string(nil), DefaultPassthrough...)}
}

// Role returns the override scope for the provided role.
func (s Scopes) Role(role tracker.Role) map[string]string {
	if role == tracker.Server {
		return s.Server
	}
	return s.Worker
}

// Env is a resolved environment. Env values are treated as immutable
// once resolved: methods that modify the environment return a copy.
type Env map[string]string

// Clone returns a copy of the environment.
func (e Env) Clone() Env {
	c := make(Env, len(e))
	for k, v := range e {
		c[k] = v
	}
	return c
}

// With returns a copy of e with the provided variables set.
func (e Env) With(vars map[string]string) Env {
	c := e.Clone()
	for k, v := range vars {
		c[k] = v
	}
	return c
}

// Keys returns the environment's variable names in sorted order.
func (e Env) Keys() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Environ returns the environment as a sorted list of key=value
// strings, suitable for os/exec.
func (e Env) Environ() []string {
	list := make([]string, 0, len(e))
	for _, k := range e.Keys() {
		list = append(list, k+"="+e[k])
	}
	return list
}

// RoleEnvs holds the environments resolved for a submission.
type RoleEnvs struct {
	// Common is the role-agnostic environment. It is used by backends
	// that submit all tasks in a single scheduler invocation.
	Common Env
	// Worker and Server are the environments of the respective roles.
	Worker, Server Env
}

// Role returns the environment of the provided role.
func (r RoleEnvs) Role(role tracker.Role) Env {
	if role == tracker.Server {
		return r.Server
	}
	return r.Worker
}

// Identity returns the reserved variables describing a task with the
// provided identity, running as the given attempt on the named
// cluster. Placement variables (the node host and the role's local
// rank) are set only for tasks that were placed on a host.
func Identity(id tracker.Identity, cluster string, attempt int) map[string]string {
	vars := map[string]string{
		Role:       id.Role.String(),
		TaskID:     strconv.Itoa(id.Index),
		JobCluster: cluster,
		NumAttempt: strconv.Itoa(attempt),
	}
	if id.Host.Addr != "" {
		vars[NodeHost] = id.Host.Addr
		vars[id.Role.LocalRankKey()] = strconv.Itoa(id.LocalRank)
	}
	return vars
}

// A Resolver resolves task environments from a set of scopes.
type Resolver struct {
	// Mode determines the base layer.
	Mode Mode
	// Scopes holds the scoped declarations.
	Scopes Scopes
	// Pass is the set of variables that the tracker requires to be
	// visible to every task.
	Pass map[string]string

	// LookupEnv and Environ access the launching process's
	// environment. They default to os.LookupEnv and os.Environ.
	LookupEnv func(key string) (string, bool)
	Environ   func() []string
}

func (r *Resolver) lookup(key string) (string, bool) {
	if r.LookupEnv != nil {
		return r.LookupEnv(key)
	}
	return os.LookupEnv(key)
}

func (r *Resolver) environ() []string {
	if r.Environ != nil {
		return r.Environ()
	}
	return os.Environ()
}

// Resolve returns the environment for tasks of the provided role,
// excluding reserved variables, which are set per task (see
// Identity). Resolve fails if a user-declared variable is not set in
// the launching process.
func (r *Resolver) Resolve(role tracker.Role) (Env, error) {
	env, err := r.common()
	if err != nil {
		return nil, err
	}
	r.layer(env, role.String(), r.Scopes.Role(role))
	return env, nil
}

// ResolveAll resolves the common, worker, and server environments.
// Resolution is performed once, before any task is launched, so that
// configuration errors abort submission without partial launches.
func (r *Resolver) ResolveAll() (RoleEnvs, error) {
	common, err := r.common()
	if err != nil {
		return RoleEnvs{}, err
	}
	envs := RoleEnvs{Common: common, Worker: common.Clone(), Server: common.Clone()}
	r.layer(envs.Worker, "worker", r.Scopes.Worker)
	r.layer(envs.Server, "server", r.Scopes.Server)
	return envs, nil
}

// common returns the base, user, and tracker layers.
func (r *Resolver) common() (Env, error) {
	env := make(Env)
	user := make(map[string]bool, len(r.Scopes.User))
	for _, k := range r.Scopes.User {
		user[k] = true
	}
	switch r.Mode {
	case Inherit:
		for _, kv := range r.environ() {
			i := strings.Index(kv, "=")
			if i <= 0 {
				continue
			}
			k, v := kv[:i], kv[i+1:]
			if IsReserved(k) {
				log.Debug.Printf("environ: dropping inherited reserved variable %s", k)
				continue
			}
			env[k] = v
		}
	case Allowlist:
		for _, k := range r.Scopes.Default {
			if user[k] {
				continue
			}
			if v, ok := r.lookup(k); ok {
				r.set(env, "default", k, v)
			}
		}
	default:
		panic(fmt.Sprintf("environ: invalid mode %d", r.Mode))
	}
	for _, k := range r.Scopes.User {
		v, ok := r.lookup(k)
		if !ok {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("declared environment variable %s not set", k))
		}
		r.set(env, "user", k, v)
	}
	r.layer(env, "tracker", r.Pass)
	return env, nil
}

func (r *Resolver) layer(env Env, scope string, vars map[string]string) {
	for k, v := range vars {
		r.set(env, scope, k, v)
	}
}

func (r *Resolver) set(env Env, scope, k, v string) {
	if IsReserved(k) {
		log.Printf("environ: %s scope may not set reserved variable %s; ignoring", scope, k)
		return
	}
	env[k] = v
}

// ParseNames parses a comma-separated list of variable names.
func ParseNames(s string) []string {
	var names []string
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// ParsePairs parses a comma-separated list of key=value pairs.
func ParsePairs(s string) (map[string]string, error) {
	pairs := make(map[string]string)
	for _, kv := range ParseNames(s) {
		i := strings.Index(kv, "=")
		if i <= 0 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("environment pair %q not in key=value format", kv))
		}
		pairs[kv[:i]] = kv[i+1:]
	}
	return pairs, nil
}
