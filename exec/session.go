// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grailbio/base/diagnostic/dump"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/limiter"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/tracker"
	"github.com/grailbio/tracker/environ"
	"github.com/grailbio/tracker/stats"
)

// Counters maintained by a session.
const (
	statAttempts  = "attempts"
	statRetries   = "retries"
	statExhausted = "exhausted"
	statSyncs     = "syncs"
)

// DefaultSyncParallelism is the default number of hosts that are
// synchronized concurrently.
const DefaultSyncParallelism = 16

// Session represents a job submission session. A session shares a
// launcher, an environment configuration, and a retry policy, and
// may submit multiple jobs.
//
// A session is started by the Start method:
//
//	sess := exec.Start(exec.SSH(exec.SSHConfig{HostFile: "hosts"}))
//	defer sess.Shutdown()
//	tasks, err := sess.Submit(ctx, job, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := tasks.Wait(ctx); err != nil {
//		log.Fatal(err)
//	}
type Session struct {
	index           int32
	launcher        Launcher
	shell           Shell
	scopes          environ.Scopes
	mode            environ.Mode
	modeSet         bool
	maxRetry        int
	p               int
	syncParallelism int
	status          *status.Status
	tracePath       string

	// lookupEnv and environ provide the ambient environment. They
	// default to os.LookupEnv and os.Environ.
	lookupEnv func(string) (string, bool)
	environ   func() []string

	limiter *limiter.Limiter
	syncer  *syncer
	tracer  *tracer
	stats   *stats.Map

	// submitMu serializes submissions, so that the tasks of a
	// submission are assigned to its status group.
	submitMu sync.Mutex
	group    *status.Group
	nsubmit  int

	mu    sync.Mutex
	tasks Tasks
}

// An Option represents a session configuration parameter value.
type Option func(s *Session)

// Local configures a session to run tasks as local processes.
var Local Option = func(s *Session) {
	s.launcher = localLauncher{}
}

// SSH configures a session to run tasks on remote hosts over ssh.
func SSH(config SSHConfig) Option {
	return func(s *Session) {
		s.launcher = &sshLauncher{config: config}
	}
}

// MPI configures a session to submit jobs through mpirun.
func MPI(config MPIConfig) Option {
	return func(s *Session) {
		s.launcher = &mpiLauncher{config: config}
	}
}

// SGE configures a session to submit jobs as Sun Grid Engine array
// jobs.
func SGE(config SGEConfig) Option {
	return func(s *Session) {
		s.launcher = &sgeLauncher{config: config}
	}
}

// YARN configures a session to submit jobs through the dmlc YARN
// client.
func YARN(config YARNConfig) Option {
	return func(s *Session) {
		s.launcher = &yarnLauncher{config: config}
	}
}

// Slurm configures a session to submit jobs through srun.
func Slurm(config SlurmConfig) Option {
	return func(s *Session) {
		s.launcher = &slurmLauncher{config: config}
	}
}

// WithLauncher configures a session with a custom launcher.
func WithLauncher(launcher Launcher) Option {
	return func(s *Session) {
		s.launcher = launcher
	}
}

// Env configures the session's environment scopes.
func Env(scopes environ.Scopes) Option {
	return func(s *Session) {
		s.scopes = scopes
	}
}

// EnvMode overrides the launcher's default environment mode.
func EnvMode(mode environ.Mode) Option {
	return func(s *Session) {
		s.mode = mode
		s.modeSet = true
	}
}

// MaxRetry configures the number of times a failed task is retried.
// A retry token in the job's command takes precedence.
func MaxRetry(n int) Option {
	if n < 0 {
		panic("exec.MaxRetry: n < 0")
	}
	return func(s *Session) {
		s.maxRetry = n
	}
}

// Parallelism limits the number of local tasks that run
// concurrently. By default local tasks are not limited.
func Parallelism(p int) Option {
	if p <= 0 {
		panic("exec.Parallelism: p <= 0")
	}
	return func(s *Session) {
		s.p = p
	}
}

// SyncParallelism configures the number of hosts that are
// synchronized concurrently.
func SyncParallelism(p int) Option {
	if p <= 0 {
		panic("exec.SyncParallelism: p <= 0")
	}
	return func(s *Session) {
		s.syncParallelism = p
	}
}

// WithShell configures the shell through which the session runs
// commands.
func WithShell(shell Shell) Option {
	return func(s *Session) {
		s.shell = shell
	}
}

// Status configures the session with a status object to which
// task statuses are reported.
func Status(status *status.Status) Option {
	return func(s *Session) {
		s.status = status

		name := fmt.Sprintf("dmlc-%02d-status", s.index)
		dump.Register(name, func(ctx context.Context, w io.Writer) error {
			return status.Marshal(w)
		})
	}
}

// TracePath configures the path to which a trace event file for the
// session will be written on shutdown.
func TracePath(path string) Option {
	return func(s *Session) {
		s.tracePath = path
	}
}

// nextSessionIndex is the index of the next session that will be
// started by Start.
var nextSessionIndex int32

// Start creates and starts a new session, configuring it according
// to the provided options. If no launcher is configured, tasks are
// run locally.
func Start(options ...Option) *Session {
	s := &Session{
		index:           atomic.AddInt32(&nextSessionIndex, 1) - 1,
		scopes:          environ.DefaultScopes(),
		syncParallelism: DefaultSyncParallelism,
		lookupEnv:       os.LookupEnv,
		environ:         os.Environ,
	}
	for _, opt := range options {
		opt(s)
	}
	if s.launcher == nil {
		s.launcher = localLauncher{}
	}
	if s.shell == nil {
		s.shell = &Bash{Stdout: os.Stdout, Stderr: os.Stderr}
	}
	if s.p > 0 {
		s.limiter = limiter.New()
		s.limiter.Release(s.p)
	}
	s.stats = stats.NewMap(statAttempts, statRetries, statExhausted, statSyncs)
	s.syncer = newSyncer(s.shell, s.syncParallelism)
	s.syncer.syncs = s.stats.Int(statSyncs)
	s.tracer = newTracer()

	name := fmt.Sprintf("dmlc-%02d-trace", s.index)
	dump.Register(name, func(ctx context.Context, w io.Writer) error {
		return s.tracer.Marshal(w)
	})
	return s
}

// Launcher returns the session's launcher.
func (s *Session) Launcher() Launcher {
	return s.launcher
}

// Mode returns the environment mode used by the session's
// submissions.
func (s *Session) Mode() environ.Mode {
	if s.modeSet {
		return s.mode
	}
	return s.launcher.Mode()
}

// Submit resolves the environment for the job and launches its
// tasks. The provided pass environment (e.g., the tracker's
// rendezvous address) is exported to every task. Submit returns once
// all tasks are initiated; use Tasks.Wait to wait for their
// completion.
//
// Submit returns an error without launching any task if the job is
// malformed, the environment cannot be resolved, or the launcher
// fails to start.
func (s *Session) Submit(ctx context.Context, job tracker.Job, pass map[string]string) (Tasks, error) {
	if len(job.Command) == 0 {
		return nil, errors.E(errors.Invalid, "submit: empty command")
	}
	if job.NumWorker < 0 || job.NumServer < 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("submit: invalid task counts %d, %d", job.NumWorker, job.NumServer))
	}
	resolver := environ.Resolver{
		Mode:      s.Mode(),
		Scopes:    s.scopes,
		Pass:      pass,
		LookupEnv: s.lookupEnv,
		Environ:   s.environ,
	}
	envs, err := resolver.ResolveAll()
	if err != nil {
		return nil, err
	}

	s.submitMu.Lock()
	s.nsubmit++
	if s.status != nil {
		s.group = s.status.Groupf("submit %s [%d] %s", s.launcher.Name(), s.nsubmit, job)
	}
	group := s.group
	log.Printf("submit %s: %s (mode %s)", s.launcher.Name(), job, resolver.Mode)
	tasks, err := s.launcher.Launch(ctx, s, job, envs)
	s.group = nil
	s.submitMu.Unlock()
	if err != nil {
		if group != nil {
			group.Printf("error: %v", err)
		}
		return nil, err
	}
	if group != nil {
		go maintainGroup(ctx, tasks, group)
	}
	s.mu.Lock()
	s.tasks = append(s.tasks, tasks...)
	s.mu.Unlock()
	return tasks, nil
}

// SubmitFunc returns a tracker.SubmitFunc that submits the job with
// the task counts and environment provided by the tracker.
func (s *Session) SubmitFunc(ctx context.Context, job tracker.Job) tracker.SubmitFunc {
	return func(nworker, nserver int, envs map[string]string) error {
		job.NumWorker, job.NumServer = nworker, nserver
		_, err := s.Submit(ctx, job, envs)
		return err
	}
}

// Wait waits for all tasks submitted so far to complete. It returns
// the first task failure.
func (s *Session) Wait(ctx context.Context) error {
	return s.Tasks().Wait(ctx)
}

// Tasks returns all tasks submitted in this session.
func (s *Session) Tasks() Tasks {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(Tasks(nil), s.tasks...)
}

// Status returns the session's status aggregator.
func (s *Session) Status() *status.Status {
	return s.status
}

// Stats returns a snapshot of the session's execution counters.
func (s *Session) Stats() stats.Values {
	return s.stats.Snapshot()
}

// Shutdown tears down resources associated with this session.
// It should be called when the session is discarded.
func (s *Session) Shutdown() {
	log.Debug.Printf("session %d: %s", s.index, s.Stats())
	if s.tracePath == "" {
		return
	}
	if err := s.tracer.WriteFile(s.tracePath); err != nil {
		log.Error.Printf("error writing trace to %s: %v", s.tracePath, err)
		return
	}
	log.Printf("wrote trace to %s", s.tracePath)
}

// HandleDebug registers the session's debug handlers on the
// provided mux.
func (s *Session) HandleDebug(handler *http.ServeMux) {
	handler.HandleFunc("/debug/tasks", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("content-type", "text/plain; charset=utf-8")
		for _, task := range s.Tasks() {
			task.Lock()
			line := task.String()
			task.Unlock()
			fmt.Fprintln(w, line)
			if cmd := task.Command(); cmd != "" {
				fmt.Fprintf(w, "\t%s\n", cmd)
			}
		}
	})
	handler.HandleFunc("/debug/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("content-type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, s.Stats())
	})
	handler.HandleFunc("/debug/trace", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("content-type", "application/json; charset=utf-8")
		if err := s.tracer.Marshal(w); err != nil {
			log.Error.Printf("exec.Session: /debug/trace: marshal: %v", err)
		}
	})
}

// newTask returns a new task for the current submission.
func (s *Session) newTask(name string, id tracker.Identity, maxAttempts int) *Task {
	return &Task{
		Identity:    id,
		Name:        name,
		MaxAttempts: maxAttempts,
		Status:      s.group.Startf("%s", name),
	}
}

// maintainGroup prints task state counts to the group until all of
// the tasks are done.
func maintainGroup(ctx context.Context, tasks Tasks, group *status.Group) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		counts := tasks.Counts()
		done := counts[TaskSucceeded] + counts[TaskFailed]
		group.Printf("tasks: %d running, %d retrying, %d succeeded, %d failed",
			counts[TaskRunning], counts[TaskRetrying], counts[TaskSucceeded], counts[TaskFailed])
		if done == len(tasks) {
			return
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
