// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/status"
	"github.com/grailbio/testutil"
	"github.com/grailbio/tracker"
	"github.com/grailbio/tracker/environ"
)

// envJob returns a job whose tasks write their identity and the value
// of FOO to a file named by their task ID in dir.
func envJob(dir string, nworker, nserver int) tracker.Job {
	line := `echo "$DMLC_ROLE $DMLC_TASK_ID $DMLC_JOB_CLUSTER $DMLC_NUM_ATTEMPT $FOO" > ` + dir + `/$DMLC_TASK_ID`
	return tracker.Job{Command: []string{line}, NumWorker: nworker, NumServer: nserver}
}

func readTaskFiles(t *testing.T, dir string) []string {
	t.Helper()
	infos, err := ioutil.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var lines []string
	for _, info := range infos {
		b, err := ioutil.ReadFile(filepath.Join(dir, info.Name()))
		if err != nil {
			t.Fatal(err)
		}
		lines = append(lines, strings.TrimSpace(string(b)))
	}
	sort.Strings(lines)
	return lines
}

func TestSessionLocal(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	scopes := environ.DefaultScopes()
	scopes.User = []string{"FOO"}
	scopes.Server = map[string]string{"FOO": "server", "DMLC_ROLE": "bogus"}
	sess := testSession(Bash{}, map[string]string{
		"PATH":      os.Getenv("PATH"),
		"FOO":       "bar",
		"DMLC_ROLE": "stale",
	}, Local, Env(scopes), Parallelism(2))
	ctx := context.Background()
	tasks, err := sess.Submit(ctx, envJob(dir, 2, 1), testPass)
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if got, want := tasks.Counts()[TaskSucceeded], 3; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	want := []string{
		"server 2 local 0 server",
		"worker 0 local 0 bar",
		"worker 1 local 0 bar",
	}
	if got := readTaskFiles(t, dir); !equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSessionUserUnset(t *testing.T) {
	var shell fakeShell
	scopes := environ.DefaultScopes()
	scopes.User = []string{"FOO"}
	for _, mode := range []environ.Mode{environ.Allowlist, environ.Inherit} {
		sess := testSession(&shell, nil, Local, Env(scopes), EnvMode(mode))
		_, err := sess.Submit(context.Background(), testJob, testPass)
		if !errors.Is(errors.Invalid, err) {
			t.Errorf("%s: got %v, want Invalid", mode, err)
		}
	}
	if got := len(shell.Commands()); got != 0 {
		t.Errorf("got %v commands, want none", got)
	}
}

func TestSessionInvalidJob(t *testing.T) {
	var shell fakeShell
	sess := testSession(&shell, nil)
	for _, job := range []tracker.Job{
		{NumWorker: 1},
		{Command: []string{"prog"}, NumWorker: -1},
	} {
		if _, err := sess.Submit(context.Background(), job, nil); !errors.Is(errors.Invalid, err) {
			t.Errorf("%v: got %v, want Invalid", job, err)
		}
	}
}

func TestSessionMode(t *testing.T) {
	if got, want := Start(Local).Mode(), environ.Inherit; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := Start(SSH(SSHConfig{})).Mode(), environ.Allowlist; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := Start(Local, EnvMode(environ.Allowlist)).Mode(), environ.Allowlist; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSessionSubmitFunc(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	sess := testSession(Bash{}, map[string]string{"PATH": os.Getenv("PATH"), "FOO": "bar"}, Local,
		Status(new(status.Status)))
	ctx := context.Background()
	tr := tracker.Static{Join: sess.Wait}
	job := envJob(dir, 0, 0)
	if err := tr.Submit(ctx, 1, 1, sess.SubmitFunc(ctx, job), strings.Join(job.Command, " ")); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"server 1 local 0 bar",
		"worker 0 local 0 bar",
	}
	if got := readTaskFiles(t, dir); !equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := len(sess.Tasks()), 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSessionTrace(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(dir, "trace.json")
	sess := testSession(Bash{}, nil, Local, TracePath(path))
	submitAndWait(t, sess, tracker.Job{Command: []string{"true"}, NumWorker: 2})
	sess.Shutdown()
	b, err := ioutil.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"name":"worker[1]"`) {
		t.Errorf("trace missing task event: %s", b)
	}
}

func TestSessionHandleDebug(t *testing.T) {
	sess := Start(Local, WithShell(new(fakeShell)))
	submitAndWait(t, sess, tracker.Job{Command: []string{"true"}, NumWorker: 1})
	mux := http.NewServeMux()
	sess.HandleDebug(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/debug/tasks", nil))
	if got, want := rec.Body.String(), "task worker[0] SUCCEEDED\n\ttrue\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/debug/stats", nil))
	if got, want := rec.Body.String(), "attempts:1 exhausted:0 retries:0 syncs:0\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

// TestLocalParallelismCanceled verifies that a task canceled while
// waiting for a parallelism slot fails and releases its status entry.
func TestLocalParallelismCanceled(t *testing.T) {
	var (
		st    status.Status
		shell fakeShell
		sess  = Start(Local, Parallelism(1), Status(&st), WithShell(&shell))
	)
	// Hold the only slot.
	if err := sess.limiter.Acquire(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	tasks, err := sess.Submit(ctx, tracker.Job{Command: []string{"true"}, NumWorker: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	state, err := tasks[0].WaitState(context.Background(), TaskSucceeded)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := state, TaskFailed; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := tasks[0].Err(), context.Canceled; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := len(shell.Commands()), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// The status entry is closed just after the failure is published.
	deadline := time.Now().Add(5 * time.Second)
	for {
		var active int
		for _, g := range st.Groups() {
			active += len(g.Tasks())
		}
		if active == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("%d status tasks still active", active)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func equal(x, y []string) bool {
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}
