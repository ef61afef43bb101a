// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	baseerrors "github.com/grailbio/base/errors"
	"github.com/grailbio/tracker"
	"github.com/grailbio/tracker/stats"
)

func TestHostOnceConcurrency(t *testing.T) {
	const N = 10
	var (
		once        hostOnce
		start, done sync.WaitGroup
		count       uint32
		host        = tracker.Host{Addr: "h1", Port: "22"}
	)
	start.Add(N)
	done.Add(N)
	for i := 0; i < N; i++ {
		go func() {
			start.Done()
			start.Wait()
			err := once.Do(host, func() error {
				atomic.AddUint32(&count, 1)
				return nil
			})
			if err != nil {
				t.Error(err)
			}
			done.Done()
		}()
	}
	done.Wait()
	if got, want := count, uint32(1); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestHostOnceError(t *testing.T) {
	var (
		once     hostOnce
		expected = errors.New("expected error")
		h1       = tracker.Host{Addr: "h1", Port: "22"}
		h1alt    = tracker.Host{Addr: "h1", Port: "2222"}
	)
	err := once.Do(h1, func() error { return expected })
	if got, want := err, expected; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	err = once.Do(h1, func() error { panic("should not be called") })
	if got, want := err, expected; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	err = once.Do(h1alt, func() error { return nil })
	if err != nil {
		t.Errorf("unexpected error %v", err)
	}
}

func TestSyncOncePerHost(t *testing.T) {
	var (
		shell fakeShell
		s     = newSyncer(&shell, 2)
		hosts = []tracker.Host{
			{Addr: "10.0.0.1", Port: "22"},
			{Addr: "10.0.0.2", Port: "2222"},
		}
		ctx = context.Background()
	)
	s.syncs = new(stats.Int)
	if err := s.Sync(ctx, hosts, "/home/me/job/", "/tmp/job"); err != nil {
		t.Fatal(err)
	}
	if err := s.Sync(ctx, hosts, "/home/me/job/", "/tmp/job"); err != nil {
		t.Fatal(err)
	}
	if got, want := s.syncs.Get(), int64(2); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	lines := shell.Lines()
	if got, want := len(lines), 2; got != want {
		t.Fatalf("got %v, want %v: %v", got, want, lines)
	}
	want := map[string]bool{
		`rsync -az --rsh="ssh -o StrictHostKeyChecking=no -p 22" /home/me/job/ 10.0.0.1:/tmp/job`:   true,
		`rsync -az --rsh="ssh -o StrictHostKeyChecking=no -p 2222" /home/me/job/ 10.0.0.2:/tmp/job`: true,
	}
	for _, line := range lines {
		if !want[line] {
			t.Errorf("unexpected command %q", line)
		}
	}
}

func TestSyncError(t *testing.T) {
	shell := fakeShell{
		run: func(cmd Command) error {
			if strings.Contains(cmd.Line, "10.0.0.2:") {
				return errors.New("connection refused")
			}
			return nil
		},
	}
	s := newSyncer(&shell, 1)
	hosts := []tracker.Host{{Addr: "10.0.0.1", Port: "22"}, {Addr: "10.0.0.2", Port: "22"}}
	err := s.Sync(context.Background(), hosts, "/src/", "/dst")
	if err == nil {
		t.Fatal("expected error")
	}
	if !baseerrors.Is(baseerrors.Unavailable, err) {
		t.Errorf("got %v, want Unavailable", err)
	}
}

func TestHostOnceCanceled(t *testing.T) {
	var (
		once  hostOnce
		h1    = tracker.Host{Addr: "h1", Port: "22"}
		calls int
	)
	err := once.Do(h1, func() error {
		calls++
		return context.Canceled
	})
	if got, want := err, context.Canceled; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if err := once.Do(h1, func() error { calls++; return nil }); err != nil {
		t.Errorf("unexpected error %v", err)
	}
	if got, want := calls, 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// TestSyncInterrupted verifies that a host whose transfer was cut short
// by another host's failure is synchronized by the next Sync.
func TestSyncInterrupted(t *testing.T) {
	var (
		started = make(chan struct{})
		second  uint32
		shell   = fakeShell{
			runContext: func(ctx context.Context, cmd Command) error {
				if strings.Contains(cmd.Line, "10.0.0.1:") {
					<-started
					return errors.New("connection refused")
				}
				if atomic.LoadUint32(&second) == 1 {
					return nil
				}
				close(started)
				<-ctx.Done()
				return errors.New("signal: killed")
			},
		}
		s     = newSyncer(&shell, 2)
		h1    = tracker.Host{Addr: "10.0.0.1", Port: "22"}
		h2    = tracker.Host{Addr: "10.0.0.2", Port: "22"}
		count = func(addr string) (n int) {
			for _, line := range shell.Lines() {
				if strings.Contains(line, addr+":") {
					n++
				}
			}
			return
		}
	)
	err := s.Sync(context.Background(), []tracker.Host{h1, h2}, "/src/", "/dst")
	if !baseerrors.Is(baseerrors.Unavailable, err) {
		t.Fatalf("got %v, want Unavailable", err)
	}
	atomic.StoreUint32(&second, 1)
	if err := s.Sync(context.Background(), []tracker.Host{h2}, "/src/", "/dst"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if got, want := count("10.0.0.2"), 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// The failed host is not retried.
	err = s.Sync(context.Background(), []tracker.Host{h1}, "/src/", "/dst")
	if !baseerrors.Is(baseerrors.Unavailable, err) {
		t.Fatalf("got %v, want Unavailable", err)
	}
	if got, want := count("10.0.0.1"), 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
