// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/limiter"
	"github.com/grailbio/base/log"
	"github.com/grailbio/tracker"
	"github.com/grailbio/tracker/stats"
	"golang.org/x/sync/errgroup"
)

// onceTask manages a computation that must be run at most once.
// It's similar to sync.Once, except it also handles and returns errors.
// A computation that was interrupted by its context is not recorded,
// and is run again by the next call to Do.
type onceTask struct {
	mu   sync.Mutex
	done uint32
	err  error
}

// Do runs the function do at most once. Successive invocations of Do
// guarantee exactly one invocation of the function do. Do returns
// the error of do's invocation.
func (o *onceTask) Do(do func() error) error {
	if atomic.LoadUint32(&o.done) == 1 {
		return o.err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if atomic.LoadUint32(&o.done) == 0 {
		err := do()
		if err == context.Canceled || err == context.DeadlineExceeded {
			return err
		}
		o.err = err
		atomic.StoreUint32(&o.done, 1)
	}
	return o.err
}

// hostOnce coordinates actions that must happen exactly once per
// destination host.
type hostOnce sync.Map

// Do invokes the action exactly once for each host and returns any
// error produced by that invocation.
func (h *hostOnce) Do(host tracker.Host, do func() error) error {
	taskv, _ := (*sync.Map)(h).LoadOrStore(host, new(onceTask))
	return taskv.(*onceTask).Do(do)
}

// A syncer mirrors a local directory to remote hosts with rsync over
// ssh. Each host is synchronized at most once for the lifetime of the
// syncer.
type syncer struct {
	shell   Shell
	once    hostOnce
	limiter *limiter.Limiter
	// syncs counts completed transfers.
	syncs *stats.Int
}

func newSyncer(shell Shell, parallelism int) *syncer {
	s := &syncer{shell: shell, limiter: limiter.New()}
	s.limiter.Release(parallelism)
	return s
}

// Sync mirrors the local directory to dir on every provided host. It
// returns after all transfers have completed; an error is returned if
// any of them failed.
func (s *syncer) Sync(ctx context.Context, hosts []tracker.Host, local, dir string) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, host := range hosts {
		host := host
		g.Go(func() error {
			return s.once.Do(host, func() error {
				if err := s.limiter.Acquire(ctx, 1); err != nil {
					return err
				}
				defer s.limiter.Release(1)
				return s.sync(ctx, host, local, dir)
			})
		})
	}
	return g.Wait()
}

func (s *syncer) sync(ctx context.Context, host tracker.Host, local, dir string) error {
	remote := host.Addr + ":" + dir
	log.Printf("rsync %s -> %s", local, remote)
	line := fmt.Sprintf(`rsync -az --rsh="ssh -o StrictHostKeyChecking=no -p %s" %s %s`,
		host.Port, Quote(local), Quote(remote))
	if err := s.shell.Run(ctx, Command{Line: line}); err != nil {
		if ctx.Err() != nil {
			// Interrupted, e.g., because another host failed.
			return ctx.Err()
		}
		return errors.E(errors.Unavailable, fmt.Sprintf("sync %s", host), err)
	}
	s.syncs.Add(1)
	return nil
}
