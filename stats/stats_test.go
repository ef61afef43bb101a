// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package stats

import (
	"sync"
	"testing"
)

func TestMap(t *testing.T) {
	m := NewMap("attempts", "retries")
	if got, want := m.Snapshot().String(), "attempts:0 retries:0"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Int("attempts").Add(2)
		}()
	}
	wg.Wait()
	m.Int("syncs").Add(1)
	vals := m.Snapshot()
	if got, want := vals["attempts"], int64(20); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := vals.String(), "attempts:20 retries:0 syncs:1"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestNil(t *testing.T) {
	var m *Map
	m.Int("attempts").Add(1)
	if got, want := m.Int("attempts").Get(), int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := len(m.Snapshot()), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
