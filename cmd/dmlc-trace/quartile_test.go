// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"sort"
	"testing"
	"time"

	fuzz "github.com/google/gofuzz"
)

func TestSummarize(t *testing.T) {
	for _, c := range []struct {
		name       string
		ds         []int64
		q1, q2, q3 int64
	}{
		{"OneElement", []int64{0}, 0, 0, 0},
		{"TwoElementAllSame", []int64{0, 0}, 0, 0, 0},
		{"TwoElement", []int64{0, 100}, 0, 50, 100},
		{"ThreeElementLowSame", []int64{0, 0, 200}, 0, 0, 100},
		{"ThreeElementHighSame", []int64{0, 200, 200}, 100, 200, 200},
		{"ThreeElement", []int64{0, 100, 200}, 50, 100, 150},
		{"FourElementSomeSame", []int64{0, 100, 100, 200}, 50, 100, 150},
		{"FourElement", []int64{0, 100, 200, 300}, 50, 150, 250},
		{"FiveElementSomeSame", []int64{0, 100, 100, 100, 200}, 100, 100, 100},
		{"FiveElement", []int64{0, 100, 200, 300, 400}, 100, 200, 300},
		{"Large", []int64{1<<63 - 1, 1<<63 - 1}, 1<<63 - 1, 1<<63 - 1, 1<<63 - 1},
	} {
		t.Run(c.name, func(t *testing.T) {
			ds := make([]time.Duration, len(c.ds))
			for i := range ds {
				ds[i] = time.Duration(c.ds[i])
			}
			q := summarize(ds)
			if got, want := q.min, ds[0]; got != want {
				t.Errorf("min: got %v, want %v", got, want)
			}
			if got, want := q.q1, time.Duration(c.q1); got != want {
				t.Errorf("q1: got %v, want %v", got, want)
			}
			if got, want := q.q2, time.Duration(c.q2); got != want {
				t.Errorf("q2: got %v, want %v", got, want)
			}
			if got, want := q.q3, time.Duration(c.q3); got != want {
				t.Errorf("q3: got %v, want %v", got, want)
			}
			if got, want := q.max, ds[len(ds)-1]; got != want {
				t.Errorf("max: got %v, want %v", got, want)
			}
		})
	}
}

// TestSummarizeFuzz verifies that the quartiles computed from fuzzed
// values are within [min, max] and monotonically increasing.
func TestSummarizeFuzz(t *testing.T) {
	const N = 10000
	f := fuzz.New()
	for i := 0; i < N; i++ {
		var ds []time.Duration
		f.Fuzz(&ds)
		if len(ds) == 0 {
			continue
		}
		sort.Slice(ds, func(i, j int) bool {
			return ds[i] < ds[j]
		})
		q := summarize(ds)
		if q.q1 < q.min {
			t.Errorf("%v: %v(q1) < %v(min)", ds, q.q1, q.min)
		}
		if q.q2 < q.q1 {
			t.Errorf("%v: %v(q2) < %v(q1)", ds, q.q2, q.q1)
		}
		if q.q3 < q.q2 {
			t.Errorf("%v: %v(q3) < %v(q2)", ds, q.q3, q.q2)
		}
		if q.max < q.q3 {
			t.Errorf("%v: %v(max) < %v(q3)", ds, q.max, q.q3)
		}
	}
}
