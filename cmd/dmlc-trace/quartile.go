// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import "time"

// quartiles summarizes a sorted, non-empty set of durations.
type quartiles struct {
	min, q1, q2, q3, max time.Duration
}

// summarize computes the quartiles of ds using Tukey's method: q2 is
// the median, and q1 and q3 are the medians of the lower and upper
// halves. When len(ds) is odd, the median is included in both halves.
// Ds must be sorted and non-empty.
func summarize(ds []time.Duration) quartiles {
	var (
		q   = quartiles{min: ds[0], max: ds[len(ds)-1]}
		mid = len(ds) / 2
	)
	q.q2 = median(ds)
	q.q3 = q.max
	if len(ds) > 1 {
		q.q3 = median(ds[mid:])
	}
	upper := mid
	if len(ds)%2 == 1 {
		upper++
	}
	q.q1 = median(ds[:upper])
	return q
}

func median(ds []time.Duration) time.Duration {
	mid := len(ds) / 2
	if len(ds)%2 == 1 {
		return ds[mid]
	}
	// Average without overflow.
	a, b := ds[mid-1], ds[mid]
	return a/2 + b/2 + (a%2+b%2)/2
}
