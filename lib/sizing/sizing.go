// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sizing converts host capacity into worker thread counts.
package sizing

import "math"

// tolerance is the relative error allowed when checking whether one
// more thread fits, so that a sum such as 0.1+0.2 holds three 0.1
// threads. It is far below any real capacity granularity.
const tolerance = 1e-12

// Threads returns floor(available / cost): the largest thread count
// whose total cost fits in available. It never rounds up past the
// capacity beyond a relative error of one part in 10^12. A
// non-positive or NaN available capacity or cost, or an infinite cost,
// yields zero. Counts are clamped to math.MaxInt32, so an unbounded or
// infinite capacity sizes to math.MaxInt32 threads.
func Threads(available, cost float64) int {
	if available <= 0 || cost <= 0 || math.IsNaN(available) || math.IsNaN(cost) || math.IsInf(cost, 1) {
		return 0
	}
	threads := math.Floor(available / cost)
	if threads >= math.MaxInt32 {
		return math.MaxInt32
	}
	limit := available * (1 + tolerance)
	switch {
	case threads > 0 && threads*cost > limit:
		threads--
	case (threads+1)*cost <= limit:
		threads++
	}
	return int(threads)
}

// Available returns max - reserve, clamped at zero.
func Available(max, reserve float64) float64 {
	if reserve >= max {
		return 0
	}
	return max - reserve
}

// Waste returns the capacity left over after sizing: the part of
// available too small to hold another thread.
func Waste(available, cost float64) float64 {
	threads := Threads(available, cost)
	if threads == 0 {
		return max(available, 0)
	}
	return max(available-float64(threads)*cost, 0)
}
