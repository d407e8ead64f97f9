// rnaflow: dataflow orchestration for RNA-seq sample processing.
// Copyright (c) 2021 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/ExaScience/rnaflow/blob/master/LICENSE.txt>.

package intervals

import (
	"sort"

	"github.com/exascience/pargo/parallel"
)

// Interval is a half-open range [Start, End) of positions on a
// chromosome.
type Interval struct {
	Start, End int32
}

// Len returns the number of positions in interval.
func (interval Interval) Len() int32 {
	return interval.End - interval.Start
}

// ExtendWithin makes interval1 larger if interval2 starts at most gap
// positions after the end of interval1, by storing
// max(interval1.End, interval2.End) in interval1.End; otherwise,
// interval1 remains unchanged. Returns true if interval1 was extended.
// interval2.Start >= interval1.Start must be true before calling
// ExtendWithin.
func (interval1 *Interval) ExtendWithin(interval2 Interval, gap int32) bool {
	if interval2.Start-gap > interval1.End {
		return false
	}
	if interval2.End > interval1.End {
		interval1.End = interval2.End
	}
	return true
}

// Extend is ExtendWithin with a gap of zero: it succeeds for
// overlapping and adjacent intervals.
func (interval1 *Interval) Extend(interval2 Interval) bool {
	return interval1.ExtendWithin(interval2, 0)
}

// Bridge merges intervals that are separated by at most gap positions.
// intervals must be sorted by Start before calling Bridge. The result
// is sorted by Start and shares memory with the intervals argument.
func Bridge(intervals []Interval, gap int32) []Interval {
	if len(intervals) == 0 {
		return intervals
	}
	i := 0
	for j := 1; j < len(intervals); j++ {
		if !intervals[i].ExtendWithin(intervals[j], gap) {
			i++
			intervals[i] = intervals[j]
		}
	}
	return intervals[:i+1]
}

// Flatten merges overlapping and adjacent intervals into larger
// intervals. intervals must be sorted by Start before calling
// Flatten. The resulting slice is sorted by Start, and no two
// intervals in the result overlap with each other.
// The result shares memory with the intervals argument.
func Flatten(intervals []Interval) []Interval {
	return Bridge(intervals, 0)
}

const parallelFlattenGrainSize = 0x1000

// ParallelFlatten merges overlapping and adjacent intervals into larger
// intervals, using a parallel algorithm.
// intervals must be sorted by Start before calling ParallelFlatten.
// The resulting slice is sorted by Start, and no two
// intervals in the result overlap with each other.
// The result shares memory with the intervals argument.
func ParallelFlatten(intervals []Interval) []Interval {
	if len(intervals) < parallelFlattenGrainSize {
		return Flatten(intervals)
	}
	half := len(intervals) >> 1
	left, right := intervals[:half], intervals[half:]
	parallel.Do(
		func() { left = ParallelFlatten(left) },
		func() { right = ParallelFlatten(right) },
	)
	for len(right) > 0 && left[len(left)-1].Extend(right[0]) {
		right = right[1:]
	}
	return append(left, right...)
}

// IntersectIndex returns the bounds of the subslice of intervals that
// overlap with the half-open range [start, end), so that data kept
// alongside intervals can be looked up. intervals must be sorted by
// Start and must not overlap each other.
func IntersectIndex(intervals []Interval, start, end int32) (low, high int) {
	n := len(intervals)
	low = sort.Search(n, func(i int) bool {
		return intervals[i].End > start
	})
	high = sort.Search(n, func(i int) bool {
		return intervals[i].Start >= end
	})
	if high < low {
		high = low
	}
	return low, high
}

// Clip returns the part of interval that lies within [start, end).
// The result has length zero if they do not overlap.
func (interval Interval) Clip(start, end int32) Interval {
	if interval.Start < start {
		interval.Start = start
	}
	if interval.End > end {
		interval.End = end
	}
	if interval.End < interval.Start {
		interval.End = interval.Start
	}
	return interval
}
