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

package flow

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/exascience/rnaflow/records"
)

// An AttachFunc derives the joined record from a primary record, which
// carries the side information, and its secondary partner, which
// carries the payload.
type AttachFunc func(primary, secondary records.Record) records.Record

// A KeyFunc projects a record onto the key it is joined by.
type KeyFunc func(records.Record) records.JoinKey

// A JoinError reports a join key that does not have exactly one
// partner on each side.
type JoinError struct {
	SampleID  string
	Key       records.JoinKey
	Primary   int
	Secondary int
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("%v: join key %v has %v primary and %v secondary records, expected exactly one of each",
		ErrIntegrity, e.Key, e.Primary, e.Secondary)
}

// Unwrap returns ErrIntegrity.
func (e *JoinError) Unwrap() error { return ErrIntegrity }

// A Joiner reattaches side information computed on one branch to the
// records of a sibling branch.
type Joiner struct {
	PrimaryKey   KeyFunc
	SecondaryKey KeyFunc
	Attach       AttachFunc
}

// Join joins primary and secondary by records.JoinKey.
func Join(primary, secondary []records.Record, attach AttachFunc) ([]records.Record, []*JoinError) {
	return Joiner{Attach: attach}.Join(primary, secondary)
}

func keyOf(f KeyFunc, r records.Record) records.JoinKey {
	if f == nil {
		return r.JoinKey()
	}
	return f(r)
}

// Join pairs every primary record with exactly one secondary record
// with the same key. Keys with zero or several partners on either side
// are reported as JoinErrors and produce no output. The output follows
// the order of secondary.
func (j Joiner) Join(primary, secondary []records.Record) ([]records.Record, []*JoinError) {
	secondaryIndex := make(map[records.JoinKey][]uint, len(secondary))
	for i, r := range secondary {
		key := keyOf(j.SecondaryKey, r)
		secondaryIndex[key] = append(secondaryIndex[key], uint(i))
	}
	primaryIndex := make(map[records.JoinKey][]int, len(primary))
	var keys []records.JoinKey
	for i, r := range primary {
		key := keyOf(j.PrimaryKey, r)
		if _, ok := primaryIndex[key]; !ok {
			keys = append(keys, key)
		}
		primaryIndex[key] = append(primaryIndex[key], i)
	}

	var errs []*JoinError
	partner := make([]int, len(secondary))
	seen := bitset.New(uint(len(secondary)))
	matched := bitset.New(uint(len(secondary)))
	for _, key := range keys {
		ps, ss := primaryIndex[key], secondaryIndex[key]
		for _, s := range ss {
			seen.Set(s)
		}
		if len(ps) == 1 && len(ss) == 1 {
			matched.Set(ss[0])
			partner[ss[0]] = ps[0]
			continue
		}
		errs = append(errs, &JoinError{SampleID: key.SampleID, Key: key, Primary: len(ps), Secondary: len(ss)})
	}
	if seen.Count() < uint(len(secondary)) {
		reported := make(map[records.JoinKey]bool)
		for i, r := range secondary {
			if seen.Test(uint(i)) {
				continue
			}
			key := keyOf(j.SecondaryKey, r)
			if reported[key] {
				continue
			}
			reported[key] = true
			errs = append(errs, &JoinError{SampleID: key.SampleID, Key: key, Secondary: len(secondaryIndex[key])})
		}
	}

	out := make([]records.Record, 0, matched.Count())
	for i, ok := matched.NextSet(0); ok; i, ok = matched.NextSet(i + 1) {
		out = append(out, j.Attach(primary[partner[i]], secondary[i]))
	}
	return out, errs
}

// AttachStrandedness gives a secondary record the expression mode and
// read strand inferred for its primary partner.
func AttachStrandedness(primary, secondary records.Record) records.Record {
	r := secondary.Clone()
	r.Expression = primary.Expression
	r.ReadStrand = primary.ReadStrand
	return r
}

// IgnoreType is a KeyFunc for joins between records of different
// artifact types.
func IgnoreType(r records.Record) records.JoinKey {
	key := r.JoinKey()
	key.Type = ""
	return key
}
