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
	"context"
	"runtime"
	"sort"
	"sync"

	"github.com/exascience/pargo/parallel"
	psync "github.com/exascience/pargo/sync"

	"github.com/exascience/rnaflow/records"
)

// A Group is the set of records that share a grouping key at a merge
// point.
type Group struct {
	Key     records.GroupKey
	Members []records.Record
}

// RunIDs returns the run ids of the members of g, in member order.
func (g Group) RunIDs() []string {
	ids := make([]string, len(g.Members))
	for i, m := range g.Members {
		ids[i] = m.RunID
	}
	return ids
}

type groupEntry struct {
	key     records.GroupKey
	mutex   sync.Mutex
	members []records.Record
}

// A Grouper collects records by grouping key. It is safe for
// concurrent use.
type Grouper struct {
	stage  string
	groups *psync.Map
}

// NewGrouper returns an empty Grouper. The stage name is used in
// integrity errors.
func NewGrouper(stage string) *Grouper {
	return &Grouper{stage: stage, groups: psync.NewMap(16 * runtime.GOMAXPROCS(0))}
}

// Add adds rec to its group.
func (g *Grouper) Add(rec records.Record) {
	key := rec.GroupKey()
	value, _ := g.groups.LoadOrStore(key, &groupEntry{key: key})
	entry := value.(*groupEntry)
	entry.mutex.Lock()
	entry.members = append(entry.members, rec)
	entry.mutex.Unlock()
}

// Groups returns all groups ordered by key, with members ordered by
// run id. Samples that were seen with both paired-end flags for the
// same type and view, or with the same run twice in one group, are
// reported as integrity errors and none of their groups are returned.
func (g *Grouper) Groups() ([]Group, []*SampleError) {
	result := g.groups.ParallelReduce(
		func(entries map[interface{}]interface{}) interface{} {
			groups := make([]Group, 0, len(entries))
			for _, value := range entries {
				entry := value.(*groupEntry)
				groups = append(groups, Group{Key: entry.key, Members: entry.members})
			}
			return groups
		},
		func(x, y interface{}) interface{} {
			return append(x.([]Group), y.([]Group)...)
		},
	)
	var groups []Group
	if result != nil {
		groups = result.([]Group)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Key.Less(groups[j].Key) })

	failed := make(map[string]*SampleError)
	type viewKey struct {
		sample, view string
		typ          records.ArtifactType
	}
	paired := make(map[viewKey]bool)
	for i := range groups {
		grp := &groups[i]
		records.SortByRun(grp.Members)
		k := grp.Key
		vk := viewKey{k.SampleID, k.View, k.Type}
		if flag, ok := paired[vk]; ok && flag != k.PairedEnd {
			if failed[k.SampleID] == nil {
				failed[k.SampleID] = integrityf(k.SampleID, g.stage, "%v %v seen as both paired-end and single-end", k.Type, k.View)
			}
		}
		paired[vk] = k.PairedEnd
		for j := 1; j < len(grp.Members); j++ {
			if grp.Members[j].RunID == grp.Members[j-1].RunID && failed[k.SampleID] == nil {
				failed[k.SampleID] = integrityf(k.SampleID, g.stage, "run %v occurs twice in group %v", grp.Members[j].RunID, k)
			}
		}
	}
	if len(failed) == 0 {
		return groups, nil
	}
	kept := groups[:0]
	for _, grp := range groups {
		if failed[grp.Key.SampleID] == nil {
			kept = append(kept, grp)
		}
	}
	errs := make([]*SampleError, 0, len(failed))
	for _, err := range failed {
		errs = append(errs, err)
	}
	sort.Slice(errs, func(i, j int) bool { return errs[i].SampleID < errs[j].SampleID })
	return kept, errs
}

// MergeKind tells how a group was reduced to a single record.
type MergeKind string

// Merge kinds.
const (
	Passthrough MergeKind = "passthrough"
	Merged      MergeKind = "merge"
	SortMerged  MergeKind = "sort-merge"
)

// A Merger is the external collaborator of the merge engine.
type Merger interface {
	// Sort coordinate-sorts one member of a transcriptome group.
	Sort(ctx context.Context, rec records.Record) (records.Record, error)
	// Merge combines the members of a group, which are ordered by run
	// id, and returns the payload of the merged record.
	Merge(ctx context.Context, space records.Space, key records.GroupKey, members []records.Record) ([]string, error)
}

// SortMembers is the pre-pass of transcriptome merges: every member
// of a multi-member transcriptome group is coordinate-sorted, in
// parallel and in place of the original member. Other groups are
// returned unchanged.
func SortMembers(ctx context.Context, grp Group, m Merger) (Group, error) {
	if len(grp.Members) == 1 {
		return grp, nil
	}
	if space, err := grp.Members[0].Space(); err != nil {
		return grp, err
	} else if space != records.Transcriptome {
		return grp, nil
	}
	sorted := make([]records.Record, len(grp.Members))
	errs := make([]error, len(grp.Members))
	parallel.Range(0, len(grp.Members), 0, func(low, high int) {
		for i := low; i < high; i++ {
			sorted[i], errs[i] = m.Sort(ctx, grp.Members[i])
		}
	})
	for _, err := range errs {
		if err != nil {
			return grp, err
		}
	}
	return Group{Key: grp.Key, Members: sorted}, nil
}

// MergeGroup reduces grp to one record. Single-member groups pass
// through unchanged. Multi-member groups are combined by one merge
// invocation; members of transcriptome groups must have gone through
// SortMembers first.
func MergeGroup(ctx context.Context, grp Group, m Merger) (records.Record, MergeKind, error) {
	if len(grp.Members) == 1 {
		return grp.Members[0], Passthrough, nil
	}
	space, err := grp.Members[0].Space()
	if err != nil {
		return records.Record{}, "", err
	}
	kind := Merged
	if space == records.Transcriptome {
		kind = SortMerged
	}
	payload, err := m.Merge(ctx, space, grp.Key, grp.Members)
	if err != nil {
		return records.Record{}, "", err
	}
	merged := records.Record{
		RunID:      records.MergedRunID(grp.RunIDs()),
		SampleID:   grp.Key.SampleID,
		Type:       grp.Key.Type,
		View:       grp.Key.View,
		PairedEnd:  grp.Key.PairedEnd,
		ReadStrand: grp.Members[0].ReadStrand,
		Expression: grp.Members[0].Expression,
	}
	return merged.With(payload...), kind, nil
}
