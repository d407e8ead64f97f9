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

package records

import (
	"fmt"

	"github.com/exascience/rnaflow/internal"
)

type (
	// GroupKey decides fan-in at merge points: all records with the
	// same GroupKey are combined into one per-sample record.
	GroupKey struct {
		SampleID  string
		Type      ArtifactType
		View      string
		PairedEnd bool
	}

	// JoinKey pairs records of two branches that diverged at a branch
	// splitter. It leaves out the view and the read strand, which
	// differ between the branches by design.
	JoinKey struct {
		RunID     string
		SampleID  string
		Type      ArtifactType
		PairedEnd bool
	}

	// RunKey collates the read files of one sequencing run.
	RunKey struct {
		SampleID string
		RunID    string
		Type     ArtifactType
	}
)

// GroupKey returns the grouping key of r.
func (r Record) GroupKey() GroupKey {
	return GroupKey{r.SampleID, r.Type, r.View, r.PairedEnd}
}

// JoinKey returns the join key of r.
func (r Record) JoinKey() JoinKey {
	return JoinKey{r.RunID, r.SampleID, r.Type, r.PairedEnd}
}

// RunKey returns the run key of r.
func (r Record) RunKey() RunKey {
	return RunKey{r.SampleID, r.RunID, r.Type}
}

// Hash implements the pargo sync.Hasher interface.
func (k GroupKey) Hash() uint64 {
	return internal.StringsHash(k.SampleID, string(k.Type), k.View) ^ internal.BoolHash(k.PairedEnd)
}

// Hash implements the pargo sync.Hasher interface.
func (k JoinKey) Hash() uint64 {
	return internal.StringsHash(k.RunID, k.SampleID, string(k.Type)) ^ internal.BoolHash(k.PairedEnd)
}

// Less orders group keys by sample, type, view, and paired-end flag.
func (k GroupKey) Less(l GroupKey) bool {
	if k.SampleID != l.SampleID {
		return k.SampleID < l.SampleID
	}
	if k.Type != l.Type {
		return k.Type < l.Type
	}
	if k.View != l.View {
		return k.View < l.View
	}
	return !k.PairedEnd && l.PairedEnd
}

func (k GroupKey) String() string {
	return fmt.Sprintf("%v/%v:%v(paired=%v)", k.SampleID, k.Type, k.View, k.PairedEnd)
}

func (k JoinKey) String() string {
	return fmt.Sprintf("%v/%v/%v(paired=%v)", k.SampleID, k.RunID, k.Type, k.PairedEnd)
}
