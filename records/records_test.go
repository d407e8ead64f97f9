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
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergedRunID(t *testing.T) {
	assert.Equal(t, "run1:run2", MergedRunID([]string{"run1", "run2"}))
	assert.Equal(t, "run1:run2", MergedRunID([]string{"run2", "run1"}))
	assert.Equal(t, "a:b:c", MergedRunID([]string{"c", "a", "b"}))
	assert.Equal(t, "solo", MergedRunID([]string{"solo"}))

	ids := []string{"z", "y"}
	MergedRunID(ids)
	assert.Equal(t, []string{"z", "y"}, ids, "argument must not be reordered")
}

func TestSpace(t *testing.T) {
	for view, want := range map[string]Space{
		"GenomeAlignments":        Genome,
		"TranscriptomeAlignments": Transcriptome,
	} {
		space, err := Record{View: view}.Space()
		require.NoError(t, err)
		assert.Equal(t, want, space)
	}
	_, err := Record{View: "Alignments"}.Space()
	assert.True(t, errors.Is(err, ErrAmbiguousSpace))
}

func TestWithDoesNotShare(t *testing.T) {
	r := Record{RunID: "r", Payload: []string{"a"}, Sources: []string{"http://x"}}
	c := r.With("b", "c")
	c.Sources[0] = "changed"
	assert.Equal(t, []string{"a"}, r.Payload)
	assert.Equal(t, []string{"http://x"}, r.Sources)
	assert.Equal(t, []string{"b", "c"}, c.Payload)
}

func TestKeys(t *testing.T) {
	a := Record{RunID: "run1", SampleID: "s", Type: Bam, View: "GenomeAlignments", PairedEnd: true}
	b := Record{RunID: "run1", SampleID: "s", Type: Bam, View: "TranscriptomeAlignments", PairedEnd: true, ReadStrand: Reverse}
	assert.Equal(t, a.JoinKey(), b.JoinKey())
	assert.Equal(t, a.JoinKey().Hash(), b.JoinKey().Hash())
	assert.NotEqual(t, a.GroupKey(), b.GroupKey())

	c := a
	c.PairedEnd = false
	assert.NotEqual(t, a.GroupKey().Hash(), c.GroupKey().Hash())
	assert.True(t, c.GroupKey().Less(a.GroupKey()))
}

func TestParseSideInfo(t *testing.T) {
	info, err := ParseSideInfo([]byte(`{"pairedEnd": true, "expressionMode": "MATE2_SENSE"}` + "\n"))
	require.NoError(t, err)
	assert.True(t, info.IsPairedEnd())
	assert.Equal(t, ModeMate2Sense, info.ExpressionMode)
	assert.Equal(t, Reverse, info.ExpressionMode.Strand())
	assert.Equal(t, "0", info.ExpressionMode.ForwardProb())

	for _, bad := range []string{
		``,
		`not json`,
		`{"expressionMode": "NONE"}`,
		`{"pairedEnd": false, "expressionMode": "SIDEWAYS"}`,
		`{"pairedEnd": false, "expressionMode": "NONE", "extra": 1}`,
	} {
		_, err := ParseSideInfo([]byte(bad))
		assert.True(t, errors.Is(err, ErrSideInfo), "input %q", bad)
	}
}

func TestAttach(t *testing.T) {
	paired := false
	info := SideInfo{PairedEnd: &paired, ExpressionMode: ModeNone}
	r := Record{RunID: "r", PairedEnd: true, Payload: []string{"x.bam"}}
	a := info.Attach(r)
	assert.True(t, a.PairedEnd, "paired-end flag is set once at input classification")
	assert.Equal(t, Unstranded, a.ReadStrand)
	assert.Equal(t, ModeNone, a.Expression)
	assert.Equal(t, StrandAbsent, r.ReadStrand)
}
