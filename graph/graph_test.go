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

package graph

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exascience/rnaflow/records"
)

func fullPlan() Plan {
	return Plan{
		Steps:      []Step{StepMapping, StepBigWig, StepContig, StepQuantification},
		QuantMode:  records.Transcriptome,
		Duplicates: DuplicatesMark,
		Genome:     true,
		Annotation: true,
	}
}

func TestBuildFull(t *testing.T) {
	g, err := Build(fullPlan())
	require.NoError(t, err)

	for _, s := range []Stage{GenomeIndex, TranscriptomeIndex, ChromSizes, Mapping, SplitSpace, Bypass,
		MergeGenome, SortTranscriptome, MergeTranscriptome, MarkDuplicates, InferExperiment,
		JoinStrandedness, BamStats, JoinBamStats, Coverage, SplitStrand, Contig, Quantification, Manifest} {
		assert.True(t, g.Has(s), s)
	}
	assert.False(t, g.Has(Fetch))

	assert.Equal(t, MarkDuplicates, g.GenomeAlignments())
	assert.ElementsMatch(t, []Stage{MergeGenome, SortTranscriptome}, g.Consumers(SplitSpace))
	assert.ElementsMatch(t, []Stage{TranscriptomeIndex, JoinStrandedness}, g.Producers(Quantification))
	assert.ElementsMatch(t, []Stage{InferExperiment, JoinStrandedness, JoinBamStats, SplitStrand, Contig, Quantification},
		g.Producers(Manifest))

	order := g.TopologicalOrder()
	require.Len(t, order, len(g.Stages()))
	pos := make(map[Stage]int)
	for i, s := range order {
		pos[s] = i
	}
	for _, e := range g.Edges() {
		assert.Less(t, pos[e.From], pos[e.To], e.String())
	}
	assert.Equal(t, Manifest, order[len(order)-1])

	d, ok := g.Depth(GenomeIndex)
	require.True(t, ok)
	assert.Equal(t, 0, d)
	d, _ = g.Depth(MergeTranscriptome)
	assert.Equal(t, 4, d)
	_, ok = g.Depth(Fetch)
	assert.False(t, ok)
}

func TestBuildTranscriptomeIndexInsertedAutomatically(t *testing.T) {
	p := Plan{
		Steps:     []Step{StepMapping, StepQuantification},
		QuantMode: records.Transcriptome,
		Genome:    true, Annotation: true,
	}
	g, err := Build(p)
	require.NoError(t, err)
	assert.True(t, g.Has(TranscriptomeIndex))
	assert.Contains(t, g.Consumers(TranscriptomeIndex), Quantification)
	assert.Contains(t, g.Consumers(JoinStrandedness), Quantification)
	assert.Equal(t, DuplicatesNone, g.Plan().Duplicates)
	assert.Equal(t, MergeGenome, g.GenomeAlignments())

	p.PrebuiltIndex = true
	g, err = Build(p)
	require.NoError(t, err)
	assert.False(t, g.Has(TranscriptomeIndex))
	assert.False(t, g.Has(GenomeIndex))
	assert.True(t, g.Has(Mapping))

	p.QuantMode = records.Genome
	p.PrebuiltIndex = false
	g, err = Build(p)
	require.NoError(t, err)
	assert.False(t, g.Has(TranscriptomeIndex))
	assert.Equal(t, []Stage{InferExperiment}, g.Producers(Quantification))
}

func TestBuildWithoutMapping(t *testing.T) {
	g, err := Build(Plan{Genome: true, Fetch: true})
	require.NoError(t, err)
	for _, s := range []Stage{GenomeIndex, Mapping, SplitSpace, Coverage, Quantification} {
		assert.False(t, g.Has(s), s)
	}
	assert.Equal(t, []Stage{Bypass}, g.Consumers(Fetch))

	route, reason := g.Route(records.Record{SampleID: "sampleB", RunID: "run1", Type: records.Bam, View: "GenomeAlignments"})
	assert.Equal(t, RouteBypass, route)
	assert.Empty(t, reason)

	route, reason = g.Route(records.Record{SampleID: "sampleA", RunID: "run1", Type: records.Fastq, View: "FqRd1"})
	assert.Equal(t, RouteDrop, route)
	assert.Contains(t, reason, "mapping is disabled")

	route, _ = g.Route(records.Record{Type: records.Bam, View: "Alignments"})
	assert.Equal(t, RouteDrop, route)
}

func TestRouteWithMapping(t *testing.T) {
	g, err := Build(fullPlan())
	require.NoError(t, err)
	route, _ := g.Route(records.Record{Type: records.Fastq, View: "FqRd1"})
	assert.Equal(t, RouteMapping, route)
	route, _ = g.Route(records.Record{Type: records.BigWig})
	assert.Equal(t, RouteDrop, route)
}

func TestBuildFailsFast(t *testing.T) {
	for name, p := range map[string]Plan{
		"no genome":          {Steps: []Step{StepMapping}},
		"no annotation":      {Steps: []Step{StepQuantification}, QuantMode: records.Genome, Genome: true},
		"contig sans bigwig": {Steps: []Step{StepContig}, Genome: true},
		"unknown step":       {Steps: []Step{"assembly"}, Genome: true},
		"quant mode":         {Steps: []Step{StepQuantification}, QuantMode: "Exome", Genome: true, Annotation: true},
		"duplicates":         {Duplicates: "drop", Genome: true},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Build(p)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrPlan), "%v", err)
		})
	}
}

func TestNewGraphRejectsInvalid(t *testing.T) {
	for name, tc := range map[string]struct {
		stages []Stage
		edges  []Edge
	}{
		"empty":           {},
		"unknown stage":   {stages: []Stage{"nope"}},
		"duplicate stage": {stages: []Stage{Mapping, Mapping}},
		"unknown edge":    {stages: []Stage{Mapping}, edges: []Edge{{Mapping, SplitSpace}}},
		"self loop":       {stages: []Stage{Mapping}, edges: []Edge{{Mapping, Mapping}}},
		"duplicate edge":  {stages: []Stage{Mapping, SplitSpace}, edges: []Edge{{Mapping, SplitSpace}, {Mapping, SplitSpace}}},
		"cycle": {
			stages: []Stage{Mapping, SplitSpace, MergeGenome},
			edges:  []Edge{{Mapping, SplitSpace}, {SplitSpace, MergeGenome}, {MergeGenome, Mapping}},
		},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := newGraph(tc.stages, tc.edges)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrGraph), "%v", err)
		})
	}
}

func TestParseSteps(t *testing.T) {
	steps, err := ParseSteps(DefaultSteps)
	require.NoError(t, err)
	assert.Equal(t, []Step{StepMapping, StepBigWig, StepContig, StepQuantification}, steps)

	steps, err = ParseSteps(" Mapping, mapping ,,bigwig")
	require.NoError(t, err)
	assert.Equal(t, []Step{StepMapping, StepBigWig}, steps)

	_, err = ParseSteps("mapping,assembly")
	assert.True(t, errors.Is(err, ErrPlan))

	policy, err := ParseDuplicatePolicy("Remove")
	require.NoError(t, err)
	assert.Equal(t, DuplicatesRemove, policy)
	_, err = ParseDuplicatePolicy("drop")
	assert.Error(t, err)
}
