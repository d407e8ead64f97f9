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
	"fmt"

	"github.com/pkg/errors"

	"github.com/exascience/rnaflow/records"
)

// A Plan is the part of the configuration that determines the shape
// of the pipeline graph.
type Plan struct {
	Steps      []Step
	QuantMode  records.Space
	Duplicates DuplicatePolicy

	// Genome, Annotation, and PrebuiltIndex report which references
	// are available.
	Genome        bool
	Annotation    bool
	PrebuiltIndex bool

	// Fetch reports whether any input has to be fetched first.
	Fetch bool
}

// Enabled reports whether step is part of p.
func (p Plan) Enabled(step Step) bool {
	for _, s := range p.Steps {
		if s == step {
			return true
		}
	}
	return false
}

type builder struct {
	stages []Stage
	edges  []Edge
}

func (b *builder) stage(stages ...Stage) {
	b.stages = append(b.stages, stages...)
}

func (b *builder) edge(to Stage, from ...Stage) {
	for _, f := range from {
		b.edges = append(b.edges, Edge{From: f, To: to})
	}
}

func (p Plan) check() error {
	if !p.Genome {
		return errors.Wrap(ErrPlan, "no genome reference available")
	}
	for _, step := range p.Steps {
		switch step {
		case StepMapping, StepBigWig, StepContig, StepQuantification:
		default:
			return errors.Wrapf(ErrPlan, "unknown step %q", step)
		}
	}
	if p.Enabled(StepQuantification) {
		if !p.Annotation {
			return errors.Wrap(ErrPlan, "quantification requested without an annotation reference")
		}
		if p.QuantMode != records.Genome && p.QuantMode != records.Transcriptome {
			return errors.Wrapf(ErrPlan, "unknown quantification mode %q", p.QuantMode)
		}
	}
	if p.Enabled(StepContig) && !p.Enabled(StepBigWig) {
		return errors.Wrap(ErrPlan, "contig calling requires the bigwig step")
	}
	switch p.Duplicates {
	case DuplicatesNone, DuplicatesMark, DuplicatesRemove:
	default:
		return errors.Wrapf(ErrPlan, "unknown duplicate policy %q", p.Duplicates)
	}
	return nil
}

// Build validates p and returns the graph of stages it requires.
func Build(p Plan) (*Graph, error) {
	if p.Duplicates == "" {
		p.Duplicates = DuplicatesNone
	}
	if err := p.check(); err != nil {
		return nil, err
	}
	mapping := p.Enabled(StepMapping)
	bigwig := p.Enabled(StepBigWig)
	contig := p.Enabled(StepContig)
	quant := p.Enabled(StepQuantification)
	transcriptomeQuant := quant && p.QuantMode == records.Transcriptome

	var b builder

	// reference stages
	if mapping && !p.PrebuiltIndex {
		b.stage(GenomeIndex)
	}
	if transcriptomeQuant && !p.PrebuiltIndex {
		b.stage(TranscriptomeIndex)
	}
	if bigwig {
		b.stage(ChromSizes)
	}

	// per-run stages
	if p.Fetch {
		b.stage(Fetch)
	}
	aligned := []Stage{Bypass}
	if mapping {
		b.stage(Mapping, SplitSpace)
		if p.Fetch {
			b.edge(Mapping, Fetch)
		}
		if b.has(GenomeIndex) {
			b.edge(Mapping, GenomeIndex)
		}
		b.edge(SplitSpace, Mapping)
		aligned = append(aligned, SplitSpace)
	}
	b.stage(Bypass)
	if p.Fetch {
		b.edge(Bypass, Fetch)
	}

	// per-sample stages
	b.stage(MergeGenome, SortTranscriptome, MergeTranscriptome)
	b.edge(MergeGenome, aligned...)
	b.edge(SortTranscriptome, aligned...)
	b.edge(MergeTranscriptome, SortTranscriptome)
	genome := MergeGenome
	if p.Duplicates != DuplicatesNone {
		b.stage(MarkDuplicates)
		b.edge(MarkDuplicates, MergeGenome)
		genome = MarkDuplicates
	}
	b.stage(InferExperiment, JoinStrandedness, BamStats, JoinBamStats)
	b.edge(InferExperiment, genome)
	b.edge(JoinStrandedness, InferExperiment, MergeTranscriptome)
	b.edge(BamStats, genome)
	b.edge(JoinBamStats, InferExperiment, BamStats)

	terminal := []Stage{InferExperiment, JoinStrandedness, JoinBamStats}
	if bigwig {
		b.stage(Coverage, SplitStrand)
		b.edge(Coverage, ChromSizes, InferExperiment)
		b.edge(SplitStrand, Coverage)
		terminal = append(terminal, SplitStrand)
	}
	if contig {
		b.stage(Contig)
		b.edge(Contig, ChromSizes, SplitStrand)
		terminal = append(terminal, Contig)
	}
	if quant {
		b.stage(Quantification)
		if transcriptomeQuant {
			if b.has(TranscriptomeIndex) {
				b.edge(Quantification, TranscriptomeIndex)
			}
			b.edge(Quantification, JoinStrandedness)
		} else {
			b.edge(Quantification, InferExperiment)
		}
		terminal = append(terminal, Quantification)
	}
	b.stage(Manifest)
	b.edge(Manifest, terminal...)

	g, err := newGraph(b.stages, b.edges)
	if err != nil {
		return nil, err
	}
	g.plan = p
	return g, nil
}

func (b *builder) has(stage Stage) bool {
	for _, s := range b.stages {
		if s == stage {
			return true
		}
	}
	return false
}

// A Route is the first stage an input record is sent to.
type Route int

// Routes of input records.
const (
	RouteDrop Route = iota
	RouteMapping
	RouteBypass
)

func (r Route) String() string {
	switch r {
	case RouteMapping:
		return string(Mapping)
	case RouteBypass:
		return string(Bypass)
	default:
		return "drop"
	}
}

// Route decides where an input record enters the graph. Dropped
// records come with the reason why.
func (g *Graph) Route(rec records.Record) (Route, string) {
	switch rec.Type {
	case records.Fastq:
		if g.Has(Mapping) {
			return RouteMapping, ""
		}
		return RouteDrop, fmt.Sprintf("mapping is disabled, reads of run %v of sample %v cannot be processed", rec.RunID, rec.SampleID)
	case records.Bam:
		if _, err := rec.Space(); err != nil {
			return RouteDrop, err.Error()
		}
		return RouteBypass, ""
	default:
		return RouteDrop, fmt.Sprintf("unsupported input type %v for run %v of sample %v", rec.Type, rec.RunID, rec.SampleID)
	}
}

// GenomeAlignments returns the stage that produces the final genome
// alignments of every sample.
func (g *Graph) GenomeAlignments() Stage {
	if g.Has(MarkDuplicates) {
		return MarkDuplicates
	}
	return MergeGenome
}
