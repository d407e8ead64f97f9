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

// Package graph decides which stages a pipeline run consists of, and
// how records flow between them.
//
// Build turns a Plan into an immutable Graph. The execution driver
// creates one channel per edge of that graph at startup, so the
// wiring of a run is fully determined before any record flows.
package graph

import (
	"strings"

	"github.com/pkg/errors"
)

// A Stage names a node of the pipeline graph.
type Stage string

// Stages known to the graph builder.
const (
	Fetch              Stage = "fetch"
	GenomeIndex        Stage = "genome-index"
	TranscriptomeIndex Stage = "transcriptome-index"
	ChromSizes         Stage = "chrom-sizes"
	Mapping            Stage = "mapping"
	Bypass             Stage = "bypass"
	SplitSpace         Stage = "split-space"
	MergeGenome        Stage = "merge-genome"
	SortTranscriptome  Stage = "sort-transcriptome"
	MergeTranscriptome Stage = "merge-transcriptome"
	MarkDuplicates     Stage = "mark-duplicates"
	InferExperiment    Stage = "infer-experiment"
	JoinStrandedness   Stage = "join-strandedness"
	BamStats           Stage = "bam-stats"
	JoinBamStats       Stage = "join-bam-stats"
	Coverage           Stage = "coverage"
	SplitStrand        Stage = "split-strand"
	Contig             Stage = "contig"
	Quantification     Stage = "quantification"
	Manifest           Stage = "manifest"
)

// A Kind classifies how the driver schedules a stage.
type Kind int

const (
	// KindReference stages run once per species before any sample.
	KindReference Kind = iota
	// KindRecord stages handle one record (or one run) at a time.
	KindRecord
	// KindBarrier stages wait until all their inputs are complete.
	KindBarrier
	// KindSink is the manifest.
	KindSink
)

func (k Kind) String() string {
	switch k {
	case KindReference:
		return "reference"
	case KindRecord:
		return "record"
	case KindBarrier:
		return "barrier"
	case KindSink:
		return "sink"
	default:
		return "unknown"
	}
}

var stageKinds = map[Stage]Kind{
	Fetch:              KindRecord,
	GenomeIndex:        KindReference,
	TranscriptomeIndex: KindReference,
	ChromSizes:         KindReference,
	Mapping:            KindRecord,
	Bypass:             KindRecord,
	SplitSpace:         KindRecord,
	MergeGenome:        KindBarrier,
	SortTranscriptome:  KindBarrier,
	MergeTranscriptome: KindBarrier,
	MarkDuplicates:     KindRecord,
	InferExperiment:    KindRecord,
	JoinStrandedness:   KindBarrier,
	BamStats:           KindRecord,
	JoinBamStats:       KindBarrier,
	Coverage:           KindRecord,
	SplitStrand:        KindRecord,
	Contig:             KindBarrier,
	Quantification:     KindRecord,
	Manifest:           KindSink,
}

// KindOf returns the kind of stage.
func KindOf(stage Stage) Kind { return stageKinds[stage] }

// A Step is a user-selectable part of the pipeline.
type Step string

// Steps that can be enabled.
const (
	StepMapping        Step = "mapping"
	StepBigWig         Step = "bigwig"
	StepContig         Step = "contig"
	StepQuantification Step = "quantification"
)

// DefaultSteps enables everything.
const DefaultSteps = "mapping,bigwig,contig,quantification"

// ErrPlan is returned for plans that cannot be turned into a graph.
// It is a configuration error.
var ErrPlan = errors.New("invalid pipeline plan")

// ParseSteps parses a comma-separated list of steps.
func ParseSteps(s string) ([]Step, error) {
	var steps []Step
	seen := make(map[Step]bool)
	for _, field := range strings.Split(s, ",") {
		step := Step(strings.ToLower(strings.TrimSpace(field)))
		switch step {
		case "":
			continue
		case StepMapping, StepBigWig, StepContig, StepQuantification:
		default:
			return nil, errors.Wrapf(ErrPlan, "unknown step %q", field)
		}
		if !seen[step] {
			seen[step] = true
			steps = append(steps, step)
		}
	}
	return steps, nil
}

// A DuplicatePolicy states what happens to duplicate reads.
type DuplicatePolicy string

// Duplicate policies.
const (
	DuplicatesNone   DuplicatePolicy = "none"
	DuplicatesMark   DuplicatePolicy = "mark"
	DuplicatesRemove DuplicatePolicy = "remove"
)

// ParseDuplicatePolicy parses none, mark, or remove.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch p := DuplicatePolicy(strings.ToLower(s)); p {
	case DuplicatesNone, DuplicatesMark, DuplicatesRemove:
		return p, nil
	case "":
		return DuplicatesNone, nil
	default:
		return "", errors.Wrapf(ErrPlan, "unknown duplicate policy %q", s)
	}
}
