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
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ArtifactType names the kind of payload a Record carries.
type ArtifactType string

// Artifact types produced and consumed by the pipeline.
const (
	Fastq    ArtifactType = "fastq"
	Bam      ArtifactType = "bam"
	BedGraph ArtifactType = "bedGraph"
	BigWig   ArtifactType = "bigWig"
	Bed      ArtifactType = "bed"
	Tsv      ArtifactType = "tsv"
	JSON     ArtifactType = "json"
)

// ParseArtifactType parses the format column of an index file.
func ParseArtifactType(s string) (ArtifactType, error) {
	switch strings.ToLower(s) {
	case "fastq", "fq":
		return Fastq, nil
	case "bam":
		return Bam, nil
	default:
		return "", fmt.Errorf("unsupported format %q", s)
	}
}

// Space is a coordinate space in which alignment positions are
// expressed.
type Space string

// Coordinate spaces. The names double as the prefixes of the views of
// alignment records.
const (
	Genome        Space = "Genome"
	Transcriptome Space = "Transcriptome"
)

// ErrAmbiguousSpace is returned when the coordinate space of a record
// or payload cannot be determined unambiguously.
var ErrAmbiguousSpace = errors.New("ambiguous coordinate space")

// Strand is the read strand an artifact represents.
type Strand int

// Read strands. StrandAbsent is the zero value: the strand is only
// known after strand inference.
const (
	StrandAbsent Strand = iota
	Unstranded
	Forward
	Reverse
)

// Label returns the manifest label of s.
func (s Strand) Label() string {
	switch s {
	case Unstranded:
		return "unstranded"
	case Forward:
		return "forward"
	case Reverse:
		return "reverse"
	default:
		return "none"
	}
}

func (s Strand) String() string { return s.Label() }

// Record is the unit of data flowing through the pipeline graph.
//
// Fetch and Sources are only meaningful for records created by the
// input resolver.
type Record struct {
	RunID      string
	SampleID   string
	Type       ArtifactType
	View       string
	Payload    []string
	PairedEnd  bool
	ReadStrand Strand
	Expression ExpressionMode
	Fetch      bool
	Sources    []string
}

// PairedEndLabel returns the manifest label of the paired-end flag.
func (r Record) PairedEndLabel() string {
	if r.PairedEnd {
		return "paired"
	}
	return "single"
}

// Space determines the coordinate space of r from its view.
func (r Record) Space() (Space, error) {
	switch {
	case strings.HasPrefix(r.View, string(Transcriptome)):
		return Transcriptome, nil
	case strings.HasPrefix(r.View, string(Genome)):
		return Genome, nil
	default:
		return "", errors.Wrapf(ErrAmbiguousSpace, "view %q of run %v of sample %v", r.View, r.RunID, r.SampleID)
	}
}

// With returns a copy of r with a fresh payload. The copy shares no
// slices with r.
func (r Record) With(payload ...string) Record {
	r.Payload = append([]string(nil), payload...)
	r.Sources = append([]string(nil), r.Sources...)
	return r
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	return r.With(r.Payload...)
}

func (r Record) String() string {
	return fmt.Sprintf("%v/%v %v:%v %v", r.SampleID, r.RunID, r.Type, r.View, r.Payload)
}

// MergedRunID returns the identifier of a record that merges records
// with the given run ids: the ids are sorted and joined with colons,
// so that the same set of runs always yields the same identifier.
func MergedRunID(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return strings.Join(sorted, ":")
}

// SortByRun sorts records by run id, then by view, then by first
// payload entry. The sort is stable.
func SortByRun(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		ri, rj := recs[i], recs[j]
		if ri.RunID != rj.RunID {
			return ri.RunID < rj.RunID
		}
		if ri.View != rj.View {
			return ri.View < rj.View
		}
		return firstPayload(ri) < firstPayload(rj)
	})
}

func firstPayload(r Record) string {
	if len(r.Payload) == 0 {
		return ""
	}
	return r.Payload[0]
}
