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
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/exascience/rnaflow/records"
)

// ErrAmbiguous is returned for payload entries that a Splitter cannot
// attribute to exactly one branch.
var ErrAmbiguous = errors.New("ambiguous branch classification")

// A Branch is one output of a Splitter. A payload entry belongs to the
// branch when its base name contains one of the markers. Apply, if
// set, adjusts the derived record after its view has been set.
type Branch struct {
	Name    string
	Markers []string
	Apply   func(parent, child records.Record) records.Record
}

func (b Branch) matches(entry string) bool {
	base := filepath.Base(entry)
	for _, marker := range b.Markers {
		if marker != "" && strings.Contains(base, marker) {
			return true
		}
	}
	return false
}

// A Splitter fans one record out into one record per branch.
type Splitter struct {
	Branches []Branch
}

// Split classifies every payload entry of rec. Entries of the same
// branch end up in one record, in payload order, and records are
// returned in branch order. The view of a derived record is the
// branch name followed by the view of rec.
func (s Splitter) Split(rec records.Record) ([]records.Record, error) {
	byBranch := make([][]string, len(s.Branches))
	for _, entry := range rec.Payload {
		found := -1
		for i, b := range s.Branches {
			if !b.matches(entry) {
				continue
			}
			if found >= 0 {
				return nil, errors.Wrapf(ErrAmbiguous, "%v matches both %v and %v", entry, s.Branches[found].Name, b.Name)
			}
			found = i
		}
		if found < 0 {
			return nil, errors.Wrapf(ErrAmbiguous, "%v matches no branch", entry)
		}
		byBranch[found] = append(byBranch[found], entry)
	}
	var out []records.Record
	for i, b := range s.Branches {
		if len(byBranch[i]) == 0 {
			continue
		}
		child := rec.With(byBranch[i]...)
		child.View = b.Name + rec.View
		if b.Apply != nil {
			child = b.Apply(rec, child)
		}
		out = append(out, child)
	}
	return out, nil
}

// Default payload markers of the coordinate space splitter.
var (
	DefaultGenomeMarkers        = []string{"sortedByCoord", "toGenome"}
	DefaultTranscriptomeMarkers = []string{"toTranscriptome"}
)

// SpaceSplitter splits mapping output into genome and transcriptome
// alignments.
func SpaceSplitter(genomeMarkers, transcriptomeMarkers []string) Splitter {
	return Splitter{Branches: []Branch{
		{Name: string(records.Genome), Markers: genomeMarkers},
		{Name: string(records.Transcriptome), Markers: transcriptomeMarkers},
	}}
}

// Strand names of coverage tracks.
const (
	Plus  = "Plus"
	Minus = "Minus"
)

// coverage track markers
const (
	str1 = "str1"
	str2 = "str2"
)

func typeFromExtension(parent, child records.Record) records.Record {
	switch strings.ToLower(filepath.Ext(child.Payload[0])) {
	case ".bw", ".bigwig":
		child.Type = records.BigWig
	case ".bg", ".bedgraph":
		child.Type = records.BedGraph
	}
	return child
}

func withStrand(strand records.Strand) func(parent, child records.Record) records.Record {
	return func(parent, child records.Record) records.Record {
		child = typeFromExtension(parent, child)
		child.ReadStrand = strand
		return child
	}
}

// StrandSplitter splits coverage tracks of a record whose expression
// mode is known. Stranded libraries get a Plus and a Minus branch;
// which of the two track markers is the plus strand depends on the
// expression mode. Unstranded coverage has only one track and keeps
// its view.
func StrandSplitter(mode records.ExpressionMode) Splitter {
	if !mode.Stranded() {
		return Splitter{Branches: []Branch{{
			Markers: []string{str1},
			Apply:   withStrand(records.Unstranded),
		}}}
	}
	plus, minus := str1, str2
	if mode.Strand() == records.Reverse {
		plus, minus = str2, str1
	}
	return Splitter{Branches: []Branch{
		{Name: Plus, Markers: []string{plus}, Apply: withStrand(records.Forward)},
		{Name: Minus, Markers: []string{minus}, Apply: withStrand(records.Reverse)},
	}}
}

// SplitCoverage splits the coverage tracks of rec by strand and file
// type. Each derived record holds the tracks of one strand and one
// type.
func SplitCoverage(rec records.Record) ([]records.Record, error) {
	byStrand, err := StrandSplitter(rec.Expression).Split(rec)
	if err != nil {
		return nil, err
	}
	var out []records.Record
	for _, r := range byStrand {
		byType := make(map[string][]string)
		var order []string
		for _, entry := range r.Payload {
			ext := strings.ToLower(filepath.Ext(entry))
			if _, ok := byType[ext]; !ok {
				order = append(order, ext)
			}
			byType[ext] = append(byType[ext], entry)
		}
		for _, ext := range order {
			out = append(out, typeFromExtension(r, r.With(byType[ext]...)))
		}
	}
	return out, nil
}
