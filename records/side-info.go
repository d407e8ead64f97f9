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
	"bytes"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// ExpressionMode is the library strandedness reported by strand
// inference.
type ExpressionMode string

// Expression modes. The empty mode means strand inference has not run
// yet.
const (
	ModeNone       ExpressionMode = "NONE"
	ModeSense      ExpressionMode = "SENSE"
	ModeAntisense  ExpressionMode = "ANTISENSE"
	ModeMate1Sense ExpressionMode = "MATE1_SENSE"
	ModeMate2Sense ExpressionMode = "MATE2_SENSE"
)

// Valid reports whether m is one of the known expression modes.
func (m ExpressionMode) Valid() bool {
	switch m {
	case ModeNone, ModeSense, ModeAntisense, ModeMate1Sense, ModeMate2Sense:
		return true
	default:
		return false
	}
}

// Stranded reports whether m describes a stranded library.
func (m ExpressionMode) Stranded() bool {
	return m.Valid() && m != ModeNone
}

// Strand returns the read strand of alignments from a library with
// expression mode m.
func (m ExpressionMode) Strand() Strand {
	switch m {
	case ModeNone:
		return Unstranded
	case ModeSense, ModeMate1Sense:
		return Forward
	case ModeAntisense, ModeMate2Sense:
		return Reverse
	default:
		return StrandAbsent
	}
}

// ForwardProb returns the probability that a read originates from the
// forward strand, as expected by transcript quantifiers.
func (m ExpressionMode) ForwardProb() string {
	switch m.Strand() {
	case Forward:
		return "1"
	case Reverse:
		return "0"
	default:
		return "0.5"
	}
}

// SideInfo is the metadata the strand inference stage reports for an
// alignment.
type SideInfo struct {
	PairedEnd      *bool          `json:"pairedEnd"`
	ExpressionMode ExpressionMode `json:"expressionMode"`
}

// ErrSideInfo is returned for metadata that does not follow the
// SideInfo schema.
var ErrSideInfo = errors.New("invalid strand inference output")

var sideInfoJSON = jsoniter.Config{
	EscapeHTML:             true,
	DisallowUnknownFields:  true,
	ValidateJsonRawMessage: true,
}.Froze()

// ParseSideInfo decodes and validates the metadata printed by the
// strand inference stage.
func ParseSideInfo(data []byte) (SideInfo, error) {
	var info SideInfo
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return info, errors.Wrap(ErrSideInfo, "empty output")
	}
	if err := sideInfoJSON.Unmarshal(data, &info); err != nil {
		return info, errors.Wrapf(ErrSideInfo, "%v", err)
	}
	if info.PairedEnd == nil {
		return info, errors.Wrap(ErrSideInfo, "missing pairedEnd")
	}
	if !info.ExpressionMode.Valid() {
		return info, errors.Wrapf(ErrSideInfo, "unknown expressionMode %q", info.ExpressionMode)
	}
	return info, nil
}

// IsPairedEnd returns the reported paired-end status.
func (info SideInfo) IsPairedEnd() bool {
	return info.PairedEnd != nil && *info.PairedEnd
}

// Attach returns a copy of r carrying the inferred strandedness of
// info. The paired-end flag of r is left untouched.
func (info SideInfo) Attach(r Record) Record {
	r = r.Clone()
	r.Expression = info.ExpressionMode
	r.ReadStrand = info.ExpressionMode.Strand()
	return r
}
