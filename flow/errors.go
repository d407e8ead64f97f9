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

// Package flow moves records through the stages of a pipeline graph.
//
// It contains the grouping/merge engine, the branch splitters, the
// cross-join reattacher, and the driver that wires them to the
// external stages.
package flow

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrIntegrity signals a structural contract violation: a join key
// without exactly one partner, a merge group with inconsistent
// paired-end flags, or a sample without exactly one alignment. Such
// errors are fatal for the affected sample and are never retried.
var ErrIntegrity = errors.New("record integrity violation")

// A SampleError is an error attributed to one sample.
type SampleError struct {
	SampleID string
	Stage    string
	Err      error
}

func (e *SampleError) Error() string {
	return fmt.Sprintf("sample %v, stage %v: %v", e.SampleID, e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *SampleError) Unwrap() error { return e.Err }

func integrityf(sampleID, stage, format string, args ...interface{}) *SampleError {
	return &SampleError{
		SampleID: sampleID,
		Stage:    stage,
		Err:      errors.Wrapf(ErrIntegrity, format, args...),
	}
}
