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

// Package stages defines the contract between the pipeline driver and
// the external tools that do the actual work, and implements that
// contract by running command-line tools.
package stages

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/exascience/rnaflow/graph"
	"github.com/exascience/rnaflow/records"
	"github.com/exascience/rnaflow/references"
)

// ErrStage is returned when an external stage fails or produces
// output that does not follow its contract.
var ErrStage = errors.New("external stage failure")

// Parameters that the driver passes to jobs.
const (
	ParamGenomeIndex        = "genome-index"
	ParamTranscriptomeIndex = "transcriptome-index"
	ParamChromSizes         = "chrom-sizes"
	ParamSpace              = "space"
)

// A Job is one invocation of an external stage.
type Job struct {
	Stage   graph.Stage
	Key     string
	Inputs  []records.Record
	Species references.Species
	Params  map[string]string
}

// Param returns the named parameter of j, or the empty string.
func (j Job) Param(name string) string {
	return j.Params[name]
}

// dirEscaper maps keys to directory names. Sample and run separators
// become _ and +, and the characters it introduces are percent-escaped
// when they occur in a key, so that distinct keys never share a
// directory.
var dirEscaper = strings.NewReplacer(
	"%", "%25",
	"_", "%5F",
	"+", "%2B",
	" ", "%20",
	"/", "_",
	":", "+",
)

// Dir returns the relative working directory of j, which is unique per
// stage and key.
func (j Job) Dir() string {
	return string(j.Stage) + "/" + dirEscaper.Replace(j.Key)
}

// Output is what a stage produces: output files, and metadata printed
// on standard output.
type Output struct {
	Files []string
	Meta  []byte
}

// A Runner runs jobs. Implementations must be safe for concurrent use.
type Runner interface {
	Run(ctx context.Context, job Job) (Output, error)
}

// RunnerFunc adapts an ordinary function to the Runner interface.
type RunnerFunc func(ctx context.Context, job Job) (Output, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, job Job) (Output, error) {
	return f(ctx, job)
}

// A failure is an ErrStage caused by an error of the driver or runner
// itself, such as unparsable tool output or an unreadable reference.
// errors.Is matches both ErrStage and the cause.
type failure struct {
	cause error
}

func (f *failure) Error() string {
	return ErrStage.Error() + ": " + f.cause.Error()
}

func (f *failure) Is(target error) bool {
	return target == ErrStage
}

func (f *failure) Unwrap() error {
	return f.cause
}

// Fail returns an ErrStage caused by err, or nil if err is nil.
func Fail(err error) error {
	if err == nil {
		return nil
	}
	return &failure{cause: err}
}

// Failf returns an ErrStage for job.
func Failf(job Job, format string, args ...interface{}) error {
	return errors.Wrapf(ErrStage, "%v %v: %v", job.Stage, job.Key, errors.Errorf(format, args...))
}
