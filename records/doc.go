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

// Package records defines the values that flow through an rnaflow
// pipeline graph.
//
// A Record describes one artifact, or one ordered list of artifacts,
// produced for a run of a sample: input reads, alignments, coverage
// tracks, contigs, statistics, or quantification tables. Records are
// never modified in place. Every stage that transforms a record
// returns a fresh value derived from its inputs, so that the run and
// sample identities of an artifact can always be traced back to the
// index file entries it came from.
//
// Fan-in and fan-out decisions in the flow package are made on keys
// derived from records: GroupKey decides which records are merged into
// one per-sample record, JoinKey decides which records of two sibling
// branches belong together, and RunKey collates the read files of one
// sequencing run.
package records
