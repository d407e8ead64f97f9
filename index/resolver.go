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

// Package index resolves an index file into the initial set of
// records of a pipeline run.
//
// An index file has one whitespace-separated row per input file:
//
//	sampleId runId location format readIdentifier
//
// A location holding several comma-separated entries must be fetched:
// the last entry names the local file, the entries before it are
// alternative sources that are tried in order. A location without
// commas is used verbatim if it is absolute or carries a scheme, and
// is resolved against the directory of the index file otherwise.
package index

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/exascience/pargo/pipeline"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/exascience/rnaflow/internal"
	"github.com/exascience/rnaflow/records"
)

// ErrMalformed is returned for index files that violate the index
// format. It is a configuration error.
var ErrMalformed = errors.New("malformed index file")

const nofFields = 5

type (
	line struct {
		no   int
		text string
	}

	row struct {
		no                    int
		sample, run, location string
		format                records.ArtifactType
		readID                string
		skip                  bool
	}
)

// Stats summarizes an index file before any processing starts.
type Stats struct {
	Samples    int
	Runs       int
	NeedsMerge bool
}

// Resolution is the result of resolving an index file.
type Resolution struct {
	Records []records.Record
	Stats   Stats
}

// NeedsFetch reports whether any record has to be fetched remotely.
func (res *Resolution) NeedsFetch() bool {
	for _, rec := range res.Records {
		if rec.Fetch {
			return true
		}
	}
	return false
}

func parseLine(l line) (r row, err error) {
	r.no = l.no
	text := strings.TrimSpace(l.text)
	if text == "" || text[0] == '#' {
		r.skip = true
		return r, nil
	}
	fields := strings.Fields(text)
	if len(fields) != nofFields {
		return r, errors.Wrapf(ErrMalformed, "line %v has %v fields instead of %v", l.no, len(fields), nofFields)
	}
	r.sample, r.run, r.location, r.readID = fields[0], fields[1], fields[2], fields[4]
	if r.format, err = records.ParseArtifactType(fields[3]); err != nil {
		return r, errors.Wrapf(ErrMalformed, "line %v: %v", l.no, err)
	}
	return r, nil
}

func parseRows(data []byte) (rows []row, err error) {
	var lines []line
	for i, text := range bytes.Split(data, []byte{'\n'}) {
		lines = append(lines, line{no: i + 1, text: string(text)})
	}
	var p pipeline.Pipeline
	p.Source(lines)
	p.Add(
		pipeline.LimitedPar(0, pipeline.Receive(func(_ int, data interface{}) interface{} {
			batch := data.([]line)
			parsed := make([]row, 0, len(batch))
			for _, l := range batch {
				r, err := parseLine(l)
				if err != nil {
					p.SetErr(err)
					return parsed
				}
				if !r.skip {
					parsed = append(parsed, r)
				}
			}
			return parsed
		})),
		pipeline.Ord(pipeline.Receive(func(_ int, data interface{}) interface{} {
			rows = append(rows, data.([]row)...)
			return data
		})),
	)
	if err = internal.RunPipeline(&p); err != nil {
		return nil, err
	}
	return rows, nil
}

// Resolve reads and classifies the index file filename. Local names of
// entries that must be fetched are placed in fetchDir.
func Resolve(fs afero.Fs, filename, fetchDir string) (*Resolution, error) {
	data, err := afero.ReadFile(fs, filename)
	if err != nil {
		return nil, errors.Wrapf(err, "while reading index file %v", filename)
	}
	rows, err := parseRows(data)
	if err != nil {
		return nil, errors.Wrapf(err, "while parsing index file %v", filename)
	}
	return classify(rows, filepath.Dir(filename), fetchDir)
}

func classify(rows []row, indexDir, fetchDir string) (*Resolution, error) {
	type runKey struct{ sample, run string }
	runFormats := make(map[runKey]records.ArtifactType)
	runRows := make(map[runKey]int)
	readIDs := make(map[string]int)
	samples := make(map[string]struct{})
	for _, r := range rows {
		key := runKey{r.sample, r.run}
		if format, ok := runFormats[key]; ok && format != r.format {
			return nil, errors.Wrapf(ErrMalformed, "line %v: run %v of sample %v mixes formats %v and %v", r.no, r.run, r.sample, format, r.format)
		}
		runFormats[key] = r.format
		runRows[key]++
		samples[r.sample] = struct{}{}
		id := fmt.Sprintf("%v\t%v\t%v", r.sample, r.run, r.readID)
		if prev, ok := readIDs[id]; ok {
			return nil, errors.Wrapf(ErrMalformed, "line %v duplicates line %v", r.no, prev)
		}
		readIDs[id] = r.no
	}
	for key, n := range runRows {
		switch runFormats[key] {
		case records.Fastq:
			if n > 2 {
				return nil, errors.Wrapf(ErrMalformed, "run %v of sample %v has %v read files", key.run, key.sample, n)
			}
		case records.Bam:
			if n > 1 {
				return nil, errors.Wrapf(ErrMalformed, "run %v of sample %v has %v alignment files", key.run, key.sample, n)
			}
		}
	}

	res := &Resolution{Records: make([]records.Record, 0, len(rows))}
	for _, r := range rows {
		rec := records.Record{
			RunID:     r.run,
			SampleID:  r.sample,
			Type:      r.format,
			View:      r.readID,
			PairedEnd: r.format == records.Fastq && runRows[runKey{r.sample, r.run}] == 2,
		}
		if r.format == records.Bam {
			if _, err := rec.Space(); err != nil {
				return nil, errors.Wrapf(ErrMalformed, "line %v: %v", r.no, err)
			}
		} else if !strings.HasPrefix(rec.View, "FqRd") {
			rec.View = "FqRd" + rec.View
		}
		if entries := strings.Split(r.location, ","); len(entries) > 1 {
			local := entries[len(entries)-1]
			if local == "" || internal.Scheme(local) != "" {
				return nil, errors.Wrapf(ErrMalformed, "line %v: invalid local name %q", r.no, local)
			}
			rec.Fetch = true
			rec.Sources = entries[:len(entries)-1]
			rec.Payload = []string{filepath.Join(fetchDir, filepath.Base(local))}
		} else {
			rec.Payload = []string{internal.ResolveLocation(indexDir, r.location)}
		}
		res.Records = append(res.Records, rec)
	}
	res.Stats = Stats{
		Samples:    len(samples),
		Runs:       len(runRows),
		NeedsMerge: len(runRows) != len(samples),
	}
	return res, nil
}
