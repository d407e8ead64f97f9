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

// Package manifest collates the artifacts of a pipeline run into an
// append-only, tab-separated manifest file.
//
// Every line describes one artifact:
//
//	sampleId runId payloadPath artifactType artifactView pairedEndLabel readStrandLabel
//
// The manifest is truncated once when it is created and only appended
// to afterwards, so an interrupted run leaves a valid prefix.
package manifest

import (
	"bufio"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"golang.org/x/sys/unix"

	"github.com/exascience/rnaflow/internal"
	"github.com/exascience/rnaflow/records"
)

// ErrDuplicate is returned when the same artifact is written twice.
var ErrDuplicate = errors.New("duplicate manifest entry")

const nofColumns = 7

type entryKey struct {
	sampleID, runID string
	typ             records.ArtifactType
	view            string
}

// A Writer appends records to a manifest. It is safe for concurrent
// use; lines of different records never interleave.
type Writer struct {
	mutex sync.Mutex
	file  afero.File
	seen  map[entryKey]bool
	lines int
}

// Create truncates or creates the manifest at path, and opens it for
// appending. Truncation happens before the append handle is opened,
// so that file systems which position append handles at open time
// start at offset zero.
func Create(fs afero.Fs, path string) (*Writer, error) {
	file, err := fs.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "while creating manifest %v", path)
	}
	if err := file.Close(); err != nil {
		return nil, errors.Wrapf(err, "while creating manifest %v", path)
	}
	file, err = fs.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "while opening manifest %v", path)
	}
	return &Writer{file: file, seen: make(map[entryKey]bool)}, nil
}

// AppendLine appends the manifest line for one payload entry of rec to
// buf.
func AppendLine(buf []byte, rec records.Record, path string) []byte {
	for i, field := range []string{
		rec.SampleID, rec.RunID, path, string(rec.Type), rec.View,
		rec.PairedEndLabel(), rec.ReadStrand.Label(),
	} {
		if i > 0 {
			buf = append(buf, '\t')
		}
		buf = append(buf, field...)
	}
	return append(buf, '\n')
}

type fder interface {
	Fd() uintptr
}

// Write appends one line per payload entry of rec and returns the
// number of lines written. A record that was already written is
// rejected with ErrDuplicate, and nothing is written for it.
func (w *Writer) Write(rec records.Record) (n int, err error) {
	key := entryKey{rec.SampleID, rec.RunID, rec.Type, rec.View}
	buf := internal.ReserveByteBuffer()
	defer func() { internal.ReleaseByteBuffer(buf) }()
	for _, path := range rec.Payload {
		buf = AppendLine(buf, rec, path)
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.seen[key] {
		return 0, errors.Wrapf(ErrDuplicate, "%v/%v %v:%v", rec.SampleID, rec.RunID, rec.Type, rec.View)
	}
	if f, ok := w.file.(fder); ok {
		fd := int(f.Fd())
		if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
			return 0, errors.Wrap(err, "while locking manifest")
		}
		defer func() {
			if nerr := unix.Flock(fd, unix.LOCK_UN); err == nil && nerr != nil {
				err = errors.Wrap(nerr, "while unlocking manifest")
			}
		}()
	}
	if _, err := w.file.Write(buf); err != nil {
		return 0, errors.Wrap(err, "while appending to manifest")
	}
	w.seen[key] = true
	w.lines += len(rec.Payload)
	return len(rec.Payload), nil
}

// Lines returns the number of lines written so far.
func (w *Writer) Lines() int {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.lines
}

// Close closes the manifest file.
func (w *Writer) Close() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.file.Close()
}

// An Entry is one parsed manifest line.
type Entry struct {
	SampleID, RunID, Path string
	Type                  records.ArtifactType
	View                  string
	PairedEnd, ReadStrand string
}

// Parse reads a manifest.
func Parse(r io.Reader) (entries []Entry, err error) {
	scanner := bufio.NewScanner(r)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) != nofColumns {
			return nil, errors.Errorf("invalid manifest line %v: %v columns", lineNo, len(fields))
		}
		entries = append(entries, Entry{
			SampleID:   fields[0],
			RunID:      fields[1],
			Path:       fields[2],
			Type:       records.ArtifactType(fields[3]),
			View:       fields[4],
			PairedEnd:  fields[5],
			ReadStrand: fields[6],
		})
	}
	return entries, scanner.Err()
}
