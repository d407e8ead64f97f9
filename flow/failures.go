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
	"sort"
	"sync"
)

// Failures records per-sample errors. It is safe for concurrent use.
type Failures struct {
	mutex    sync.RWMutex
	bySample map[string][]*SampleError
}

// NewFailures returns an empty failure record.
func NewFailures() *Failures {
	return &Failures{bySample: make(map[string][]*SampleError)}
}

// Add records err for its sample.
func (f *Failures) Add(err *SampleError) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.bySample[err.SampleID] = append(f.bySample[err.SampleID], err)
}

// Failed reports whether sampleID has failed.
func (f *Failures) Failed(sampleID string) bool {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return len(f.bySample[sampleID]) > 0
}

// Samples returns the failed samples in sorted order.
func (f *Failures) Samples() []string {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	samples := make([]string, 0, len(f.bySample))
	for s := range f.bySample {
		samples = append(samples, s)
	}
	sort.Strings(samples)
	return samples
}

// Errors returns all recorded errors ordered by sample, and by
// occurrence within a sample.
func (f *Failures) Errors() []*SampleError {
	var errs []*SampleError
	for _, s := range f.Samples() {
		f.mutex.RLock()
		errs = append(errs, f.bySample[s]...)
		f.mutex.RUnlock()
	}
	return errs
}
