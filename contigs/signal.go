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

package contigs

import (
	"sort"

	psort "github.com/exascience/pargo/sort"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/exascience/rnaflow/bed"
	"github.com/exascience/rnaflow/fasta"
	"github.com/exascience/rnaflow/intervals"
	"github.com/exascience/rnaflow/utils"
)

// A Track is a coverage file of one strand. Strand is bed.SF or bed.SR
// for stranded data, and bed.SN for unstranded data.
type Track struct {
	Path   string
	Strand utils.Symbol
}

// signal is the coverage of one track on one chromosome, as sorted
// and non-overlapping intervals with one value each.
type signal struct {
	ivals  []intervals.Interval
	values []float64
}

func (s *signal) Len() int { return len(s.ivals) }

func (s *signal) Less(i, j int) bool { return s.ivals[i].Start < s.ivals[j].Start }

func (s *signal) Swap(i, j int) {
	s.ivals[i], s.ivals[j] = s.ivals[j], s.ivals[i]
	s.values[i], s.values[j] = s.values[j], s.values[i]
}

func (s *signal) SequentialSort(i, j int) {
	sort.Stable(&signal{ivals: s.ivals[i:j], values: s.values[i:j]})
}

func (s *signal) NewTemp() psort.StableSorter {
	return &signal{ivals: make([]intervals.Interval, len(s.ivals)), values: make([]float64, len(s.values))}
}

func (s *signal) Assign(source psort.StableSorter) func(i, j, len int) {
	dst, src := s, source.(*signal)
	return func(i, j, len int) {
		copy(dst.ivals[i:i+len], src.ivals[j:j+len])
		copy(dst.values[i:i+len], src.values[j:j+len])
	}
}

func (s *signal) add(ival intervals.Interval, value float64) {
	s.ivals = append(s.ivals, ival)
	s.values = append(s.values, value)
}

// sum returns the sum of the signal over [start, end).
func (s *signal) sum(start, end int32) (total float64) {
	low, high := intervals.IntersectIndex(s.ivals, start, end)
	for i := low; i < high; i++ {
		total += float64(s.ivals[i].Clip(start, end).Len()) * s.values[i]
	}
	return total
}

func (s *signal) total() (total float64) {
	for i, ival := range s.ivals {
		total += float64(ival.Len()) * s.values[i]
	}
	return total
}

// loadTrack reads a bedGraph file and returns its signal per
// chromosome. Entries on chromosomes that are not in lengths are
// skipped with a warning, and entries are clipped to the chromosome
// length.
func loadTrack(fs afero.Fs, track Track, lengths map[utils.Symbol]int32, logger log.Logger) (map[utils.Symbol]*signal, error) {
	file, err := fs.Open(track.Path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	signals := make(map[utils.Symbol]*signal)
	skipped := make(map[utils.Symbol]bool)
	err = bed.ScanGraph(file, func(entry bed.GraphEntry) error {
		length, ok := lengths[entry.Chrom]
		if !ok {
			if !skipped[entry.Chrom] {
				skipped[entry.Chrom] = true
				level.Warn(logger).Log("msg", "chromosome not in chromosome sizes, skipping", "chrom", *entry.Chrom, "file", track.Path)
			}
			return nil
		}
		ival := intervals.Interval{Start: entry.Start, End: entry.End}.Clip(0, length)
		if ival.Len() == 0 || entry.Value == 0 {
			return nil
		}
		s := signals[entry.Chrom]
		if s == nil {
			s = new(signal)
			signals[entry.Chrom] = s
		}
		s.add(ival, entry.Value)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "while reading %v", track.Path)
	}
	for chrom, s := range signals {
		psort.StableSort(s)
		for i := 1; i < len(s.ivals); i++ {
			if s.ivals[i].Start < s.ivals[i-1].End {
				return nil, errors.Errorf("overlapping entries on %v at position %v in %v", *chrom, s.ivals[i].Start, track.Path)
			}
		}
	}
	return signals, nil
}

// pool adds up signals. The result has a new interval wherever the
// pooled value changes.
func pool(signals []*signal) *signal {
	type event struct {
		pos   int32
		delta float64
		open  int
	}
	var events []event
	for _, s := range signals {
		if s == nil {
			continue
		}
		for i, ival := range s.ivals {
			events = append(events,
				event{ival.Start, s.values[i], 1},
				event{ival.End, -s.values[i], -1})
		}
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].pos < events[j].pos })
	pooled := new(signal)
	var value float64
	var open int
	for i := 0; i < len(events); {
		pos := events[i].pos
		for ; i < len(events) && events[i].pos == pos; i++ {
			value += events[i].delta
			open += events[i].open
		}
		if open == 0 {
			value = 0
			continue
		}
		if i < len(events) && value != 0 {
			pooled.add(intervals.Interval{Start: pos, End: events[i].pos}, value)
		}
	}
	return pooled
}

func chromLengths(sizes []fasta.Contig) (map[utils.Symbol]int32, []utils.Symbol, error) {
	lengths := make(map[utils.Symbol]int32, len(sizes))
	order := make([]utils.Symbol, 0, len(sizes))
	for _, c := range sizes {
		chrom := utils.Intern(c.Name)
		if _, ok := lengths[chrom]; ok {
			return nil, nil, errors.Errorf("duplicate chromosome %v in chromosome sizes", c.Name)
		}
		if c.Length <= 0 || c.Length > 1<<31-1 {
			return nil, nil, errors.Errorf("invalid length %v for chromosome %v", c.Length, c.Name)
		}
		lengths[chrom] = int32(c.Length)
		order = append(order, chrom)
	}
	return lengths, order, nil
}
