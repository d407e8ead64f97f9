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

// Package contigs calls transcribed contigs on the pooled coverage
// tracks of a sample.
package contigs

import (
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/bits-and-blooms/bitset"
	"github.com/exascience/pargo/parallel"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/exascience/rnaflow/bed"
	"github.com/exascience/rnaflow/fasta"
	"github.com/exascience/rnaflow/intervals"
	"github.com/exascience/rnaflow/utils"
)

// Options are the thresholds of the contig caller.
type Options struct {
	// MinSignal is the pooled score a contig must exceed.
	MinSignal float64
	// MaxAntisense filters antisense artifacts of stranded data: a
	// contig is kept if, for at least one track, its antisense score
	// times MaxAntisense is below its sense score.
	MaxAntisense float64
	// MinDepth is the pooled depth at which a position counts as
	// covered.
	MinDepth float64
	// MinCoverage is the fraction of positions with signal a contig
	// must exceed.
	MinCoverage float64
	// MaxGap is the largest number of uncovered positions within a
	// contig.
	MaxGap int32
}

// DefaultOptions returns the default thresholds.
func DefaultOptions() Options {
	return Options{
		MinSignal:    100,
		MaxAntisense: 0.1,
		MinDepth:     1,
		MinCoverage:  0.5,
		MaxGap:       10,
	}
}

// A Contig is a called contig.
type Contig struct {
	Chrom  utils.Symbol
	Strand utils.Symbol
	intervals.Interval
	ID int
	// Score is the pooled score over the contig, Total the pooled
	// score of all tracks over the whole chromosome.
	Score, Total float64
	// Scores and AntiScores are the scores of the individual sense
	// and antisense tracks.
	Scores, AntiScores []float64
}

// BPKM returns the bases per kilobase of contig per million bases of
// signal on the chromosome.
func (c *Contig) BPKM() float64 {
	if c.Total == 0 || c.Len() == 0 {
		return 0
	}
	return c.Score / float64(c.Len()) * 1000 / c.Total * 1e6
}

// BedScore converts the BPKM of c to the score column of a BED file.
func (c *Contig) BedScore() int {
	score := int(math.Round(100 * math.Log(100*c.BPKM()+1)))
	if score > 1000 {
		return 1000
	}
	return score
}

func (c *Contig) passesAntisense(maxAntisense float64) bool {
	for i, score := range c.Scores {
		if i < len(c.AntiScores) && c.AntiScores[i]*maxAntisense < score {
			return true
		}
	}
	return false
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Region returns the BED region of c. The extra columns hold the
// BPKM followed by the scores and antisense scores of the tracks.
func (c *Contig) Region() *bed.Region {
	extra := make([]string, 0, 1+len(c.Scores)+len(c.AntiScores))
	extra = append(extra, strconv.FormatFloat(c.BPKM(), 'g', 3, 64))
	for _, score := range c.Scores {
		extra = append(extra, formatFloat(score))
	}
	for _, score := range c.AntiScores {
		extra = append(extra, formatFloat(score))
	}
	return &bed.Region{
		Chrom:  c.Chrom,
		Start:  c.Start,
		End:    c.End,
		Name:   strconv.Itoa(c.ID),
		Score:  c.BedScore(),
		Strand: c.Strand,
		Extra:  extra,
	}
}

// strands returns the strands of tracks in output order, and checks
// that tracks are either all stranded with as many plus as minus
// tracks, or all unstranded.
func strands(tracks []Track) ([]utils.Symbol, error) {
	var plus, minus, none int
	for _, t := range tracks {
		switch t.Strand {
		case bed.SF:
			plus++
		case bed.SR:
			minus++
		case bed.SN:
			none++
		default:
			return nil, errors.Errorf("invalid strand %v for %v", *t.Strand, t.Path)
		}
	}
	switch {
	case len(tracks) == 0:
		return nil, errors.New("no coverage tracks")
	case none == len(tracks):
		return []utils.Symbol{bed.SN}, nil
	case none > 0:
		return nil, errors.New("mixed stranded and unstranded coverage tracks")
	case plus != minus:
		return nil, errors.Errorf("unequal number of + (%v) and - (%v) strand tracks", plus, minus)
	default:
		return []utils.Symbol{bed.SF, bed.SR}, nil
	}
}

func antisense(strand utils.Symbol) utils.Symbol {
	switch strand {
	case bed.SF:
		return bed.SR
	case bed.SR:
		return bed.SF
	default:
		return nil
	}
}

// Call calls contigs on tracks. Chromosomes are taken from sizes,
// in order. Contig ids are assigned per chromosome and strand in order
// of position, before the antisense filter, and the result is sorted
// by chromosome, start, and end.
func Call(fs afero.Fs, sizes []fasta.Contig, tracks []Track, opts Options, logger log.Logger) ([]*Contig, error) {
	order, err := strands(tracks)
	if err != nil {
		return nil, err
	}
	lengths, chroms, err := chromLengths(sizes)
	if err != nil {
		return nil, err
	}

	loaded := make([]map[utils.Symbol]*signal, len(tracks))
	errs := make([]error, len(tracks))
	parallel.Range(0, len(tracks), 0, func(low, high int) {
		for i := low; i < high; i++ {
			loaded[i], errs[i] = loadTrack(fs, tracks[i], lengths, logger)
		}
	})
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	perChrom := make([][][]*Contig, len(chroms))
	parallel.Range(0, len(chroms), 0, func(low, high int) {
		for i := low; i < high; i++ {
			perChrom[i] = callChrom(chroms[i], order, tracks, loaded, opts)
		}
	})

	var result []*Contig
	id := 1
	for i, byStrand := range perChrom {
		var kept []*Contig
		for s, candidates := range byStrand {
			for _, c := range candidates {
				c.ID = id
				id++
				if order[s] != bed.SN && !c.passesAntisense(opts.MaxAntisense) {
					continue
				}
				kept = append(kept, c)
			}
		}
		sort.SliceStable(kept, func(i, j int) bool {
			if kept[i].Start != kept[j].Start {
				return kept[i].Start < kept[j].Start
			}
			return kept[i].End < kept[j].End
		})
		level.Debug(logger).Log("msg", "contigs called", "chrom", *chroms[i], "contigs", len(kept))
		result = append(result, kept...)
	}
	return result, nil
}

// callChrom returns the candidate contigs of chrom per strand, in
// order of position.
func callChrom(chrom utils.Symbol, order []utils.Symbol, tracks []Track, loaded []map[utils.Symbol]*signal, opts Options) [][]*Contig {
	var total float64
	byStrand := make(map[utils.Symbol][]*signal)
	for i, t := range tracks {
		s := loaded[i][chrom]
		if s == nil {
			s = new(signal)
		}
		byStrand[t.Strand] = append(byStrand[t.Strand], s)
		total += s.total()
	}
	result := make([][]*Contig, len(order))
	if total == 0 {
		return result
	}
	for i, strand := range order {
		sense := byStrand[strand]
		anti := byStrand[antisense(strand)]
		pooled := pool(sense)
		var covered []intervals.Interval
		for j, ival := range pooled.ivals {
			if pooled.values[j] >= opts.MinDepth {
				covered = append(covered, ival)
			}
		}
		covered = intervals.ParallelFlatten(covered)
		for _, raw := range intervals.Bridge(covered, opts.MaxGap) {
			score := pooled.sum(raw.Start, raw.End)
			if score <= opts.MinSignal || coverage(pooled, raw) <= opts.MinCoverage {
				continue
			}
			c := &Contig{Chrom: chrom, Strand: strand, Interval: raw, Score: score, Total: total}
			for _, s := range sense {
				c.Scores = append(c.Scores, s.sum(raw.Start, raw.End))
			}
			for _, s := range anti {
				c.AntiScores = append(c.AntiScores, s.sum(raw.Start, raw.End))
			}
			result[i] = append(result[i], c)
		}
	}
	return result
}

// coverage returns the fraction of positions of ival with pooled
// signal.
func coverage(pooled *signal, ival intervals.Interval) float64 {
	if ival.Len() == 0 {
		return 0
	}
	mask := bitset.New(uint(ival.Len()))
	low, high := intervals.IntersectIndex(pooled.ivals, ival.Start, ival.End)
	for j := low; j < high; j++ {
		if pooled.values[j] <= 0 {
			continue
		}
		clipped := pooled.ivals[j].Clip(ival.Start, ival.End)
		for pos := clipped.Start; pos < clipped.End; pos++ {
			mask.Set(uint(pos - ival.Start))
		}
	}
	return float64(mask.Count()) / float64(ival.Len())
}

// Write writes contigs as BED lines.
func Write(w io.Writer, contigs []*Contig) error {
	regions := make([]*bed.Region, len(contigs))
	for i, c := range contigs {
		regions[i] = c.Region()
	}
	return bed.WriteRegions(w, regions)
}

// CallFile calls contigs and writes them to filename.
func CallFile(fs afero.Fs, filename string, sizes []fasta.Contig, tracks []Track, opts Options, logger log.Logger) (n int, err error) {
	contigs, err := Call(fs, sizes, tracks, opts, logger)
	if err != nil {
		return 0, err
	}
	out, err := fs.Create(filename)
	if err != nil {
		return 0, err
	}
	defer func() {
		if nerr := out.Close(); err == nil {
			err = nerr
		}
	}()
	return len(contigs), Write(out, contigs)
}
