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
	"bytes"
	"compress/gzip"
	"fmt"
	"strings"
	"testing"

	"github.com/go-kit/log"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exascience/rnaflow/bed"
	"github.com/exascience/rnaflow/fasta"
	"github.com/exascience/rnaflow/intervals"
)

var sizes = []fasta.Contig{{Name: "chr1", Length: 1000}, {Name: "chr2", Length: 500}}

func writeGzip(t *testing.T, fs afero.Fs, name, content string) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, afero.WriteFile(fs, name, buf.Bytes(), 0644))
}

func TestCallUnstranded(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeGzip(t, fs, "/cov/u1.bg.gz", strings.Join([]string{
		"track type=bedGraph",
		"chr1\t100\t150\t5",
		"chr1\t155\t200\t2",
		"chr1\t300\t310\t3",
		"chrX\t0\t10\t1",
		"chr2\t0\t60\t10",
		"",
	}, "\n"))
	require.NoError(t, afero.WriteFile(fs, "/cov/u2.bg", []byte("chr1\t120\t130\t1\n"), 0644))
	tracks := []Track{{"/cov/u1.bg.gz", bed.SN}, {"/cov/u2.bg", bed.SN}}

	contigs, err := Call(fs, sizes, tracks, DefaultOptions(), log.NewNopLogger())
	require.NoError(t, err)
	require.Len(t, contigs, 2)

	first := contigs[0]
	assert.Equal(t, "chr1", *first.Chrom)
	assert.Equal(t, intervals.Interval{Start: 100, End: 200}, first.Interval, "gaps up to MaxGap are bridged")
	assert.Equal(t, 1, first.ID)
	assert.Equal(t, 350.0, first.Score)
	assert.Equal(t, 380.0, first.Total)
	assert.Equal(t, []float64{340, 10}, first.Scores)
	assert.Empty(t, first.AntiScores)

	second := contigs[1]
	assert.Equal(t, "chr2", *second.Chrom)
	assert.Equal(t, 2, second.ID)
	assert.Equal(t, intervals.Interval{Start: 0, End: 60}, second.Interval)
}

func TestCallMinDepth(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/cov/u.bg", []byte("chr1\t100\t150\t5\nchr1\t155\t200\t2\n"), 0644))
	opts := DefaultOptions()
	opts.MinDepth = 3

	contigs, err := Call(fs, sizes, []Track{{"/cov/u.bg", bed.SN}}, opts, log.NewNopLogger())
	require.NoError(t, err)
	require.Len(t, contigs, 1)
	assert.Equal(t, intervals.Interval{Start: 100, End: 150}, contigs[0].Interval)
	assert.Equal(t, 250.0, contigs[0].Score)
}

func TestCallMinCoverage(t *testing.T) {
	fs := afero.NewMemMapFs()
	// 4 covered stretches of 2 positions, separated by gaps of 8
	require.NoError(t, afero.WriteFile(fs, "/cov/u.bg", []byte(
		"chr1\t0\t2\t100\nchr1\t10\t12\t100\nchr1\t20\t22\t100\nchr1\t30\t32\t100\n"), 0644))
	contigs, err := Call(fs, sizes, []Track{{"/cov/u.bg", bed.SN}}, DefaultOptions(), log.NewNopLogger())
	require.NoError(t, err)
	assert.Empty(t, contigs)

	opts := DefaultOptions()
	opts.MinCoverage = 0.2
	contigs, err = Call(fs, sizes, []Track{{"/cov/u.bg", bed.SN}}, opts, log.NewNopLogger())
	require.NoError(t, err)
	require.Len(t, contigs, 1)
	assert.Equal(t, intervals.Interval{Start: 0, End: 32}, contigs[0].Interval)
}

func TestCallStranded(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/cov/p.bg", []byte("chr1\t100\t200\t4\nchr1\t500\t600\t1.5\n"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/cov/m.bg", []byte("chr1\t100\t200\t1\nchr1\t500\t600\t20\n"), 0644))
	tracks := []Track{{"/cov/m.bg", bed.SR}, {"/cov/p.bg", bed.SF}}

	contigs, err := Call(fs, sizes, tracks, DefaultOptions(), log.NewNopLogger())
	require.NoError(t, err)
	require.Len(t, contigs, 2, "the antisense shadow on + at 500 is filtered")

	assert.Equal(t, bed.SF, contigs[0].Strand)
	assert.Equal(t, 1, contigs[0].ID)
	assert.Equal(t, []float64{400}, contigs[0].Scores)
	assert.Equal(t, []float64{100}, contigs[0].AntiScores)

	assert.Equal(t, bed.SR, contigs[1].Strand)
	assert.Equal(t, 3, contigs[1].ID, "ids are assigned before the antisense filter")
	assert.Equal(t, intervals.Interval{Start: 500, End: 600}, contigs[1].Interval)

	var out bytes.Buffer
	require.NoError(t, Write(&out, contigs))
	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "chr1\t100\t200\t1\t1000\t+\t1.51e+06\t400\t100", lines[0])
	assert.Equal(t, "chr1\t500\t600\t3\t1000\t-\t7.55e+06\t2000\t150", lines[1])

	parsed, err := bed.ParseBed(&out)
	require.NoError(t, err)
	assert.Equal(t, 2, parsed.Len())
}

func TestCallUnsortedTrack(t *testing.T) {
	const n = 5000
	fs := afero.NewMemMapFs()
	var content strings.Builder
	var want float64
	for k := 0; k < n; k++ {
		i := k * 7919 % n
		fmt.Fprintf(&content, "chr1\t%v\t%v\t%v\n", 2*i, 2*i+2, i%7+1)
		want += float64(2 * (i%7 + 1))
	}
	require.NoError(t, afero.WriteFile(fs, "/cov/shuffled.bg", []byte(content.String()), 0644))
	long := []fasta.Contig{{Name: "chr1", Length: 3 * n}}

	contigs, err := Call(fs, long, []Track{{"/cov/shuffled.bg", bed.SN}}, DefaultOptions(), log.NewNopLogger())
	require.NoError(t, err)
	require.Len(t, contigs, 1)
	assert.Equal(t, intervals.Interval{Start: 0, End: 2 * n}, contigs[0].Interval)
	assert.Equal(t, want, contigs[0].Score, "values stay with their intervals when sorting")
	assert.Equal(t, want, contigs[0].Total)
}

func TestCallRejectsInconsistentTracks(t *testing.T) {
	fs := afero.NewMemMapFs()
	for _, tracks := range [][]Track{
		nil,
		{{"/a", bed.SF}},
		{{"/a", bed.SF}, {"/b", bed.SN}},
	} {
		_, err := Call(fs, sizes, tracks, DefaultOptions(), log.NewNopLogger())
		assert.Error(t, err)
	}
	_, err := Call(fs, sizes, []Track{{"/missing.bg", bed.SN}}, DefaultOptions(), log.NewNopLogger())
	assert.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "/cov/overlap.bg", []byte("chr1\t0\t10\t1\nchr1\t5\t20\t1\n"), 0644))
	_, err = Call(fs, sizes, []Track{{"/cov/overlap.bg", bed.SN}}, DefaultOptions(), log.NewNopLogger())
	assert.Error(t, err)
}

func TestBedScore(t *testing.T) {
	c := &Contig{Interval: intervals.Interval{Start: 0, End: 1000}, Score: 1, Total: 1e6}
	assert.InDelta(t, 1.0, c.BPKM(), 1e-9)
	assert.Equal(t, 462, c.BedScore())
	assert.Equal(t, 0, (&Contig{}).BedScore())
}

func TestCallFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/cov/u.bg", []byte("chr2\t10\t100\t3\n"), 0644))
	n, err := CallFile(fs, "/out/contigs.bed", sizes, []Track{{"/cov/u.bg", bed.SN}}, DefaultOptions(), log.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f, err := fs.Open("/out/contigs.bed")
	require.NoError(t, err)
	defer f.Close()
	parsed, err := bed.ParseBed(f)
	require.NoError(t, err)
	require.Equal(t, 1, parsed.Len())
	region := parsed.RegionMap[parsed.Chroms[0]][0]
	assert.Equal(t, "chr2", *region.Chrom)
	assert.Equal(t, bed.SN, region.Strand)
	assert.Equal(t, "1", region.Name)
	assert.Equal(t, []string{"1.11e+07", "270"}, region.Extra)
}
