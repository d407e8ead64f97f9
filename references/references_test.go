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

package references

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpeciesKey(t *testing.T) {
	for genome, key := range map[string]string{
		"/ref/GRCh38.fa":          "GRCh38",
		"/ref/GRCm39.fasta.gz":    "GRCm39",
		"dm6.fna":                 "dm6",
		"/ref/hg19.primary.fa.gz": "hg19.primary",
	} {
		assert.Equal(t, key, SpeciesKey(genome), genome)
	}
}

func TestBuild(t *testing.T) {
	set, err := Build(
		[]string{"/ref/GRCh38.fa.gz", "/ref/GRCm39.fasta"},
		[]string{"/ref/GRCh38.gtf.gz", "/ref/GRCm39.gff3"},
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, Species{Key: "GRCh38", Genome: "/ref/GRCh38.fa.gz", Annotation: "/ref/GRCh38.gtf.gz"}, set.Primary())
	assert.Len(t, set.All(), 2)
	assert.True(t, set.HasAnnotation())
	assert.False(t, set.HasIndex())
	mouse, ok := set.Lookup("GRCm39")
	require.True(t, ok)
	assert.Equal(t, "/ref/GRCm39.gff3", mouse.Annotation)

	set, err = Build([]string{"/ref/GRCh38.fa"}, nil, []string{"/ref/star"})
	require.NoError(t, err)
	assert.False(t, set.HasAnnotation())
	assert.True(t, set.HasIndex())
}

func TestBuildRejects(t *testing.T) {
	for name, args := range map[string][3][]string{
		"no genome":            {nil, nil, nil},
		"genome extension":     {{"/ref/GRCh38.txt"}, nil, nil},
		"annotation extension": {{"/ref/GRCh38.fa"}, {"/ref/GRCh38.bed"}, nil},
		"annotation count":     {{"/ref/a.fa", "/ref/b.fa"}, {"/ref/a.gtf"}, nil},
		"index count":          {{"/ref/a.fa"}, nil, {"/x", "/y"}},
		"duplicate species":    {{"/ref/a.fa", "/other/a.fa.gz"}, nil, nil},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Build(args[0], args[1], args[2])
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrReference), "%v", err)
		})
	}
}

func TestCheckExist(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/ref/a.fa", []byte(">chr1\nACGT\n"), 0644))
	set, err := Build([]string{"/ref/a.fa"}, []string{"/ref/a.gtf"}, nil)
	require.NoError(t, err)
	assert.True(t, errors.Is(set.CheckExist(fs), ErrReference))

	require.NoError(t, afero.WriteFile(fs, "/ref/a.gtf", nil, 0644))
	assert.NoError(t, set.CheckExist(fs))

	contigs, err := set.Primary().ChromSizes(fs)
	require.NoError(t, err)
	require.Len(t, contigs, 1)
	assert.Equal(t, int64(4), contigs[0].Length)
}
