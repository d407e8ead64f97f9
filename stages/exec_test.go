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

package stages

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exascience/rnaflow/config"
	"github.com/exascience/rnaflow/graph"
	"github.com/exascience/rnaflow/records"
	"github.com/exascience/rnaflow/references"
)

// fakeTools puts shell scripts named after tools in front of PATH.
func fakeTools(t *testing.T, scripts map[string]string) {
	t.Helper()
	bin := t.TempDir()
	for name, body := range scripts {
		require.NoError(t, os.WriteFile(filepath.Join(bin, name), []byte("#!/bin/sh\n"+body+"\n"), 0755))
	}
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func bamRecord(path string) records.Record {
	return records.Record{SampleID: "s1", RunID: "r1", Type: records.Bam, View: "GenomeAlignments", Payload: []string{path}}
}

func TestRunSavesMeta(t *testing.T) {
	fakeTools(t, map[string]string{
		ToolInfer: `echo "reading $2" >&2
echo '{"pairedEnd": true, "expressionMode": "MATE2_SENSE"}'`,
	})
	cfg := testConfig(t)
	r := NewExecRunner(cfg, log.NewNopLogger())
	job := Job{Stage: graph.InferExperiment, Key: "s1/r1", Inputs: []records.Record{bamRecord("/data/r1.bam")}}
	out, err := r.Run(context.Background(), job)
	require.NoError(t, err)

	info, err := records.ParseSideInfo(out.Meta)
	require.NoError(t, err)
	assert.True(t, info.IsPairedEnd())
	assert.Equal(t, records.ModeMate2Sense, info.ExpressionMode)

	expected := filepath.Join(cfg.WorkDir, "infer-experiment", "s1_r1", "infer-experiment.json")
	assert.Equal(t, []string{expected}, out.Files)
	saved, err := os.ReadFile(expected)
	require.NoError(t, err)
	assert.Equal(t, out.Meta, saved)
}

func TestRunReportsStderrTail(t *testing.T) {
	fakeTools(t, map[string]string{
		ToolBamStats: `for i in 1 2 3 4 5 6 7 8 9 10 11 12; do echo "line $i" >&2; done
exit 3`,
	})
	r := NewExecRunner(testConfig(t), log.NewNopLogger())
	_, err := r.Run(context.Background(), Job{Stage: graph.BamStats, Key: "s1/r1", Inputs: []records.Record{bamRecord("/data/r1.bam")}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStage))
	assert.Contains(t, err.Error(), "line 3 | ")
	assert.Contains(t, err.Error(), "line 12")
	assert.NotContains(t, err.Error(), "line 2 | ")
}

func TestRunChecksOutputs(t *testing.T) {
	fakeTools(t, map[string]string{
		ToolSamtools: `case "$1" in
merge) touch "$5" ;;
esac`,
	})
	cfg := testConfig(t)
	r := NewExecRunner(cfg, log.NewNopLogger())

	merge := Job{Stage: graph.MergeGenome, Key: "s1/r1:r2", Inputs: []records.Record{bamRecord("/data/r1.bam"), bamRecord("/data/r2.bam")}}
	out, err := r.Run(context.Background(), merge)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(cfg.WorkDir, "merge-genome", "s1_r1+r2", "merged.bam")}, out.Files)

	sort := Job{Stage: graph.SortTranscriptome, Key: "s1/r1", Inputs: []records.Record{bamRecord("/data/r1.bam")}}
	_, err = r.Run(context.Background(), sort)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStage))
	assert.Contains(t, err.Error(), "sorted.bam is missing")
}

func TestRunReferenceIndexes(t *testing.T) {
	fakeTools(t, map[string]string{
		ToolSTAR: `while [ $# -gt 0 ]; do
  case "$1" in --genomeDir) dir="$2"; shift ;; esac
  shift
done
touch "$dir/Genome" "$dir/SA" "$dir/SAindex"`,
		ToolRSEMPrepare: `for prefix; do :; done
touch "$prefix.grp" "$prefix.ti" "$prefix.seq" "$prefix.idx.fa"`,
	})
	cfg := testConfig(t)
	r := NewExecRunner(cfg, log.NewNopLogger())

	out, err := r.Run(context.Background(), Job{Stage: graph.GenomeIndex, Key: "GRCh38", Species: human})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(cfg.WorkDir, "genome-index", "GRCh38")}, out.Files)

	out, err = r.Run(context.Background(), Job{Stage: graph.TranscriptomeIndex, Key: "GRCh38", Species: human})
	require.NoError(t, err)
	prefix := filepath.Join(cfg.WorkDir, "transcriptome-index", "GRCh38", "GRCh38")
	assert.Equal(t, []string{prefix}, out.Files)
	assert.FileExists(t, prefix+".grp")
}

func TestRunReferenceIndexIncomplete(t *testing.T) {
	fakeTools(t, map[string]string{
		ToolRSEMPrepare: `for prefix; do :; done
touch "$prefix.grp"`,
	})
	r := NewExecRunner(testConfig(t), log.NewNopLogger())
	_, err := r.Run(context.Background(), Job{Stage: graph.TranscriptomeIndex, Key: "GRCh38", Species: human})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStage))
	assert.Contains(t, err.Error(), "GRCh38.ti is missing")
}

func TestRunCanceled(t *testing.T) {
	fakeTools(t, map[string]string{ToolBamStats: "sleep 10"})
	r := NewExecRunner(testConfig(t), log.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Run(ctx, Job{Stage: graph.BamStats, Key: "s1/r1", Inputs: []records.Record{bamRecord("/data/r1.bam")}})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRunChromSizes(t *testing.T) {
	dir := t.TempDir()
	genome := filepath.Join(dir, "genome.fa")
	require.NoError(t, os.WriteFile(genome, []byte(">chr1\nACGT\nAC\n>chr2 second\nAAA\n"), 0644))
	cfg := testConfig(t)
	r := NewExecRunner(cfg, log.NewNopLogger())
	out, err := r.Run(context.Background(), Job{Stage: graph.ChromSizes, Key: "genome", Species: references.Species{Key: "genome", Genome: genome}})
	require.NoError(t, err)
	require.Len(t, out.Files, 1)
	sizes, err := os.ReadFile(out.Files[0])
	require.NoError(t, err)
	assert.Equal(t, "chr1\t6\nchr2\t3\n", string(sizes))

	_, err = r.Run(context.Background(), Job{Stage: graph.ChromSizes, Key: "missing", Species: references.Species{Key: "missing", Genome: filepath.Join(dir, "missing.fa")}})
	assert.True(t, errors.Is(err, ErrStage))
	assert.True(t, errors.Is(err, os.ErrNotExist), "the cause stays in the error chain")
	assert.Contains(t, err.Error(), "missing.fa")
}

func TestRunContig(t *testing.T) {
	dir := t.TempDir()
	sizes := filepath.Join(dir, "chrom.sizes")
	require.NoError(t, os.WriteFile(sizes, []byte("chr1\t1000\n"), 0644))
	signal := filepath.Join(dir, "Signal.Unique.str1.out.bg")
	require.NoError(t, os.WriteFile(signal, []byte("chr1\t100\t200\t5\nchr1\t700\t710\t1\n"), 0644))

	cfg := testConfig(t)
	r := NewExecRunner(cfg, log.NewNopLogger())
	track := records.Record{SampleID: "s1", RunID: "r1", Type: records.BedGraph, View: "PlusRawSignal", Payload: []string{signal}, ReadStrand: records.Unstranded}
	job := Job{Stage: graph.Contig, Key: "all", Inputs: []records.Record{track}, Params: map[string]string{ParamChromSizes: sizes}}
	out, err := r.Run(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, out.Files, 1)
	data, err := os.ReadFile(out.Files[0])
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "chr1\t100\t200\t1\t"), lines[0])

	job.Params = nil
	_, err = r.Run(context.Background(), job)
	assert.True(t, errors.Is(err, ErrStage))
}

func TestCheckVersions(t *testing.T) {
	fakeTools(t, map[string]string{
		ToolSTAR:     "echo 2.7.10a",
		ToolSamtools: `echo "samtools 1.16"`,
	})
	r := NewExecRunner(testConfig(t, "--star-version", "2.7.10a"), log.NewNopLogger())
	assert.NoError(t, r.CheckVersions(context.Background()))

	r = NewExecRunner(testConfig(t, "--star-version", "2.7.10a", "--samtools-version", "1.17"), log.NewNopLogger())
	err := r.CheckVersions(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrConfig))
	assert.Contains(t, err.Error(), "samtools is not version 1.17")
	assert.NotContains(t, err.Error(), "STAR")
}

func TestFail(t *testing.T) {
	assert.NoError(t, Fail(nil))
	err := Fail(records.ErrSideInfo)
	assert.True(t, errors.Is(err, ErrStage))
	assert.True(t, errors.Is(err, records.ErrSideInfo))
	assert.Equal(t, "external stage failure: invalid strand inference output", err.Error())
}

func TestFailf(t *testing.T) {
	err := Failf(Job{Stage: graph.Coverage, Key: "s1/r1"}, "exit status %v", 2)
	assert.True(t, errors.Is(err, ErrStage))
	assert.Equal(t, "coverage s1/r1: exit status 2: external stage failure", err.Error())
}
