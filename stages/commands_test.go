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
	"flag"
	"io"
	"path/filepath"
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

func testConfig(t *testing.T, args ...string) *config.Config {
	t.Helper()
	var cfg config.Config
	f := flag.NewFlagSet("test", flag.ContinueOnError)
	f.SetOutput(io.Discard)
	require.NoError(t, cfg.Parse(f, append([]string{"--work-dir", t.TempDir(), "--nr-of-threads", "2"}, args...)))
	return &cfg
}

var human = references.Species{Key: "GRCh38", Genome: "/ref/GRCh38.fa", Annotation: "/ref/GRCh38.gtf"}

func build(t *testing.T, cfg *config.Config, job Job) (recipe, error) {
	t.Helper()
	r := NewExecRunner(cfg, log.NewNopLogger())
	return builder{ExecRunner: r, job: job, dir: "/work/" + job.Dir()}.recipe()
}

func TestJobDir(t *testing.T) {
	job := Job{Stage: graph.MergeGenome, Key: "sample A/run1:run2"}
	assert.Equal(t, "merge-genome/sample%20A_run1+run2", job.Dir())
	assert.Equal(t, "mapping/s1_r1", Job{Stage: graph.Mapping, Key: "s1/r1"}.Dir())

	seen := make(map[string]string)
	for _, key := range []string{"a_b/c", "a/b_c", "a b/c", "a/b+c", "a/b:c", "a%5F/b", "a_/b"} {
		dir := Job{Stage: graph.Mapping, Key: key}.Dir()
		assert.NotContains(t, seen, dir, "keys %q and %q share a directory", seen[dir], key)
		seen[dir] = key
	}
}

func TestMappingCommand(t *testing.T) {
	cfg := testConfig(t, "--rg-platform", "ILLUMINA", "--max-mismatches", "6")
	job := Job{
		Stage: graph.Mapping,
		Key:   "s1/r1",
		Inputs: []records.Record{
			{SampleID: "s1", RunID: "r1", Type: records.Fastq, View: "FqRd1", Payload: []string{"/data/r1_1.fq.gz"}},
			{SampleID: "s1", RunID: "r1", Type: records.Fastq, View: "FqRd2", Payload: []string{"/data/r1_2.fq.gz"}},
		},
		Species: human,
		Params:  map[string]string{ParamGenomeIndex: "/work/genome-index/GRCh38"},
	}
	rc, err := build(t, cfg, job)
	require.NoError(t, err)
	require.Len(t, rc.commands, 1)
	c := rc.commands[0]
	assert.Equal(t, ToolSTAR, c.name)
	assert.Subset(t, c.args, []string{"--readFilesIn", "/data/r1_1.fq.gz", "/data/r1_2.fq.gz", "--readFilesCommand", "zcat"})
	assert.Subset(t, c.args, []string{"--quantMode", "TranscriptomeSAM", "--outFilterMismatchNmax", "6", "--outFilterMultimapNmax", "10"})
	assert.Equal(t, []string{"--outSAMattrRGline", "ID:r1", "SM:s1", "PL:ILLUMINA"}, c.args[len(c.args)-4:])
	assert.Equal(t, []string{"/work/mapping/s1_r1/Aligned.sortedByCoord.out.bam", "/work/mapping/s1_r1/Aligned.toTranscriptome.out.bam"}, rc.outputs)

	job.Params = nil
	_, err = build(t, cfg, job)
	assert.True(t, errors.Is(err, ErrStage), "mapping needs the genome index")
}

func TestGenomeIndexCommand(t *testing.T) {
	rc, err := build(t, testConfig(t, "--read-length", "101"), Job{Stage: graph.GenomeIndex, Key: "GRCh38", Species: human})
	require.NoError(t, err)
	assert.Subset(t, rc.commands[0].args, []string{"genomeGenerate", "--sjdbGTFfile", "/ref/GRCh38.gtf", "--sjdbOverhang", "100"})
	assert.Equal(t, []string{"/work/genome-index/GRCh38"}, rc.outputs)
	assert.Contains(t, rc.produced(), "/work/genome-index/GRCh38/SAindex")

	rc, err = build(t, testConfig(t), Job{Stage: graph.TranscriptomeIndex, Key: "GRCh38", Species: human})
	require.NoError(t, err)
	assert.Equal(t, ToolRSEMPrepare, rc.commands[0].name)
	assert.Equal(t, []string{"/work/transcriptome-index/GRCh38/GRCh38"}, rc.outputs)
	assert.Equal(t, []string{
		"/work/transcriptome-index/GRCh38/GRCh38.grp",
		"/work/transcriptome-index/GRCh38/GRCh38.ti",
		"/work/transcriptome-index/GRCh38/GRCh38.seq",
	}, rc.produced())

	_, err = build(t, testConfig(t), Job{Stage: graph.TranscriptomeIndex, Key: "GRCh38", Species: references.Species{Key: "GRCh38", Genome: "/ref/GRCh38.fa"}})
	assert.True(t, errors.Is(err, ErrStage))
}

func TestMergeAndDuplicateCommands(t *testing.T) {
	cfg := testConfig(t, "--mark-duplicates", "remove")
	bam := func(run string) records.Record {
		return records.Record{SampleID: "s1", RunID: run, Type: records.Bam, View: "GenomeAlignments", Payload: []string{"/work/" + run + ".bam"}}
	}
	rc, err := build(t, cfg, Job{Stage: graph.MergeGenome, Key: "s1/r1:r2", Inputs: []records.Record{bam("r1"), bam("r2")}})
	require.NoError(t, err)
	assert.Equal(t, []string{"merge", "-f", "-@", "2", "/work/merge-genome/s1_r1+r2/merged.bam", "/work/r1.bam", "/work/r2.bam"}, rc.commands[0].args)

	_, err = build(t, cfg, Job{Stage: graph.MergeGenome, Key: "s1/r1", Inputs: []records.Record{bam("r1")}})
	assert.True(t, errors.Is(err, ErrStage))

	rc, err = build(t, cfg, Job{Stage: graph.MarkDuplicates, Key: "s1/r1", Inputs: []records.Record{bam("r1")}})
	require.NoError(t, err)
	assert.Equal(t, ToolElprep, rc.commands[0].name)
	assert.Subset(t, rc.commands[0].args, []string{"filter", "--mark-duplicates", "--remove-duplicates"})
}

func TestCoverageCommand(t *testing.T) {
	cfg := testConfig(t)
	rec := records.Record{SampleID: "s1", RunID: "r1", Type: records.Bam, View: "GenomeAlignments",
		Payload: []string{"/work/r1.bam"}, Expression: records.ModeMate2Sense}
	job := Job{Stage: graph.Coverage, Key: "s1/r1", Inputs: []records.Record{rec}, Params: map[string]string{ParamChromSizes: "/work/chrom.sizes"}}
	rc, err := build(t, cfg, job)
	require.NoError(t, err)
	assert.Len(t, rc.commands, 5)
	assert.Subset(t, rc.commands[0].args, []string{"--outWigStrand", "Stranded"})
	assert.Len(t, rc.outputs, 4)
	assert.Equal(t, "/work/coverage/s1_r1/Signal.Unique.str1.out.bg", rc.outputs[0])

	rec.Expression = records.ModeNone
	job.Inputs = []records.Record{rec}
	rc, err = build(t, cfg, job)
	require.NoError(t, err)
	assert.Subset(t, rc.commands[0].args, []string{"--outWigStrand", "Unstranded"})
	assert.Len(t, rc.outputs, 2)
}

func TestQuantificationCommand(t *testing.T) {
	cfg := testConfig(t)
	rec := records.Record{SampleID: "s1", RunID: "r1", Type: records.Bam, View: "TranscriptomeAlignments",
		Payload: []string{"/work/r1.bam"}, PairedEnd: true, Expression: records.ModeMate2Sense}
	rc, err := build(t, cfg, Job{Stage: graph.Quantification, Key: "s1/r1", Inputs: []records.Record{rec}, Species: human,
		Params: map[string]string{ParamSpace: "Transcriptome", ParamTranscriptomeIndex: "/work/ti/GRCh38"}})
	require.NoError(t, err)
	assert.Equal(t, ToolRSEMCalculate, rc.commands[0].name)
	assert.Subset(t, rc.commands[0].args, []string{"--forward-prob", "0", "--paired-end", "/work/ti/GRCh38"})
	assert.Len(t, rc.outputs, 2)

	rec.View = "GenomeAlignments"
	rec.Expression = records.ModeSense
	rc, err = build(t, cfg, Job{Stage: graph.Quantification, Key: "s1/r1", Inputs: []records.Record{rec}, Species: human,
		Params: map[string]string{ParamSpace: "Genome"}})
	require.NoError(t, err)
	assert.Equal(t, ToolFeatureCounts, rc.commands[0].name)
	assert.Subset(t, rc.commands[0].args, []string{"-a", "/ref/GRCh38.gtf", "-s", "1", "-p"})
	assert.Equal(t, "/work/quantification/s1_r1/counts.tsv", rc.outputs[0])
	assert.Equal(t, filepath.Join("/work/quantification/s1_r1", "counts.tsv.summary"), rc.outputs[1])
}
