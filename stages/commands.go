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
	"path/filepath"
	"strconv"
	"strings"

	"github.com/exascience/rnaflow/graph"
	"github.com/exascience/rnaflow/records"
)

// Executables of the external tools.
const (
	ToolSTAR          = "STAR"
	ToolSamtools      = "samtools"
	ToolRSEMPrepare   = "rsem-prepare-reference"
	ToolRSEMCalculate = "rsem-calculate-expression"
	ToolElprep        = "elprep"
	ToolInfer         = "infer-experiment"
	ToolBamStats      = "bamstats"
	ToolBigWig        = "bedGraphToBigWig"
	ToolFeatureCounts = "featureCounts"
	toolSort          = "sort"
)

// A command is one external process of a job. If stdout is set, the
// standard output of the process is also saved in that file.
type command struct {
	name   string
	args   []string
	env    []string
	stdout string
}

func (c command) String() string {
	return c.name + " " + strings.Join(c.args, " ")
}

// A recipe lists the commands of a job and the files they produce.
// When a tool fills an output directory or writes files named after an
// output prefix, the files it writes are listed in checks.
type recipe struct {
	commands []command
	outputs  []string
	checks   []string
}

// produced returns the files that must exist after the commands ran.
func (rc recipe) produced() []string {
	if len(rc.checks) > 0 {
		return rc.checks
	}
	return rc.outputs
}

// builder creates the recipe for one job in dir.
type builder struct {
	*ExecRunner
	job Job
	dir string
}

func (b builder) threads() string {
	return strconv.Itoa(b.nrOfThreads)
}

func (b builder) path(name string) string {
	return filepath.Join(b.dir, name)
}

func (b builder) param(name string) (string, error) {
	value := b.job.Param(name)
	if value == "" {
		return "", Failf(b.job, "missing parameter %v", name)
	}
	return value, nil
}

func (b builder) input() (records.Record, error) {
	if len(b.job.Inputs) != 1 || len(b.job.Inputs[0].Payload) == 0 {
		return records.Record{}, Failf(b.job, "expected one input with a payload, got %v inputs", len(b.job.Inputs))
	}
	return b.job.Inputs[0], nil
}

func (b builder) annotation() (string, error) {
	if !b.job.Species.HasAnnotation() {
		return "", Failf(b.job, "species %v has no annotation", b.job.Species.Key)
	}
	return b.job.Species.Annotation, nil
}

func (b builder) recipe() (recipe, error) {
	switch b.job.Stage {
	case graph.GenomeIndex:
		return b.genomeIndex()
	case graph.TranscriptomeIndex:
		return b.transcriptomeIndex()
	case graph.Mapping:
		return b.mapping()
	case graph.SortTranscriptome:
		return b.sort()
	case graph.MergeGenome, graph.MergeTranscriptome:
		return b.merge()
	case graph.MarkDuplicates:
		return b.markDuplicates()
	case graph.InferExperiment:
		return b.inferExperiment()
	case graph.BamStats:
		return b.bamStats()
	case graph.Coverage:
		return b.coverage()
	case graph.Quantification:
		return b.quantification()
	default:
		return recipe{}, Failf(b.job, "no command for stage")
	}
}

func (b builder) genomeIndex() (recipe, error) {
	args := []string{
		"--runMode", "genomeGenerate",
		"--runThreadN", b.threads(),
		"--genomeDir", b.dir,
		"--genomeFastaFiles", b.job.Species.Genome,
		"--outTmpDir", b.path("_tmp-" + b.runID),
	}
	if b.job.Species.HasAnnotation() {
		args = append(args,
			"--sjdbGTFfile", b.job.Species.Annotation,
			"--sjdbOverhang", strconv.Itoa(b.cfg.ReadLength-1))
	}
	return recipe{
		commands: []command{{name: ToolSTAR, args: args}},
		outputs:  []string{b.dir},
		checks:   []string{b.path("Genome"), b.path("SA"), b.path("SAindex")},
	}, nil
}

func (b builder) transcriptomeIndex() (recipe, error) {
	annotation, err := b.annotation()
	if err != nil {
		return recipe{}, err
	}
	prefix := b.path(b.job.Species.Key)
	return recipe{
		commands: []command{{name: ToolRSEMPrepare, args: []string{
			"--num-threads", b.threads(),
			"--gtf", annotation,
			b.job.Species.Genome, prefix,
		}}},
		outputs: []string{prefix},
		checks:  []string{prefix + ".grp", prefix + ".ti", prefix + ".seq"},
	}, nil
}

func readGroup(rec records.Record, platform, library, center, description string) []string {
	rg := []string{"ID:" + rec.RunID, "SM:" + rec.SampleID}
	for _, field := range []struct{ tag, value string }{
		{"PL", platform}, {"LB", library}, {"CN", center}, {"DS", description},
	} {
		if field.value != "" {
			rg = append(rg, field.tag+":"+field.value)
		}
	}
	return rg
}

func (b builder) mapping() (recipe, error) {
	index, err := b.param(ParamGenomeIndex)
	if err != nil {
		return recipe{}, err
	}
	if len(b.job.Inputs) == 0 || len(b.job.Inputs) > 2 {
		return recipe{}, Failf(b.job, "expected one or two read files, got %v", len(b.job.Inputs))
	}
	args := []string{
		"--runThreadN", b.threads(),
		"--genomeDir", index,
		"--readFilesIn",
	}
	gzipped := false
	for _, rec := range b.job.Inputs {
		args = append(args, strings.Join(rec.Payload, ","))
		for _, file := range rec.Payload {
			gzipped = gzipped || strings.HasSuffix(file, ".gz")
		}
	}
	if gzipped {
		args = append(args, "--readFilesCommand", "zcat")
	}
	first := b.job.Inputs[0]
	args = append(args,
		"--outFileNamePrefix", b.dir+string(filepath.Separator),
		"--outTmpDir", b.path("_tmp-"+b.runID),
		"--outSAMtype", "BAM", "SortedByCoordinate",
		"--outSAMunmapped", "Within",
		"--quantMode", "TranscriptomeSAM",
		"--outFilterMismatchNmax", strconv.Itoa(b.cfg.MaxMismatches),
		"--outFilterMultimapNmax", strconv.Itoa(b.cfg.MaxMultimaps),
		"--outSAMattrRGline")
	args = append(args, readGroup(first, b.cfg.RGPlatform, b.cfg.RGLibrary, b.cfg.RGCenterName, b.cfg.RGDescription)...)
	return recipe{
		commands: []command{{name: ToolSTAR, args: args}},
		outputs: []string{
			b.path("Aligned.sortedByCoord.out.bam"),
			b.path("Aligned.toTranscriptome.out.bam"),
		},
	}, nil
}

func (b builder) sort() (recipe, error) {
	rec, err := b.input()
	if err != nil {
		return recipe{}, err
	}
	out := b.path("sorted.bam")
	return recipe{
		commands: []command{{name: ToolSamtools, args: []string{
			"sort", "-@", b.threads(), "-T", b.path("_tmp-" + b.runID), "-o", out, rec.Payload[0],
		}}},
		outputs: []string{out},
	}, nil
}

func (b builder) merge() (recipe, error) {
	if len(b.job.Inputs) < 2 {
		return recipe{}, Failf(b.job, "merge needs at least two inputs, got %v", len(b.job.Inputs))
	}
	out := b.path("merged.bam")
	args := []string{"merge", "-f", "-@", b.threads(), out}
	for _, rec := range b.job.Inputs {
		args = append(args, rec.Payload...)
	}
	return recipe{
		commands: []command{{name: ToolSamtools, args: args}},
		outputs:  []string{out},
	}, nil
}

func (b builder) markDuplicates() (recipe, error) {
	rec, err := b.input()
	if err != nil {
		return recipe{}, err
	}
	policy, err := graph.ParseDuplicatePolicy(b.cfg.MarkDuplicates)
	if err != nil {
		return recipe{}, Fail(err)
	}
	out := b.path("markdup.bam")
	args := []string{"filter", rec.Payload[0], out, "--mark-duplicates"}
	if policy == graph.DuplicatesRemove {
		args = append(args, "--remove-duplicates")
	}
	args = append(args, "--nr-of-threads", b.threads())
	return recipe{
		commands: []command{{name: ToolElprep, args: args}},
		outputs:  []string{out},
	}, nil
}

func (b builder) inferExperiment() (recipe, error) {
	rec, err := b.input()
	if err != nil {
		return recipe{}, err
	}
	args := []string{"-i", rec.Payload[0]}
	if b.job.Species.HasAnnotation() {
		args = append(args, "-r", b.job.Species.Annotation)
	}
	out := b.path("infer-experiment.json")
	return recipe{
		commands: []command{{name: ToolInfer, args: args, stdout: out}},
		outputs:  []string{out},
	}, nil
}

func (b builder) bamStats() (recipe, error) {
	rec, err := b.input()
	if err != nil {
		return recipe{}, err
	}
	out := b.path("bamstats.json")
	args := []string{"-i", rec.Payload[0], "-o", out, "-c", b.threads()}
	if b.job.Species.HasAnnotation() {
		args = append(args, "-a", b.job.Species.Annotation)
	}
	return recipe{
		commands: []command{{name: ToolBamStats, args: args}},
		outputs:  []string{out},
	}, nil
}

func (b builder) coverage() (recipe, error) {
	rec, err := b.input()
	if err != nil {
		return recipe{}, err
	}
	sizes, err := b.param(ParamChromSizes)
	if err != nil {
		return recipe{}, err
	}
	wigStrand, tracks := "Unstranded", []string{"str1"}
	if rec.Expression.Stranded() {
		wigStrand, tracks = "Stranded", []string{"str1", "str2"}
	}
	commands := []command{{name: ToolSTAR, args: []string{
		"--runMode", "inputAlignmentsFromBAM",
		"--inputBAMfile", rec.Payload[0],
		"--outWigType", "bedGraph",
		"--outWigStrand", wigStrand,
		"--outFileNamePrefix", b.dir + string(filepath.Separator),
		"--outTmpDir", b.path("_tmp-" + b.runID),
	}}}
	var graphs, wigs []string
	for _, track := range tracks {
		bg := b.path("Signal.Unique." + track + ".out.bg")
		bw := b.path("Signal.Unique." + track + ".out.bw")
		commands = append(commands,
			command{name: toolSort, args: []string{"-k1,1", "-k2,2n", "-o", bg, bg}, env: []string{"LC_ALL=C"}},
			command{name: ToolBigWig, args: []string{bg, sizes, bw}})
		graphs = append(graphs, bg)
		wigs = append(wigs, bw)
	}
	return recipe{commands: commands, outputs: append(graphs, wigs...)}, nil
}

// strandSpecificity returns the featureCounts -s value for mode.
func strandSpecificity(mode records.ExpressionMode) string {
	switch mode.Strand() {
	case records.Forward:
		return "1"
	case records.Reverse:
		return "2"
	default:
		return "0"
	}
}

func (b builder) quantification() (recipe, error) {
	rec, err := b.input()
	if err != nil {
		return recipe{}, err
	}
	if records.Space(b.job.Param(ParamSpace)) == records.Genome {
		annotation, err := b.annotation()
		if err != nil {
			return recipe{}, err
		}
		out := b.path("counts.tsv")
		args := []string{"-T", b.threads(), "-a", annotation, "-o", out, "-s", strandSpecificity(rec.Expression)}
		if rec.PairedEnd {
			args = append(args, "-p")
		}
		args = append(args, rec.Payload[0])
		return recipe{
			commands: []command{{name: ToolFeatureCounts, args: args}},
			outputs:  []string{out, out + ".summary"},
		}, nil
	}
	index, err := b.param(ParamTranscriptomeIndex)
	if err != nil {
		return recipe{}, err
	}
	prefix := b.path("quant")
	args := []string{"--alignments", "--no-bam-output", "--num-threads", b.threads(), "--forward-prob", rec.Expression.ForwardProb()}
	if rec.PairedEnd {
		args = append(args, "--paired-end")
	}
	args = append(args, rec.Payload[0], index, prefix)
	return recipe{
		commands: []command{{name: ToolRSEMCalculate, args: args}},
		outputs:  []string{prefix + ".isoforms.results", prefix + ".genes.results"},
	}, nil
}
