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

// Package config holds the options of a pipeline run. Options are
// registered as flags and can also be given in a YAML file. Flags
// given on the command line override the file.
package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/exascience/rnaflow/contigs"
	"github.com/exascience/rnaflow/graph"
	"github.com/exascience/rnaflow/records"
	"github.com/exascience/rnaflow/references"
)

// ErrConfig is returned for invalid configurations.
var ErrConfig = errors.New("invalid configuration")

// ConfigFileFlag names the flag that points to a YAML file.
const ConfigFileFlag = "config-file"

// StringList is a comma-separated list of strings. In YAML it can be
// given either as a sequence or as a comma-separated string.
type StringList []string

func splitList(s string) (list StringList) {
	for _, field := range strings.Split(s, ",") {
		if field = strings.TrimSpace(field); field != "" {
			list = append(list, field)
		}
	}
	return list
}

// String implements flag.Value.
func (l *StringList) String() string {
	if l == nil {
		return ""
	}
	return strings.Join(*l, ",")
}

// Set implements flag.Value.
func (l *StringList) Set(s string) error {
	*l = splitList(s)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*l = splitList(value.Value)
		return nil
	}
	var list []string
	if err := value.Decode(&list); err != nil {
		return err
	}
	*l = list
	return nil
}

// Config holds every option of a run.
type Config struct {
	Index       string     `yaml:"index"`
	Genome      StringList `yaml:"genome"`
	Annotation  StringList `yaml:"annotation"`
	GenomeIndex StringList `yaml:"genome-index"`

	Steps              StringList `yaml:"steps"`
	QuantificationMode string     `yaml:"quantification-mode"`
	MaxMismatches      int        `yaml:"max-mismatches"`
	MaxMultimaps       int        `yaml:"max-multimaps"`
	ReadLength         int        `yaml:"read-length"`
	MarkDuplicates     string     `yaml:"mark-duplicates"`

	RGPlatform    string `yaml:"rg-platform"`
	RGLibrary     string `yaml:"rg-library"`
	RGCenterName  string `yaml:"rg-center-name"`
	RGDescription string `yaml:"rg-description"`

	StarVersion     string `yaml:"star-version"`
	SamtoolsVersion string `yaml:"samtools-version"`
	RsemVersion     string `yaml:"rsem-version"`
	ElprepVersion   string `yaml:"elprep-version"`

	WorkDir     string `yaml:"work-dir"`
	FetchDir    string `yaml:"fetch-dir"`
	Output      string `yaml:"output"`
	NrOfThreads int    `yaml:"nr-of-threads"`
	MaxJobs     int    `yaml:"max-jobs"`

	S3Endpoint   string        `yaml:"s3-endpoint"`
	S3Insecure   bool          `yaml:"s3-insecure"`
	GCSAnonymous bool          `yaml:"gcs-anonymous"`
	HTTPTimeout  time.Duration `yaml:"http-timeout"`
	HTTPHedge    int           `yaml:"http-hedge"`

	LogPath       string `yaml:"log-path"`
	LogLevel      string `yaml:"log-level"`
	MetricsOutput string `yaml:"metrics-output"`
	Timed         bool   `yaml:"timed"`

	ContigMinSignal    float64 `yaml:"contig-min-signal"`
	ContigMaxAntisense float64 `yaml:"contig-max-antisense"`
	ContigMinDepth     float64 `yaml:"contig-min-depth"`
	ContigMinCoverage  float64 `yaml:"contig-min-coverage"`
	ContigMaxGap       int     `yaml:"contig-max-gap"`

	GenomeMarkers        StringList `yaml:"genome-markers"`
	TranscriptomeMarkers StringList `yaml:"transcriptome-markers"`
}

// RegisterFlags registers the options of c in f and sets their
// defaults.
func (c *Config) RegisterFlags(f *flag.FlagSet) {
	f.StringVar(&c.Index, "index", "", "whitespace-separated index file with sample, run, location, format, and read columns")
	f.Var(&c.Genome, "genome", "comma-separated genome fasta files, one per species")
	f.Var(&c.Annotation, "annotation", "comma-separated annotation gtf/gff files, one per genome")
	f.Var(&c.GenomeIndex, "genome-index", "comma-separated pre-built index directories, one per genome")

	c.Steps = splitList(graph.DefaultSteps)
	f.Var(&c.Steps, "steps", "comma-separated steps to run: mapping, bigwig, contig, quantification")
	f.StringVar(&c.QuantificationMode, "quantification-mode", string(records.Transcriptome), "quantify in Genome or Transcriptome space")
	f.IntVar(&c.MaxMismatches, "max-mismatches", 4, "maximum number of mismatches per read pair")
	f.IntVar(&c.MaxMultimaps, "max-multimaps", 10, "maximum number of loci a read may map to")
	f.IntVar(&c.ReadLength, "read-length", 150, "read length, used for the splice junction overhang of the genome index")
	f.StringVar(&c.MarkDuplicates, "mark-duplicates", string(graph.DuplicatesNone), "duplicate handling: none, mark, or remove")

	f.StringVar(&c.RGPlatform, "rg-platform", "", "read group platform")
	f.StringVar(&c.RGLibrary, "rg-library", "", "read group library")
	f.StringVar(&c.RGCenterName, "rg-center-name", "", "read group sequencing center")
	f.StringVar(&c.RGDescription, "rg-description", "", "read group description")

	f.StringVar(&c.StarVersion, "star-version", "", "required STAR version")
	f.StringVar(&c.SamtoolsVersion, "samtools-version", "", "required samtools version")
	f.StringVar(&c.RsemVersion, "rsem-version", "", "required RSEM version")
	f.StringVar(&c.ElprepVersion, "elprep-version", "", "required elprep version")

	f.StringVar(&c.WorkDir, "work-dir", "work", "directory for intermediate files")
	f.StringVar(&c.FetchDir, "fetch-dir", "", "directory for fetched inputs (default <work-dir>/fetch)")
	f.StringVar(&c.Output, "output", "pipeline.db", "manifest file")
	f.IntVar(&c.NrOfThreads, "nr-of-threads", 0, "number of threads per external tool (0 for all CPUs)")
	f.IntVar(&c.MaxJobs, "max-jobs", 4, "maximum number of concurrent jobs per stage")

	f.StringVar(&c.S3Endpoint, "s3-endpoint", "s3.amazonaws.com", "endpoint for s3:// inputs")
	f.BoolVar(&c.S3Insecure, "s3-insecure", false, "use plain http for s3:// inputs")
	f.BoolVar(&c.GCSAnonymous, "gcs-anonymous", false, "access gs:// inputs without credentials")
	f.DurationVar(&c.HTTPTimeout, "http-timeout", 30*time.Second, "delay before a hedged http request is sent")
	f.IntVar(&c.HTTPHedge, "http-hedge", 2, "maximum number of hedged http requests")

	f.StringVar(&c.LogPath, "log-path", "", "write log files to the specified directory (default $HOME)")
	f.StringVar(&c.LogLevel, "log-level", "info", "one of debug, info, warn, or error")
	f.StringVar(&c.MetricsOutput, "metrics-output", "", "write prometheus metrics in text format to this file")
	f.BoolVar(&c.Timed, "timed", false, "measure the runtime")

	defaults := contigs.DefaultOptions()
	f.Float64Var(&c.ContigMinSignal, "contig-min-signal", defaults.MinSignal, "minimum pooled score of a contig")
	f.Float64Var(&c.ContigMaxAntisense, "contig-max-antisense", defaults.MaxAntisense, "antisense artifact ratio")
	f.Float64Var(&c.ContigMinDepth, "contig-min-depth", defaults.MinDepth, "pooled depth at which a position is covered")
	f.Float64Var(&c.ContigMinCoverage, "contig-min-coverage", defaults.MinCoverage, "minimum covered fraction of a contig")
	f.IntVar(&c.ContigMaxGap, "contig-max-gap", int(defaults.MaxGap), "maximum gap within a contig")

	c.GenomeMarkers = []string{"sortedByCoord", "toGenome"}
	c.TranscriptomeMarkers = []string{"toTranscriptome"}
	f.Var(&c.GenomeMarkers, "genome-markers", "file name markers of genome alignments")
	f.Var(&c.TranscriptomeMarkers, "transcriptome-markers", "file name markers of transcriptome alignments")
}

// configFile returns the value of the config file flag in args
// without parsing the other flags.
func configFile(args []string) string {
	for i, arg := range args {
		name := strings.TrimLeft(arg, "-")
		if name == arg {
			continue
		}
		if name == ConfigFileFlag && i+1 < len(args) {
			return args[i+1]
		}
		if strings.HasPrefix(name, ConfigFileFlag+"=") {
			return strings.TrimPrefix(name, ConfigFileFlag+"=")
		}
	}
	return ""
}

// LoadYAML reads options from r into c. Unknown keys are errors.
func (c *Config) LoadYAML(r io.Reader) error {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && err != io.EOF {
		return errors.Wrapf(ErrConfig, "%v", err)
	}
	return nil
}

// Parse registers the options of c in f, loads the YAML file named by
// the config file flag if present, and then parses args.
func (c *Config) Parse(f *flag.FlagSet, args []string) error {
	c.RegisterFlags(f)
	var filename string
	f.StringVar(&filename, ConfigFileFlag, "", "YAML file with options; flags override it")
	if name := configFile(args); name != "" {
		file, err := os.Open(name)
		if err != nil {
			return errors.Wrapf(ErrConfig, "%v", err)
		}
		err = c.LoadYAML(file)
		_ = file.Close()
		if err != nil {
			return errors.Wrapf(err, "while loading %v", name)
		}
	}
	if err := f.Parse(args); err != nil {
		return errors.Wrapf(ErrConfig, "%v", err)
	}
	if f.NArg() > 0 {
		return errors.Wrapf(ErrConfig, "cannot parse remaining parameters: %v", f.Args())
	}
	return nil
}

// Validate checks c and reports every problem it finds.
func (c *Config) Validate() error {
	var problems []string
	problemf := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}
	if c.Index == "" {
		problemf("missing index file")
	}
	if len(c.Genome) == 0 {
		problemf("missing genome reference")
	}
	if _, err := graph.ParseSteps(c.Steps.String()); err != nil {
		problemf("%v", err)
	}
	if _, err := c.quantMode(); err != nil {
		problemf("%v", err)
	}
	if _, err := graph.ParseDuplicatePolicy(c.MarkDuplicates); err != nil {
		problemf("%v", err)
	}
	for _, option := range []struct {
		name  string
		value int
	}{
		{"max-mismatches", c.MaxMismatches},
		{"max-multimaps", c.MaxMultimaps},
		{"read-length", c.ReadLength},
		{"max-jobs", c.MaxJobs},
		{"http-hedge", c.HTTPHedge},
	} {
		if option.value <= 0 {
			problemf("%v must be positive, got %v", option.name, option.value)
		}
	}
	if c.NrOfThreads < 0 {
		problemf("nr-of-threads must not be negative")
	}
	if c.Output == "" || c.WorkDir == "" {
		problemf("output and work-dir must not be empty")
	}
	if c.ContigMinSignal < 0 || c.ContigMaxAntisense < 0 || c.ContigMinDepth < 0 || c.ContigMaxGap < 0 {
		problemf("contig thresholds must not be negative")
	}
	if c.ContigMinCoverage < 0 || c.ContigMinCoverage >= 1 {
		problemf("contig-min-coverage must be in [0, 1)")
	}
	if len(c.GenomeMarkers) == 0 || len(c.TranscriptomeMarkers) == 0 {
		problemf("genome-markers and transcriptome-markers must not be empty")
	}
	if _, err := c.LevelFilter(); err != nil {
		problemf("%v", err)
	}
	if len(problems) > 0 {
		return errors.Wrap(ErrConfig, strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) quantMode() (records.Space, error) {
	for _, space := range []records.Space{records.Genome, records.Transcriptome} {
		if strings.EqualFold(c.QuantificationMode, string(space)) {
			return space, nil
		}
	}
	return "", errors.Errorf("unknown quantification-mode %q", c.QuantificationMode)
}

// References builds the reference set of c.
func (c *Config) References() (*references.Set, error) {
	set, err := references.Build(c.Genome, c.Annotation, c.GenomeIndex)
	return set, errors.Wrap(err, "while building references")
}

// Plan returns the graph plan of c. needsFetch reports whether any
// input has to be fetched.
func (c *Config) Plan(refs *references.Set, needsFetch bool) (graph.Plan, error) {
	steps, err := graph.ParseSteps(c.Steps.String())
	if err != nil {
		return graph.Plan{}, err
	}
	space, err := c.quantMode()
	if err != nil {
		return graph.Plan{}, errors.Wrap(ErrConfig, err.Error())
	}
	duplicates, err := graph.ParseDuplicatePolicy(c.MarkDuplicates)
	if err != nil {
		return graph.Plan{}, err
	}
	return graph.Plan{
		Steps:         steps,
		QuantMode:     space,
		Duplicates:    duplicates,
		Genome:        refs != nil,
		Annotation:    refs != nil && refs.HasAnnotation(),
		PrebuiltIndex: refs != nil && refs.HasIndex(),
		Fetch:         needsFetch,
	}, nil
}

// ContigOptions returns the thresholds of the contig caller.
func (c *Config) ContigOptions() contigs.Options {
	return contigs.Options{
		MinSignal:    c.ContigMinSignal,
		MaxAntisense: c.ContigMaxAntisense,
		MinDepth:     c.ContigMinDepth,
		MinCoverage:  c.ContigMinCoverage,
		MaxGap:       int32(c.ContigMaxGap),
	}
}

// FetchDirectory returns the directory for fetched inputs.
func (c *Config) FetchDirectory() string {
	if c.FetchDir != "" {
		return c.FetchDir
	}
	return filepath.Join(c.WorkDir, "fetch")
}

// LevelFilter returns the go-kit level filter for the log level.
func (c *Config) LevelFilter() (level.Option, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return level.AllowDebug(), nil
	case "info", "":
		return level.AllowInfo(), nil
	case "warn":
		return level.AllowWarn(), nil
	case "error":
		return level.AllowError(), nil
	default:
		return nil, errors.Errorf("unknown log-level %q", c.LogLevel)
	}
}
