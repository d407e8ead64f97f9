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
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/exascience/rnaflow/bed"
	"github.com/exascience/rnaflow/config"
	"github.com/exascience/rnaflow/contigs"
	"github.com/exascience/rnaflow/fasta"
	"github.com/exascience/rnaflow/graph"
	"github.com/exascience/rnaflow/records"
	"github.com/exascience/rnaflow/utils"
)

// stderrTail is the number of lines of standard error kept for error
// messages.
const stderrTail = 10

// ExecRunner runs jobs as command-line tools, each in its own working
// directory <work-dir>/<stage>/<key>/. The chrom-sizes and contig
// stages run in-process.
type ExecRunner struct {
	cfg         *config.Config
	fs          afero.Fs
	logger      log.Logger
	runID       string
	nrOfThreads int
}

// NewExecRunner returns a runner for cfg. Every runner gets a fresh
// run id, used to name temporary directories.
func NewExecRunner(cfg *config.Config, logger log.Logger) *ExecRunner {
	threads := cfg.NrOfThreads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	return &ExecRunner{
		cfg:         cfg,
		fs:          afero.NewOsFs(),
		logger:      logger,
		runID:       uuid.New().String(),
		nrOfThreads: threads,
	}
}

// RunID returns the run id of r.
func (r *ExecRunner) RunID() string { return r.runID }

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, job Job) (Output, error) {
	dir := filepath.Join(r.cfg.WorkDir, filepath.FromSlash(job.Dir()))
	if err := r.fs.MkdirAll(dir, 0755); err != nil {
		return Output{}, errors.Wrapf(err, "while creating working directory for %v %v", job.Stage, job.Key)
	}
	logger := log.With(r.logger, "stage", job.Stage, "key", job.Key)
	start := time.Now()
	var out Output
	var err error
	switch job.Stage {
	case graph.ChromSizes:
		out, err = r.chromSizes(job, dir)
	case graph.Contig:
		out, err = r.contig(job, dir, logger)
	default:
		out, err = r.exec(ctx, job, dir, logger)
	}
	if err != nil {
		return out, err
	}
	level.Info(logger).Log("msg", "job done", "outputs", len(out.Files), "elapsed", time.Since(start))
	return out, nil
}

func (r *ExecRunner) exec(ctx context.Context, job Job, dir string, logger log.Logger) (Output, error) {
	rc, err := builder{ExecRunner: r, job: job, dir: dir}.recipe()
	if err != nil {
		return Output{}, err
	}
	var meta []byte
	for _, c := range rc.commands {
		stdout, err := r.runCommand(ctx, job, c, logger)
		if err != nil {
			return Output{}, err
		}
		if c.stdout != "" {
			if err := afero.WriteFile(r.fs, c.stdout, stdout, 0644); err != nil {
				return Output{}, errors.Wrapf(err, "while saving output of %v", c.name)
			}
		}
		meta = stdout
	}
	for _, file := range rc.produced() {
		if ok, err := afero.Exists(r.fs, file); err != nil {
			return Output{}, err
		} else if !ok {
			return Output{}, Failf(job, "expected output %v is missing", file)
		}
	}
	return Output{Files: rc.outputs, Meta: meta}, nil
}

func (r *ExecRunner) runCommand(ctx context.Context, job Job, c command, logger log.Logger) ([]byte, error) {
	level.Debug(logger).Log("msg", "running", "cmd", c)
	cmd := exec.CommandContext(ctx, c.name, c.args...)
	if len(c.env) > 0 {
		cmd.Env = append(os.Environ(), c.env...)
	}
	var stdout bytes.Buffer
	stderr := &stderrLogger{logger: log.With(logger, "tool", c.name)}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr
	err := cmd.Run()
	stderr.flush()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, Failf(job, "%v: %v: %v", c.name, err, strings.Join(stderr.tail, " | "))
	}
	return stdout.Bytes(), nil
}

// stderrLogger logs every line written to it, and keeps the last lines
// for error messages.
type stderrLogger struct {
	mutex   sync.Mutex
	logger  log.Logger
	partial []byte
	tail    []string
}

func (w *stderrLogger) Write(p []byte) (int, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.line(string(w.partial[:i]))
		w.partial = w.partial[i+1:]
	}
	return len(p), nil
}

func (w *stderrLogger) line(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}
	level.Debug(w.logger).Log("stderr", line)
	w.tail = append(w.tail, line)
	if len(w.tail) > stderrTail {
		w.tail = w.tail[1:]
	}
}

func (w *stderrLogger) flush() {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.line(string(w.partial))
	w.partial = nil
}

func (r *ExecRunner) chromSizes(job Job, dir string) (Output, error) {
	sizes, err := job.Species.ChromSizes(r.fs)
	if err != nil {
		return Output{}, Fail(err)
	}
	out := filepath.Join(dir, "chrom.sizes")
	file, err := r.fs.Create(out)
	if err != nil {
		return Output{}, err
	}
	err = fasta.WriteChromSizes(file, sizes)
	if nerr := file.Close(); err == nil {
		err = nerr
	}
	if err != nil {
		return Output{}, errors.Wrapf(err, "while writing %v", out)
	}
	return Output{Files: []string{out}}, nil
}

func trackStrand(rec records.Record) utils.Symbol {
	switch rec.ReadStrand {
	case records.Forward:
		return bed.SF
	case records.Reverse:
		return bed.SR
	default:
		return bed.SN
	}
}

func (r *ExecRunner) contig(job Job, dir string, logger log.Logger) (Output, error) {
	sizesFile := job.Param(ParamChromSizes)
	if sizesFile == "" {
		return Output{}, Failf(job, "missing parameter %v", ParamChromSizes)
	}
	file, err := r.fs.Open(sizesFile)
	if err != nil {
		return Output{}, err
	}
	sizes, err := fasta.ParseChromSizes(file)
	_ = file.Close()
	if err != nil {
		return Output{}, errors.Wrapf(err, "while reading %v", sizesFile)
	}
	var tracks []contigs.Track
	for _, rec := range job.Inputs {
		if rec.Type != records.BedGraph {
			continue
		}
		for _, path := range rec.Payload {
			tracks = append(tracks, contigs.Track{Path: path, Strand: trackStrand(rec)})
		}
	}
	out := filepath.Join(dir, "contigs.bed")
	n, err := contigs.CallFile(r.fs, out, sizes, tracks, r.cfg.ContigOptions(), logger)
	if err != nil {
		return Output{}, Fail(err)
	}
	level.Info(logger).Log("msg", "contigs called", "contigs", n)
	return Output{Files: []string{out}}, nil
}

type versionPin struct {
	tool    string
	args    []string
	version string
}

// versionPins returns the configured tool version pins, with the
// arguments that make each tool print its version.
func (r *ExecRunner) versionPins() []versionPin {
	var pins []versionPin
	for _, pin := range []versionPin{
		{ToolSTAR, []string{"--version"}, r.cfg.StarVersion},
		{ToolSamtools, []string{"--version"}, r.cfg.SamtoolsVersion},
		{ToolRSEMCalculate, []string{"--version"}, r.cfg.RsemVersion},
		{ToolElprep, nil, r.cfg.ElprepVersion},
	} {
		if pin.version != "" {
			pins = append(pins, pin)
		}
	}
	return pins
}

// CheckVersions verifies that every tool with a configured version pin
// reports that version. Mismatches are configuration errors.
func (r *ExecRunner) CheckVersions(ctx context.Context) error {
	var problems []string
	for _, pin := range r.versionPins() {
		output, err := exec.CommandContext(ctx, pin.tool, pin.args...).CombinedOutput()
		if !bytes.Contains(output, []byte(pin.version)) {
			problem := pin.tool + " is not version " + pin.version
			if err != nil {
				problem += " (" + err.Error() + ")"
			}
			problems = append(problems, problem)
			continue
		}
		level.Info(r.logger).Log("msg", "tool version checked", "tool", pin.tool, "version", pin.version)
	}
	if len(problems) > 0 {
		return errors.Wrap(config.ErrConfig, strings.Join(problems, "; "))
	}
	return nil
}
