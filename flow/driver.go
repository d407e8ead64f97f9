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
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/exascience/rnaflow/graph"
	"github.com/exascience/rnaflow/records"
	"github.com/exascience/rnaflow/references"
	"github.com/exascience/rnaflow/stages"
)

// A Sink receives the terminal records of a run.
type Sink interface {
	Write(rec records.Record) (int, error)
}

// A Fetcher fetches the first reachable of a list of sources.
type Fetcher interface {
	Fetch(ctx context.Context, sources []string, dest string) (string, error)
}

// Views assigned to records produced by the driver.
const (
	ViewAlignments   = "Alignments"
	ViewStats        = "Stats"
	ViewSignal       = "RawSignal"
	ViewContigs      = "Contigs"
	ViewQuantity     = "Quantification"
	channelBuffering = 64
)

// Summary describes the outcome of a run.
type Summary struct {
	Samples  int
	Records  map[records.ArtifactType]int
	Lines    int
	Failures []*SampleError
	Elapsed  time.Duration
}

// Err returns an error if any sample failed.
func (s *Summary) Err() error {
	if len(s.Failures) == 0 {
		return nil
	}
	return errors.Errorf("%v of %v samples failed, first failure: %v", countSamples(s.Failures), s.Samples, s.Failures[0])
}

func countSamples(errs []*SampleError) int {
	seen := make(map[string]bool)
	for _, err := range errs {
		seen[err.SampleID] = true
	}
	return len(seen)
}

// A Driver executes a pipeline graph.
type Driver struct {
	graph   *graph.Graph
	runner  stages.Runner
	refs    *references.Set
	sink    Sink
	fetcher Fetcher
	logger  log.Logger
	metrics *Metrics
	maxJobs int
	space   Splitter
}

// An Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger of the driver.
func WithLogger(logger log.Logger) Option {
	return func(d *Driver) { d.logger = logger }
}

// WithMetrics sets the collectors the driver updates.
func WithMetrics(m *Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithMaxJobs bounds the number of concurrent jobs per stage.
func WithMaxJobs(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.maxJobs = n
		}
	}
}

// WithFetcher sets the fetcher used by the fetch stage.
func WithFetcher(f Fetcher) Option {
	return func(d *Driver) { d.fetcher = f }
}

// WithSpaceMarkers overrides the payload markers of the coordinate
// space splitter.
func WithSpaceMarkers(genome, transcriptome []string) Option {
	return func(d *Driver) { d.space = SpaceSplitter(genome, transcriptome) }
}

// NewDriver returns a driver for g.
func NewDriver(g *graph.Graph, runner stages.Runner, refs *references.Set, sink Sink, opts ...Option) *Driver {
	d := &Driver{
		graph:   g,
		runner:  runner,
		refs:    refs,
		sink:    sink,
		logger:  log.NewNopLogger(),
		maxJobs: runtime.GOMAXPROCS(0),
		space:   SpaceSplitter(DefaultGenomeMarkers, DefaultTranscriptomeMarkers),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = NewMetrics(nil)
	}
	return d
}

// run holds the state of one invocation of Driver.Run.
type run struct {
	*Driver
	failures *Failures
	params   map[string]string

	entry map[graph.Stage]chan records.Record
	edges map[graph.Edge]chan records.Record

	mutex         sync.Mutex
	written       map[records.ArtifactType]int
	lines         int
	genomeCounts  map[string]int
	transcriptome map[string]bool
}

// Run processes inputs. Per-sample failures are reported in the
// summary; the returned error is only non-nil for failures that affect
// the whole run, such as a failing reference stage, an unwritable
// manifest, or cancellation of ctx.
func (d *Driver) Run(ctx context.Context, inputs []records.Record) (*Summary, error) {
	start := time.Now()
	r := &run{
		Driver:        d,
		failures:      NewFailures(),
		written:       make(map[records.ArtifactType]int),
		genomeCounts:  make(map[string]int),
		transcriptome: make(map[string]bool),
	}
	samples := make(map[string]bool)
	for _, rec := range inputs {
		samples[rec.SampleID] = true
		if rec.Type == records.Fastq && d.graph.Has(graph.Mapping) {
			r.transcriptome[rec.SampleID] = true
		} else if space, err := rec.Space(); err == nil && space == records.Transcriptome {
			r.transcriptome[rec.SampleID] = true
		}
	}

	params, err := r.prepareReferences(ctx)
	if err != nil {
		return nil, err
	}
	r.params = params
	level.Info(d.logger).Log("msg", "references prepared", "elapsed", time.Since(start))

	r.wire()
	eg, ctx := errgroup.WithContext(ctx)
	for _, stage := range d.graph.Stages() {
		if graph.KindOf(stage) == graph.KindReference {
			continue
		}
		stage := stage
		var in <-chan records.Record
		if stage != graph.JoinStrandedness && stage != graph.JoinBamStats {
			in = r.inputs(ctx, stage)
		}
		eg.Go(func() error {
			defer r.closeOutputs(stage)
			return errors.Wrapf(r.runStage(ctx, stage, in), "in stage %v", stage)
		})
	}
	eg.Go(func() error {
		defer r.closeEntries()
		return r.produce(ctx, inputs)
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	for sample := range samples {
		if r.failures.Failed(sample) {
			continue
		}
		if n := r.genomeCounts[sample]; n != 1 {
			r.fail(integrityf(sample, string(d.graph.GenomeAlignments()), "sample has %v genome alignments instead of exactly one", n))
		}
	}
	return &Summary{
		Samples:  len(samples),
		Records:  r.written,
		Lines:    r.lines,
		Failures: r.failures.Errors(),
		Elapsed:  time.Since(start),
	}, nil
}

func (r *run) fail(err *SampleError) {
	level.Error(r.logger).Log("msg", "sample failed", "sample", err.SampleID, "stage", err.Stage, "err", err.Err)
	r.metrics.StageFailures.WithLabelValues(err.Stage).Inc()
	r.failures.Add(err)
}

func (r *run) failf(stage graph.Stage, rec records.Record, err error) {
	r.fail(&SampleError{SampleID: rec.SampleID, Stage: string(stage), Err: err})
}

// prepareReferences runs the reference stages for every species, and
// returns the job parameters that point sample stages to the results
// for the primary species.
func (r *run) prepareReferences(ctx context.Context) (map[string]string, error) {
	primary := r.refs.Primary()
	params := make(map[string]string)
	if primary.HasIndex() {
		params[stages.ParamGenomeIndex] = primary.Index
		params[stages.ParamTranscriptomeIndex] = primary.Index
	}
	var mutex sync.Mutex
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(r.maxJobs)
	for _, species := range r.refs.All() {
		for stage, param := range map[graph.Stage]string{
			graph.GenomeIndex:        stages.ParamGenomeIndex,
			graph.TranscriptomeIndex: stages.ParamTranscriptomeIndex,
			graph.ChromSizes:         stages.ParamChromSizes,
		} {
			if !r.graph.Has(stage) {
				continue
			}
			species, stage, param := species, stage, param
			eg.Go(func() error {
				out, err := r.runner.Run(ctx, stages.Job{Stage: stage, Key: species.Key, Species: species})
				if err != nil {
					return errors.Wrapf(err, "while preparing %v for %v", stage, species.Key)
				}
				if len(out.Files) == 0 {
					return stages.Failf(stages.Job{Stage: stage, Key: species.Key}, "no output")
				}
				if species.Key == primary.Key {
					mutex.Lock()
					params[param] = out.Files[0]
					mutex.Unlock()
				}
				return nil
			})
		}
	}
	return params, eg.Wait()
}

// wire creates one channel per record-carrying edge of the graph, plus
// entry channels for the stages that receive input records.
func (r *run) wire() {
	r.entry = make(map[graph.Stage]chan records.Record)
	for _, stage := range []graph.Stage{graph.Fetch, graph.Mapping, graph.Bypass} {
		if r.graph.Has(stage) {
			r.entry[stage] = make(chan records.Record, channelBuffering)
		}
	}
	r.edges = make(map[graph.Edge]chan records.Record)
	for _, e := range r.graph.Edges() {
		if graph.KindOf(e.From) != graph.KindReference {
			r.edges[e] = make(chan records.Record, channelBuffering)
		}
	}
}

// inputs merges the entry and edge channels of stage into one.
func (r *run) inputs(ctx context.Context, stage graph.Stage) <-chan records.Record {
	var ins []chan records.Record
	if ch, ok := r.entry[stage]; ok {
		ins = append(ins, ch)
	}
	for _, from := range r.graph.Producers(stage) {
		if ch, ok := r.edges[graph.Edge{From: from, To: stage}]; ok {
			ins = append(ins, ch)
		}
	}
	if len(ins) == 1 {
		return ins[0]
	}
	out := make(chan records.Record, channelBuffering)
	var wg sync.WaitGroup
	wg.Add(len(ins))
	for _, in := range ins {
		go func(in chan records.Record) {
			defer wg.Done()
			for rec := range in {
				select {
				case out <- rec:
				case <-ctx.Done():
					for range in {
					}
					return
				}
			}
		}(in)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

func (r *run) closeOutputs(stage graph.Stage) {
	for _, to := range r.graph.Consumers(stage) {
		if ch, ok := r.edges[graph.Edge{From: stage, To: to}]; ok {
			close(ch)
		}
	}
}

func (r *run) closeEntries() {
	for _, ch := range r.entry {
		close(ch)
	}
}

func send(ctx context.Context, ch chan<- records.Record, rec records.Record) error {
	select {
	case ch <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// accepts reports whether stage is interested in rec. Producers only
// send records to interested consumers.
func accepts(stage graph.Stage, rec records.Record) bool {
	switch stage {
	case graph.Mapping:
		return rec.Type == records.Fastq
	case graph.Bypass:
		return rec.Type == records.Bam
	case graph.MergeGenome, graph.SortTranscriptome:
		if rec.Type != records.Bam {
			return false
		}
		space, err := rec.Space()
		if err != nil {
			return false
		}
		if stage == graph.MergeGenome {
			return space == records.Genome
		}
		return space == records.Transcriptome
	case graph.Contig:
		return rec.Type == records.BedGraph
	default:
		return true
	}
}

// emit distributes rec to the consumers of stage.
func (r *run) emit(ctx context.Context, stage graph.Stage, rec records.Record) error {
	r.metrics.StageRecords.WithLabelValues(string(stage)).Inc()
	if stage == r.graph.GenomeAlignments() {
		r.mutex.Lock()
		r.genomeCounts[rec.SampleID]++
		r.mutex.Unlock()
	}
	for _, to := range r.graph.Consumers(stage) {
		if !accepts(to, rec) {
			continue
		}
		if err := send(ctx, r.edges[graph.Edge{From: stage, To: to}], rec); err != nil {
			return err
		}
	}
	return nil
}

// produce routes the input records into the graph.
func (r *run) produce(ctx context.Context, inputs []records.Record) error {
	for _, rec := range inputs {
		route, reason := r.graph.Route(rec)
		var target graph.Stage
		switch {
		case route == graph.RouteDrop:
			r.failf("route", rec, errors.New(reason))
			continue
		case rec.Fetch && r.graph.Has(graph.Fetch):
			target = graph.Fetch
		case route == graph.RouteMapping:
			target = graph.Mapping
		default:
			target = graph.Bypass
		}
		if err := send(ctx, r.entry[target], rec); err != nil {
			return err
		}
	}
	return nil
}

// job runs stage for inputs, with the reference parameters of the
// run, and checks that it produced at least one file.
func (r *run) job(ctx context.Context, stage graph.Stage, key string, inputs []records.Record, extra map[string]string) (stages.Output, error) {
	params := make(map[string]string, len(r.params)+len(extra))
	for k, v := range r.params {
		params[k] = v
	}
	for k, v := range extra {
		params[k] = v
	}
	job := stages.Job{Stage: stage, Key: key, Inputs: inputs, Species: r.refs.Primary(), Params: params}
	out, err := r.runner.Run(ctx, job)
	if err != nil {
		return out, err
	}
	if len(out.Files) == 0 {
		return out, stages.Failf(job, "no output files")
	}
	return out, nil
}

func runKey(rec records.Record) string {
	return rec.SampleID + "/" + rec.RunID
}

// forEach runs f for every input record in a bounded worker pool and
// emits its results. Errors returned by f fail the sample of the
// record, unless ctx was cancelled.
func (r *run) forEach(ctx context.Context, stage graph.Stage, in <-chan records.Record, f func(context.Context, records.Record) ([]records.Record, error)) error {
	var eg errgroup.Group
	eg.SetLimit(r.maxJobs)
	for rec := range in {
		if r.failures.Failed(rec.SampleID) || ctx.Err() != nil {
			continue
		}
		rec := rec
		eg.Go(func() error {
			out, err := f(ctx, rec)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.failf(stage, rec, err)
				return nil
			}
			for _, o := range out {
				if err := r.emit(ctx, stage, o); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// collect drains in and returns the records of samples that have not
// failed.
func (r *run) collect(in <-chan records.Record) []records.Record {
	return r.alive(drain(in))
}

func drain(in <-chan records.Record) []records.Record {
	var recs []records.Record
	for rec := range in {
		recs = append(recs, rec)
	}
	return recs
}

// alive filters out the records of failed samples.
func (r *run) alive(recs []records.Record) []records.Record {
	kept := recs[:0]
	for _, rec := range recs {
		if !r.failures.Failed(rec.SampleID) {
			kept = append(kept, rec)
		}
	}
	return kept
}
