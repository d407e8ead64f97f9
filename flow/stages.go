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
	"sort"
	"sync"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/exascience/rnaflow/graph"
	"github.com/exascience/rnaflow/manifest"
	"github.com/exascience/rnaflow/records"
	"github.com/exascience/rnaflow/stages"
)

func (r *run) runStage(ctx context.Context, stage graph.Stage, in <-chan records.Record) error {
	switch stage {
	case graph.Fetch:
		return r.forEach(ctx, stage, in, r.fetch)
	case graph.Mapping:
		return r.mapping(ctx, in)
	case graph.Bypass:
		return r.forEach(ctx, stage, in, func(_ context.Context, rec records.Record) ([]records.Record, error) {
			return []records.Record{rec}, nil
		})
	case graph.SplitSpace:
		return r.forEach(ctx, stage, in, func(_ context.Context, rec records.Record) ([]records.Record, error) {
			return r.space.Split(rec)
		})
	case graph.SortTranscriptome:
		return r.groups(ctx, stage, in, r.sortGroup)
	case graph.MergeGenome, graph.MergeTranscriptome:
		return r.groups(ctx, stage, in, r.mergeGroup)
	case graph.MarkDuplicates:
		return r.forEach(ctx, stage, in, r.replacePayload(stage))
	case graph.InferExperiment:
		return r.forEach(ctx, stage, in, r.inferExperiment)
	case graph.BamStats:
		return r.forEach(ctx, stage, in, r.bamStats)
	case graph.JoinStrandedness:
		return r.join(ctx, stage, Joiner{Attach: AttachStrandedness})
	case graph.JoinBamStats:
		return r.join(ctx, stage, Joiner{PrimaryKey: IgnoreType, SecondaryKey: IgnoreType, Attach: AttachStrandedness})
	case graph.Coverage:
		return r.forEach(ctx, stage, in, r.coverage)
	case graph.SplitStrand:
		return r.forEach(ctx, stage, in, func(_ context.Context, rec records.Record) ([]records.Record, error) {
			return SplitCoverage(rec)
		})
	case graph.Contig:
		return r.contig(ctx, in)
	case graph.Quantification:
		return r.forEach(ctx, stage, in, r.quantification)
	case graph.Manifest:
		return r.manifest(ctx, in)
	default:
		return errors.Errorf("no implementation for stage %v", stage)
	}
}

func (r *run) fetch(ctx context.Context, rec records.Record) ([]records.Record, error) {
	if r.fetcher == nil {
		return nil, errors.New("no fetcher configured")
	}
	source, err := r.fetcher.Fetch(ctx, rec.Sources, rec.Payload[0])
	if err != nil {
		return nil, err
	}
	level.Debug(r.logger).Log("msg", "input fetched", "sample", rec.SampleID, "run", rec.RunID, "source", source)
	fetched := rec.Clone()
	fetched.Fetch = false
	fetched.Sources = nil
	return []records.Record{fetched}, nil
}

// mapping collates the read files of each run and maps a run as soon
// as all its read files have arrived.
func (r *run) mapping(ctx context.Context, in <-chan records.Record) error {
	var eg errgroup.Group
	eg.SetLimit(r.maxJobs)
	pending := make(map[records.RunKey][]records.Record)
	for rec := range in {
		if r.failures.Failed(rec.SampleID) || ctx.Err() != nil {
			continue
		}
		key := rec.RunKey()
		reads := append(pending[key], rec)
		expected := 1
		if rec.PairedEnd {
			expected = 2
		}
		if len(reads) < expected {
			pending[key] = reads
			continue
		}
		delete(pending, key)
		sort.Slice(reads, func(i, j int) bool { return reads[i].View < reads[j].View })
		eg.Go(func() error {
			first := reads[0]
			out, err := r.job(ctx, graph.Mapping, runKey(first), reads, nil)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.failf(graph.Mapping, first, err)
				return nil
			}
			aligned := records.Record{
				RunID:     first.RunID,
				SampleID:  first.SampleID,
				Type:      records.Bam,
				View:      ViewAlignments,
				PairedEnd: first.PairedEnd,
			}
			return r.emit(ctx, graph.Mapping, aligned.With(out.Files...))
		})
	}
	for key, reads := range pending {
		if ctx.Err() != nil {
			break
		}
		r.failf(graph.Mapping, reads[0], errors.Wrapf(ErrIntegrity, "run %v has %v of 2 read files", key.RunID, len(reads)))
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

type stageMerger struct {
	*run
	stage graph.Stage
}

func (m stageMerger) Sort(ctx context.Context, rec records.Record) (records.Record, error) {
	out, err := m.job(ctx, m.stage, runKey(rec), []records.Record{rec}, nil)
	if err != nil {
		return records.Record{}, err
	}
	return rec.With(out.Files...), nil
}

func (m stageMerger) Merge(ctx context.Context, space records.Space, key records.GroupKey, members []records.Record) ([]string, error) {
	runs := make([]string, len(members))
	for i, rec := range members {
		runs[i] = rec.RunID
	}
	out, err := m.job(ctx, m.stage, key.SampleID+"/"+records.MergedRunID(runs), members,
		map[string]string{stages.ParamSpace: string(space)})
	if err != nil {
		return nil, err
	}
	return out.Files, nil
}

// groups is the barrier shared by the sort and merge stages: it waits
// for all inputs, groups them, and hands every group to f.
func (r *run) groups(ctx context.Context, stage graph.Stage, in <-chan records.Record, f func(context.Context, graph.Stage, Group) ([]records.Record, error)) error {
	grouper := NewGrouper(string(stage))
	for _, rec := range r.collect(in) {
		grouper.Add(rec)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	groups, conflicts := grouper.Groups()
	for _, err := range conflicts {
		r.fail(err)
	}
	var eg errgroup.Group
	eg.SetLimit(r.maxJobs)
	for _, grp := range groups {
		grp := grp
		eg.Go(func() error {
			out, err := f(ctx, stage, grp)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.fail(&SampleError{SampleID: grp.Key.SampleID, Stage: string(stage), Err: err})
				return nil
			}
			for _, rec := range out {
				if err := r.emit(ctx, stage, rec); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return eg.Wait()
}

func (r *run) sortGroup(ctx context.Context, stage graph.Stage, grp Group) ([]records.Record, error) {
	sorted, err := SortMembers(ctx, grp, stageMerger{r, stage})
	return sorted.Members, err
}

func (r *run) mergeGroup(ctx context.Context, stage graph.Stage, grp Group) ([]records.Record, error) {
	merged, kind, err := MergeGroup(ctx, grp, stageMerger{r, stage})
	if err != nil {
		return nil, err
	}
	space, _ := merged.Space()
	r.metrics.MergeGroups.WithLabelValues(string(space), string(kind)).Inc()
	level.Debug(r.logger).Log("msg", "group reduced", "group", grp.Key, "kind", kind, "run", merged.RunID)
	return []records.Record{merged}, nil
}

// replacePayload returns a stage function that keeps the record and
// replaces its payload by the job output.
func (r *run) replacePayload(stage graph.Stage) func(context.Context, records.Record) ([]records.Record, error) {
	return func(ctx context.Context, rec records.Record) ([]records.Record, error) {
		out, err := r.job(ctx, stage, runKey(rec), []records.Record{rec}, nil)
		if err != nil {
			return nil, err
		}
		return []records.Record{rec.With(out.Files...)}, nil
	}
}

func (r *run) inferExperiment(ctx context.Context, rec records.Record) ([]records.Record, error) {
	out, err := r.job(ctx, graph.InferExperiment, runKey(rec), []records.Record{rec}, nil)
	if err != nil {
		return nil, err
	}
	info, err := records.ParseSideInfo(out.Meta)
	if err != nil {
		return nil, stages.Fail(err)
	}
	if info.IsPairedEnd() != rec.PairedEnd {
		level.Warn(r.logger).Log("msg", "inferred paired-end status differs from input classification",
			"sample", rec.SampleID, "run", rec.RunID, "inferred", info.IsPairedEnd(), "classified", rec.PairedEnd)
	}
	level.Info(r.logger).Log("msg", "strandedness inferred", "sample", rec.SampleID, "run", rec.RunID, "mode", info.ExpressionMode)
	return []records.Record{info.Attach(rec)}, nil
}

func (r *run) bamStats(ctx context.Context, rec records.Record) ([]records.Record, error) {
	out, err := r.job(ctx, graph.BamStats, runKey(rec), []records.Record{rec}, nil)
	if err != nil {
		return nil, err
	}
	stats := rec.With(out.Files...)
	stats.Type = records.JSON
	stats.View = rec.View + ViewStats
	return []records.Record{stats}, nil
}

// join is the barrier of the cross-join stages. The output of strand
// inference is the primary side, the other producer of stage is the
// secondary side. Both sides are drained concurrently.
func (r *run) join(ctx context.Context, stage graph.Stage, j Joiner) error {
	from := graph.MergeTranscriptome
	if stage == graph.JoinBamStats {
		from = graph.BamStats
	}
	var primary, secondary []records.Record
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		primary = drain(r.edges[graph.Edge{From: graph.InferExperiment, To: stage}])
	}()
	go func() {
		defer wg.Done()
		secondary = drain(r.edges[graph.Edge{From: from, To: stage}])
	}()
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	primary, secondary = r.alive(primary), r.alive(secondary)
	if stage == graph.JoinStrandedness {
		kept := primary[:0]
		for _, rec := range primary {
			if r.transcriptome[rec.SampleID] {
				kept = append(kept, rec)
			}
		}
		primary = kept
	}
	joined, errs := j.Join(primary, secondary)
	for _, err := range errs {
		r.fail(&SampleError{SampleID: err.SampleID, Stage: string(stage), Err: err})
	}
	for _, rec := range joined {
		if r.failures.Failed(rec.SampleID) {
			continue
		}
		if err := r.emit(ctx, stage, rec); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) coverage(ctx context.Context, rec records.Record) ([]records.Record, error) {
	out, err := r.job(ctx, graph.Coverage, runKey(rec), []records.Record{rec}, nil)
	if err != nil {
		return nil, err
	}
	signal := rec.With(out.Files...)
	signal.Type = records.BigWig
	signal.View = ViewSignal
	return []records.Record{signal}, nil
}

// contig waits for all coverage tracks, and calls contigs once per
// sample on the bedGraph tracks of all its strands.
func (r *run) contig(ctx context.Context, in <-chan records.Record) error {
	bySample := make(map[string][]records.Record)
	var samples []string
	for _, rec := range r.collect(in) {
		if _, ok := bySample[rec.SampleID]; !ok {
			samples = append(samples, rec.SampleID)
		}
		bySample[rec.SampleID] = append(bySample[rec.SampleID], rec)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var eg errgroup.Group
	eg.SetLimit(r.maxJobs)
	for _, sample := range samples {
		tracks := bySample[sample]
		sort.Slice(tracks, func(i, j int) bool { return tracks[i].View < tracks[j].View })
		eg.Go(func() error {
			first := tracks[0]
			out, err := r.job(ctx, graph.Contig, runKey(first), tracks, nil)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.failf(graph.Contig, first, err)
				return nil
			}
			contigs := records.Record{
				RunID:      first.RunID,
				SampleID:   first.SampleID,
				Type:       records.Bed,
				View:       ViewContigs,
				PairedEnd:  first.PairedEnd,
				Expression: first.Expression,
				ReadStrand: first.Expression.Strand(),
			}
			return r.emit(ctx, graph.Contig, contigs.With(out.Files...))
		})
	}
	return eg.Wait()
}

func (r *run) quantification(ctx context.Context, rec records.Record) ([]records.Record, error) {
	space, err := rec.Space()
	if err != nil {
		return nil, err
	}
	out, err := r.job(ctx, graph.Quantification, runKey(rec), []records.Record{rec},
		map[string]string{stages.ParamSpace: string(space)})
	if err != nil {
		return nil, err
	}
	quant := rec.With(out.Files...)
	quant.Type = records.Tsv
	quant.View = string(space) + ViewQuantity
	return []records.Record{quant}, nil
}

// manifest writes every terminal record of samples that have not
// failed. Duplicate artifacts fail their sample; any other write error
// is fatal.
func (r *run) manifest(ctx context.Context, in <-chan records.Record) error {
	for rec := range in {
		if r.failures.Failed(rec.SampleID) || ctx.Err() != nil {
			continue
		}
		n, err := r.sink.Write(rec)
		if errors.Is(err, manifest.ErrDuplicate) {
			r.fail(&SampleError{SampleID: rec.SampleID, Stage: string(graph.Manifest), Err: errors.Wrap(ErrIntegrity, err.Error())})
			continue
		} else if err != nil {
			return err
		}
		r.metrics.ManifestLines.Add(float64(n))
		r.mutex.Lock()
		r.written[rec.Type]++
		r.lines += n
		r.mutex.Unlock()
	}
	return ctx.Err()
}
