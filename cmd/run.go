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

package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"golang.org/x/sys/unix"

	"github.com/exascience/rnaflow/config"
	"github.com/exascience/rnaflow/fetch"
	"github.com/exascience/rnaflow/flow"
	"github.com/exascience/rnaflow/graph"
	"github.com/exascience/rnaflow/index"
	"github.com/exascience/rnaflow/internal"
	"github.com/exascience/rnaflow/manifest"
	"github.com/exascience/rnaflow/records"
	"github.com/exascience/rnaflow/stages"
)

// RunHelp is the help string for the run command.
var RunHelp = usage("run", "[options]\n\nRuns the pipeline on the inputs listed in the index file and writes the manifest.\n")

// Run implements the rnaflow run command.
func Run(args []string) error {
	var cfg config.Config
	if ok, err := parseConfig(&cfg, "run", args, RunHelp); !ok {
		return err
	}
	logger, err := setLogOutput(&cfg)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	return timedRun(cfg.Timed, logger, "Running pipeline.", func() error {
		runner := stages.NewExecRunner(&cfg, logger)
		level.Info(logger).Log("msg", "starting run", "run-id", runner.RunID())
		if err := runner.CheckVersions(ctx); err != nil {
			return err
		}
		summary, err := execute(ctx, &cfg, afero.NewOsFs(), runner, logger)
		if err != nil {
			return err
		}
		for _, failure := range summary.Failures {
			level.Error(logger).Log("msg", "sample failed", "sample", failure.SampleID, "stage", failure.Stage, "err", failure.Err)
		}
		level.Info(logger).Log("msg", "run finished", "samples", summary.Samples, "manifest-lines", summary.Lines,
			"failures", len(summary.Failures), "elapsed", summary.Elapsed)
		return summary.Err()
	})
}

// execute resolves the inputs and references of cfg and drives them
// through the pipeline graph with runner.
func execute(ctx context.Context, cfg *config.Config, fs afero.Fs, runner stages.Runner, logger log.Logger) (*flow.Summary, error) {
	refs, err := cfg.References()
	if err != nil {
		return nil, err
	}
	if err := refs.CheckExist(fs); err != nil {
		return nil, err
	}
	res, err := index.Resolve(fs, cfg.Index, cfg.FetchDirectory())
	if err != nil {
		return nil, err
	}
	level.Info(logger).Log("msg", "index resolved", "samples", res.Stats.Samples, "runs", res.Stats.Runs, "needs-merge", res.Stats.NeedsMerge)
	plan, err := cfg.Plan(refs, res.NeedsFetch())
	if err != nil {
		return nil, err
	}
	g, err := graph.Build(plan)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	opts := []flow.Option{
		flow.WithLogger(logger),
		flow.WithMaxJobs(cfg.MaxJobs),
		flow.WithSpaceMarkers(cfg.GenomeMarkers, cfg.TranscriptomeMarkers),
		flow.WithMetrics(flow.NewMetrics(registry)),
	}
	if res.NeedsFetch() {
		fetcher, err := newFetcher(ctx, cfg, logger, res.Records)
		if err != nil {
			return nil, err
		}
		opts = append(opts, flow.WithFetcher(fetcher))
	}

	output, err := internal.FullPathname(cfg.Output)
	if err != nil {
		return nil, err
	}
	sink, err := manifest.Create(fs, output)
	if err != nil {
		return nil, err
	}
	level.Info(logger).Log("msg", "writing manifest", "path", output)
	summary, err := flow.NewDriver(g, runner, refs, sink, opts...).Run(ctx, res.Records)
	if nerr := sink.Close(); err == nil {
		err = nerr
	}
	if err != nil {
		return summary, err
	}
	if cfg.MetricsOutput != "" {
		if err := prometheus.WriteToTextfile(cfg.MetricsOutput, registry); err != nil {
			return summary, errors.Wrap(err, "while writing metrics")
		}
	}
	return summary, nil
}

// newFetcher returns a fetcher with getters for the schemes that occur
// in the sources of recs. Clients for remote stores are only created
// when some source needs them.
func newFetcher(ctx context.Context, cfg *config.Config, logger log.Logger, recs []records.Record) (*fetch.Fetcher, error) {
	schemes := make(map[string]bool)
	for _, rec := range recs {
		for _, source := range rec.Sources {
			schemes[internal.Scheme(source)] = true
		}
	}
	var opts []fetch.Option
	if schemes["http"] || schemes["https"] {
		getter, err := fetch.NewHedgedHTTPGetter(cfg.HTTPTimeout, cfg.HTTPHedge)
		if err != nil {
			return nil, err
		}
		opts = append(opts, fetch.WithGetter("http", getter), fetch.WithGetter("https", getter))
	}
	if schemes["s3"] {
		getter, err := fetch.NewS3Getter(cfg.S3Endpoint, !cfg.S3Insecure)
		if err != nil {
			return nil, err
		}
		opts = append(opts, fetch.WithGetter("s3", getter))
	}
	if schemes["gs"] {
		getter, err := fetch.NewGCSGetter(ctx, cfg.GCSAnonymous)
		if err != nil {
			return nil, err
		}
		opts = append(opts, fetch.WithGetter("gs", getter))
	}
	return fetch.New(log.With(logger, "component", "fetch"), opts...), nil
}
