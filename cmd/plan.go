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
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/go-kit/log/level"
	"github.com/spf13/afero"

	"github.com/exascience/rnaflow/config"
	"github.com/exascience/rnaflow/graph"
	"github.com/exascience/rnaflow/index"
)

// PlanHelp is the help string for the plan command.
var PlanHelp = usage("plan", "[options]\n\nPrints the stage graph that run would execute, without running anything.\n")

// Plan implements the rnaflow plan command.
func Plan(args []string) error {
	var cfg config.Config
	if ok, err := parseConfig(&cfg, "plan", args, PlanHelp); !ok {
		return err
	}
	logger, err := newLogger(os.Stderr, &cfg)
	if err != nil {
		return err
	}
	fs := afero.NewOsFs()
	refs, err := cfg.References()
	if err != nil {
		return err
	}
	res, err := index.Resolve(fs, cfg.Index, cfg.FetchDirectory())
	if err != nil {
		return err
	}
	level.Info(logger).Log("msg", "index resolved", "samples", res.Stats.Samples, "runs", res.Stats.Runs, "needs-merge", res.Stats.NeedsMerge)
	plan, err := cfg.Plan(refs, res.NeedsFetch())
	if err != nil {
		return err
	}
	g, err := graph.Build(plan)
	if err != nil {
		return err
	}
	return printGraph(os.Stdout, g)
}

// printGraph lists the stages of g in topological order, with their
// kind, depth, and producers.
func printGraph(w io.Writer, g *graph.Graph) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tKIND\tDEPTH\tINPUTS")
	for _, stage := range g.TopologicalOrder() {
		depth, _ := g.Depth(stage)
		var inputs []string
		for _, producer := range g.Producers(stage) {
			inputs = append(inputs, string(producer))
		}
		if len(inputs) == 0 {
			inputs = []string{"-"}
		}
		fmt.Fprintf(tw, "%v\t%v\t%v\t%v\n", stage, graph.KindOf(stage), depth, strings.Join(inputs, ","))
	}
	return tw.Flush()
}
