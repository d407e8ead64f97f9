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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the prometheus collectors of a Driver.
type Metrics struct {
	StageRecords  *prometheus.CounterVec
	StageFailures *prometheus.CounterVec
	MergeGroups   *prometheus.CounterVec
	ManifestLines prometheus.Counter
}

// NewMetrics creates the driver collectors and registers them with
// reg, unless reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StageRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rnaflow",
			Name:      "stage_records_total",
			Help:      "Records emitted per stage.",
		}, []string{"stage"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rnaflow",
			Name:      "stage_failures_total",
			Help:      "Per-sample failures per stage.",
		}, []string{"stage"}),
		MergeGroups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rnaflow",
			Name:      "merge_groups_total",
			Help:      "Merge groups by coordinate space and merge kind.",
		}, []string{"space", "kind"}),
		ManifestLines: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rnaflow",
			Name:      "manifest_lines_total",
			Help:      "Lines appended to the manifest.",
		}),
	}
}
