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

package graph

import (
	"container/heap"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrGraph is returned for stage graphs that are not valid DAGs.
var ErrGraph = errors.New("invalid stage graph")

// An Edge states that records produced by From are consumed by To.
type Edge struct {
	From, To Stage
}

func (e Edge) String() string {
	return fmt.Sprintf("%v -> %v", e.From, e.To)
}

type edgeIndex struct {
	from, to int
}

// Graph is an immutable, validated DAG of stages. Stages keep the
// order in which they were declared, which is also the tie-breaker
// for topological ordering.
//
// It is safe for concurrent read access.
type Graph struct {
	plan   Plan
	stages []Stage
	index  map[Stage]int

	edges    []edgeIndex
	outgoing [][]int
	incoming [][]int
	indeg    []int
	depth    []int
}

// newGraph validates stages and edges. It rejects duplicate or unknown
// stages, duplicate edges, self loops, and cycles.
func newGraph(stages []Stage, edges []Edge) (*Graph, error) {
	if len(stages) == 0 {
		return nil, errors.Wrap(ErrGraph, "no stages")
	}
	g := &Graph{
		stages: append([]Stage(nil), stages...),
		index:  make(map[Stage]int, len(stages)),
	}
	for i, s := range stages {
		if _, ok := stageKinds[s]; !ok {
			return nil, errors.Wrapf(ErrGraph, "unknown stage %q", s)
		}
		if _, ok := g.index[s]; ok {
			return nil, errors.Wrapf(ErrGraph, "duplicate stage %q", s)
		}
		g.index[s] = i
	}
	seen := make(map[edgeIndex]bool, len(edges))
	for _, e := range edges {
		from, okFrom := g.index[e.From]
		to, okTo := g.index[e.To]
		switch {
		case !okFrom:
			return nil, errors.Wrapf(ErrGraph, "edge %v references unknown stage %q", e, e.From)
		case !okTo:
			return nil, errors.Wrapf(ErrGraph, "edge %v references unknown stage %q", e, e.To)
		case from == to:
			return nil, errors.Wrapf(ErrGraph, "self loop %v", e)
		}
		pair := edgeIndex{from, to}
		if seen[pair] {
			return nil, errors.Wrapf(ErrGraph, "duplicate edge %v", e)
		}
		seen[pair] = true
		g.edges = append(g.edges, pair)
	}
	g.outgoing = make([][]int, len(stages))
	g.incoming = make([][]int, len(stages))
	g.indeg = make([]int, len(stages))
	for _, e := range g.edges {
		g.outgoing[e.from] = append(g.outgoing[e.from], e.to)
		g.incoming[e.to] = append(g.incoming[e.to], e.from)
		g.indeg[e.to]++
	}
	for i := range stages {
		sort.Ints(g.outgoing[i])
		sort.Ints(g.incoming[i])
	}
	order := g.topoOrder()
	if len(order) != len(stages) {
		return nil, errors.Wrapf(ErrGraph, "cycle through %v", g.cycleMembers(order))
	}
	g.depth = make([]int, len(stages))
	for _, u := range order {
		for _, p := range g.incoming[u] {
			if d := g.depth[p] + 1; d > g.depth[u] {
				g.depth[u] = d
			}
		}
	}
	return g, nil
}

type intMinHeap []int

func (h intMinHeap) Len() int            { return len(h) }
func (h intMinHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x interface{}) { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() interface{} {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

// topoOrder is Kahn's algorithm with a min-heap of stage indices as
// ready queue. It returns fewer indices than stages if there is a
// cycle.
func (g *Graph) topoOrder() []int {
	indeg := append([]int(nil), g.indeg...)
	ready := &intMinHeap{}
	for i, d := range indeg {
		if d == 0 {
			heap.Push(ready, i)
		}
	}
	order := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		order = append(order, n)
		for _, m := range g.outgoing[n] {
			if indeg[m]--; indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return order
}

func (g *Graph) cycleMembers(order []int) string {
	done := make([]bool, len(g.stages))
	for _, i := range order {
		done[i] = true
	}
	var names []string
	for i, s := range g.stages {
		if !done[i] {
			names = append(names, string(s))
		}
	}
	return strings.Join(names, ", ")
}

// Has reports whether stage is part of the graph.
func (g *Graph) Has(stage Stage) bool {
	_, ok := g.index[stage]
	return ok
}

// Stages returns the stages in declaration order.
func (g *Graph) Stages() []Stage {
	return append([]Stage(nil), g.stages...)
}

// Edges returns all edges ordered by producer, then consumer.
func (g *Graph) Edges() []Edge {
	var edges []Edge
	for from, tos := range g.outgoing {
		for _, to := range tos {
			edges = append(edges, Edge{g.stages[from], g.stages[to]})
		}
	}
	return edges
}

// Consumers returns the stages that consume the records of stage.
func (g *Graph) Consumers(stage Stage) []Stage {
	i, ok := g.index[stage]
	if !ok {
		return nil
	}
	out := make([]Stage, len(g.outgoing[i]))
	for j, k := range g.outgoing[i] {
		out[j] = g.stages[k]
	}
	return out
}

// Producers returns the stages whose records stage consumes.
func (g *Graph) Producers(stage Stage) []Stage {
	i, ok := g.index[stage]
	if !ok {
		return nil
	}
	out := make([]Stage, len(g.incoming[i]))
	for j, k := range g.incoming[i] {
		out[j] = g.stages[k]
	}
	return out
}

// TopologicalOrder returns the stages such that every producer comes
// before its consumers.
func (g *Graph) TopologicalOrder() []Stage {
	order := g.topoOrder()
	out := make([]Stage, len(order))
	for i, j := range order {
		out[i] = g.stages[j]
	}
	return out
}

// Depth returns the length of the longest path from any source stage
// to stage.
func (g *Graph) Depth(stage Stage) (int, bool) {
	i, ok := g.index[stage]
	if !ok {
		return 0, false
	}
	return g.depth[i], true
}

// Plan returns the plan g was built from.
func (g *Graph) Plan() Plan { return g.plan }
