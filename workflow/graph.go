//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package workflow

import (
	"fmt"
	"sort"
)

// Graph is a validated definition laid out in slices. Nodes and edges are
// referenced by their position in the definition.
type Graph struct {
	def     *Definition
	index   map[string]int
	edgeSrc []int
	edgeDst []int
	in      [][]int // incoming edges, loop back-edges excluded
	out     [][]int // outgoing edges, loop back-edges excluded
	back    [][]int // loop back-edges keyed by the loop node they close
	bodies  map[int][]int
	owner   []int
}

// Compile validates def and returns its indexed graph. The graph holds its own
// copy of the definition.
func Compile(def *Definition) (*Graph, error) {
	g, errs := validate(def.Clone())
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return g, nil
}

func newGraph(def *Definition, index map[string]int) *Graph {
	n := len(def.Nodes)
	g := &Graph{
		def:     def,
		index:   index,
		edgeSrc: make([]int, len(def.Edges)),
		edgeDst: make([]int, len(def.Edges)),
		in:      make([][]int, n),
		out:     make([][]int, n),
		back:    make([][]int, n),
		bodies:  make(map[int][]int),
		owner:   make([]int, n),
	}
	for i := range g.owner {
		g.owner[i] = -1
	}
	for i, e := range def.Edges {
		src, dst := index[e.Source], index[e.Target]
		g.edgeSrc[i], g.edgeDst[i] = src, dst
		if e.LoopBack {
			g.back[dst] = append(g.back[dst], i)
			continue
		}
		g.out[src] = append(g.out[src], i)
		g.in[dst] = append(g.in[dst], i)
	}
	return g
}

// Definition returns the compiled definition. Callers must not modify it.
func (g *Graph) Definition() *Definition { return g.def }

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.def.Nodes) }

// Node returns the node at position i.
func (g *Graph) Node(i int) *Node { return &g.def.Nodes[i] }

// Index returns the position of the node with the given id.
func (g *Graph) Index(id string) (int, bool) {
	i, ok := g.index[id]
	return i, ok
}

// Edge returns the edge at position e.
func (g *Graph) Edge(e int) *Edge { return &g.def.Edges[e] }

// Source returns the node position of the edge source.
func (g *Graph) Source(e int) int { return g.edgeSrc[e] }

// Target returns the node position of the edge target.
func (g *Graph) Target(e int) int { return g.edgeDst[e] }

// Incoming returns the incoming forward edges of node i in definition order.
func (g *Graph) Incoming(i int) []int { return g.in[i] }

// Outgoing returns the outgoing forward edges of node i in definition order.
func (g *Graph) Outgoing(i int) []int { return g.out[i] }

// BackEdges returns the loop back-edges closing loop node i.
func (g *Graph) BackEdges(i int) []int { return g.back[i] }

// Body returns the nodes of the loop body of loop node i, nested bodies
// included, in definition order.
func (g *Graph) Body(i int) []int { return g.bodies[i] }

// Owner returns the innermost loop node whose body contains node i, or -1.
func (g *Graph) Owner(i int) int { return g.owner[i] }

// checkLoops computes loop bodies and verifies that each body is entered and
// left only through its loop node.
func (g *Graph) checkLoops() []error {
	var errs []error
	for e, edge := range g.def.Edges {
		if !edge.LoopBack {
			continue
		}
		dst := g.edgeDst[e]
		if t := g.def.Nodes[dst].Type; t != NodeTypeLoop {
			errs = append(errs, &InvalidLoopEdgeError{
				EdgeID: edgeLabel(e, edge),
				Reason: fmt.Sprintf("loopBack edge must target a loop node, %s is %q", edge.Target, t),
			})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	var loops []int
	for i, n := range g.def.Nodes {
		if n.Type != NodeTypeLoop {
			continue
		}
		body, loopErrs := g.loopBody(i)
		errs = append(errs, loopErrs...)
		if len(body) > 0 {
			g.bodies[i] = body
			loops = append(loops, i)
		}
	}
	if len(errs) > 0 {
		return errs
	}
	if err := g.checkNesting(loops); err != nil {
		return []error{err}
	}
	// Outer loops first so inner loops overwrite ownership of their members.
	sort.SliceStable(loops, func(a, b int) bool {
		return len(g.bodies[loops[a]]) > len(g.bodies[loops[b]])
	})
	for _, l := range loops {
		for _, m := range g.bodies[l] {
			g.owner[m] = l
		}
	}
	return nil
}

func (g *Graph) loopBody(l int) ([]int, []error) {
	id := g.def.Nodes[l].ID
	var (
		errs    []error
		entries []int
	)
	for _, e := range g.out[l] {
		if g.def.Edges[e].IsBodyHandle() {
			entries = append(entries, g.edgeDst[e])
		}
	}
	switch {
	case len(entries) == 0 && len(g.back[l]) == 0:
		return nil, nil
	case len(entries) == 0:
		return nil, []error{&InvalidLoopEdgeError{NodeID: id, Reason: "has a loopBack edge but no body edge"}}
	}

	inBody := make([]bool, len(g.def.Nodes))
	queue := append([]int(nil), entries...)
	for _, n := range entries {
		inBody[n] = true
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, e := range g.out[n] {
			dst := g.edgeDst[e]
			if dst == l {
				errs = append(errs, &InvalidLoopEdgeError{
					EdgeID: edgeLabel(e, g.def.Edges[e]),
					Reason: fmt.Sprintf("edge returning to loop %s must be tagged loopBack", id),
				})
				continue
			}
			if !inBody[dst] {
				inBody[dst] = true
				queue = append(queue, dst)
			}
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}
	if len(g.back[l]) == 0 {
		return nil, []error{&InvalidLoopEdgeError{NodeID: id, Reason: "body is not closed by a loopBack edge"}}
	}
	var body []int
	for n, ok := range inBody {
		if !ok {
			continue
		}
		body = append(body, n)
		for _, e := range g.in[n] {
			src := g.edgeSrc[e]
			switch {
			case src == l && !g.def.Edges[e].IsBodyHandle():
				errs = append(errs, &InvalidLoopEdgeError{
					EdgeID: edgeLabel(e, g.def.Edges[e]),
					Reason: fmt.Sprintf("exit edge of loop %s targets body node %s", id, g.def.Nodes[n].ID),
				})
			case src != l && !inBody[src]:
				errs = append(errs, &InvalidLoopEdgeError{
					EdgeID: edgeLabel(e, g.def.Edges[e]),
					Reason: fmt.Sprintf("enters the body of loop %s from outside", id),
				})
			}
		}
	}
	for _, e := range g.back[l] {
		if !inBody[g.edgeSrc[e]] {
			errs = append(errs, &InvalidLoopEdgeError{
				EdgeID: edgeLabel(e, g.def.Edges[e]),
				Reason: fmt.Sprintf("loopBack source %s is not inside the body of loop %s", g.def.Edges[e].Source, id),
			})
		}
	}
	return body, errs
}

// checkNesting requires loop bodies to be disjoint or strictly nested.
func (g *Graph) checkNesting(loops []int) error {
	member := make(map[int]map[int]bool, len(loops))
	for _, l := range loops {
		set := make(map[int]bool, len(g.bodies[l]))
		for _, n := range g.bodies[l] {
			set[n] = true
		}
		member[l] = set
	}
	for i, a := range loops {
		for _, b := range loops[i+1:] {
			overlap := false
			for n := range member[a] {
				if member[b][n] {
					overlap = true
					break
				}
			}
			if !overlap {
				continue
			}
			if member[a][b] && subset(member[b], member[a]) || member[b][a] && subset(member[a], member[b]) {
				continue
			}
			return &InvalidLoopEdgeError{
				NodeID: g.def.Nodes[a].ID,
				Reason: fmt.Sprintf("body overlaps the body of loop %s", g.def.Nodes[b].ID),
			}
		}
	}
	return nil
}

func subset(a, b map[int]bool) bool {
	for n := range a {
		if !b[n] {
			return false
		}
	}
	return true
}

const (
	unvisited = iota
	visiting
	visited
)

// detectCycle runs a depth first search over forward edges.
func (g *Graph) detectCycle() error {
	state := make([]int, len(g.def.Nodes))
	var stack []int
	var visit func(n int) []int
	visit = func(n int) []int {
		state[n] = visiting
		stack = append(stack, n)
		for _, e := range g.out[n] {
			dst := g.edgeDst[e]
			switch state[dst] {
			case visiting:
				for i, s := range stack {
					if s == dst {
						return append(append([]int(nil), stack[i:]...), dst)
					}
				}
			case unvisited:
				if cycle := visit(dst); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[n] = visited
		return nil
	}
	for n := range g.def.Nodes {
		if state[n] != unvisited {
			continue
		}
		if cycle := visit(n); cycle != nil {
			path := make([]string, len(cycle))
			for i, c := range cycle {
				path[i] = g.def.Nodes[c].ID
			}
			return &CycleDetectedError{Path: path}
		}
	}
	return nil
}

func edgeLabel(i int, e Edge) string {
	if e.ID != "" {
		return e.ID
	}
	return fmt.Sprintf("#%d(%s->%s)", i, e.Source, e.Target)
}
