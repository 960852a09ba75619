// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dag

import (
	"context"
	"fmt"
)

// Task performs the work of one step.
//
// The context carries the run's tracing span but is never cancelled by the
// HTTP request that started the run. Returning a non-nil error fails the step.
type Task func(ctx context.Context, in Inputs) (Output, error)

// Step declares one node of the pipeline.
type Step struct {
	// ID is the unique, stable identifier of the step.
	ID string

	// Name is the human-readable display name.
	Name string

	// DependsOn lists the ids of steps that must succeed before this one runs.
	DependsOn []string

	// Task is invoked when the step runs. Must not be nil.
	Task Task
}

// Output is what a Task hands back to the runner.
type Output struct {
	// Value is made available to later steps through Inputs.
	Value any

	// Records is the number of rows or documents written, when meaningful.
	Records *int64

	// Warnings are non-fatal findings surfaced on the step snapshot.
	Warnings []string

	// Summary is a one-line description surfaced on the step snapshot.
	Summary string
}

// RecordCount is a convenience for populating Output.Records.
func RecordCount(n int64) *int64 {
	return &n
}

// Inputs exposes the outputs of steps that already succeeded in the current
// execution.
type Inputs struct {
	values map[string]any
}

// NewInputs builds Inputs from a step id to value map. The map is copied.
func NewInputs(values map[string]any) Inputs {
	cp := make(map[string]any, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return Inputs{values: cp}
}

// Value returns the output value of stepID.
func (in Inputs) Value(stepID string) (any, bool) {
	v, ok := in.values[stepID]
	return v, ok
}

// InputAs returns the output value of stepID converted to T.
//
// Returns ErrMissingInput when the step has no output or the output has a
// different type.
func InputAs[T any](in Inputs, stepID string) (T, error) {
	var zero T
	v, ok := in.values[stepID]
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrMissingInput, stepID)
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s has type %T", ErrMissingInput, stepID, v)
	}
	return typed, nil
}

// Graph is a validated, immutable set of steps.
//
// Thread Safety:
//
//	Graph is read-only after NewGraph returns and safe for concurrent use.
type Graph struct {
	id         string
	name       string
	steps      []Step
	index      map[string]int
	order      []string
	dependents map[string][]string
}

// NewGraph validates steps and builds a Graph.
//
// Description:
//
//	Steps keep their declaration order, which is also the order snapshots
//	list them in. The execution order is computed from DependsOn; when
//	several steps are ready at once the earliest-declared one comes first.
//
// Inputs:
//
//	id - Stable identifier of the pipeline definition.
//	name - Display name.
//	steps - At least one step. Dependencies may reference steps declared later.
//
// Outputs:
//
//	*Graph - The validated graph.
//	error - ErrInvalidGraph, a *StepError wrapping ErrDuplicateStep or
//	        ErrUnknownDependency, or a *CycleError.
func NewGraph(id, name string, steps ...Step) (*Graph, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: no steps", ErrInvalidGraph)
	}

	g := &Graph{
		id:         id,
		name:       name,
		steps:      make([]Step, len(steps)),
		index:      make(map[string]int, len(steps)),
		dependents: make(map[string][]string, len(steps)),
	}

	for i, s := range steps {
		if s.ID == "" {
			return nil, fmt.Errorf("%w: step %d has no id", ErrInvalidGraph, i)
		}
		if s.Task == nil {
			return nil, &StepError{StepID: s.ID, Err: fmt.Errorf("%w: nil task", ErrInvalidGraph)}
		}
		if _, dup := g.index[s.ID]; dup {
			return nil, &StepError{StepID: s.ID, Err: ErrDuplicateStep}
		}
		deps := make([]string, len(s.DependsOn))
		copy(deps, s.DependsOn)
		s.DependsOn = deps
		g.steps[i] = s
		g.index[s.ID] = i
	}

	for _, s := range g.steps {
		for _, dep := range s.DependsOn {
			if _, ok := g.index[dep]; !ok {
				return nil, &StepError{StepID: s.ID, Err: fmt.Errorf("%w: %s", ErrUnknownDependency, dep)}
			}
			g.dependents[dep] = append(g.dependents[dep], s.ID)
		}
	}

	if err := g.detectCycles(); err != nil {
		return nil, err
	}
	g.order = g.topologicalOrder()

	return g, nil
}

// detectCycles walks DependsOn edges depth-first in declaration order.
func (g *Graph) detectCycles() error {
	visited := make(map[string]bool, len(g.steps))
	onStack := make(map[string]bool, len(g.steps))
	path := make([]string, 0, len(g.steps))

	var dfs func(id string) error
	dfs = func(id string) error {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		for _, dep := range g.steps[g.index[id]].DependsOn {
			if !visited[dep] {
				if err := dfs(dep); err != nil {
					return err
				}
				continue
			}
			if onStack[dep] {
				start := 0
				for i, n := range path {
					if n == dep {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, path[start:]...), dep)
				return NewCycleError(cycle)
			}
		}

		path = path[:len(path)-1]
		onStack[id] = false
		return nil
	}

	for _, s := range g.steps {
		if !visited[s.ID] {
			if err := dfs(s.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// topologicalOrder is Kahn's algorithm with declaration order as tie-break.
// The graph must already be known to be acyclic.
func (g *Graph) topologicalOrder() []string {
	indegree := make([]int, len(g.steps))
	for i, s := range g.steps {
		indegree[i] = len(s.DependsOn)
	}

	order := make([]string, 0, len(g.steps))
	placed := make([]bool, len(g.steps))
	for len(order) < len(g.steps) {
		for i, s := range g.steps {
			if placed[i] || indegree[i] > 0 {
				continue
			}
			placed[i] = true
			order = append(order, s.ID)
			for _, child := range g.dependents[s.ID] {
				indegree[g.index[child]]--
			}
			break
		}
	}
	return order
}

// ID returns the pipeline definition id.
func (g *Graph) ID() string { return g.id }

// Name returns the pipeline display name.
func (g *Graph) Name() string { return g.name }

// Len returns the number of steps.
func (g *Graph) Len() int { return len(g.steps) }

// Steps returns the steps in declaration order.
func (g *Graph) Steps() []Step {
	out := make([]Step, len(g.steps))
	copy(out, g.steps)
	return out
}

// Step returns the step with the given id.
func (g *Graph) Step(id string) (Step, bool) {
	i, ok := g.index[id]
	if !ok {
		return Step{}, false
	}
	return g.steps[i], true
}

// Order returns the execution order.
func (g *Graph) Order() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Descendants returns every step that transitively depends on id, in
// execution order.
func (g *Graph) Descendants(id string) []string {
	seen := make(map[string]bool)
	queue := append([]string{}, g.dependents[id]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		queue = append(queue, g.dependents[next]...)
	}

	out := make([]string, 0, len(seen))
	for _, s := range g.order {
		if seen[s] {
			out = append(out, s)
		}
	}
	return out
}
