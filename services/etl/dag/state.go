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
	"fmt"
	"time"
)

// StepStatus is the lifecycle state of one step. Values are the wire format.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "success"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// RunStatus is the overall state of a pipeline run. Values are the wire format.
type RunStatus string

const (
	RunIdle      RunStatus = "idle"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

var allowedTransitions = map[StepStatus][]StepStatus{
	StepPending: {StepRunning, StepSkipped},
	StepRunning: {StepSucceeded, StepFailed},
}

// CanTransitionTo reports whether s may change to next.
func (s StepStatus) CanTransitionTo(next StepStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s StepStatus) IsTerminal() bool {
	return len(allowedTransitions[s]) == 0
}

// StepSnapshot is a point-in-time copy of one step.
type StepSnapshot struct {
	ID           string     `json:"id" yaml:"id"`
	Name         string     `json:"name" yaml:"name"`
	Status       StepStatus `json:"status" yaml:"status"`
	Dependencies []string   `json:"dependencies" yaml:"dependencies"`
	StartTime    *time.Time `json:"startTime,omitempty" yaml:"startTime,omitempty"`
	EndTime      *time.Time `json:"endTime,omitempty" yaml:"endTime,omitempty"`
	Error        string     `json:"error,omitempty" yaml:"error,omitempty"`
	Records      *int64     `json:"records,omitempty" yaml:"records,omitempty"`
	Warnings     []string   `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Summary      string     `json:"summary,omitempty" yaml:"summary,omitempty"`
}

// Snapshot is a point-in-time copy of a pipeline run. It shares no memory
// with the runner.
type Snapshot struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	ExecutionID string         `json:"executionId,omitempty" yaml:"executionId,omitempty"`
	Status      RunStatus      `json:"status" yaml:"status"`
	StartTime   *time.Time     `json:"startTime,omitempty" yaml:"startTime,omitempty"`
	EndTime     *time.Time     `json:"endTime,omitempty" yaml:"endTime,omitempty"`
	CurrentNode string         `json:"currentNode,omitempty" yaml:"currentNode,omitempty"`
	Error       string         `json:"error,omitempty" yaml:"error,omitempty"`
	Nodes       []StepSnapshot `json:"nodes" yaml:"nodes"`
}

// Node returns the snapshot of the step with the given id.
func (s Snapshot) Node(id string) (StepSnapshot, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return StepSnapshot{}, false
}

// CountByStatus returns how many steps are in the given status.
func (s Snapshot) CountByStatus(status StepStatus) int {
	n := 0
	for _, node := range s.Nodes {
		if node.Status == status {
			n++
		}
	}
	return n
}

// stepState is the mutable state of one step. Guarded by Runner.mu.
type stepState struct {
	id         string
	name       string
	dependsOn  []string
	status     StepStatus
	startedAt  *time.Time
	finishedAt *time.Time
	errMsg     string
	records    *int64
	warnings   []string
	summary    string
}

func (s *stepState) transition(next StepStatus) error {
	if !s.status.CanTransitionTo(next) {
		return &StepError{
			StepID: s.id,
			Err:    fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.status, next),
		}
	}
	s.status = next
	return nil
}

// runState is the single PipelineRun owned by a Runner. Guarded by Runner.mu.
type runState struct {
	id          string
	name        string
	executionID string
	status      RunStatus
	startedAt   *time.Time
	finishedAt  *time.Time
	currentNode string
	errMsg      string
	steps       []*stepState
	byID        map[string]*stepState
}

// newRunState returns an Idle run with every step Pending.
func newRunState(g *Graph) *runState {
	r := &runState{
		id:     g.ID(),
		name:   g.Name(),
		status: RunIdle,
		steps:  make([]*stepState, 0, g.Len()),
		byID:   make(map[string]*stepState, g.Len()),
	}
	for _, s := range g.Steps() {
		st := &stepState{
			id:        s.ID,
			name:      s.Name,
			dependsOn: s.DependsOn,
			status:    StepPending,
		}
		r.steps = append(r.steps, st)
		r.byID[s.ID] = st
	}
	return r
}

// dependenciesSucceeded reports whether every dependency of s succeeded.
func (r *runState) dependenciesSucceeded(s *stepState) bool {
	for _, dep := range s.dependsOn {
		if r.byID[dep].status != StepSucceeded {
			return false
		}
	}
	return true
}

func (r *runState) countStatus(status StepStatus) int {
	n := 0
	for _, s := range r.steps {
		if s.status == status {
			n++
		}
	}
	return n
}

func (r *runState) snapshot() Snapshot {
	snap := Snapshot{
		ID:          r.id,
		Name:        r.name,
		ExecutionID: r.executionID,
		Status:      r.status,
		StartTime:   copyTime(r.startedAt),
		EndTime:     copyTime(r.finishedAt),
		CurrentNode: r.currentNode,
		Error:       r.errMsg,
		Nodes:       make([]StepSnapshot, len(r.steps)),
	}
	for i, s := range r.steps {
		deps := make([]string, len(s.dependsOn))
		copy(deps, s.dependsOn)

		var warnings []string
		if len(s.warnings) > 0 {
			warnings = make([]string, len(s.warnings))
			copy(warnings, s.warnings)
		}

		var records *int64
		if s.records != nil {
			n := *s.records
			records = &n
		}

		snap.Nodes[i] = StepSnapshot{
			ID:           s.id,
			Name:         s.name,
			Status:       s.status,
			Dependencies: deps,
			StartTime:    copyTime(s.startedAt),
			EndTime:      copyTime(s.finishedAt),
			Error:        s.errMsg,
			Records:      records,
			Warnings:     warnings,
			Summary:      s.summary,
		}
	}
	return snap
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
