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
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for pipeline construction and control.
var (
	// ErrAlreadyRunning is returned by Start while a run is executing.
	ErrAlreadyRunning = errors.New("pipeline is already running")

	// ErrPipelineBusy is returned by Reset while a run is executing.
	ErrPipelineBusy = errors.New("cannot reset while pipeline is running")

	// ErrInvalidGraph indicates a graph that cannot be executed.
	ErrInvalidGraph = errors.New("invalid pipeline graph")

	// ErrDuplicateStep indicates two steps share an id.
	ErrDuplicateStep = errors.New("duplicate step id")

	// ErrUnknownDependency indicates a step depends on an undeclared step.
	ErrUnknownDependency = errors.New("unknown dependency")

	// ErrCycle indicates the dependency relation is not acyclic.
	ErrCycle = errors.New("dependency cycle detected")

	// ErrInvalidTransition indicates a step status change outside the lifecycle.
	ErrInvalidTransition = errors.New("invalid step status transition")

	// ErrNoProgress indicates pending steps remain but none can run.
	ErrNoProgress = errors.New("no runnable steps remain")

	// ErrStepPanicked indicates a task panicked instead of returning an error.
	ErrStepPanicked = errors.New("step panicked")

	// ErrMissingInput indicates a task asked for an output that is not available.
	ErrMissingInput = errors.New("missing step input")
)

// StepError wraps an error with the id of the step that produced it.
type StepError struct {
	StepID string
	Err    error
}

// Error implements error.
func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.StepID, e.Err)
}

// Unwrap returns the underlying error.
func (e *StepError) Unwrap() error {
	return e.Err
}

// CycleError reports the step ids forming a dependency cycle.
//
// The path starts and ends with the same id, e.g. [a b c a].
type CycleError struct {
	Path []string
}

// Error implements error.
func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCycle.Error(), strings.Join(e.Path, " -> "))
}

// Is lets errors.Is(err, ErrCycle) match a *CycleError.
func (e *CycleError) Is(target error) bool {
	return target == ErrCycle
}

// NewCycleError copies path into a new CycleError.
func NewCycleError(path []string) *CycleError {
	p := make([]string, len(path))
	copy(p, path)
	return &CycleError{Path: p}
}
