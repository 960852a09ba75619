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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStepStatus_Transitions(t *testing.T) {
	all := []StepStatus{StepPending, StepRunning, StepSucceeded, StepFailed, StepSkipped}
	allowed := map[StepStatus]map[StepStatus]bool{
		StepPending: {StepRunning: true, StepSkipped: true},
		StepRunning: {StepSucceeded: true, StepFailed: true},
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[from][to]
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestStepStatus_IsTerminal(t *testing.T) {
	assert.False(t, StepPending.IsTerminal())
	assert.False(t, StepRunning.IsTerminal())
	assert.True(t, StepSucceeded.IsTerminal())
	assert.True(t, StepFailed.IsTerminal())
	assert.True(t, StepSkipped.IsTerminal())
}

func TestStepState_TransitionRejectsReentry(t *testing.T) {
	s := &stepState{id: "a", status: StepPending}

	assert.NoError(t, s.transition(StepRunning))
	assert.NoError(t, s.transition(StepSucceeded))
	err := s.transition(StepRunning)

	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StepSucceeded, s.status)
}

func TestRunState_SnapshotIsDeepCopy(t *testing.T) {
	g, err := NewGraph("g", "G", step("a"), step("b", "a"))
	assert.NoError(t, err)
	run := newRunState(g)
	run.steps[0].warnings = []string{"w"}
	run.steps[0].records = RecordCount(5)

	snap := run.snapshot()
	snap.Nodes[0].Warnings[0] = "changed"
	*snap.Nodes[0].Records = 99
	snap.Nodes[1].Dependencies[0] = "changed"

	assert.Equal(t, "w", run.steps[0].warnings[0])
	assert.Equal(t, int64(5), *run.steps[0].records)
	assert.Equal(t, "a", run.steps[1].dependsOn[0])
	assert.Equal(t, RunIdle, snap.Status)
}
