// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dag tracks and executes a fixed pipeline of named steps.
//
// A Graph is declared once at construction: every Step names the steps it
// depends on and the graph is validated (unique ids, known dependencies, no
// cycles) before anything runs. A Runner owns exactly one PipelineRun at a
// time. Start replaces that run with a fresh one and executes it on a
// background goroutine; Status returns deep-copied Snapshots that never
// block on step execution; Reset returns the run to Idle when nothing is
// executing.
//
// Step lifecycle:
//
//	pending ──► running ──► success
//	   │           └──────► failed
//	   └──────► skipped
//
// When a step fails, every transitive dependent that is still pending is
// marked skipped and no further step is started. Steps that do not depend on
// the failed step and have not started stay pending.
//
// Steps exchange data through their outputs: a Task receives Inputs holding
// the Output.Value of every step that already succeeded in the same
// execution. Nothing survives across executions.
package dag
