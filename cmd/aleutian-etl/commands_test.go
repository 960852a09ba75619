// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianETL/services/etl/content"
	"github.com/AleutianAI/AleutianETL/services/etl/dag"
)

func TestCheckOutputFormat(t *testing.T) {
	assert.NoError(t, checkOutputFormat("json"))
	assert.NoError(t, checkOutputFormat("yaml"))
	assert.Error(t, checkOutputFormat("xml"))
}

func TestWriteOutput_Snapshot(t *testing.T) {
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	snap := dag.Snapshot{
		ID:        "streaming_etl_dag",
		Name:      "Streaming Data ETL Pipeline",
		Status:    dag.RunSucceeded,
		StartTime: &start,
		Nodes: []dag.StepSnapshot{
			{ID: "validate_files", Name: "Validate CSV Files", Status: dag.StepSucceeded, Dependencies: []string{}},
		},
	}

	var js bytes.Buffer
	require.NoError(t, writeOutput(&js, formatJSON, snap))
	assert.Contains(t, js.String(), `"status": "completed"`)
	assert.Contains(t, js.String(), `"startTime": "2025-01-01T10:00:00Z"`)

	var ym bytes.Buffer
	require.NoError(t, writeOutput(&ym, formatYAML, snap))
	assert.Contains(t, ym.String(), "status: completed")
	assert.Contains(t, ym.String(), "- id: validate_files")
}

func TestWriteOutput_ContentResult(t *testing.T) {
	res := content.Result{Success: true, Message: "done", Stats: content.RunStats{TotalDocuments: 4, Failed: 1}}

	var ym bytes.Buffer
	require.NoError(t, writeOutput(&ym, formatYAML, res))
	assert.Contains(t, ym.String(), "totalDocuments: 4")
	assert.Contains(t, ym.String(), "failed: 1")
}

func TestWriteOutput_UnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, writeOutput(&buf, "toml", struct{}{}))
	assert.Zero(t, buf.Len())
}

func TestRootCommand_Subcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "run", "load-content", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
	assert.NotNil(t, serveCmd.Flags().Lookup("watch"))
	assert.NotNil(t, runCmd.Flags().Lookup("output"))
}
