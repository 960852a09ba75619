// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianETL/services/etl/dag"
)

// Pipeline is the control surface of the DAG runner.
type Pipeline interface {
	Start(ctx context.Context) (dag.Snapshot, error)
	Status() dag.Snapshot
	Reset() (dag.Snapshot, error)
}

// DAGResponse wraps a pipeline snapshot.
type DAGResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Code    string       `json:"code,omitempty"`
	DAG     dag.Snapshot `json:"dag"`
}

// StartETL launches a pipeline run in the background and returns at once.
// A second start while a run executes is rejected with 409 and leaves the
// executing run untouched.
func StartETL(p Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := p.Start(c.Request.Context())
		if errors.Is(err, dag.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, DAGResponse{
				Message: "already running",
				Code:    CodeAlreadyRunning,
				DAG:     snap,
			})
			return
		}
		if err != nil {
			AbortWithError(c, err)
			return
		}

		slog.Info("ETL pipeline started via API", "execution_id", snap.ExecutionID)
		c.JSON(http.StatusOK, DAGResponse{
			Success: true,
			Message: "ETL pipeline started",
			DAG:     snap,
		})
	}
}

// GetETLStatus returns the current run.
func GetETLStatus(p Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, DAGResponse{Success: true, DAG: p.Status()})
	}
}

// ResetETL discards a finished run. It is rejected with 409 while a run
// executes.
func ResetETL(p Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := p.Reset()
		if errors.Is(err, dag.ErrPipelineBusy) {
			c.JSON(http.StatusConflict, DAGResponse{
				Message: "Cannot reset while ETL is running",
				Code:    CodePipelineBusy,
				DAG:     snap,
			})
			return
		}
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, DAGResponse{
			Success: true,
			Message: "ETL pipeline reset successfully",
			DAG:     snap,
		})
	}
}
