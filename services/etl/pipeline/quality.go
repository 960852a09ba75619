// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"fmt"

	"github.com/AleutianAI/AleutianETL/services/etl/warehouse"
)

// CheckQuality returns ErrQualityGate when either fact table is empty.
func CheckQuality(r warehouse.QualityReport) error {
	switch {
	case r.Users == 0 && r.Sessions == 0:
		return fmt.Errorf("%w: no users and no sessions loaded", ErrQualityGate)
	case r.Users == 0:
		return fmt.Errorf("%w: no users loaded", ErrQualityGate)
	case r.Sessions == 0:
		return fmt.Errorf("%w: no sessions loaded", ErrQualityGate)
	}
	return nil
}

// QualityWarnings lists the non-blocking findings of r in a fixed order.
func QualityWarnings(r warehouse.QualityReport) []string {
	checks := []struct {
		n    int64
		what string
	}{
		{r.UsersMissingAge, "users missing age"},
		{r.UsersMissingCountry, "users missing country"},
		{r.UsersMissingSubscription, "users missing subscription type"},
		{r.SessionsMissingWatchDate, "sessions missing watch date"},
		{r.SessionsMissingDuration, "sessions missing duration"},
		{r.SessionsMissingCompletion, "sessions missing completion percentage"},
		{r.SessionsMissingDevice, "sessions missing device type"},
		{r.UsersWithoutSessions, "users without sessions"},
		{r.SessionsWithUnknownUser, "sessions referencing unknown users"},
	}

	var out []string
	for _, c := range checks {
		if c.n > 0 {
			out = append(out, fmt.Sprintf("%d %s", c.n, c.what))
		}
	}
	return out
}

// StatsSummary renders stats as a single line.
func StatsSummary(s warehouse.Stats) string {
	return fmt.Sprintf("%d users, %d sessions, %.1f%% avg completion, %d minutes watched, %d titles",
		s.TotalUsers, s.TotalSessions, s.AvgCompletion, s.TotalWatchMinutes, s.DistinctContent)
}
