// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package warehouse

// SQL shared by every dialect. Statements here use no placeholders, or build
// them through Querier.Placeholder, and cast results to portable types so
// both drivers scan them the same way.

// RebuildUserMetricsSQL recomputes user_metrics for every user. Users
// without sessions get zero totals and NULL favourite device and last
// activity. Favourite device ties go to the lowest device id.
const RebuildUserMetricsSQL = `
INSERT INTO user_metrics (user_id, total_sessions, total_minutes, avg_completion, favorite_device, last_activity)
SELECT
    u.user_id,
    COUNT(vs.session_id),
    CAST(COALESCE(SUM(vs.duration_minutes), 0) AS BIGINT),
    COALESCE(AVG(vs.completion_percentage), 0),
    fav.name,
    MAX(vs.watch_date)
FROM users u
LEFT JOIN viewing_sessions vs ON vs.user_id = u.user_id
LEFT JOIN (
    SELECT ranked.user_id, ranked.name
    FROM (
        SELECT s.user_id, dt.name,
               ROW_NUMBER() OVER (PARTITION BY s.user_id ORDER BY COUNT(*) DESC, dt.id ASC) AS rn
        FROM viewing_sessions s
        JOIN device_types dt ON dt.id = s.device_type_id
        GROUP BY s.user_id, dt.id, dt.name
    ) ranked
    WHERE ranked.rn = 1
) fav ON fav.user_id = u.user_id
GROUP BY u.user_id, fav.name`

// DeleteUserMetricsSQL empties user_metrics.
const DeleteUserMetricsSQL = `DELETE FROM user_metrics`

// DeleteUsersSQL empties users. Run after DeleteUserMetricsSQL.
const DeleteUsersSQL = `DELETE FROM users`

// DeleteSessionsSQL empties viewing_sessions.
const DeleteSessionsSQL = `DELETE FROM viewing_sessions`

// CountUserMetricsSQL counts user_metrics rows.
const CountUserMetricsSQL = `SELECT COUNT(*) FROM user_metrics`

const subscriptionLookupSQL = `SELECT id, name FROM subscription_types`

const deviceLookupSQL = `SELECT id, name FROM device_types`

const qualityReportSQL = `
SELECT
    (SELECT COUNT(*) FROM users),
    (SELECT COUNT(*) FROM viewing_sessions),
    (SELECT COUNT(*) FROM users WHERE age IS NULL),
    (SELECT COUNT(*) FROM users WHERE country IS NULL),
    (SELECT COUNT(*) FROM users WHERE subscription_type_id IS NULL),
    (SELECT COUNT(*) FROM viewing_sessions WHERE watch_date IS NULL),
    (SELECT COUNT(*) FROM viewing_sessions WHERE duration_minutes IS NULL),
    (SELECT COUNT(*) FROM viewing_sessions WHERE completion_percentage IS NULL),
    (SELECT COUNT(*) FROM viewing_sessions WHERE device_type_id IS NULL),
    (SELECT COUNT(*) FROM users u
        WHERE NOT EXISTS (SELECT 1 FROM viewing_sessions vs WHERE vs.user_id = u.user_id)),
    (SELECT COUNT(*) FROM viewing_sessions vs
        WHERE NOT EXISTS (SELECT 1 FROM users u WHERE u.user_id = vs.user_id))`

const statsSQL = `
SELECT
    (SELECT COUNT(*) FROM users),
    (SELECT COUNT(*) FROM viewing_sessions),
    (SELECT CAST(COALESCE(AVG(completion_percentage), 0) AS DOUBLE PRECISION) FROM viewing_sessions),
    (SELECT CAST(COALESCE(SUM(duration_minutes), 0) AS BIGINT) FROM viewing_sessions),
    (SELECT COUNT(DISTINCT content_id) FROM viewing_sessions)`

const sessionAveragesSQL = `
SELECT
    CAST(AVG(duration_minutes) AS DOUBLE PRECISION),
    CAST(AVG(completion_percentage) AS DOUBLE PRECISION)
FROM viewing_sessions`

const deviceDistributionSQL = `
SELECT dt.name, COUNT(vs.session_id)
FROM device_types dt
LEFT JOIN viewing_sessions vs ON vs.device_type_id = dt.id
GROUP BY dt.id, dt.name
ORDER BY COUNT(vs.session_id) DESC, dt.id ASC`

const subscriptionDistributionSQL = `
SELECT st.name, COUNT(u.user_id)
FROM subscription_types st
LEFT JOIN users u ON u.subscription_type_id = st.id
GROUP BY st.id, st.name
ORDER BY COUNT(u.user_id) DESC, st.id ASC`

const sessionsOverTimeSQL = `
SELECT CAST(watch_date AS TEXT), COUNT(*)
FROM viewing_sessions
WHERE watch_date IS NOT NULL
GROUP BY watch_date
ORDER BY watch_date ASC`

const activityMetricsSQL = `
SELECT
    COUNT(DISTINCT u.user_id),
    COUNT(DISTINCT vs.content_id),
    CAST(COALESCE(SUM(vs.duration_minutes), 0) AS BIGINT),
    CAST(MAX(vs.watch_date) AS TEXT)
FROM users u
LEFT JOIN viewing_sessions vs ON vs.user_id = u.user_id`

const userStatsSQL = `
SELECT
    COUNT(u.user_id),
    CAST(COALESCE(AVG(u.age), 0) AS DOUBLE PRECISION),
    COUNT(DISTINCT u.country),
    CAST(COALESCE(AVG(um.total_sessions), 0) AS DOUBLE PRECISION),
    CAST(COALESCE(AVG(um.total_minutes), 0) AS DOUBLE PRECISION)
FROM users u
LEFT JOIN user_metrics um ON um.user_id = u.user_id`

const topCountriesSQL = `
SELECT country, COUNT(*)
FROM users
WHERE country IS NOT NULL
GROUP BY country
ORDER BY COUNT(*) DESC, country ASC
LIMIT 5`

const listUsersSelect = `
SELECT
    u.user_id,
    u.age,
    u.country,
    s.name,
    COALESCE(um.total_sessions, 0),
    COALESCE(um.total_minutes, 0),
    CAST(COALESCE(um.avg_completion, 0) AS DOUBLE PRECISION),
    um.favorite_device,
    CAST(um.last_activity AS TEXT)
FROM users u
LEFT JOIN subscription_types s ON s.id = u.subscription_type_id
LEFT JOIN user_metrics um ON um.user_id = u.user_id`

const countUsersSelect = `
SELECT COUNT(*)
FROM users u
LEFT JOIN subscription_types s ON s.id = u.subscription_type_id`

// UserSortColumns maps the accepted UserQuery.SortBy values to SQL.
var UserSortColumns = map[string]string{
	"user_id":           "u.user_id",
	"age":               "u.age",
	"country":           "u.country",
	"subscription_type": "s.name",
	"total_sessions":    "COALESCE(um.total_sessions, 0)",
	"total_minutes":     "COALESCE(um.total_minutes, 0)",
	"last_activity":     "um.last_activity",
}
