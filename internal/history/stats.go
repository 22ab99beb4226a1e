package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Stats aggregates the recorded calls of one endpoint
type Stats struct {
	Method        string      `json:"method" yaml:"method"`
	Endpoint      string      `json:"endpoint" yaml:"endpoint"`
	TotalCalls    int         `json:"totalCalls" yaml:"totalCalls"`
	PassedCount   int         `json:"passedCount" yaml:"passedCount"`
	ErrorCount    int         `json:"errorCount" yaml:"errorCount"`       // status >= 400
	NetworkErrors int         `json:"networkErrors" yaml:"networkErrors"` // no response at all
	AvgDurationMs float64     `json:"avgDurationMs" yaml:"avgDurationMs"`
	MinDurationMs int64       `json:"minDurationMs" yaml:"minDurationMs"`
	MaxDurationMs int64       `json:"maxDurationMs" yaml:"maxDurationMs"`
	StatusCodes   map[int]int `json:"statusCodes" yaml:"statusCodes"`
	LastCalled    time.Time   `json:"lastCalled" yaml:"lastCalled"`
}

var (
	numericSegment = regexp.MustCompile(`^\d+$`)
	uuidSegment    = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	hexSegment     = regexp.MustCompile(`^[0-9a-fA-F]{24,}$`)
)

// NormalizeEndpoint reduces a URL to host and path with identifier segments
// replaced by {id}, so "/users/42?x=1" and "/users/7" group together
func NormalizeEndpoint(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			raw = raw[:i]
		}
		return raw
	}

	segments := strings.Split(u.Path, "/")
	for i, seg := range segments {
		if numericSegment.MatchString(seg) || uuidSegment.MatchString(seg) || hexSegment.MatchString(seg) {
			segments[i] = "{id}"
		}
	}
	return u.Host + strings.Join(segments, "/")
}

// Stats returns per-endpoint aggregates, most recently called first
func (m *Manager) Stats(ctx context.Context) ([]Stats, error) {
	query := `
		WITH status_codes_agg AS (
			SELECT
				method,
				endpoint,
				json_group_object(CAST(status AS TEXT), count) AS status_codes_json
			FROM (
				SELECT method, endpoint, status, COUNT(*) AS count
				FROM history
				GROUP BY method, endpoint, status
			)
			GROUP BY method, endpoint
		)
		SELECT
			h.method,
			h.endpoint,
			COUNT(*) AS total_calls,
			SUM(CASE WHEN h.passed THEN 1 ELSE 0 END) AS passed_count,
			SUM(CASE WHEN h.status >= 400 THEN 1 ELSE 0 END) AS error_count,
			SUM(CASE WHEN h.status = 0 THEN 1 ELSE 0 END) AS network_errors,
			AVG(h.duration_ms) AS avg_duration,
			MIN(h.duration_ms) AS min_duration,
			MAX(h.duration_ms) AS max_duration,
			MAX(h.timestamp) AS last_called,
			COALESCE(s.status_codes_json, '{}') AS status_codes_json
		FROM history h
		LEFT JOIN status_codes_agg s ON h.method = s.method AND h.endpoint = s.endpoint
		GROUP BY h.method, h.endpoint
		ORDER BY last_called DESC
	`

	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get endpoint stats: %w", err)
	}
	defer rows.Close()

	var out []Stats
	for rows.Next() {
		var s Stats
		var lastCalled string
		var statusCodesJSON string

		err := rows.Scan(
			&s.Method,
			&s.Endpoint,
			&s.TotalCalls,
			&s.PassedCount,
			&s.ErrorCount,
			&s.NetworkErrors,
			&s.AvgDurationMs,
			&s.MinDurationMs,
			&s.MaxDurationMs,
			&lastCalled,
			&statusCodesJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		s.LastCalled = parseTimestamp(lastCalled)

		var codes map[string]int
		if err := json.Unmarshal([]byte(statusCodesJSON), &codes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal status codes: %w", err)
		}
		s.StatusCodes = make(map[int]int, len(codes))
		for codeStr, count := range codes {
			if code, err := strconv.Atoi(codeStr); err == nil {
				s.StatusCodes[code] = count
			}
		}

		out = append(out, s)
	}
	return out, rows.Err()
}
