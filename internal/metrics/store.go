package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"meal-planner/internal/catalog"
)

// Store persists the log of catalog calls to SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore initializes the Store with an existing database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// RecordCall saves one issued catalog call. It implements
// catalog.CallRecorder.
func (s *Store) RecordCall(ctx context.Context, call catalog.Call) error {
	at := call.At
	if at.IsZero() {
		at = s.now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO catalog_calls (endpoint, outcome, latency_ms, called_at) VALUES (?, ?, ?, ?)`,
		call.Operation, call.Outcome, call.Latency.Milliseconds(), at.UTC().Unix())
	if err != nil {
		return fmt.Errorf("failed to record catalog call: %w", err)
	}
	return nil
}

// DailyUsage represents catalog call totals for a single day.
type DailyUsage struct {
	Date         string
	Calls        int
	Failures     int
	AvgLatencyMS int64
}

// GetDailyUsage retrieves usage for the last N days, most recent first.
func (s *Store) GetDailyUsage(ctx context.Context, days int) ([]DailyUsage, error) {
	since := s.now().AddDate(0, 0, -days).UTC().Unix()
	rows, err := s.db.QueryContext(ctx, `
		SELECT date(called_at, 'unixepoch') AS day,
		       COUNT(*),
		       SUM(CASE WHEN outcome = 'ok' THEN 0 ELSE 1 END),
		       CAST(AVG(latency_ms) AS INTEGER)
		FROM catalog_calls
		WHERE called_at >= ?
		GROUP BY day
		ORDER BY day DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily usage: %w", err)
	}
	defer rows.Close()

	var results []DailyUsage
	for rows.Next() {
		var u DailyUsage
		if err := rows.Scan(&u.Date, &u.Calls, &u.Failures, &u.AvgLatencyMS); err != nil {
			return nil, fmt.Errorf("failed to scan daily usage: %w", err)
		}
		results = append(results, u)
	}
	return results, rows.Err()
}

// CallTimes returns the times of calls issued at or after since, oldest
// first.
func (s *Store) CallTimes(ctx context.Context, since time.Time) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT called_at FROM catalog_calls WHERE called_at >= ? ORDER BY called_at, id`, since.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog calls: %w", err)
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var at int64
		if err := rows.Scan(&at); err != nil {
			return nil, fmt.Errorf("failed to scan catalog call: %w", err)
		}
		times = append(times, time.Unix(at, 0).UTC())
	}
	return times, rows.Err()
}

// Cleanup removes records older than the specified number of days.
func (s *Store) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	threshold := s.now().AddDate(0, 0, -olderThanDays).UTC().Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM catalog_calls WHERE called_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up catalog calls: %w", err)
	}
	return res.RowsAffected()
}
