package storage

import (
	"context"
	"time"
)

// InsertUsage appends one usage record
func (s *SQLiteStorage) InsertUsage(ctx context.Context, rec *UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	success := 0
	if rec.Success {
		success = 1
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_log (run_id, operation, params, result, duration_ms, success, peak_memory_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.RunID, rec.Operation, rec.Params, rec.Result, rec.Duration.Milliseconds(), success,
		int64(rec.PeakMemory), rec.CreatedAt.Unix())
	if err != nil {
		return err
	}
	rec.ID, err = res.LastInsertId()
	return err
}

// ListUsage returns the most recent usage records, newest first
func (s *SQLiteStorage) ListUsage(ctx context.Context, limit int) ([]*UsageRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, operation, params, result, duration_ms, success, peak_memory_bytes, created_at
		FROM usage_log
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*UsageRecord
	for rows.Next() {
		var r UsageRecord
		var durationMS, peak, created int64
		var success int
		if err := rows.Scan(&r.ID, &r.RunID, &r.Operation, &r.Params, &r.Result,
			&durationMS, &success, &peak, &created); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		r.Success = success != 0
		r.PeakMemory = uint64(peak)
		r.CreatedAt = time.Unix(created, 0)
		out = append(out, &r)
	}
	return out, rows.Err()
}
