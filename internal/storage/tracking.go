package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dshills/docsearch-mcp/pkg/types"
)

// Processing-state operations. Rows are keyed by (source, file_path); a
// single row tracks the latest version seen for that path.

func scanTrackedFile(scan func(dest ...interface{}) error) (*types.TrackedFile, error) {
	var f types.TrackedFile
	var state string
	var updated int64
	if err := scan(&f.Path, &f.Version, &f.ContentHash, &state, &f.Error, &updated); err != nil {
		return nil, err
	}
	st, err := types.ParseFileState(state)
	if err != nil {
		return nil, fmt.Errorf("tracked file %s: %w", f.Path, err)
	}
	f.State = st
	f.LastUpdated = time.Unix(updated, 0)
	return &f, nil
}

// LoadTrackedFiles returns every tracked file of a source
func (s *SQLiteStorage) LoadTrackedFiles(ctx context.Context, source string) ([]*types.TrackedFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_path, version, content_hash, state, error, last_updated
		FROM processing_state
		WHERE source = ?
		ORDER BY file_path
	`, source)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var files []*types.TrackedFile
	for rows.Next() {
		f, err := scanTrackedFile(rows.Scan)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// GetTrackedFile returns one tracked file
func (s *SQLiteStorage) GetTrackedFile(ctx context.Context, source, path string) (*types.TrackedFile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT file_path, version, content_hash, state, error, last_updated
		FROM processing_state
		WHERE source = ? AND file_path = ?
	`, source, path)
	f, err := scanTrackedFile(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return f, err
}

// UpsertTrackedFiles writes the given rows in one transaction
func (s *SQLiteStorage) UpsertTrackedFiles(ctx context.Context, source string, files []*types.TrackedFile) error {
	return s.inTx(ctx, func(q querier) error {
		return upsertTrackedFilesWithQuerier(ctx, q, source, files)
	})
}

func upsertTrackedFilesWithQuerier(ctx context.Context, q querier, source string, files []*types.TrackedFile) error {
	if len(files) == 0 {
		return nil
	}

	stmt, err := q.PrepareContext(ctx, `
		INSERT INTO processing_state (source, file_path, version, content_hash, state, error, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, file_path) DO UPDATE SET
			version = excluded.version,
			content_hash = excluded.content_hash,
			state = excluded.state,
			error = excluded.error,
			last_updated = excluded.last_updated
	`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now()
	for _, f := range files {
		if f.LastUpdated.IsZero() {
			f.LastUpdated = now
		}
		if _, err := stmt.ExecContext(ctx, source, f.Path, f.Version, f.ContentHash,
			string(f.State), f.Error, f.LastUpdated.Unix()); err != nil {
			return fmt.Errorf("failed to track %s: %w", f.Path, err)
		}
	}
	return nil
}

// SetFileState updates the state of one file. The error message is cleared
// for every state but Failed.
func (s *SQLiteStorage) SetFileState(ctx context.Context, source, path string, state types.FileState, errMsg string) error {
	if state != types.StateFailed {
		errMsg = ""
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE processing_state SET state = ?, error = ?, last_updated = ?
		WHERE source = ? AND file_path = ?
	`, string(state), errMsg, time.Now().Unix(), source, path)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetFileStates moves every non-deprecated file of a source back to Pending
func (s *SQLiteStorage) ResetFileStates(ctx context.Context, source string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE processing_state SET state = ?, error = '', last_updated = ?
		WHERE source = ? AND state != ?
	`, string(types.StatePending), time.Now().Unix(), source, string(types.StateDeprecated))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// SetDeprecated marks the given paths Deprecated
func (s *SQLiteStorage) SetDeprecated(ctx context.Context, source string, paths []string) (int, error) {
	total := 0
	err := s.inTx(ctx, func(q querier) error {
		now := time.Now().Unix()
		for start := 0; start < len(paths); start += maxVariables {
			end := min(start+maxVariables, len(paths))
			batch := paths[start:end]

			args := []interface{}{string(types.StateDeprecated), now, source}
			for _, p := range batch {
				args = append(args, p)
			}
			res, err := q.ExecContext(ctx, `
				UPDATE processing_state SET state = ?, last_updated = ?
				WHERE source = ? AND file_path IN (`+placeholders(len(batch))+`)
			`, args...)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += int(n)
		}
		return nil
	})
	return total, err
}

// DeleteDeprecated removes Deprecated rows
func (s *SQLiteStorage) DeleteDeprecated(ctx context.Context, source string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM processing_state WHERE source = ? AND state = ?",
		source, string(types.StateDeprecated))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CountFileStates counts tracked files per state; an empty version counts all
func (s *SQLiteStorage) CountFileStates(ctx context.Context, source, version string) (map[types.FileState]int, error) {
	query := "SELECT state, COUNT(*) FROM processing_state WHERE source = ?"
	args := []interface{}{source}
	if version != "" {
		query += " AND version = ?"
		args = append(args, version)
	}
	query += " GROUP BY state"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[types.FileState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[types.FileState(state)] = n
	}
	return counts, rows.Err()
}
