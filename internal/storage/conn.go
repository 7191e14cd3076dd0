package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrVectorIndexUnavailable is returned when the vector index cannot serve
	// this store: the extension is missing, or the stored dimension differs
	// from the embedder's
	ErrVectorIndexUnavailable = errors.New("vector index unavailable, rebuild index")
	// ErrLockContention is returned when the database stays locked after every retry
	ErrLockContention = errors.New("database lock contention")
)

const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 100 * time.Millisecond
	DefaultBusyTimeout    = 5 * time.Second
)

// Options configures how a store is opened and how lock errors are retried
type Options struct {
	Path           string
	MaxAttempts    int
	InitialBackoff time.Duration
	BusyTimeout    time.Duration
	Logger         *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = DefaultInitialBackoff
	}
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = DefaultBusyTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Open opens the store at opts.Path, applying migrations. Lock and resource
// errors are retried with exponential backoff; between attempts the WAL is
// checkpointed, and if that fails too the stale WAL, shared-memory and
// journal files are removed.
func Open(ctx context.Context, opts Options) (*SQLiteStorage, error) {
	opts = opts.withDefaults()
	registerVectorExtension()

	backoff := opts.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		s, err := openOnce(ctx, opts)
		if err == nil {
			return s, nil
		}
		if !isContentionError(err) {
			return nil, err
		}
		lastErr = err
		opts.Logger.Warn("database unavailable",
			zap.String("path", opts.Path),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", opts.MaxAttempts),
			zap.Error(err))
		if attempt == opts.MaxAttempts {
			break
		}

		recoverDatabase(ctx, opts.Path, opts.Logger)
		if err := sleepContext(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("%w: open %s after %d attempts: %w", ErrLockContention, opts.Path, opts.MaxAttempts, lastErr)
}

func openOnce(ctx context.Context, opts Options) (*SQLiteStorage, error) {
	db, err := openDatabase(opts.Path, opts.BusyTimeout)
	if err != nil {
		return nil, err
	}
	if err := verifyVectorExtension(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	s := &SQLiteStorage{db: db, opts: opts, logger: opts.Logger}
	if err := s.loadDimension(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string, busyTimeout time.Duration) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// A single connection serialises writers; batches queue on it
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()),
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run %q: %w", p, err)
		}
	}
	return db, nil
}

// verifyVectorExtension checks the extension is loaded on the open connection.
// It is registered once per process, never per connection.
func verifyVectorExtension(ctx context.Context, db *sql.DB) error {
	if !VectorExtensionAvailable {
		return nil
	}
	var version string
	if err := db.QueryRowContext(ctx, "SELECT vec_version()").Scan(&version); err != nil {
		return fmt.Errorf("%w: sqlite-vec not loaded: %v", ErrVectorIndexUnavailable, err)
	}
	return nil
}

// recoverDatabase tries a WAL checkpoint and falls back to deleting the
// on-disk artifacts a crashed writer can leave behind
func recoverDatabase(ctx context.Context, path string, logger *zap.Logger) {
	if isMemoryPath(path) {
		return
	}
	err := checkpointPath(ctx, path)
	if err == nil {
		logger.Info("database checkpoint succeeded", zap.String("path", path))
		return
	}
	logger.Warn("database checkpoint failed, removing lock artifacts", zap.String("path", path), zap.Error(err))

	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		artifact := path + suffix
		if err := os.Remove(artifact); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove database artifact", zap.String("file", artifact), zap.Error(err))
		}
	}
}

func checkpointPath(ctx context.Context, path string) error {
	db, err := sql.Open(DriverName, path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return checkpoint(ctx, db)
}

// checkpoint truncates the WAL; a busy result counts as failure
func checkpoint(ctx context.Context, q querier) error {
	var busy, logFrames, checkpointed int
	if err := q.QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busy, &logFrames, &checkpointed); err != nil {
		return err
	}
	if busy != 0 {
		return fmt.Errorf("checkpoint blocked by another connection")
	}
	return nil
}

// isContentionError reports lock and resource errors worth retrying. Both
// drivers report them only through the message text.
func isContentionError(err error) bool {
	if err == nil || errors.Is(err, ErrVectorIndexUnavailable) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"database is locked",
		"database table is locked",
		"sqlite_busy",
		"sqlite_locked",
		"disk i/o error",
		"unable to open database file",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func isMemoryPath(path string) bool {
	return path == "" || path == ":memory:" || strings.Contains(path, "mode=memory")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// withRetry runs fn, retrying contention errors with backoff and a
// checkpoint between attempts
func (s *SQLiteStorage) withRetry(ctx context.Context, op string, fn func() error) error {
	backoff := s.opts.InitialBackoff
	var err error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		if err = fn(); err == nil || !isContentionError(err) {
			return err
		}
		s.logger.Warn("database busy",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt == s.opts.MaxAttempts {
			break
		}
		if cerr := checkpoint(ctx, s.db); cerr != nil {
			s.logger.Debug("checkpoint during retry failed", zap.Error(cerr))
		}
		if serr := sleepContext(ctx, backoff); serr != nil {
			return serr
		}
		backoff *= 2
	}
	return fmt.Errorf("%w: %s after %d attempts: %w", ErrLockContention, op, s.opts.MaxAttempts, err)
}
