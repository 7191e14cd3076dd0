package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/docsearch-mcp/internal/storage"
	"github.com/dshills/docsearch-mcp/pkg/types"
)

// ErrIllegalTransition is returned when a state change violates the file
// lifecycle
var ErrIllegalTransition = errors.New("illegal file state transition")

// Tracker records the processing state of every file of one source at one
// version. It caches the last known state of each path so transitions can be
// checked without a round trip.
type Tracker struct {
	store   storage.Storage
	source  string
	version string
	logger  *zap.Logger

	mu     sync.Mutex
	states map[string]types.FileState
}

// New creates a tracker for a source and version tag
func New(store storage.Storage, source, version string, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:   store,
		source:  source,
		version: version,
		logger:  logger,
		states:  make(map[string]types.FileState),
	}
}

// Source returns the tracked source name
func (t *Tracker) Source() string { return t.source }

// Version returns the version tag new rows are written with
func (t *Tracker) Version() string { return t.version }

// Classification buckets discovered files against the tracking table
type Classification struct {
	// Pending holds new files, files whose hash or version changed, and
	// files left Pending or Processing by an earlier run
	Pending []types.FileHash

	// UnchangedProcessed and UnchangedFailed are skipped this run
	UnchangedProcessed []string
	UnchangedFailed    []string

	// Orphans are tracked paths that were not discovered
	Orphans []string
}

// Load reads the tracking rows of the source keyed by path and refreshes
// the state cache
func (t *Tracker) Load(ctx context.Context) (map[string]*types.TrackedFile, error) {
	files, err := t.store.LoadTrackedFiles(ctx, t.source)
	if err != nil {
		return nil, fmt.Errorf("failed to load tracked files for %s: %w", t.source, err)
	}

	existing := make(map[string]*types.TrackedFile, len(files))
	t.mu.Lock()
	t.states = make(map[string]types.FileState, len(files))
	for _, f := range files {
		existing[f.Path] = f
		t.states[f.Path] = f.State
	}
	t.mu.Unlock()
	return existing, nil
}

// Classify compares discovered files with the loaded rows. A file is
// unchanged when both its hash and version match; an unchanged file is only
// skipped when its last state was Processed or Failed.
func (t *Tracker) Classify(discovered []types.FileHash, existing map[string]*types.TrackedFile) Classification {
	var c Classification
	present := make(map[string]bool, len(discovered))

	for _, fh := range discovered {
		present[fh.Path] = true
		row, ok := existing[fh.Path]
		if !ok || row.ContentHash != fh.HexHash() || row.Version != t.version {
			c.Pending = append(c.Pending, fh)
			continue
		}
		switch row.State {
		case types.StateProcessed:
			c.UnchangedProcessed = append(c.UnchangedProcessed, fh.Path)
		case types.StateFailed:
			c.UnchangedFailed = append(c.UnchangedFailed, fh.Path)
		default:
			c.Pending = append(c.Pending, fh)
		}
	}

	for path := range existing {
		if !present[path] {
			c.Orphans = append(c.Orphans, path)
		}
	}
	sort.Strings(c.Orphans)
	return c
}

// PendingRows converts discovered files into Pending tracking rows
func (t *Tracker) PendingRows(files []types.FileHash) []*types.TrackedFile {
	rows := make([]*types.TrackedFile, 0, len(files))
	for _, fh := range files {
		rows = append(rows, &types.TrackedFile{
			Path:        fh.Path,
			Version:     t.version,
			ContentHash: fh.HexHash(),
			State:       types.StatePending,
		})
	}
	return rows
}

// FailedRows converts files that could not be read into Failed rows. The
// hash is left empty so the next successful read always counts as changed.
func (t *Tracker) FailedRows(failures map[string]error) []*types.TrackedFile {
	paths := make([]string, 0, len(failures))
	for p := range failures {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	rows := make([]*types.TrackedFile, 0, len(paths))
	for _, p := range paths {
		rows = append(rows, &types.TrackedFile{
			Path:    p,
			Version: t.version,
			State:   types.StateFailed,
			Error:   failures[p].Error(),
		})
	}
	return rows
}

// Upsert writes the rows in a single transaction
func (t *Tracker) Upsert(ctx context.Context, files []*types.TrackedFile) error {
	if len(files) == 0 {
		return nil
	}
	for _, f := range files {
		if f.Version == "" {
			f.Version = t.version
		}
	}
	if err := t.store.UpsertTrackedFiles(ctx, t.source, files); err != nil {
		return fmt.Errorf("failed to upsert %d tracked files: %w", len(files), err)
	}

	t.mu.Lock()
	for _, f := range files {
		t.states[f.Path] = f.State
	}
	t.mu.Unlock()
	return nil
}

// State returns the cached state of a path
func (t *Tracker) State(path string) (types.FileState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[path]
	return st, ok
}

// MarkProcessing moves a file from Pending to Processing
func (t *Tracker) MarkProcessing(ctx context.Context, path string) error {
	return t.transition(ctx, path, types.StateProcessing, "")
}

// MarkProcessed moves a file from Processing to Processed
func (t *Tracker) MarkProcessed(ctx context.Context, path string) error {
	return t.transition(ctx, path, types.StateProcessed, "")
}

// MarkFailed moves a file from Processing to Failed and records the error
func (t *Tracker) MarkFailed(ctx context.Context, path, errMsg string) error {
	return t.transition(ctx, path, types.StateFailed, errMsg)
}

func (t *Tracker) transition(ctx context.Context, path string, next types.FileState, errMsg string) error {
	current, err := t.currentState(ctx, path)
	if err != nil {
		return err
	}
	if !current.CanTransition(next) {
		return fmt.Errorf("%w: %s %s -> %s", ErrIllegalTransition, path, current, next)
	}

	if err := t.store.SetFileState(ctx, t.source, path, next, errMsg); err != nil {
		return fmt.Errorf("failed to set %s to %s: %w", path, next, err)
	}

	t.mu.Lock()
	t.states[path] = next
	t.mu.Unlock()
	return nil
}

func (t *Tracker) currentState(ctx context.Context, path string) (types.FileState, error) {
	if st, ok := t.State(path); ok {
		return st, nil
	}
	f, err := t.store.GetTrackedFile(ctx, t.source, path)
	if err != nil {
		return "", fmt.Errorf("failed to read state of %s: %w", path, err)
	}
	return f.State, nil
}

// ResetVersion moves every non-deprecated file back to Pending. Used by a
// forced reindex.
func (t *Tracker) ResetVersion(ctx context.Context) (int, error) {
	n, err := t.store.ResetFileStates(ctx, t.source)
	if err != nil {
		return 0, fmt.Errorf("failed to reset %s: %w", t.source, err)
	}

	t.mu.Lock()
	for path, st := range t.states {
		if st != types.StateDeprecated {
			t.states[path] = types.StatePending
		}
	}
	t.mu.Unlock()

	t.logger.Info("reset tracked files",
		zap.String("source", t.source),
		zap.Int("files", n))
	return n, nil
}

// Deprecate marks every known path not in present as Deprecated and returns
// those paths
func (t *Tracker) Deprecate(ctx context.Context, present []string) ([]string, error) {
	keep := make(map[string]bool, len(present))
	for _, p := range present {
		keep[p] = true
	}

	t.mu.Lock()
	var gone []string
	for path, st := range t.states {
		if !keep[path] && st != types.StateDeprecated {
			gone = append(gone, path)
		}
	}
	t.mu.Unlock()
	sort.Strings(gone)

	if len(gone) == 0 {
		return nil, nil
	}
	if _, err := t.store.SetDeprecated(ctx, t.source, gone); err != nil {
		return nil, fmt.Errorf("failed to deprecate %d files: %w", len(gone), err)
	}

	t.mu.Lock()
	for _, path := range gone {
		t.states[path] = types.StateDeprecated
	}
	t.mu.Unlock()
	return gone, nil
}

// PurgeDeprecated deletes Deprecated rows
func (t *Tracker) PurgeDeprecated(ctx context.Context) (int, error) {
	n, err := t.store.DeleteDeprecated(ctx, t.source)
	if err != nil {
		return 0, fmt.Errorf("failed to purge deprecated files: %w", err)
	}

	t.mu.Lock()
	for path, st := range t.states {
		if st == types.StateDeprecated {
			delete(t.states, path)
		}
	}
	t.mu.Unlock()
	return n, nil
}

// RemoveOrphans deprecates and purges every path not in present
func (t *Tracker) RemoveOrphans(ctx context.Context, present []string) ([]string, error) {
	gone, err := t.Deprecate(ctx, present)
	if err != nil {
		return nil, err
	}
	if _, err := t.PurgeDeprecated(ctx); err != nil {
		return nil, err
	}
	return gone, nil
}

// Counts returns the number of files per state for the tracker's version
func (t *Tracker) Counts(ctx context.Context) (map[types.FileState]int, error) {
	counts, err := t.store.CountFileStates(ctx, t.source, t.version)
	if err != nil {
		return nil, fmt.Errorf("failed to count file states: %w", err)
	}
	return counts, nil
}
