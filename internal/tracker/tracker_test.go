package tracker

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/docsearch-mcp/internal/storage"
	"github.com/dshills/docsearch-mcp/pkg/types"
)

func newTestTracker(t *testing.T, version string) (*Tracker, *storage.SQLiteStorage) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, "engine", version, nil), store
}

func fileHash(path, content string) types.FileHash {
	return types.FileHash{Path: path, Hash: sha256.Sum256([]byte(content))}
}

func TestClassify(t *testing.T) {
	tr, _ := newTestTracker(t, "1.0")

	a := fileHash("a.html", "a")
	b := fileHash("b.html", "b")
	c := fileHash("c.html", "c")
	d := fileHash("d.html", "d")
	e := fileHash("e.html", "e")
	f := fileHash("f.html", "f")

	existing := map[string]*types.TrackedFile{
		"a.html":    {Path: "a.html", Version: "1.0", ContentHash: a.HexHash(), State: types.StateProcessed},
		"b.html":    {Path: "b.html", Version: "1.0", ContentHash: b.HexHash(), State: types.StateFailed},
		"c.html":    {Path: "c.html", Version: "1.0", ContentHash: "stale", State: types.StateProcessed},
		"d.html":    {Path: "d.html", Version: "0.9", ContentHash: d.HexHash(), State: types.StateProcessed},
		"e.html":    {Path: "e.html", Version: "1.0", ContentHash: e.HexHash(), State: types.StateProcessing},
		"gone.html": {Path: "gone.html", Version: "1.0", ContentHash: "x", State: types.StateProcessed},
	}

	cls := tr.Classify([]types.FileHash{a, b, c, d, e, f}, existing)

	assert.Equal(t, []string{"a.html"}, cls.UnchangedProcessed)
	assert.Equal(t, []string{"b.html"}, cls.UnchangedFailed)
	assert.Equal(t, []string{"gone.html"}, cls.Orphans)

	var pending []string
	for _, fh := range cls.Pending {
		pending = append(pending, fh.Path)
	}
	assert.Equal(t, []string{"c.html", "d.html", "e.html", "f.html"}, pending)
}

func TestFailedRows(t *testing.T) {
	tr, store := newTestTracker(t, "1.0")
	ctx := context.Background()

	rows := tr.FailedRows(map[string]error{
		"z.html": errors.New("permission denied"),
		"a.html": errors.New("input/output error"),
	})
	require.Len(t, rows, 2)
	assert.Equal(t, "a.html", rows[0].Path)
	assert.Equal(t, types.StateFailed, rows[0].State)
	assert.Empty(t, rows[0].ContentHash)
	assert.Equal(t, "input/output error", rows[0].Error)
	require.NoError(t, tr.Upsert(ctx, rows))

	counts, err := tr.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[types.StateFailed])

	// Once readable again the file is pending whatever its content
	existing, err := tr.Load(ctx)
	require.NoError(t, err)
	cls := tr.Classify([]types.FileHash{fileHash("a.html", "")}, existing)
	require.Len(t, cls.Pending, 1)
	assert.Equal(t, "a.html", cls.Pending[0].Path)
	assert.Equal(t, []string{"z.html"}, cls.Orphans)

	f, err := store.GetTrackedFile(ctx, "engine", "z.html")
	require.NoError(t, err)
	assert.Equal(t, "permission denied", f.Error)
}

func TestUpsertAndTransitions(t *testing.T) {
	tr, store := newTestTracker(t, "1.0")
	ctx := context.Background()

	rows := tr.PendingRows([]types.FileHash{fileHash("a.html", "a"), fileHash("b.html", "b")})
	require.NoError(t, tr.Upsert(ctx, rows))

	require.NoError(t, tr.MarkProcessing(ctx, "a.html"))
	require.NoError(t, tr.MarkProcessed(ctx, "a.html"))
	require.NoError(t, tr.MarkProcessing(ctx, "b.html"))
	require.NoError(t, tr.MarkFailed(ctx, "b.html", "malformed document"))

	a, err := store.GetTrackedFile(ctx, "engine", "a.html")
	require.NoError(t, err)
	assert.Equal(t, types.StateProcessed, a.State)
	assert.Equal(t, "1.0", a.Version)

	b, err := store.GetTrackedFile(ctx, "engine", "b.html")
	require.NoError(t, err)
	assert.Equal(t, types.StateFailed, b.State)
	assert.Equal(t, "malformed document", b.Error)

	// Processed cannot go straight back to Processing
	err = tr.MarkProcessing(ctx, "a.html")
	assert.ErrorIs(t, err, ErrIllegalTransition)

	// Pending cannot skip Processing
	require.NoError(t, tr.Upsert(ctx, tr.PendingRows([]types.FileHash{fileHash("c.html", "c")})))
	assert.ErrorIs(t, tr.MarkProcessed(ctx, "c.html"), ErrIllegalTransition)

	assert.Error(t, tr.MarkProcessing(ctx, "unknown.html"))
}

func TestTransitionFallsBackToStore(t *testing.T) {
	tr, store := newTestTracker(t, "1.0")
	ctx := context.Background()

	require.NoError(t, store.UpsertTrackedFiles(ctx, "engine", []*types.TrackedFile{
		{Path: "a.html", Version: "1.0", ContentHash: "h", State: types.StatePending},
	}))

	_, cached := tr.State("a.html")
	assert.False(t, cached)
	require.NoError(t, tr.MarkProcessing(ctx, "a.html"))

	st, cached := tr.State("a.html")
	assert.True(t, cached)
	assert.Equal(t, types.StateProcessing, st)
}

func TestLoadRefreshesCache(t *testing.T) {
	tr, store := newTestTracker(t, "1.0")
	ctx := context.Background()
	require.NoError(t, store.UpsertTrackedFiles(ctx, "engine", []*types.TrackedFile{
		{Path: "a.html", Version: "1.0", ContentHash: "h", State: types.StateFailed},
	}))
	require.NoError(t, store.UpsertTrackedFiles(ctx, "other", []*types.TrackedFile{
		{Path: "z.html", Version: "1.0", ContentHash: "h", State: types.StateProcessed},
	}))

	existing, err := tr.Load(ctx)
	require.NoError(t, err)
	require.Len(t, existing, 1)
	assert.Equal(t, types.StateFailed, existing["a.html"].State)

	st, ok := tr.State("a.html")
	require.True(t, ok)
	assert.Equal(t, types.StateFailed, st)
}

func TestResetVersion(t *testing.T) {
	tr, store := newTestTracker(t, "1.0")
	ctx := context.Background()
	require.NoError(t, tr.Upsert(ctx, []*types.TrackedFile{
		{Path: "a.html", ContentHash: "h", State: types.StateProcessed},
		{Path: "b.html", ContentHash: "h", State: types.StateFailed, Error: "bad"},
		{Path: "c.html", ContentHash: "h", State: types.StateDeprecated},
	}))

	n, err := tr.ResetVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	st, _ := tr.State("b.html")
	assert.Equal(t, types.StatePending, st)
	st, _ = tr.State("c.html")
	assert.Equal(t, types.StateDeprecated, st)

	b, err := store.GetTrackedFile(ctx, "engine", "b.html")
	require.NoError(t, err)
	assert.Empty(t, b.Error)
}

func TestRemoveOrphans(t *testing.T) {
	tr, _ := newTestTracker(t, "1.0")
	ctx := context.Background()
	require.NoError(t, tr.Upsert(ctx, []*types.TrackedFile{
		{Path: "a.html", ContentHash: "h", State: types.StateProcessed},
		{Path: "b.html", ContentHash: "h", State: types.StateProcessed},
		{Path: "c.html", ContentHash: "h", State: types.StateFailed},
	}))

	gone, err := tr.RemoveOrphans(ctx, []string{"a.html"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b.html", "c.html"}, gone)

	existing, err := tr.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, existing, 1)
	assert.Contains(t, existing, "a.html")

	gone, err = tr.RemoveOrphans(ctx, []string{"a.html"})
	require.NoError(t, err)
	assert.Empty(t, gone)
}

func TestDeprecateKeepsRowsUntilPurge(t *testing.T) {
	tr, store := newTestTracker(t, "1.0")
	ctx := context.Background()
	require.NoError(t, tr.Upsert(ctx, []*types.TrackedFile{
		{Path: "a.html", ContentHash: "h", State: types.StateProcessed},
	}))

	gone, err := tr.Deprecate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.html"}, gone)

	a, err := store.GetTrackedFile(ctx, "engine", "a.html")
	require.NoError(t, err)
	assert.Equal(t, types.StateDeprecated, a.State)

	n, err := tr.PurgeDeprecated(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok := tr.State("a.html")
	assert.False(t, ok)
}

func TestCounts(t *testing.T) {
	tr, _ := newTestTracker(t, "2.0")
	ctx := context.Background()
	require.NoError(t, tr.Upsert(ctx, []*types.TrackedFile{
		{Path: "a.html", ContentHash: "h", State: types.StateProcessed},
		{Path: "b.html", ContentHash: "h", State: types.StateFailed},
		{Path: "old.html", Version: "1.0", ContentHash: "h", State: types.StateProcessed},
	}))

	counts, err := tr.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[types.StateProcessed])
	assert.Equal(t, 1, counts[types.StateFailed])
}
