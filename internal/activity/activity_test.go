package activity

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusd/internal/statedb"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := statedb.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db, Options{
		Tools:         []string{"Edit", "Write", "Bash"},
		RootMarkers:   []string{".git", "go.mod"},
		MaxPerSession: 5,
	})
	require.NoError(t, err)
	return s
}

// makeProject creates a directory tree with a .git marker at the root.
func makeProject(t *testing.T) (root, file string) {
	t.Helper()
	root = t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	sub := filepath.Join(root, "internal", "pkg")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	file = filepath.Join(sub, "thing.go")
	require.NoError(t, os.WriteFile(file, []byte("package pkg\n"), 0o644))
	return root, file
}

func TestProjectRootDetection(t *testing.T) {
	s := newTestStore(t)
	root, file := makeProject(t)

	assert.Equal(t, root, s.ProjectRoot(file), "walks up to the marker")
	assert.Equal(t, root, s.ProjectRoot(filepath.Join(root, "top.go")))

	// No marker anywhere above: unattributable.
	outside := filepath.Join(t.TempDir(), "loose.txt")
	assert.Empty(t, s.ProjectRoot(outside))
}

func TestNoteAllowList(t *testing.T) {
	s := newTestStore(t)
	_, file := makeProject(t)
	now := time.Now()
	ctx := context.Background()

	s.Note(ctx, "s1", "Grep", file, now)
	assert.Empty(t, s.Recent("", time.Hour, now), "discovery tools are not recorded")

	s.Note(ctx, "s1", "Edit", file, now)
	recs := s.Recent("", time.Hour, now)
	require.Len(t, recs, 1)
	assert.Equal(t, "Edit", recs[0].Tool)
	assert.Equal(t, file, recs[0].FilePath)
}

func TestNoteRingBound(t *testing.T) {
	s := newTestStore(t)
	root, _ := makeProject(t)
	now := time.Now()
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		f := filepath.Join(root, "internal", "pkg", "thing.go")
		s.Note(ctx, "s1", "Edit", f, now.Add(time.Duration(i)*time.Second))
	}

	recs := s.Recent("", time.Hour, now.Add(time.Minute))
	require.Len(t, recs, 5, "ring keeps only the newest entries")
	assert.Equal(t, now.Add(7*time.Second).Unix(), recs[0].Timestamp.Unix(), "newest first")
}

func TestActiveUnder(t *testing.T) {
	s := newTestStore(t)
	root, file := makeProject(t)
	now := time.Now()
	ctx := context.Background()

	s.Note(ctx, "s1", "Edit", file, now.Add(-10*time.Minute))

	_, ok := s.ActiveUnder(root, 5*time.Minute, now)
	assert.False(t, ok, "outside the window")

	ts, ok := s.ActiveUnder(root, 30*time.Minute, now)
	require.True(t, ok)
	assert.Equal(t, now.Add(-10*time.Minute).Unix(), ts.Unix())

	_, ok = s.ActiveUnder("/somewhere/else", 30*time.Minute, now)
	assert.False(t, ok, "unrelated path")
}

func TestSweepRetention(t *testing.T) {
	s := newTestStore(t)
	_, file := makeProject(t)
	now := time.Now()
	ctx := context.Background()

	s.Note(ctx, "old", "Edit", file, now.Add(-48*time.Hour))
	s.Note(ctx, "new", "Edit", file, now.Add(-time.Minute))

	s.Sweep(ctx, 24*time.Hour, now)

	recs := s.Recent("", 30*24*time.Hour, now)
	require.Len(t, recs, 1)
	assert.Equal(t, "new", recs[0].SessionID)
}

func TestStateSurvivesReload(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")
	_, file := makeProject(t)
	now := time.Now()
	ctx := context.Background()
	opts := Options{Tools: []string{"Edit"}, RootMarkers: []string{".git"}, MaxPerSession: 5}

	db, err := statedb.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	s, err := NewStore(db, opts)
	require.NoError(t, err)
	s.Note(ctx, "s1", "Edit", file, now)
	require.NoError(t, db.Close())

	db2, err := statedb.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, db2.Migrate())
	defer db2.Close()
	s2, err := NewStore(db2, opts)
	require.NoError(t, err)

	recs := s2.Recent("", time.Hour, now.Add(time.Second))
	require.Len(t, recs, 1)
	assert.Equal(t, file, recs[0].FilePath)
}
