// Package activity is the secondary, best-effort signal: recent file touches
// per session, attributed to projects by boundary detection. It is consulted
// only when the primary session aggregation has nothing to say and never
// overrides it.
package activity

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"focusd/internal/logging"
	"focusd/internal/statedb"
)

var actLog = logging.ForComponent(logging.CompActivity)

// Record is one recorded file touch.
type Record struct {
	SessionID   string
	ProjectPath string
	FilePath    string
	Tool        string
	Timestamp   time.Time
}

// Store keeps a bounded per-session ring of touches in memory, mirrored to
// the database for durability. Reads are served from memory.
type Store struct {
	db *statedb.StateDB

	mu          sync.RWMutex
	perSession  map[string][]Record
	allowTools  map[string]bool
	rootMarkers []string
	maxPer      int
}

// Options configures a Store.
type Options struct {
	Tools         []string
	RootMarkers   []string
	MaxPerSession int
}

// NewStore builds a store over db and loads surviving rows.
func NewStore(db *statedb.StateDB, opts Options) (*Store, error) {
	if opts.MaxPerSession <= 0 {
		opts.MaxPerSession = 50
	}
	allow := make(map[string]bool, len(opts.Tools))
	for _, t := range opts.Tools {
		allow[t] = true
	}

	s := &Store{
		db:          db,
		perSession:  make(map[string][]Record),
		allowTools:  allow,
		rootMarkers: opts.RootMarkers,
		maxPer:      opts.MaxPerSession,
	}

	rows, err := db.LoadActivity()
	if err != nil {
		return nil, err
	}
	// Rows arrive newest first; rings are kept newest first too.
	for _, r := range rows {
		ring := s.perSession[r.SessionID]
		if len(ring) >= s.maxPer {
			continue
		}
		s.perSession[r.SessionID] = append(ring, Record{
			SessionID:   r.SessionID,
			ProjectPath: r.ProjectPath,
			FilePath:    r.FilePath,
			Tool:        r.Tool,
			Timestamp:   r.Timestamp,
		})
	}
	return s, nil
}

// SetTunables swaps the allow-list and ring bound after a config reload.
func (s *Store) SetTunables(tools, rootMarkers []string, maxPerSession int) {
	allow := make(map[string]bool, len(tools))
	for _, t := range tools {
		allow[t] = true
	}
	s.mu.Lock()
	s.allowTools = allow
	if len(rootMarkers) > 0 {
		s.rootMarkers = rootMarkers
	}
	if maxPerSession > 0 {
		s.maxPer = maxPerSession
	}
	s.mu.Unlock()
}

// Allowed reports whether tool is on the recording allow-list.
func (s *Store) Allowed(tool string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allowTools[tool]
}

// Note records one tool touch if the tool is allow-listed and the file can
// be attributed to a project root. Recording is best-effort: database errors
// are logged, not surfaced, since this signal is never authoritative.
func (s *Store) Note(ctx context.Context, sessionID, tool, filePath string, at time.Time) {
	if sessionID == "" || filePath == "" || !s.Allowed(tool) {
		return
	}
	project := s.ProjectRoot(filePath)
	if project == "" {
		return
	}

	rec := Record{
		SessionID:   sessionID,
		ProjectPath: project,
		FilePath:    filePath,
		Tool:        tool,
		Timestamp:   at,
	}

	s.mu.Lock()
	ring := append([]Record{rec}, s.perSession[sessionID]...)
	if len(ring) > s.maxPer {
		ring = ring[:s.maxPer]
	}
	s.perSession[sessionID] = ring
	s.mu.Unlock()

	if err := s.db.InsertActivity(ctx, &statedb.ActivityRow{
		SessionID:   rec.SessionID,
		ProjectPath: rec.ProjectPath,
		FilePath:    rec.FilePath,
		Tool:        rec.Tool,
		Timestamp:   rec.Timestamp,
	}); err != nil {
		actLog.Warn("activity_persist_failed", slog.String("error", err.Error()))
		return
	}
	if err := s.db.TrimActivity(ctx, sessionID, s.maxPer); err != nil {
		actLog.Warn("activity_trim_failed", slog.String("error", err.Error()))
	}
}

// ProjectRoot walks upward from filePath to the nearest ancestor directory
// containing a recognized root marker. Returns "" when no boundary is found
// before the filesystem root.
func (s *Store) ProjectRoot(filePath string) string {
	s.mu.RLock()
	markers := s.rootMarkers
	s.mu.RUnlock()

	dir := filepath.Dir(filePath)
	for {
		for _, m := range markers {
			if _, err := os.Stat(filepath.Join(dir, m)); err == nil {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// ActiveUnder reports whether any recorded touch under path is newer than
// now-window, and when so, the newest such timestamp.
func (s *Store) ActiveUnder(path string, window time.Duration, now time.Time) (time.Time, bool) {
	cutoff := now.Add(-window)
	var newest time.Time

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ring := range s.perSession {
		for _, rec := range ring {
			if rec.Timestamp.Before(cutoff) {
				continue
			}
			if !underPath(rec.ProjectPath, path) && !underPath(rec.FilePath, path) {
				continue
			}
			if rec.Timestamp.After(newest) {
				newest = rec.Timestamp
			}
		}
	}
	return newest, !newest.IsZero()
}

// Recent returns touches newer than now-window, optionally filtered to a
// path prefix, newest first.
func (s *Store) Recent(path string, window time.Duration, now time.Time) []Record {
	cutoff := now.Add(-window)
	var out []Record

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ring := range s.perSession {
		for _, rec := range ring {
			if rec.Timestamp.Before(cutoff) {
				continue
			}
			if path != "" && !underPath(rec.ProjectPath, path) && !underPath(rec.FilePath, path) {
				continue
			}
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// DropSession removes the ring for a retired session.
func (s *Store) DropSession(sessionID string) {
	s.mu.Lock()
	delete(s.perSession, sessionID)
	s.mu.Unlock()
}

// Sweep removes entries older than retention from memory and the database,
// and drops sessions whose rings emptied out.
func (s *Store) Sweep(ctx context.Context, retention time.Duration, now time.Time) {
	cutoff := now.Add(-retention)

	s.mu.Lock()
	for id, ring := range s.perSession {
		kept := ring[:0]
		for _, rec := range ring {
			if !rec.Timestamp.Before(cutoff) {
				kept = append(kept, rec)
			}
		}
		if len(kept) == 0 {
			delete(s.perSession, id)
		} else {
			s.perSession[id] = kept
		}
	}
	s.mu.Unlock()

	if n, err := s.db.SweepActivity(ctx, cutoff); err != nil {
		actLog.Warn("activity_sweep_failed", slog.String("error", err.Error()))
	} else if n > 0 {
		actLog.Debug("activity_swept", slog.Int64("rows", n))
	}
}

// underPath reports whether p equals base or lies beneath it.
func underPath(p, base string) bool {
	p = filepath.Clean(p)
	base = filepath.Clean(base)
	if p == base {
		return true
	}
	return strings.HasPrefix(p, base+string(filepath.Separator))
}
