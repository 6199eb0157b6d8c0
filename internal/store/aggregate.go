package store

import (
	"path/filepath"
	"sort"
	"strings"
	"time"

	"focusd/internal/protocol"
)

// Aggregate sources, in precedence order.
const (
	SourceSessions = "sessions"
	SourceActivity = "activity"
	SourceNone     = "none"
)

// ProjectStates folds live sessions into one state per project path: Idle
// when every contributor is Idle or absent, otherwise the state of the
// most-recently-changed non-Idle contributor. When the session signal for a
// path is Idle or absent, recent file activity lifts it to Working. With a
// path filter the answer always
// contains an entry for that path, Source "none" when neither signal has
// anything.
func (s *Store) ProjectStates(path string, now time.Time) []protocol.ProjectStateInfo {
	cfg := s.cfg.Get()
	staleness := cfg.Staleness()

	sessions := s.Sessions(now)

	byProject := make(map[string]*protocol.ProjectStateInfo)
	contributor := make(map[string]string)
	for _, sess := range sessions {
		if !sess.Alive {
			continue
		}
		if path != "" && !underPath(sess.ProjectPath, path) {
			continue
		}
		agg, ok := byProject[sess.ProjectPath]
		if !ok {
			agg = &protocol.ProjectStateInfo{
				ProjectPath: sess.ProjectPath,
				State:       protocol.StateIdle,
				Source:      SourceSessions,
			}
			byProject[sess.ProjectPath] = agg
		}
		agg.SessionCount++
		if sess.State == protocol.StateIdle {
			if agg.State == protocol.StateIdle && sess.StateChangedAt.After(agg.StateChangedAt) {
				agg.StateChangedAt = sess.StateChangedAt
			}
			continue
		}
		agg.HasActiveSession = true
		// Among non-Idle contributors the most recent state change wins;
		// break timestamp ties by session id so map order never decides.
		if agg.State == protocol.StateIdle ||
			sess.StateChangedAt.After(agg.StateChangedAt) ||
			(sess.StateChangedAt.Equal(agg.StateChangedAt) && sess.SessionID < contributor[sess.ProjectPath]) {
			agg.State = sess.State
			agg.StateChangedAt = sess.StateChangedAt
			contributor[sess.ProjectPath] = sess.SessionID
		}
	}

	// Fallback: recent file touches lift a project whose session signal is
	// Idle or absent. A non-Idle session signal always wins.
	for _, rec := range s.activity.Recent(path, staleness, now) {
		agg, ok := byProject[rec.ProjectPath]
		if !ok {
			byProject[rec.ProjectPath] = &protocol.ProjectStateInfo{
				ProjectPath:    rec.ProjectPath,
				State:          protocol.StateWorking,
				StateChangedAt: rec.Timestamp,
				Source:         SourceActivity,
			}
			continue
		}
		if agg.State != protocol.StateIdle {
			continue
		}
		agg.State = protocol.StateWorking
		agg.StateChangedAt = rec.Timestamp
		agg.Source = SourceActivity
	}

	out := make([]protocol.ProjectStateInfo, 0, len(byProject))
	for _, agg := range byProject {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StateChangedAt.Equal(out[j].StateChangedAt) {
			return out[i].ProjectPath < out[j].ProjectPath
		}
		return out[i].StateChangedAt.After(out[j].StateChangedAt)
	})

	if path != "" && len(out) == 0 {
		out = append(out, protocol.ProjectStateInfo{
			ProjectPath: path,
			State:       protocol.StateIdle,
			Source:      SourceNone,
		})
	}
	return out
}

// underPath reports whether p equals base or lies beneath it.
func underPath(p, base string) bool {
	p = filepath.Clean(p)
	base = filepath.Clean(base)
	return p == base || strings.HasPrefix(p, base+string(filepath.Separator))
}

// Activity exposes recent touches for the get_activity handler.
func (s *Store) Activity(path string, window time.Duration, now time.Time) []protocol.ActivityInfo {
	if window <= 0 {
		window = s.cfg.Get().Staleness()
	}
	recs := s.activity.Recent(path, window, now)
	out := make([]protocol.ActivityInfo, 0, len(recs))
	for _, r := range recs {
		out = append(out, protocol.ActivityInfo{
			SessionID:   r.SessionID,
			ProjectPath: r.ProjectPath,
			FilePath:    r.FilePath,
			Tool:        r.Tool,
			Timestamp:   r.Timestamp,
		})
	}
	return out
}
