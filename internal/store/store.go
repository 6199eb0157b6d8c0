package store

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"focusd/internal/activity"
	"focusd/internal/config"
	"focusd/internal/logging"
	"focusd/internal/protocol"
	"focusd/internal/statedb"
)

var storeLog = logging.ForComponent(logging.CompStore)

const (
	stripeCount = 32

	// dedupeCapacity bounds the seen-event-id window. Hooks retry on
	// transport errors, so delivery is at-least-once; replays inside this
	// window are acknowledged without re-applying.
	dedupeCapacity = 1024

	persistAttempts = 3
	persistTimeout  = 2 * time.Second
)

// PersistError reports that an event was applied in memory but could not be
// made durable within the retry budget. It maps to persistence_error on the
// wire.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("store: persist %s: %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Store is the daemon's in-memory state with a sqlite mirror. All exported
// methods are safe for concurrent use; events for the same session are
// serialized by a striped lock so the reducer always sees the latest record.
type Store struct {
	db       *statedb.StateDB
	activity *activity.Store
	prober   *Prober
	cfg      *config.Store

	rulesMu sync.RWMutex
	rules   Rules

	stripes [stripeCount]sync.Mutex

	mu         sync.RWMutex
	sessions   map[string]*SessionRecord
	tombstones map[string]*Tombstone
	shells     map[int]*ShellEntry

	dedupeMu  sync.Mutex
	seen      map[string]bool
	seenOrder []string

	startedAt     time.Time
	eventsApplied atomic.Int64
}

// New builds a store over db, loading whatever state survived the last run.
func New(db *statedb.StateDB, act *activity.Store, cfgStore *config.Store) (*Store, error) {
	cfg := cfgStore.Get()
	s := &Store{
		db:         db,
		activity:   act,
		prober:     NewProber(cfg.TrustWindow()),
		cfg:        cfgStore,
		rules:      RulesFrom(cfg.Transition),
		sessions:   make(map[string]*SessionRecord),
		tombstones: make(map[string]*Tombstone),
		shells:     make(map[int]*ShellEntry),
		seen:       make(map[string]bool),
		startedAt:  time.Now(),
	}

	sessions, err := db.LoadSessions()
	if err != nil {
		return nil, fmt.Errorf("store: load sessions: %w", err)
	}
	for _, row := range sessions {
		s.sessions[row.SessionID] = &SessionRecord{
			SessionID:      row.SessionID,
			ProjectPath:    row.ProjectPath,
			PID:            row.PID,
			State:          protocol.SessionState(row.State),
			StateChangedAt: row.StateChangedAt,
			LastEvent:      row.LastEvent,
			LastActivityAt: row.LastActivityAt,
			ToolsInFlight:  row.ToolsInFlight,
			ReadyReason:    row.ReadyReason,
			CreatedAt:      row.CreatedAt,
			UpdatedAt:      row.UpdatedAt,
		}
	}

	tombstones, err := db.LoadTombstones()
	if err != nil {
		return nil, fmt.Errorf("store: load tombstones: %w", err)
	}
	for _, row := range tombstones {
		s.tombstones[row.SessionID] = &Tombstone{
			SessionID: row.SessionID,
			EndedAt:   row.EndedAt,
			Reason:    row.Reason,
		}
	}

	shells, err := db.LoadShells()
	if err != nil {
		return nil, fmt.Errorf("store: load shells: %w", err)
	}
	for _, row := range shells {
		s.shells[row.PID] = &ShellEntry{
			PID:                row.PID,
			Cwd:                row.Cwd,
			TTY:                row.TTY,
			ParentApp:          row.ParentApp,
			MultiplexerSession: row.MultiplexerSession,
			UpdatedAt:          row.UpdatedAt,
		}
	}

	storeLog.Info("state_loaded",
		slog.Int("sessions", len(s.sessions)),
		slog.Int("tombstones", len(s.tombstones)),
		slog.Int("shells", len(s.shells)))
	return s, nil
}

// SetRules swaps the transition rules after a config reload.
func (s *Store) SetRules(r Rules) {
	s.rulesMu.Lock()
	s.rules = r
	s.rulesMu.Unlock()
}

// Prober exposes the liveness prober for the get_process_liveness handler.
func (s *Store) Prober() *Prober { return s.prober }

func (s *Store) currentRules() Rules {
	s.rulesMu.RLock()
	defer s.rulesMu.RUnlock()
	return s.rules
}

func stripeFor(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() % stripeCount
}

// markSeen records event id and reports whether it was already seen. The
// window is a FIFO of dedupeCapacity ids.
func (s *Store) markSeen(id string) bool {
	s.dedupeMu.Lock()
	defer s.dedupeMu.Unlock()
	if s.seen[id] {
		return true
	}
	s.seen[id] = true
	s.seenOrder = append(s.seenOrder, id)
	if len(s.seenOrder) > dedupeCapacity {
		oldest := s.seenOrder[0]
		s.seenOrder = s.seenOrder[1:]
		delete(s.seen, oldest)
	}
	return false
}

// ApplyEvent runs one validated event through the reducer and persists the
// outcome. The in-memory commit happens first; if the durable write fails
// after bounded retries the result is still returned alongside a
// *PersistError, since readers already observe the new state.
func (s *Store) ApplyEvent(ctx context.Context, ev *protocol.Event) (*protocol.EventResult, error) {
	if s.markSeen(ev.EventID) {
		return &protocol.EventResult{EventID: ev.EventID, Applied: false, Duplicate: true}, nil
	}
	// Per-event log lines would swamp the log under tool-heavy turns; the
	// aggregator batches them into periodic summaries.
	logging.Aggregate(logging.CompStore, string(ev.EventType))

	if ev.EventType == protocol.EventShellCwdChanged {
		return s.applyShellEvent(ctx, ev)
	}
	return s.applySessionEvent(ctx, ev)
}

func (s *Store) applyShellEvent(ctx context.Context, ev *protocol.Event) (*protocol.EventResult, error) {
	entry := &ShellEntry{
		PID:                ev.PID,
		Cwd:                ev.Cwd,
		TTY:                ev.TTY,
		ParentApp:          ev.ParentApp,
		MultiplexerSession: ev.MultiplexerSession,
		UpdatedAt:          ev.RecordedAt,
	}

	s.mu.Lock()
	s.shells[ev.PID] = entry
	s.mu.Unlock()
	s.eventsApplied.Add(1)

	res := &protocol.EventResult{EventID: ev.EventID, Applied: true}
	err := s.persist(ctx, "shell", func(pctx context.Context) error {
		return s.db.UpsertShell(pctx, &statedb.ShellRow{
			PID:                entry.PID,
			Cwd:                entry.Cwd,
			TTY:                entry.TTY,
			ParentApp:          entry.ParentApp,
			MultiplexerSession: entry.MultiplexerSession,
			UpdatedAt:          entry.UpdatedAt,
		})
	})
	return res, err
}

func (s *Store) applySessionEvent(ctx context.Context, ev *protocol.Event) (*protocol.EventResult, error) {
	stripe := &s.stripes[stripeFor(ev.SessionID)]
	stripe.Lock()
	defer stripe.Unlock()

	s.mu.RLock()
	prev := s.sessions[ev.SessionID]
	_, tombstoned := s.tombstones[ev.SessionID]
	s.mu.RUnlock()

	// A tombstoned id stays dead unless an explicit session-start reopens
	// it. This is what keeps a reused pid from resurrecting an old session.
	if tombstoned && ev.EventType != protocol.EventSessionStart {
		storeLog.Debug("event_for_tombstoned_session",
			slog.String("session_id", ev.SessionID),
			slog.String("event_type", string(ev.EventType)))
		return &protocol.EventResult{EventID: ev.EventID, Applied: false}, nil
	}

	if tombstoned {
		prev = nil
	}

	// Only session-start may open a record. Anything else for an unknown id
	// is a stray (lost start, daemon restart with a wiped db) and must not
	// conjure state out of thin air.
	if prev == nil && ev.EventType != protocol.EventSessionStart {
		storeLog.Debug("event_for_unknown_session",
			slog.String("session_id", ev.SessionID),
			slog.String("event_type", string(ev.EventType)))
		return &protocol.EventResult{EventID: ev.EventID, Applied: false}, nil
	}

	next, ended := Reduce(prev, ev, s.currentRules())

	if ended {
		ts := &Tombstone{SessionID: ev.SessionID, EndedAt: ev.RecordedAt, Reason: TombstoneSessionEnd}
		s.mu.Lock()
		delete(s.sessions, ev.SessionID)
		s.tombstones[ev.SessionID] = ts
		s.mu.Unlock()
		s.eventsApplied.Add(1)
		s.activity.DropSession(ev.SessionID)

		res := &protocol.EventResult{EventID: ev.EventID, Applied: true}
		err := s.persist(ctx, "session-end", func(pctx context.Context) error {
			if err := s.db.DeleteSession(pctx, ev.SessionID); err != nil {
				return err
			}
			return s.db.InsertTombstone(pctx, &statedb.TombstoneRow{
				SessionID: ts.SessionID, EndedAt: ts.EndedAt, Reason: ts.Reason,
			})
		})
		return res, err
	}

	s.mu.Lock()
	s.sessions[ev.SessionID] = next
	clearedTombstone := false
	if tombstoned {
		delete(s.tombstones, ev.SessionID)
		clearedTombstone = true
	}
	s.mu.Unlock()
	s.eventsApplied.Add(1)

	if ev.EventType == protocol.EventPostToolUse {
		s.activity.Note(ctx, ev.SessionID, ev.Tool, ev.FilePath, ev.RecordedAt)
	}

	res := &protocol.EventResult{EventID: ev.EventID, Applied: true}
	err := s.persist(ctx, "session", func(pctx context.Context) error {
		if clearedTombstone {
			if err := s.db.DeleteTombstone(pctx, ev.SessionID); err != nil {
				return err
			}
		}
		return s.db.UpsertSession(pctx, &statedb.SessionRow{
			SessionID:      next.SessionID,
			ProjectPath:    next.ProjectPath,
			PID:            next.PID,
			State:          string(next.State),
			StateChangedAt: next.StateChangedAt,
			LastEvent:      next.LastEvent,
			LastActivityAt: next.LastActivityAt,
			ToolsInFlight:  next.ToolsInFlight,
			ReadyReason:    next.ReadyReason,
			CreatedAt:      next.CreatedAt,
			UpdatedAt:      next.UpdatedAt,
		})
	})
	return res, err
}

// persist runs op with a bounded retry budget. Failure never unwinds the
// in-memory commit; it surfaces as *PersistError so the caller can report
// degraded durability.
func (s *Store) persist(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		pctx, cancel := context.WithTimeout(ctx, persistTimeout)
		lastErr = fn(pctx)
		cancel()
		if lastErr == nil {
			// Stamp the change so clients polling get_health can detect
			// mutations without pulling full snapshots.
			if err := s.db.Touch(); err != nil {
				storeLog.Warn("touch_failed", slog.String("error", err.Error()))
			}
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
	}
	storeLog.Error("persist_failed",
		slog.String("op", op),
		slog.Int("attempts", persistAttempts),
		slog.String("error", lastErr.Error()))
	return &PersistError{Op: op, Err: lastErr}
}

// Sessions returns all session records with liveness and idle derivation
// applied, ordered by most recent update.
func (s *Store) Sessions(now time.Time) []protocol.SessionInfo {
	cfg := s.cfg.Get()
	idleAfter := cfg.IdleAfter()

	s.mu.RLock()
	records := make([]*SessionRecord, 0, len(s.sessions))
	for _, rec := range s.sessions {
		records = append(records, rec.Clone())
	}
	s.mu.RUnlock()

	out := make([]protocol.SessionInfo, 0, len(records))
	for _, rec := range records {
		out = append(out, protocol.SessionInfo{
			SessionID:      rec.SessionID,
			ProjectPath:    rec.ProjectPath,
			PID:            rec.PID,
			State:          DeriveState(rec, idleAfter, now),
			StateChangedAt: rec.StateChangedAt,
			LastEvent:      rec.LastEvent,
			LastActivityAt: rec.LastActivityAt,
			ToolsInFlight:  rec.ToolsInFlight,
			ReadyReason:    rec.ReadyReason,
			Alive:          s.prober.Alive(rec.PID, rec.UpdatedAt, now),
			CreatedAt:      rec.CreatedAt,
			UpdatedAt:      rec.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// Shells returns all live shell entries, newest first.
func (s *Store) Shells() []protocol.ShellInfo {
	s.mu.RLock()
	out := make([]protocol.ShellInfo, 0, len(s.shells))
	for _, sh := range s.shells {
		out = append(out, protocol.ShellInfo{
			PID:                sh.PID,
			Cwd:                sh.Cwd,
			TTY:                sh.TTY,
			ParentApp:          sh.ParentApp,
			MultiplexerSession: sh.MultiplexerSession,
			UpdatedAt:          sh.UpdatedAt,
		})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// Tombstones returns the retired session set, newest first.
func (s *Store) Tombstones() []protocol.TombstoneInfo {
	s.mu.RLock()
	out := make([]protocol.TombstoneInfo, 0, len(s.tombstones))
	for _, ts := range s.tombstones {
		out = append(out, protocol.TombstoneInfo{
			SessionID: ts.SessionID,
			EndedAt:   ts.EndedAt,
			Reason:    ts.Reason,
		})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].EndedAt.After(out[j].EndedAt) })
	return out
}

// Health answers get_health.
func (s *Store) Health(pid int, version string) protocol.HealthInfo {
	s.mu.RLock()
	sessions := len(s.sessions)
	shells := len(s.shells)
	s.mu.RUnlock()
	var modified time.Time
	if ns, err := s.db.LastModified(); err == nil && ns > 0 {
		modified = time.Unix(0, ns)
	}
	return protocol.HealthInfo{
		Status:        "ok",
		PID:           pid,
		Version:       version,
		StartedAt:     s.startedAt,
		SessionCount:  sessions,
		ShellCount:    shells,
		EventsApplied: s.eventsApplied.Load(),
		LastModified:  modified,
	}
}

// Sweep is the periodic maintenance pass: sessions whose process died and
// stayed dead past the grace period become liveness tombstones, shells for
// dead pids are dropped, and tombstones and activity past retention are
// purged. Sweep never changes a live session's state.
func (s *Store) Sweep(ctx context.Context, now time.Time) {
	cfg := s.cfg.Get()
	grace := cfg.Grace()
	retention := cfg.Retention()

	s.mu.RLock()
	sessions := make([]*SessionRecord, 0, len(s.sessions))
	for _, rec := range s.sessions {
		sessions = append(sessions, rec.Clone())
	}
	shells := make([]*ShellEntry, 0, len(s.shells))
	for _, sh := range s.shells {
		shells = append(shells, sh)
	}
	s.mu.RUnlock()

	for _, rec := range sessions {
		if s.prober.Alive(rec.PID, rec.UpdatedAt, now) {
			continue
		}
		if now.Sub(rec.UpdatedAt) < grace {
			continue
		}

		stripe := &s.stripes[stripeFor(rec.SessionID)]
		stripe.Lock()
		s.mu.Lock()
		current, ok := s.sessions[rec.SessionID]
		// Re-check under the lock: an event may have arrived since the
		// snapshot, and a fresh record must not be tombstoned.
		if !ok || current.UpdatedAt.After(rec.UpdatedAt) {
			s.mu.Unlock()
			stripe.Unlock()
			continue
		}
		ts := &Tombstone{SessionID: rec.SessionID, EndedAt: now, Reason: TombstoneLiveness}
		delete(s.sessions, rec.SessionID)
		s.tombstones[rec.SessionID] = ts
		s.mu.Unlock()
		stripe.Unlock()

		s.activity.DropSession(rec.SessionID)
		storeLog.Info("session_tombstoned",
			slog.String("session_id", rec.SessionID),
			slog.Int("pid", rec.PID),
			slog.String("reason", TombstoneLiveness))

		if err := s.persist(ctx, "sweep-tombstone", func(pctx context.Context) error {
			if err := s.db.DeleteSession(pctx, rec.SessionID); err != nil {
				return err
			}
			return s.db.InsertTombstone(pctx, &statedb.TombstoneRow{
				SessionID: ts.SessionID, EndedAt: ts.EndedAt, Reason: ts.Reason,
			})
		}); err != nil {
			storeLog.Warn("sweep_persist_failed", slog.String("error", err.Error()))
		}
	}

	for _, sh := range shells {
		if s.prober.Alive(sh.PID, sh.UpdatedAt, now) {
			continue
		}
		if now.Sub(sh.UpdatedAt) < grace {
			continue
		}
		s.mu.Lock()
		current, ok := s.shells[sh.PID]
		if !ok || current.UpdatedAt.After(sh.UpdatedAt) {
			s.mu.Unlock()
			continue
		}
		delete(s.shells, sh.PID)
		s.mu.Unlock()
		if err := s.db.DeleteShell(ctx, sh.PID); err != nil {
			storeLog.Warn("shell_delete_failed", slog.Int("pid", sh.PID), slog.String("error", err.Error()))
		}
	}

	cutoff := now.Add(-retention)
	s.mu.Lock()
	for id, ts := range s.tombstones {
		if ts.EndedAt.Before(cutoff) {
			delete(s.tombstones, id)
		}
	}
	s.mu.Unlock()
	if _, err := s.db.SweepTombstones(ctx, cutoff); err != nil {
		storeLog.Warn("tombstone_sweep_failed", slog.String("error", err.Error()))
	}

	s.activity.Sweep(ctx, retention, now)
	s.prober.Prune(now)
}
