// Package resolve turns a target project path plus a shell snapshot into
// exactly one activation action. Resolve is a pure function: no I/O, no
// clock, and identical snapshots always produce identical decisions
// regardless of input ordering. Executing the action is the caller's job.
package resolve

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Match is the containment relation between a shell's cwd and the target.
type Match int

const (
	MatchNone   Match = iota
	MatchParent       // shell cwd is an ancestor of the target
	MatchChild        // shell cwd is inside the target
	MatchExact        // shell cwd equals the target
)

func (m Match) String() string {
	switch m {
	case MatchExact:
		return "exact"
	case MatchChild:
		return "child"
	case MatchParent:
		return "parent"
	default:
		return "none"
	}
}

// Rule bounds which containment relations are admitted as candidates. The
// zero value admits every relation.
type Rule int

const (
	RuleParent Rule = iota // any containment relation, ancestors included
	RuleChild              // the target's own tree only
	RuleExact              // exact cwd match only
)

func (r Rule) String() string {
	switch r {
	case RuleExact:
		return "exact"
	case RuleChild:
		return "child"
	default:
		return "parent"
	}
}

// ParseRule maps a rule name to its Rule. Empty means RuleParent.
func ParseRule(s string) (Rule, error) {
	switch s {
	case "", "parent":
		return RuleParent, nil
	case "child":
		return RuleChild, nil
	case "exact":
		return RuleExact, nil
	default:
		return RuleParent, fmt.Errorf("resolve: unknown rule %q", s)
	}
}

func (r Rule) admits(m Match) bool {
	switch r {
	case RuleExact:
		return m == MatchExact
	case RuleChild:
		return m >= MatchChild
	default:
		return m != MatchNone
	}
}

// Shell is one candidate source: a live-or-dead shell entry plus liveness,
// already probed by the caller. The resolver never touches the OS.
type Shell struct {
	PID                int
	Cwd                string
	TTY                string
	ParentApp          string
	MultiplexerSession string
	Alive              bool
	UpdatedAt          time.Time
}

// Snapshot is the full input to one resolution.
type Snapshot struct {
	TargetPath string
	Shells     []Shell

	// Rule bounds the containment relations considered. Zero value admits
	// exact, child and parent matches alike.
	Rule Rule

	// AttachedMuxSessions names multiplexer sessions that currently have at
	// least one attached client. Drives both the ranking tie-break and the
	// switch-vs-attach action choice.
	AttachedMuxSessions map[string]bool
}

// Candidate is a shell tagged with its containment match.
type Candidate struct {
	Shell
	Match Match
}

// ActionKind enumerates the activation verbs an executor can perform.
type ActionKind string

const (
	ActionFocusIDEWindow  ActionKind = "focus-ide-window"
	ActionSwitchMuxClient ActionKind = "switch-mux-client"
	ActionAttachMuxFresh  ActionKind = "attach-mux-fresh"
	ActionFocusTerminal   ActionKind = "focus-terminal"
	ActionLaunchTerminal  ActionKind = "launch-terminal"
)

// Action is one executable activation step.
type Action struct {
	Kind       ActionKind `json:"kind"`
	Path       string     `json:"path"`
	PID        int        `json:"pid,omitempty"`
	TTY        string     `json:"tty,omitempty"`
	ParentApp  string     `json:"parent_app,omitempty"`
	MuxSession string     `json:"mux_session,omitempty"`
}

// Decision is the resolver's output: a primary action and, where a retry is
// meaningful, a fallback the executor can try once without re-querying.
type Decision struct {
	TargetPath string     `json:"target_path"`
	Primary    Action     `json:"primary"`
	Fallback   *Action    `json:"fallback,omitempty"`
	Winner     *Candidate `json:"-"`
}

// ideApps are parent applications whose windows are activated directly
// instead of through a terminal.
var ideApps = map[string]bool{
	"vscode":   true,
	"code":     true,
	"cursor":   true,
	"windsurf": true,
	"zed":      true,
	"intellij": true,
	"goland":   true,
}

// IsIDE reports whether parentApp is a known IDE host.
func IsIDE(parentApp string) bool {
	return ideApps[strings.ToLower(parentApp)]
}

// MatchPath classifies cwd against target.
func MatchPath(cwd, target string) Match {
	cwd = filepath.Clean(cwd)
	target = filepath.Clean(target)
	switch {
	case cwd == target:
		return MatchExact
	case strings.HasPrefix(cwd, target+string(filepath.Separator)):
		return MatchChild
	case strings.HasPrefix(target, cwd+string(filepath.Separator)):
		return MatchParent
	default:
		return MatchNone
	}
}

// Resolve picks one activation action for the target path.
func Resolve(snap Snapshot) Decision {
	target := filepath.Clean(snap.TargetPath)

	var candidates []Candidate
	for _, sh := range snap.Shells {
		m := MatchPath(sh.Cwd, target)
		if !snap.Rule.admits(m) {
			continue
		}
		candidates = append(candidates, Candidate{Shell: sh, Match: m})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return less(&candidates[i], &candidates[j], snap.AttachedMuxSessions)
	})

	if len(candidates) == 0 || !candidates[0].Alive {
		// Nothing usable. Dead shells are ranked, not filtered, so a
		// dead winner lands here too: launch plain, no multiplexer.
		return Decision{
			TargetPath: target,
			Primary:    Action{Kind: ActionLaunchTerminal, Path: target},
		}
	}

	winner := candidates[0]
	return decide(target, winner, snap.AttachedMuxSessions)
}

// less is the explicit composite ranking key. True means a outranks b.
func less(a, b *Candidate, attached map[string]bool) bool {
	if a.Alive != b.Alive {
		return a.Alive
	}
	if a.Match != b.Match {
		return a.Match > b.Match
	}
	// Multiplexer preference is a tie-break only, and only while a client
	// is actually attached; it must never promote a worse match.
	am, bm := muxAttached(a, attached), muxAttached(b, attached)
	if am != bm {
		return am
	}
	az, bz := a.UpdatedAt.IsZero(), b.UpdatedAt.IsZero()
	if az != bz {
		return bz
	}
	if !az && !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.PID > b.PID
}

func muxAttached(c *Candidate, attached map[string]bool) bool {
	return c.MultiplexerSession != "" && attached[c.MultiplexerSession]
}

func decide(target string, winner Candidate, attached map[string]bool) Decision {
	launch := Action{Kind: ActionLaunchTerminal, Path: target}
	w := winner

	switch {
	case IsIDE(w.ParentApp):
		return Decision{
			TargetPath: target,
			Primary: Action{
				Kind:      ActionFocusIDEWindow,
				Path:      target,
				PID:       w.PID,
				TTY:       w.TTY,
				ParentApp: w.ParentApp,
			},
			Fallback: &launch,
			Winner:   &w,
		}

	case w.MultiplexerSession != "" && attached[w.MultiplexerSession]:
		fresh := Action{Kind: ActionAttachMuxFresh, Path: target, MuxSession: w.MultiplexerSession}
		return Decision{
			TargetPath: target,
			Primary: Action{
				Kind:       ActionSwitchMuxClient,
				Path:       target,
				MuxSession: w.MultiplexerSession,
			},
			Fallback: &fresh,
			Winner:   &w,
		}

	case w.MultiplexerSession != "":
		// No attached client: switching would target a client that does
		// not exist, so attach fresh instead.
		return Decision{
			TargetPath: target,
			Primary: Action{
				Kind:       ActionAttachMuxFresh,
				Path:       target,
				MuxSession: w.MultiplexerSession,
			},
			Fallback: &launch,
			Winner:   &w,
		}

	default:
		return Decision{
			TargetPath: target,
			Primary: Action{
				Kind:      ActionFocusTerminal,
				Path:      target,
				PID:       w.PID,
				TTY:       w.TTY,
				ParentApp: w.ParentApp,
			},
			Fallback: &launch,
			Winner:   &w,
		}
	}
}
