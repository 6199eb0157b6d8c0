package resolve

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchPath(t *testing.T) {
	assert.Equal(t, MatchExact, MatchPath("/home/dev/proj", "/home/dev/proj"))
	assert.Equal(t, MatchChild, MatchPath("/home/dev/proj/sub", "/home/dev/proj"))
	assert.Equal(t, MatchParent, MatchPath("/home/dev", "/home/dev/proj"))
	assert.Equal(t, MatchNone, MatchPath("/home/dev/projx", "/home/dev/proj"))
	assert.Equal(t, MatchNone, MatchPath("/var/log", "/home/dev/proj"))
}

func TestResolveNoCandidates(t *testing.T) {
	dec := Resolve(Snapshot{TargetPath: "/home/dev/proj"})
	assert.Equal(t, ActionLaunchTerminal, dec.Primary.Kind)
	assert.Equal(t, "/home/dev/proj", dec.Primary.Path)
	assert.Empty(t, dec.Primary.MuxSession, "launch after no match must not involve a multiplexer")
	assert.Nil(t, dec.Fallback)
}

func TestResolveDeadWinnerLaunches(t *testing.T) {
	dec := Resolve(Snapshot{
		TargetPath: "/home/dev/proj",
		Shells: []Shell{
			{PID: 100, Cwd: "/home/dev/proj", Alive: false},
		},
	})
	assert.Equal(t, ActionLaunchTerminal, dec.Primary.Kind)
}

func TestResolveLivenessBeatsSpecificity(t *testing.T) {
	dec := Resolve(Snapshot{
		TargetPath: "/home/dev/proj",
		Shells: []Shell{
			{PID: 100, Cwd: "/home/dev/proj", Alive: false},
			{PID: 200, Cwd: "/home/dev/proj/sub", Alive: true},
		},
	})
	require.NotNil(t, dec.Winner)
	assert.Equal(t, 200, dec.Winner.PID, "live child beats dead exact")
	assert.Equal(t, MatchChild, dec.Winner.Match)
}

func TestResolveSpecificityOrder(t *testing.T) {
	dec := Resolve(Snapshot{
		TargetPath: "/home/dev/proj",
		Shells: []Shell{
			{PID: 100, Cwd: "/home/dev", Alive: true},
			{PID: 200, Cwd: "/home/dev/proj/sub", Alive: true},
			{PID: 300, Cwd: "/home/dev/proj", Alive: true},
		},
	})
	require.NotNil(t, dec.Winner)
	assert.Equal(t, 300, dec.Winner.PID)
}

func TestParseRule(t *testing.T) {
	for name, want := range map[string]Rule{
		"":       RuleParent,
		"parent": RuleParent,
		"child":  RuleChild,
		"exact":  RuleExact,
	} {
		r, err := ParseRule(name)
		require.NoError(t, err)
		assert.Equal(t, want, r, "rule %q", name)
	}
	_, err := ParseRule("sibling")
	assert.Error(t, err)
}

func TestResolveRuleFiltersCandidates(t *testing.T) {
	shells := []Shell{
		{PID: 100, Cwd: "/home/dev", Alive: true},
		{PID: 200, Cwd: "/home/dev/proj/sub", Alive: true},
	}

	// Default rule admits the ancestor shell once nothing tighter matches.
	dec := Resolve(Snapshot{TargetPath: "/home/dev/proj", Shells: shells[:1]})
	require.NotNil(t, dec.Winner)
	assert.Equal(t, MatchParent, dec.Winner.Match)

	// RuleChild drops ancestors; the child shell wins.
	dec = Resolve(Snapshot{TargetPath: "/home/dev/proj", Shells: shells, Rule: RuleChild})
	require.NotNil(t, dec.Winner)
	assert.Equal(t, 200, dec.Winner.PID)

	// RuleExact admits nothing here: launch fresh.
	dec = Resolve(Snapshot{TargetPath: "/home/dev/proj", Shells: shells, Rule: RuleExact})
	assert.Nil(t, dec.Winner)
	assert.Equal(t, ActionLaunchTerminal, dec.Primary.Kind)
}

func TestResolveMuxTieBreakGating(t *testing.T) {
	shells := []Shell{
		{PID: 100, Cwd: "/home/dev/proj", Alive: true},
		{PID: 50, Cwd: "/home/dev/proj", Alive: true, MultiplexerSession: "work"},
	}

	// Client attached: the mux-bound candidate wins the tie and the action
	// is a client switch.
	dec := Resolve(Snapshot{
		TargetPath:          "/home/dev/proj",
		Shells:              shells,
		AttachedMuxSessions: map[string]bool{"work": true},
	})
	require.NotNil(t, dec.Winner)
	assert.Equal(t, 50, dec.Winner.PID)
	assert.Equal(t, ActionSwitchMuxClient, dec.Primary.Kind)
	assert.Equal(t, "work", dec.Primary.MuxSession)

	// No client attached: the tie-break is off and the plain shell's higher
	// pid wins.
	dec = Resolve(Snapshot{
		TargetPath: "/home/dev/proj",
		Shells:     shells,
	})
	require.NotNil(t, dec.Winner)
	assert.Equal(t, 100, dec.Winner.PID)
	assert.Equal(t, ActionFocusTerminal, dec.Primary.Kind)
}

func TestResolveUnattachedMuxAttachesFresh(t *testing.T) {
	dec := Resolve(Snapshot{
		TargetPath: "/home/dev/proj",
		Shells: []Shell{
			{PID: 100, Cwd: "/home/dev/proj", Alive: true, MultiplexerSession: "work"},
		},
	})
	assert.Equal(t, ActionAttachMuxFresh, dec.Primary.Kind, "never switch a client that does not exist")
	assert.Equal(t, "work", dec.Primary.MuxSession)
	require.NotNil(t, dec.Fallback)
	assert.Equal(t, ActionLaunchTerminal, dec.Fallback.Kind)
}

func TestResolveIDEWindow(t *testing.T) {
	dec := Resolve(Snapshot{
		TargetPath: "/home/dev/proj",
		Shells: []Shell{
			{PID: 100, Cwd: "/home/dev/proj", Alive: true, ParentApp: "vscode"},
		},
	})
	assert.Equal(t, ActionFocusIDEWindow, dec.Primary.Kind)
	assert.Equal(t, "vscode", dec.Primary.ParentApp)
	require.NotNil(t, dec.Fallback)
	assert.Equal(t, ActionLaunchTerminal, dec.Fallback.Kind)
}

func TestResolveTimestampAndPIDTieBreaks(t *testing.T) {
	now := time.Now()
	dec := Resolve(Snapshot{
		TargetPath: "/home/dev/proj",
		Shells: []Shell{
			{PID: 900, Cwd: "/home/dev/proj", Alive: true},
			{PID: 100, Cwd: "/home/dev/proj", Alive: true, UpdatedAt: now},
		},
	})
	require.NotNil(t, dec.Winner)
	assert.Equal(t, 100, dec.Winner.PID, "a real timestamp outranks a missing one")

	dec = Resolve(Snapshot{
		TargetPath: "/home/dev/proj",
		Shells: []Shell{
			{PID: 100, Cwd: "/home/dev/proj", Alive: true, UpdatedAt: now},
			{PID: 900, Cwd: "/home/dev/proj", Alive: true, UpdatedAt: now},
		},
	})
	require.NotNil(t, dec.Winner)
	assert.Equal(t, 900, dec.Winner.PID, "equal timestamps fall through to pid")
}

// TestResolveDeterminism shuffles the candidate list and requires the same
// decision every time.
func TestResolveDeterminism(t *testing.T) {
	now := time.Now()
	shells := []Shell{
		{PID: 100, Cwd: "/home/dev/proj", Alive: true, UpdatedAt: now.Add(-time.Minute)},
		{PID: 200, Cwd: "/home/dev/proj/sub", Alive: true, UpdatedAt: now},
		{PID: 300, Cwd: "/home/dev", Alive: true, UpdatedAt: now},
		{PID: 400, Cwd: "/home/dev/proj", Alive: false, UpdatedAt: now},
		{PID: 500, Cwd: "/home/dev/proj", Alive: true, MultiplexerSession: "work", UpdatedAt: now.Add(-time.Hour)},
		{PID: 600, Cwd: "/elsewhere", Alive: true, UpdatedAt: now},
	}
	attached := map[string]bool{"work": true}

	base := Resolve(Snapshot{TargetPath: "/home/dev/proj", Shells: shells, AttachedMuxSessions: attached})
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		perm := make([]Shell, len(shells))
		for j, k := range rng.Perm(len(shells)) {
			perm[j] = shells[k]
		}
		got := Resolve(Snapshot{TargetPath: "/home/dev/proj", Shells: perm, AttachedMuxSessions: attached})
		require.Equal(t, base.Primary, got.Primary, "permutation %d", i)
		require.Equal(t, base.Fallback, got.Fallback, "permutation %d", i)
	}
}
