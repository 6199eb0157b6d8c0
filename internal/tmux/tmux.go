// Package tmux shells out to the tmux binary to report which sessions have
// an attached client and to execute the multiplexer-flavored activation
// actions.
package tmux

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Session is one tmux session with its attachment state.
type Session struct {
	Name     string
	Attached bool
}

// Available reports whether a tmux binary is on PATH.
func Available() bool {
	_, err := exec.LookPath("tmux")
	return err == nil
}

// InsideTmux reports whether the current process runs inside a tmux client.
func InsideTmux() bool {
	return os.Getenv("TMUX") != ""
}

// ListSessions returns all tmux sessions. A missing server is not an error;
// it just means no sessions.
func ListSessions(ctx context.Context) ([]Session, error) {
	out, err := exec.CommandContext(ctx, "tmux", "list-sessions",
		"-F", "#{session_name}\t#{session_attached}").Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && strings.Contains(string(ee.Stderr), "no server running") {
			return nil, nil
		}
		return nil, fmt.Errorf("tmux: list-sessions: %w", err)
	}

	var sessions []Session
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		name, attached, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		sessions = append(sessions, Session{Name: name, Attached: attached != "0"})
	}
	return sessions, nil
}

// AttachedSessions returns the names of sessions with at least one attached
// client, as a set keyed by name.
func AttachedSessions(ctx context.Context) (map[string]bool, error) {
	sessions, err := ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	attached := make(map[string]bool)
	for _, s := range sessions {
		if s.Attached {
			attached[s.Name] = true
		}
	}
	return attached, nil
}

// SwitchClient points the attached client at session. Only valid while a
// client is attached.
func SwitchClient(ctx context.Context, session string) error {
	if err := exec.CommandContext(ctx, "tmux", "switch-client", "-t", session).Run(); err != nil {
		return fmt.Errorf("tmux: switch-client %s: %w", session, err)
	}
	return nil
}

// Attach execs a fresh attach to session in the current terminal.
func Attach(ctx context.Context, session string) error {
	cmd := exec.CommandContext(ctx, "tmux", "attach-session", "-t", session)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("tmux: attach-session %s: %w", session, err)
	}
	return nil
}

// NewDetachedSession creates a named session rooted at dir without attaching.
func NewDetachedSession(ctx context.Context, name, dir string) error {
	if err := exec.CommandContext(ctx, "tmux", "new-session", "-d", "-s", name, "-c", dir).Run(); err != nil {
		return fmt.Errorf("tmux: new-session %s: %w", name, err)
	}
	return nil
}

// CurrentSession returns the session name of the surrounding tmux client, or
// "" when not inside tmux.
func CurrentSession(ctx context.Context) string {
	if !InsideTmux() {
		return ""
	}
	out, err := exec.CommandContext(ctx, "tmux", "display-message", "-p", "#{session_name}").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
