// Package probe is the shell side of ingestion: invoked from a cwd-change
// shell hook, it snapshots the shell's identity (pid, tty, host application,
// multiplexer session) and reports it as one shell-cwd-changed event.
package probe

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"focusd/internal/ipc"
	"focusd/internal/protocol"
	"focusd/internal/tmux"
)

// DetectParentApp identifies the hosting application from environment
// variables, most specific first.
func DetectParentApp() string {
	switch {
	case os.Getenv("TERM_PROGRAM") == "vscode" || os.Getenv("VSCODE_INJECTION") != "":
		return "vscode"
	case os.Getenv("CURSOR_TRACE_ID") != "":
		return "cursor"
	case os.Getenv("TERM_PROGRAM") == "WarpTerminal" || os.Getenv("WARP_IS_LOCAL_SHELL_SESSION") != "":
		return "warp"
	case os.Getenv("TERM_PROGRAM") == "iTerm.app" || os.Getenv("ITERM_SESSION_ID") != "":
		return "iterm2"
	case os.Getenv("TERM") == "xterm-kitty" || os.Getenv("KITTY_WINDOW_ID") != "":
		return "kitty"
	case os.Getenv("ALACRITTY_SOCKET") != "" || os.Getenv("ALACRITTY_LOG") != "":
		return "alacritty"
	case os.Getenv("TERM_PROGRAM") == "WezTerm" || os.Getenv("WEZTERM_PANE") != "":
		return "wezterm"
	case os.Getenv("TERM_PROGRAM") == "Apple_Terminal":
		return "apple-terminal"
	}
	if tp := os.Getenv("TERM_PROGRAM"); tp != "" {
		return strings.ToLower(tp)
	}
	return ""
}

// DetectTTY resolves the controlling terminal of stdin.
func DetectTTY() string {
	if link, err := os.Readlink("/proc/self/fd/0"); err == nil && strings.HasPrefix(link, "/dev/") {
		return link
	}
	// Non-procfs platforms: fall back to the shell-exported value.
	if tty := os.Getenv("TTY"); tty != "" {
		return tty
	}
	return ""
}

// Snapshot gathers the shell's identity for one report. pid is the shell
// process, normally the probe's parent.
func Snapshot(ctx context.Context, pid int, cwd string) (*protocol.Event, error) {
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("probe: resolve cwd: %w", err)
		}
		cwd = wd
	}
	tty := DetectTTY()
	if tty == "" {
		return nil, fmt.Errorf("probe: no controlling tty")
	}

	ev := &protocol.Event{
		EventID:            uuid.NewString(),
		RecordedAt:         time.Now(),
		EventType:          protocol.EventShellCwdChanged,
		PID:                pid,
		Cwd:                cwd,
		TTY:                tty,
		ParentApp:          DetectParentApp(),
		MultiplexerSession: tmux.CurrentSession(ctx),
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

// Run is the whole probe process: snapshot, send, exit. Transport errors
// propagate; the shell hook decides whether to surface or swallow them.
func Run(ctx context.Context, socketPath string, pid int, cwd string) error {
	ev, err := Snapshot(ctx, pid, cwd)
	if err != nil {
		return err
	}
	client := ipc.NewClient(socketPath)
	if _, err := client.SendEvent(ctx, ev); err != nil {
		return fmt.Errorf("probe: send: %w", err)
	}
	return nil
}
