package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"focusd/internal/protocol"
	"focusd/internal/resolve"
	"focusd/internal/tmux"
)

// dispatcher carries last-request-wins semantics across activations within
// one process.
var dispatcher = resolve.NewDispatcher()

func handleActivate(args []string) {
	var (
		target   string
		ruleName string
		doExec   bool
		asJSON   bool
	)
	for _, a := range args {
		switch {
		case a == "--exec":
			doExec = true
		case a == "--json":
			asJSON = true
		case strings.HasPrefix(a, "--rule="):
			ruleName = strings.TrimPrefix(a, "--rule=")
		default:
			target = a
		}
	}
	rule, err := resolve.ParseRule(ruleName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "focusd: activate: %v\n", err)
		os.Exit(1)
	}
	if target == "" {
		wd, err := os.Getwd()
		if err != nil {
			fmt.Fprintln(os.Stderr, "focusd: activate: no target path")
			os.Exit(1)
		}
		target = wd
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "focusd: activate: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dec, err := resolveTarget(ctx, abs, rule)
	if err != nil {
		fmt.Fprintf(os.Stderr, "focusd: activate: %v\n", err)
		os.Exit(1)
	}

	if asJSON || !doExec {
		printJSON(dec)
	}
	if !doExec {
		return
	}

	applied, err := dispatcher.Dispatch(ctx, dec, executeAction)
	if err != nil {
		fmt.Fprintf(os.Stderr, "focusd: activate: %v\n", err)
		os.Exit(1)
	}
	if applied && !asJSON {
		fmt.Printf("Activated %s via %s\n", dec.TargetPath, dec.Primary.Kind)
	}
}

// resolveTarget fetches a fresh snapshot from the daemon and resolves it.
// Liveness comes from the daemon's prober so the decision and the status
// views agree on who is alive.
func resolveTarget(ctx context.Context, target string, rule resolve.Rule) (resolve.Decision, error) {
	c, _ := client()

	var shells []protocol.ShellInfo
	if err := c.Call(ctx, protocol.MethodGetShellState, nil, &shells); err != nil {
		return resolve.Decision{}, err
	}

	candidates := make([]resolve.Shell, 0, len(shells))
	for _, sh := range shells {
		var live protocol.LivenessInfo
		if err := c.Call(ctx, protocol.MethodGetProcessLiveness, protocol.LivenessParams{PID: sh.PID}, &live); err != nil {
			return resolve.Decision{}, err
		}
		candidates = append(candidates, resolve.Shell{
			PID:                sh.PID,
			Cwd:                sh.Cwd,
			TTY:                sh.TTY,
			ParentApp:          sh.ParentApp,
			MultiplexerSession: sh.MultiplexerSession,
			Alive:              live.Alive,
			UpdatedAt:          sh.UpdatedAt,
		})
	}

	attached, err := tmux.AttachedSessions(ctx)
	if err != nil {
		// tmux trouble degrades the tie-break, not the resolution.
		attached = nil
	}

	return resolve.Resolve(resolve.Snapshot{
		TargetPath:          target,
		Shells:              candidates,
		Rule:                rule,
		AttachedMuxSessions: attached,
	}), nil
}

// executeAction carries out the primary action, falling back once.
func executeAction(ctx context.Context, dec resolve.Decision) error {
	if err := runAction(ctx, dec.Primary); err == nil {
		return nil
	} else if dec.Fallback == nil {
		return err
	}
	return runAction(ctx, *dec.Fallback)
}

func runAction(ctx context.Context, a resolve.Action) error {
	switch a.Kind {
	case resolve.ActionSwitchMuxClient:
		return tmux.SwitchClient(ctx, a.MuxSession)

	case resolve.ActionAttachMuxFresh:
		if tmux.InsideTmux() {
			return tmux.SwitchClient(ctx, a.MuxSession)
		}
		return tmux.Attach(ctx, a.MuxSession)

	case resolve.ActionFocusIDEWindow:
		return focusIDE(ctx, a)

	case resolve.ActionFocusTerminal:
		// No portable way to raise an arbitrary terminal window exists;
		// printing the target lets a window-manager wrapper do it.
		fmt.Printf("focus %s (pid %d, tty %s)\n", a.Path, a.PID, a.TTY)
		return nil

	case resolve.ActionLaunchTerminal:
		return launchTerminal(ctx, a.Path)

	default:
		return fmt.Errorf("unknown action %q", a.Kind)
	}
}

func focusIDE(ctx context.Context, a resolve.Action) error {
	switch a.ParentApp {
	case "vscode", "code":
		return exec.CommandContext(ctx, "code", "--reuse-window", a.Path).Run()
	case "cursor":
		return exec.CommandContext(ctx, "cursor", "--reuse-window", a.Path).Run()
	default:
		return fmt.Errorf("no focus handler for %q", a.ParentApp)
	}
}

func launchTerminal(ctx context.Context, dir string) error {
	term := os.Getenv("TERMINAL")
	if term == "" {
		term = "x-terminal-emulator"
	}
	cmd := exec.CommandContext(ctx, term)
	cmd.Dir = dir
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch terminal: %w", err)
	}
	return nil
}
