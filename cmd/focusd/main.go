package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"focusd/internal/config"
	"focusd/internal/hook"
	"focusd/internal/ipc"
	"focusd/internal/probe"
	"focusd/internal/protocol"
)

const Version = "0.3.0"

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printHelp()
		return
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Printf("focusd v%s\n", Version)
	case "help", "--help", "-h":
		printHelp()
	case "daemon":
		handleDaemon(args[1:])
	case "hook":
		handleHook(args[1:])
	case "hooks":
		handleHooks(args[1:])
	case "probe":
		handleProbe(args[1:])
	case "status":
		handleStatus(args[1:])
	case "sessions":
		handleQuery(protocol.MethodGetSessions, nil)
	case "shells":
		handleQuery(protocol.MethodGetShellState, nil)
	case "tombstones":
		handleQuery(protocol.MethodGetTombstones, nil)
	case "projects":
		handleProjects(args[1:])
	case "activity":
		handleActivity(args[1:])
	case "activate":
		handleActivate(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "focusd: unknown command %q\n\n", args[0])
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Print(`focusd - coding-agent session tracker and window activation resolver

Usage:
  focusd daemon                    Run the daemon (foreground)
  focusd hook                      Handle one lifecycle hook (payload on stdin)
  focusd hooks install|uninstall|status
                                   Manage host tool hook registration
  focusd probe [--pid N] [--cwd DIR]
                                   Report a shell cwd change
  focusd status                    Daemon health
  focusd sessions                  List tracked sessions
  focusd shells                    List live shell entries
  focusd projects [PATH]           Per-project aggregated states
  focusd activity [PATH] [--within MIN]
                                   Recent file activity
  focusd tombstones                List retired sessions
  focusd activate PATH [--rule=exact|child|parent] [--exec] [--json]
                                   Resolve (and optionally run) an activation
  focusd version                   Print version
`)
}

func loadConfig() *config.Config {
	cfg, err := config.Load(config.Path())
	if err != nil {
		fmt.Fprintf(os.Stderr, "focusd: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func client() (*ipc.Client, *config.Config) {
	cfg := loadConfig()
	return ipc.NewClient(cfg.Socket), cfg
}

// printJSON renders query results the same way for every read command.
func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "focusd: encode output: %v\n", err)
		os.Exit(1)
	}
}

func handleQuery(method string, params any) {
	c, _ := client()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var result json.RawMessage
	if err := c.Call(ctx, method, params, &result); err != nil {
		fmt.Fprintf(os.Stderr, "focusd: %v\n", err)
		os.Exit(1)
	}
	var pretty any
	if err := json.Unmarshal(result, &pretty); err != nil {
		fmt.Println(string(result))
		return
	}
	printJSON(pretty)
}

func handleStatus(_ []string) {
	handleQuery(protocol.MethodGetHealth, nil)
}

func handleProjects(args []string) {
	var params protocol.ProjectStatesParams
	if len(args) > 0 {
		params.Path = args[0]
	}
	handleQuery(protocol.MethodGetProjectStates, params)
}

func handleActivity(args []string) {
	var params protocol.ActivityParams
	rest := args
	for len(rest) > 0 {
		switch rest[0] {
		case "--within":
			if len(rest) < 2 {
				fmt.Fprintln(os.Stderr, "focusd: --within requires minutes")
				os.Exit(1)
			}
			fmt.Sscanf(rest[1], "%d", &params.WithinMinutes)
			rest = rest[2:]
		default:
			params.Path = rest[0]
			rest = rest[1:]
		}
	}
	handleQuery(protocol.MethodGetActivity, params)
}

func handleHook(_ []string) {
	cfg := loadConfig()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := hook.Run(ctx, cfg.Socket, os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "focusd: hook: %v\n", err)
		os.Exit(1)
	}
}

func handleHooks(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: focusd hooks install|uninstall|status [--config-dir DIR]")
		os.Exit(1)
	}

	configDir := hostConfigDir()
	if len(args) >= 3 && args[1] == "--config-dir" {
		configDir = args[2]
	}

	switch args[0] {
	case "install":
		installed, err := hook.Install(configDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "focusd: %v\n", err)
			os.Exit(1)
		}
		if installed {
			fmt.Println("Hooks installed.")
		} else {
			fmt.Println("Hooks already installed.")
		}
	case "uninstall":
		removed, err := hook.Uninstall(configDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "focusd: %v\n", err)
			os.Exit(1)
		}
		if removed {
			fmt.Println("Hooks removed.")
		} else {
			fmt.Println("No hooks found.")
		}
	case "status":
		if hook.Installed(configDir) {
			fmt.Println("Hooks installed.")
		} else {
			fmt.Println("Hooks not installed.")
		}
	default:
		fmt.Fprintf(os.Stderr, "focusd: unknown hooks action %q\n", args[0])
		os.Exit(1)
	}
}

func hostConfigDir() string {
	if dir := os.Getenv("CLAUDE_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".claude"
	}
	return home + "/.claude"
}

func handleProbe(args []string) {
	cfg := loadConfig()
	pid := os.Getppid()
	cwd := ""
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--pid":
			if i+1 < len(args) {
				fmt.Sscanf(args[i+1], "%d", &pid)
				i++
			}
		case "--cwd":
			if i+1 < len(args) {
				cwd = args[i+1]
				i++
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := probe.Run(ctx, cfg.Socket, pid, cwd); err != nil {
		fmt.Fprintf(os.Stderr, "focusd: probe: %v\n", err)
		os.Exit(1)
	}
}
