package hook

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"focusd/internal/logging"
)

var hookLog = logging.ForComponent(logging.CompHook)

// hookCommand is the marker command identifying focusd entries in
// settings.json. Removal and idempotence both key off it.
const hookCommand = "focusd hook"

type settingsHookEntry struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Async   bool   `json:"async,omitempty"`
}

type settingsHookMatcher struct {
	Matcher string              `json:"matcher,omitempty"`
	Hooks   []settingsHookEntry `json:"hooks"`
}

func focusdHook() settingsHookEntry {
	return settingsHookEntry{Type: "command", Command: hookCommand, Async: true}
}

// hookEventConfigs lists the host tool events focusd subscribes to.
var hookEventConfigs = []struct {
	Event   string
	Matcher string // empty = no matcher
}{
	{Event: "SessionStart"},
	{Event: "UserPromptSubmit"},
	{Event: "PreToolUse"},
	{Event: "PostToolUse"},
	{Event: "PermissionRequest"},
	{Event: "PreCompact"},
	{Event: "Notification", Matcher: "permission_prompt|elicitation_dialog|idle_prompt"},
	{Event: "Stop"},
	{Event: "SessionEnd"},
}

// Install injects focusd hook entries into the host tool's settings.json
// with a read-preserve-modify-write pass that keeps every existing setting
// and user hook intact. Returns true when newly installed, false when
// already present.
func Install(configDir string) (bool, error) {
	settingsPath := filepath.Join(configDir, "settings.json")

	var rawSettings map[string]json.RawMessage
	data, err := os.ReadFile(settingsPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return false, fmt.Errorf("read settings.json: %w", err)
		}
		rawSettings = make(map[string]json.RawMessage)
	} else {
		if err := json.Unmarshal(data, &rawSettings); err != nil {
			return false, fmt.Errorf("parse settings.json: %w", err)
		}
	}

	var existingHooks map[string]json.RawMessage
	if raw, ok := rawSettings["hooks"]; ok {
		if err := json.Unmarshal(raw, &existingHooks); err != nil {
			existingHooks = make(map[string]json.RawMessage)
		}
	} else {
		existingHooks = make(map[string]json.RawMessage)
	}

	if installed(existingHooks) {
		return false, nil
	}

	for _, cfg := range hookEventConfigs {
		existingHooks[cfg.Event] = mergeHookEvent(existingHooks[cfg.Event], cfg.Matcher)
	}

	hooksRaw, err := json.Marshal(existingHooks)
	if err != nil {
		return false, fmt.Errorf("marshal hooks: %w", err)
	}
	rawSettings["hooks"] = hooksRaw

	if err := writeSettings(configDir, settingsPath, rawSettings); err != nil {
		return false, err
	}
	hookLog.Info("hooks_installed", slog.String("config_dir", configDir))
	return true, nil
}

// Uninstall removes focusd hook entries, leaving everything else untouched.
// Returns true when something was removed.
func Uninstall(configDir string) (bool, error) {
	settingsPath := filepath.Join(configDir, "settings.json")

	data, err := os.ReadFile(settingsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read settings.json: %w", err)
	}

	var rawSettings map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawSettings); err != nil {
		return false, fmt.Errorf("parse settings.json: %w", err)
	}

	hooksRaw, ok := rawSettings["hooks"]
	if !ok {
		return false, nil
	}
	var existingHooks map[string]json.RawMessage
	if err := json.Unmarshal(hooksRaw, &existingHooks); err != nil {
		return false, nil
	}

	removed := false
	for _, cfg := range hookEventConfigs {
		raw, ok := existingHooks[cfg.Event]
		if !ok {
			continue
		}
		cleaned, didRemove := removeFromEvent(raw)
		if didRemove {
			removed = true
			if cleaned == nil {
				delete(existingHooks, cfg.Event)
			} else {
				existingHooks[cfg.Event] = cleaned
			}
		}
	}
	if !removed {
		return false, nil
	}

	if len(existingHooks) == 0 {
		delete(rawSettings, "hooks")
	} else {
		hooksData, _ := json.Marshal(existingHooks)
		rawSettings["hooks"] = hooksData
	}

	if err := writeSettings(configDir, settingsPath, rawSettings); err != nil {
		return false, err
	}
	hookLog.Info("hooks_removed", slog.String("config_dir", configDir))
	return true, nil
}

// Installed reports whether every subscribed event carries a focusd hook.
func Installed(configDir string) bool {
	data, err := os.ReadFile(filepath.Join(configDir, "settings.json"))
	if err != nil {
		return false
	}
	var rawSettings map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawSettings); err != nil {
		return false
	}
	hooksRaw, ok := rawSettings["hooks"]
	if !ok {
		return false
	}
	var existingHooks map[string]json.RawMessage
	if err := json.Unmarshal(hooksRaw, &existingHooks); err != nil {
		return false
	}
	return installed(existingHooks)
}

func writeSettings(configDir, settingsPath string, rawSettings map[string]json.RawMessage) error {
	finalData, err := json.MarshalIndent(rawSettings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmpPath := settingsPath + ".tmp"
	if err := os.WriteFile(tmpPath, finalData, 0o644); err != nil {
		return fmt.Errorf("write settings.json.tmp: %w", err)
	}
	if err := os.Rename(tmpPath, settingsPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename settings.json: %w", err)
	}
	return nil
}

func installed(hooks map[string]json.RawMessage) bool {
	for _, cfg := range hookEventConfigs {
		raw, ok := hooks[cfg.Event]
		if !ok || !eventHasFocusdHook(raw) {
			return false
		}
	}
	return true
}

func eventHasFocusdHook(raw json.RawMessage) bool {
	var matchers []settingsHookMatcher
	if err := json.Unmarshal(raw, &matchers); err != nil {
		return false
	}
	for _, m := range matchers {
		for _, h := range m.Hooks {
			if strings.Contains(h.Command, hookCommand) {
				return true
			}
		}
	}
	return false
}

// mergeHookEvent adds the focusd hook to an event's matcher array, keeping
// all existing matchers and hooks.
func mergeHookEvent(existing json.RawMessage, matcher string) json.RawMessage {
	var matchers []settingsHookMatcher
	if existing != nil {
		if err := json.Unmarshal(existing, &matchers); err != nil {
			matchers = nil
		}
	}

	for i, m := range matchers {
		if m.Matcher != matcher {
			continue
		}
		for _, h := range m.Hooks {
			if strings.Contains(h.Command, hookCommand) {
				result, _ := json.Marshal(matchers)
				return result
			}
		}
		matchers[i].Hooks = append(matchers[i].Hooks, focusdHook())
		result, _ := json.Marshal(matchers)
		return result
	}

	matchers = append(matchers, settingsHookMatcher{
		Matcher: matcher,
		Hooks:   []settingsHookEntry{focusdHook()},
	})
	result, _ := json.Marshal(matchers)
	return result
}

// removeFromEvent strips focusd hooks from one event's matcher array.
// Returns nil JSON when the array empties out.
func removeFromEvent(raw json.RawMessage) (json.RawMessage, bool) {
	var matchers []settingsHookMatcher
	if err := json.Unmarshal(raw, &matchers); err != nil {
		return raw, false
	}

	removed := false
	var cleaned []settingsHookMatcher
	for _, m := range matchers {
		var hooks []settingsHookEntry
		for _, h := range m.Hooks {
			if strings.Contains(h.Command, hookCommand) {
				removed = true
				continue
			}
			hooks = append(hooks, h)
		}
		if len(hooks) > 0 {
			m.Hooks = hooks
			cleaned = append(cleaned, m)
		} else if m.Matcher != "" {
			removed = true
		}
	}
	if !removed {
		return raw, false
	}
	if len(cleaned) == 0 {
		return nil, true
	}
	result, _ := json.Marshal(cleaned)
	return result, true
}
