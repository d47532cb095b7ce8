// Package syncq persists commands the CLI could not deliver, for replay
// against the sync endpoint once the API is reachable again.
package syncq

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// Command is one queued write, stored exactly as the replay endpoint expects
// it. The idempotency key is minted when the command first fails, so the
// server can tell a replay from a double submit.
type Command struct {
	Method         string          `json:"method"`
	Path           string          `json:"path"`
	Body           json.RawMessage `json:"body,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
}

func queuePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".lord", "queue.json"), nil
}

// Load returns the queued commands in the order they were pushed. A missing
// queue file is an empty queue.
func Load() ([]Command, error) {
	path, err := queuePath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var commands []Command
	if err := json.Unmarshal(raw, &commands); err != nil {
		return nil, err
	}
	return commands, nil
}

func Push(cmd Command) error {
	commands, err := Load()
	if err != nil {
		return err
	}
	return save(append(commands, cmd))
}

// Clear removes the queue file once the server has settled every command.
func Clear() error {
	path, err := queuePath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func save(commands []Command) error {
	path, err := queuePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}
