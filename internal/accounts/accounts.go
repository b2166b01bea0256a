// Package accounts resolves participant identities to linked game accounts.
package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNotLinked is returned when a participant has no linked game account.
var ErrNotLinked = errors.New("account not linked")

// userRecord is one entry of the link file, keyed by participant id.
type userRecord struct {
	CCID string `json:"ccid"`
	Name string `json:"name,omitempty"`
}

// FileLinker reads links from a JSON file mapping participant id to account
// data. The file is re-read on every lookup so external edits take effect
// without a restart.
type FileLinker struct {
	path string
}

func NewFileLinker(path string) *FileLinker {
	return &FileLinker{path: path}
}

func (l *FileLinker) LinkedAccount(_ context.Context, userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", ErrNotLinked
	}

	raw, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotLinked
		}
		return "", fmt.Errorf("read links file: %w", err)
	}

	var users map[string]userRecord
	if err := json.Unmarshal(raw, &users); err != nil {
		return "", fmt.Errorf("parse links file %s: %w", l.path, err)
	}

	rec, ok := users[userID]
	if !ok || strings.TrimSpace(rec.CCID) == "" {
		return "", ErrNotLinked
	}
	return rec.CCID, nil
}
