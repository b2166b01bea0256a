// Package store provides the durable backends for session snapshots and
// terminal history records.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/ultrahub-team/ultrahub/internal/raid"
)

// FileStore keeps one JSON document per live session under <dataDir>/raids
// and appends terminal records under <dataDir>/raid_logs. History files are
// named <raid id>_<status>_<timestamp> and are never rewritten.
type FileStore struct {
	raidsDir string
	logsDir  string
}

func NewFileStore(dataDir string) (*FileStore, error) {
	s := &FileStore{
		raidsDir: filepath.Join(dataDir, "raids"),
		logsDir:  filepath.Join(dataDir, "raid_logs"),
	}
	for _, dir := range []string{s.raidsDir, s.logsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir %s: %w", dir, err)
		}
	}
	return s, nil
}

func (s *FileStore) snapshotPath(raidID string) string {
	return filepath.Join(s.raidsDir, raidID+".json")
}

func (s *FileStore) Save(_ context.Context, sess raid.Session) error {
	raw, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encode raid %s: %w", sess.ID, err)
	}
	path := s.snapshotPath(sess.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write raid %s: %w", sess.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit raid %s: %w", sess.ID, err)
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, raidID string) error {
	err := os.Remove(s.snapshotPath(raidID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete raid %s: %w", raidID, err)
	}
	return nil
}

func (s *FileStore) LoadAll(_ context.Context) ([]raid.Session, error) {
	entries, err := os.ReadDir(s.raidsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read raids dir: %w", err)
	}

	out := make([]raid.Session, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.raidsDir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			log.Printf("store: skip unreadable snapshot %s: %v", path, err)
			continue
		}
		var sess raid.Session
		if err := json.Unmarshal(raw, &sess); err != nil {
			log.Printf("store: skip corrupt snapshot %s: %v", path, err)
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *FileStore) AppendHistory(_ context.Context, rec raid.HistoryRecord) error {
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history for raid %s: %w", rec.RaidID, err)
	}
	name := fmt.Sprintf("%s_%s_%s.json", rec.RaidID, rec.Status, rec.EndedAt.UTC().Format("20060102_150405"))
	path := filepath.Join(s.logsDir, name)
	// O_EXCL keeps the record append-only even if two teardowns collide on
	// the same second.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("write history %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(raw); err != nil {
		return fmt.Errorf("write history %s: %w", path, err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
