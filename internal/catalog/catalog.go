// Package catalog holds the read-only boss and composition reference data.
// It is loaded once at startup and never mutated afterwards, so concurrent
// reads need no synchronization.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var ErrBossNotFound = errors.New("boss not found")

// Boss describes a single encounter. PartySize is the number of slots a
// session against this boss opens.
type Boss struct {
	Name         string   `json:"name"`
	Map          string   `json:"map"`
	Difficulty   string   `json:"difficulty"`
	PartySize    int      `json:"party_size"`
	Hidden       hideFlag `json:"hide"`
	ThumbnailURL string   `json:"thumbnail_url"`
	DocURL       string   `json:"doc_url"`
	IconURL      string   `json:"icon_url"`
}

// Composition is a named role set for a boss, with free-text strategy notes.
type Composition struct {
	Name     string   `json:"name"`
	Classes  []string `json:"classes"`
	Strategy string   `json:"strategy"`
}

type Catalog struct {
	bosses  map[string]Boss
	visible []string
	comps   map[string][]Composition
}

// Load reads the boss file and the per-boss composition files. A missing or
// unreadable boss file is fatal; a boss without a composition file simply has
// no constrained modes.
func Load(bossFile, compsDir string) (*Catalog, error) {
	raw, err := os.ReadFile(bossFile)
	if err != nil {
		return nil, fmt.Errorf("read boss file: %w", err)
	}

	byName := make(map[string]Boss)
	if err := json.Unmarshal(raw, &byName); err != nil {
		return nil, fmt.Errorf("parse boss file %s: %w", bossFile, err)
	}

	c := &Catalog{
		bosses: make(map[string]Boss, len(byName)),
		comps:  make(map[string][]Composition),
	}
	for name, boss := range byName {
		boss.Name = name
		c.bosses[strings.ToLower(name)] = boss
		if !bool(boss.Hidden) {
			c.visible = append(c.visible, name)
		}
	}
	sort.Strings(c.visible)

	entries, err := os.ReadDir(compsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("read comps dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(compsDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read comp file %s: %w", path, err)
		}
		var comps []Composition
		if err := json.Unmarshal(data, &comps); err != nil {
			return nil, fmt.Errorf("parse comp file %s: %w", path, err)
		}
		bossName := strings.TrimSuffix(entry.Name(), ".json")
		c.comps[strings.ToLower(bossName)] = comps
	}
	return c, nil
}

// Boss returns the definition for the named boss, matching case-insensitively.
func (c *Catalog) Boss(name string) (Boss, error) {
	boss, ok := c.bosses[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Boss{}, ErrBossNotFound
	}
	return boss, nil
}

// VisibleBosses lists the names of bosses not flagged hidden, sorted.
func (c *Catalog) VisibleBosses() []string {
	out := make([]string, len(c.visible))
	copy(out, c.visible)
	return out
}

// Compositions returns the named compositions for a boss, in file order.
// The result is empty when the boss has none defined.
func (c *Catalog) Compositions(bossName string) []Composition {
	comps := c.comps[strings.ToLower(strings.TrimSpace(bossName))]
	out := make([]Composition, len(comps))
	copy(out, comps)
	return out
}

// MetaClasses is the union of every composition's role set for a boss,
// sorted. It backs the virtual "meta" mode.
func (c *Catalog) MetaClasses(bossName string) []string {
	seen := make(map[string]struct{})
	for _, comp := range c.comps[strings.ToLower(strings.TrimSpace(bossName))] {
		for _, class := range comp.Classes {
			seen[class] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for class := range seen {
		out = append(out, class)
	}
	sort.Strings(out)
	return out
}

// hideFlag tolerates both boolean and string encodings; the historical data
// files store "true"/"false" strings.
type hideFlag bool

func (h *hideFlag) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*h = hideFlag(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("hide flag must be bool or string: %w", err)
	}
	*h = hideFlag(strings.EqualFold(strings.TrimSpace(s), "true"))
	return nil
}
