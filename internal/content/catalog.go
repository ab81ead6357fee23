package content

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed scenarios/*.yaml
var embeddedScenarios embed.FS

// Catalog is the read-only set of scenarios known to the server. It is built
// once at startup and shared freely across sessions.
type Catalog struct {
	scenarios map[string]*Scenario
}

// NewCatalog builds a catalog from the embedded scenario bundles, then
// overlays any *.yaml bundles found in contentDir (empty contentDir skips the
// overlay). A directory bundle with the same scenario ID replaces the
// embedded one.
func NewCatalog(contentDir string) (*Catalog, error) {
	c := &Catalog{scenarios: make(map[string]*Scenario)}

	if err := c.loadEmbedded(); err != nil {
		return nil, err
	}

	if contentDir != "" {
		if err := c.loadDir(contentDir); err != nil {
			return nil, err
		}
	}

	if len(c.scenarios) == 0 {
		return nil, fmt.Errorf("content: no scenarios loaded")
	}
	return c, nil
}

// Get returns the scenario with the given ID, or nil when unknown.
func (c *Catalog) Get(id string) *Scenario {
	return c.scenarios[id]
}

// Default returns the scenario to use when a session does not name one.
// Prefers "goblin_cave", otherwise the lexicographically first scenario.
func (c *Catalog) Default() *Scenario {
	if s, ok := c.scenarios["goblin_cave"]; ok {
		return s
	}
	ids := c.IDs()
	if len(ids) == 0 {
		return nil
	}
	return c.scenarios[ids[0]]
}

// IDs returns the sorted scenario IDs.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.scenarios))
	for id := range c.scenarios {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns all scenarios sorted by ID.
func (c *Catalog) List() []*Scenario {
	out := make([]*Scenario, 0, len(c.scenarios))
	for _, id := range c.IDs() {
		out = append(out, c.scenarios[id])
	}
	return out
}

func (c *Catalog) loadEmbedded() error {
	return fs.WalkDir(embeddedScenarios, "scenarios", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".yaml") {
			return nil
		}
		f, err := embeddedScenarios.Open(path)
		if err != nil {
			return fmt.Errorf("content: open embedded %q: %w", path, err)
		}
		defer f.Close()

		s, err := LoadScenarioFromReader(f)
		if err != nil {
			return fmt.Errorf("content: embedded %q: %w", path, err)
		}
		c.scenarios[s.ID] = s
		slog.Debug("loaded embedded scenario", "id", s.ID, "locations", len(s.Locations))
		return nil
	})
}

func (c *Catalog) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("content: read content dir %q: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		s, err := LoadScenarioFile(path)
		if err != nil {
			return err
		}
		if _, replaced := c.scenarios[s.ID]; replaced {
			slog.Info("content dir overrides embedded scenario", "id", s.ID, "file", path)
		}
		c.scenarios[s.ID] = s
		slog.Debug("loaded scenario bundle", "id", s.ID, "file", path)
	}
	return nil
}
