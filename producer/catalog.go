package producer

import (
	_ "embed"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/teranos/factwire/errors"
)

//go:embed catalog.toml
var defaultCatalog []byte

// Frequency is a source's nominal update cadence
type Frequency string

const (
	FrequencyRealtime  Frequency = "realtime"
	Frequency5Min      Frequency = "5min"
	FrequencyHourly    Frequency = "hourly"
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyQuarterly Frequency = "quarterly"
)

// Interval converts the frequency to a polling interval. Unknown values
// fall back to daily.
func (f Frequency) Interval() time.Duration {
	switch Frequency(strings.ToLower(string(f))) {
	case FrequencyRealtime:
		return time.Minute
	case Frequency5Min:
		return 5 * time.Minute
	case FrequencyHourly:
		return time.Hour
	case FrequencyDaily:
		return 24 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	case FrequencyQuarterly:
		return 90 * 24 * time.Hour
	}
	return 24 * time.Hour
}

// Source is one catalog entry
type Source struct {
	ID        string    `toml:"id" json:"id"`
	Name      string    `toml:"name" json:"name"`
	Type      string    `toml:"type" json:"type"` // api, sftp, scraper, portal
	Frequency Frequency `toml:"frequency" json:"frequency"`
	Enabled   bool      `toml:"-" json:"enabled"`
	URL       string    `toml:"url" json:"url,omitempty"`
}

// sourceFile mirrors the TOML layout. Sources are enabled unless they say
// enabled = false.
type sourceFile struct {
	Source []struct {
		Source
		Enabled *bool `toml:"enabled"`
	} `toml:"source"`
}

// Catalog is the set of known upstream sources
type Catalog struct {
	mu      sync.RWMutex
	sources []Source
	byID    map[string]int
}

// DefaultCatalog returns the embedded source catalog
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalog)
	if err != nil {
		panic(errors.Wrap(err, "embedded catalog is invalid"))
	}
	return c
}

// ParseCatalog decodes a TOML catalog. IDs must be unique and non-empty.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file sourceFile
	if _, err := toml.Decode(string(data), &file); err != nil {
		return nil, errors.Wrap(err, "failed to decode source catalog")
	}

	c := &Catalog{byID: make(map[string]int, len(file.Source))}
	for i, entry := range file.Source {
		src := entry.Source
		if src.ID == "" {
			return nil, errors.Newf("source catalog entry %d has no id", i)
		}
		if _, dup := c.byID[src.ID]; dup {
			return nil, errors.Newf("source catalog: duplicate id %q", src.ID)
		}
		src.Enabled = entry.Enabled == nil || *entry.Enabled
		c.byID[src.ID] = len(c.sources)
		c.sources = append(c.sources, src)
	}
	return c, nil
}

// Sources returns every entry in catalog order
func (c *Catalog) Sources() []Source {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Source, len(c.sources))
	copy(out, c.sources)
	return out
}

// Get looks a source up by id
func (c *Catalog) Get(id string) (Source, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byID[id]
	if !ok {
		return Source{}, false
	}
	return c.sources[i], true
}

// SetEnabled toggles a source
func (c *Catalog) SetEnabled(id string, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.byID[id]
	if !ok {
		return errors.NewNotFoundError("source %s", id)
	}
	c.sources[i].Enabled = enabled
	return nil
}

// Active counts enabled sources
func (c *Catalog) Active() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, s := range c.sources {
		if s.Enabled {
			n++
		}
	}
	return n
}

// ByType groups source ids by type, each list sorted
func (c *Catalog) ByType() map[string][]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]string)
	for _, s := range c.sources {
		out[s.Type] = append(out[s.Type], s.ID)
	}
	for _, ids := range out {
		sort.Strings(ids)
	}
	return out
}
