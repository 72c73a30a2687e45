package flow

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// TopicsFile is the catalog file name inside the data directory.
const TopicsFile = "topics.yaml"

// Topic is a named research area. Tags select the vault documents that
// belong to it; Goal steers web research.
type Topic struct {
	Name string   `yaml:"name" json:"name"`
	Tags []string `yaml:"tags" json:"tags"`
	Goal string   `yaml:"goal,omitempty" json:"goal,omitempty"`
}

// Catalog is the set of configured topics, in file order.
type Catalog struct {
	Topics []Topic `yaml:"topics"`
}

// ParseCatalog decodes and validates a topics.yaml payload.
func ParseCatalog(data []byte) (Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Catalog{}, nil
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("topics: decode: %w", err)
	}
	seen := make(map[string]bool, len(c.Topics))
	for i := range c.Topics {
		t := &c.Topics[i]
		t.Name = strings.TrimSpace(t.Name)
		if t.Name == "" {
			return Catalog{}, fmt.Errorf("topics: entry %d has no name", i+1)
		}
		key := strings.ToLower(t.Name)
		if seen[key] {
			return Catalog{}, fmt.Errorf("topics: duplicate topic %q", t.Name)
		}
		seen[key] = true
		if len(t.Tags) == 0 {
			t.Tags = []string{key}
		}
		for j, tag := range t.Tags {
			t.Tags[j] = strings.ToLower(strings.TrimSpace(tag))
		}
	}
	return c, nil
}

// LoadCatalog reads dataDir/topics.yaml. A missing file yields an empty catalog.
func LoadCatalog(dataDir string) (Catalog, error) {
	path := filepath.Join(dataDir, TopicsFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Catalog{}, nil
	}
	if err != nil {
		return Catalog{}, fmt.Errorf("topics: read %s: %w", path, err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return Catalog{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Lookup finds a topic by case-insensitive name.
func (c Catalog) Lookup(name string) (Topic, bool) {
	for _, t := range c.Topics {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return Topic{}, false
}
