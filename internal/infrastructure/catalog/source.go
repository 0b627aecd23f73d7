// Package catalog loads the reward catalog from YAML.
package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/linguaquest/progression/internal/domain/reward"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// FileSource implements reward.CatalogSource. An empty Path serves the
// embedded default catalog. The file is re-read on every Load, so an
// edited catalog is picked up once the cache expires.
type FileSource struct {
	Path string
}

var _ reward.CatalogSource = FileSource{}

// NewFileSource creates a source reading path.
func NewFileSource(path string) FileSource {
	return FileSource{Path: path}
}

// Load implements reward.CatalogSource.
func (s FileSource) Load(ctx context.Context) (*reward.Catalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data := defaultCatalog
	if s.Path != "" {
		var err error
		data, err = os.ReadFile(s.Path)
		if err != nil {
			return nil, fmt.Errorf("reading catalog %s: %w", s.Path, err)
		}
	}
	return Parse(data)
}

// Parse decodes a YAML catalog, fills default streak milestones and
// validates it.
func Parse(data []byte) (*reward.Catalog, error) {
	var cat reward.Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	cat.Normalize()
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Default returns the embedded catalog.
func Default() (*reward.Catalog, error) {
	return Parse(defaultCatalog)
}
