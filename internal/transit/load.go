package transit

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed tariffs.yaml
var defaultTariffs []byte

type catalogDoc struct {
	ServiceArea BoundingBox        `yaml:"service_area"`
	Modes       map[string]Profile `yaml:"modes"`
}

// ParseCatalog decodes a YAML tariff document into a catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc catalogDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decoding yaml: %v", ErrInvalidCatalog, err)
	}

	profiles := make([]Profile, 0, len(doc.Modes))
	for name, p := range doc.Modes {
		m, err := ParseMode(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
		}
		p.Mode = m
		profiles = append(profiles, p)
	}

	return NewCatalog(profiles, doc.ServiceArea)
}

// LoadCatalog reads a tariff file. An empty path loads the built-in
// Bangalore tariffs.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return ParseCatalog(defaultTariffs)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tariff file: %w", err)
	}
	return ParseCatalog(data)
}

// DefaultCatalog returns the built-in Bangalore catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultTariffs)
	if err != nil {
		panic(fmt.Sprintf("transit: built-in tariffs are invalid: %v", err))
	}
	return c
}
