package static

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/wayforge/wayforge/internal/transit"
)

//go:embed stops.yaml
var defaultStops []byte

// MemoryRepository is an in-memory implementation of Repository.
type MemoryRepository struct {
	mu    sync.RWMutex
	stops map[string]transit.Stop
}

// NewMemoryRepository creates an in-memory repository holding stops.
func NewMemoryRepository(stops ...transit.Stop) *MemoryRepository {
	r := &MemoryRepository{stops: make(map[string]transit.Stop, len(stops))}
	for _, st := range stops {
		r.stops[st.ID] = st
	}
	return r
}

// ListStops implements Repository.
func (r *MemoryRepository) ListStops(_ context.Context) ([]transit.Stop, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]transit.Stop, 0, len(r.stops))
	for _, st := range r.stops {
		out = append(out, st)
	}
	return out, nil
}

// UpsertStops implements Repository.
func (r *MemoryRepository) UpsertStops(_ context.Context, stops []transit.Stop) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range stops {
		r.stops[st.ID] = st
	}
	return nil
}

type stopsDoc struct {
	Stops []transit.Stop `yaml:"stops"`
}

// ParseStops decodes a YAML stop list.
func ParseStops(data []byte) ([]transit.Stop, error) {
	var doc stopsDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding stops: %w", err)
	}
	seen := make(map[string]bool, len(doc.Stops))
	for _, st := range doc.Stops {
		if st.ID == "" {
			return nil, fmt.Errorf("stop %q has no id", st.Name)
		}
		if seen[st.ID] {
			return nil, fmt.Errorf("duplicate stop %s", st.ID)
		}
		seen[st.ID] = true
		if err := st.Location().Validate(); err != nil {
			return nil, fmt.Errorf("stop %s: %w", st.ID, err)
		}
		if len(st.Modes) == 0 {
			return nil, fmt.Errorf("stop %s serves no mode", st.ID)
		}
	}
	return doc.Stops, nil
}

// LoadStops reads a stop file. An empty path loads the built-in Bangalore
// stops.
func LoadStops(path string) ([]transit.Stop, error) {
	if path == "" {
		return ParseStops(defaultStops)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading stop file: %w", err)
	}
	return ParseStops(data)
}
