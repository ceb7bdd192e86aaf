package layers

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// ErrLayerNotFound is returned when a layer id is not registered
var ErrLayerNotFound = errors.New("layer not found")

// Registry holds the layers a viewer session may activate.
// It is created explicitly and handed to the session; there is no package-level registry.
type Registry struct {
	mu     sync.RWMutex
	layers map[string]TileLayerConfig
	order  []string
}

// NewRegistry creates a registry from the given configs.
// Every config is defaulted and validated; the first invalid one aborts construction.
func NewRegistry(configs ...TileLayerConfig) (*Registry, error) {
	r := &Registry{layers: make(map[string]TileLayerConfig)}
	for _, cfg := range configs {
		if err := r.Register(cfg); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register validates and adds a layer, replacing any layer with the same id
func (r *Registry) Register(cfg TileLayerConfig) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.layers[cfg.ID]; !exists {
		r.order = append(r.order, cfg.ID)
	}
	r.layers[cfg.ID] = cfg
	return nil
}

// Remove deletes a layer; removing an unknown id is a no-op
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.layers[id]; !exists {
		return
	}
	delete(r.layers, id)
	r.order = lo.Without(r.order, id)
}

// Get returns a copy of the layer with the given id
func (r *Registry) Get(id string) (TileLayerConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.layers[id]
	if !ok {
		return TileLayerConfig{}, errors.Wrapf(ErrLayerNotFound, "id %q", id)
	}
	return cfg, nil
}

// List returns all layers in registration order
func (r *Registry) List() []TileLayerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Map(r.order, func(id string, _ int) TileLayerConfig {
		return r.layers[id]
	})
}

// ByBody returns the layers for one celestial body (case-insensitive)
func (r *Registry) ByBody(body string) []TileLayerConfig {
	return lo.Filter(r.List(), func(cfg TileLayerConfig, _ int) bool {
		return strings.EqualFold(cfg.Body, body)
	})
}

// Len returns the number of registered layers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.layers)
}

// LoadManifest registers every layer of a JSON manifest keyed by layer id.
// A manifest entry without an id takes its key.
func (r *Registry) LoadManifest(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read layer manifest: %w", err)
	}

	var raw map[string]TileLayerConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse layer manifest: %w", err)
	}

	// Register in key order so List() is stable across loads
	keys := lo.Keys(raw)
	sort.Strings(keys)

	for _, key := range keys {
		cfg := raw[key]
		if cfg.ID == "" {
			cfg.ID = key
		}
		if err := r.Register(cfg); err != nil {
			return fmt.Errorf("failed to register layer %q from manifest: %w", key, err)
		}
	}

	log.Printf("[Registry] Loaded %d layers from %s", len(keys), path)
	return nil
}
