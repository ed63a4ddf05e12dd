package abtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dwsmith1983/qualityloop/internal/artifact"
)

// TrafficRouter controls what fraction of a scope's traffic is served by
// the variant slot. A fraction of 0 sends everything to the primary.
type TrafficRouter interface {
	Route(ctx context.Context, scope string, variantFraction float64) error
}

// MemoryRouter records routing decisions in memory.
type MemoryRouter struct {
	mu     sync.Mutex
	splits map[string]float64
}

// NewMemoryRouter creates an empty MemoryRouter.
func NewMemoryRouter() *MemoryRouter {
	return &MemoryRouter{splits: make(map[string]float64)}
}

// Route sets the variant fraction for scope.
func (r *MemoryRouter) Route(_ context.Context, scope string, variantFraction float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if variantFraction == 0 {
		delete(r.splits, scope)
		return nil
	}
	r.splits[scope] = variantFraction
	return nil
}

// Split returns the variant fraction currently routed for scope.
func (r *MemoryRouter) Split(scope string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.splits[scope]
}

// Routing is the document StoreRouter writes for the serving layer.
type Routing struct {
	Scope           string    `json:"scope"`
	VariantLocation string    `json:"variant_location,omitempty"`
	VariantFraction float64   `json:"variant_fraction"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// StoreRouter publishes routing documents through an artifact store at
// {prefix}{scope}.routing, next to the {scope}.variant slot.
type StoreRouter struct {
	store  artifact.Store
	prefix string
}

// NewStoreRouter creates a StoreRouter.
func NewStoreRouter(store artifact.Store, prefix string) *StoreRouter {
	return &StoreRouter{store: store, prefix: prefix}
}

// Route writes the routing document for scope.
func (r *StoreRouter) Route(ctx context.Context, scope string, variantFraction float64) error {
	doc := Routing{Scope: scope, VariantFraction: variantFraction, UpdatedAt: time.Now().UTC()}
	if variantFraction > 0 {
		doc.VariantLocation = VariantSlot(scope)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling routing: %w", err)
	}
	if err := r.store.Write(ctx, r.prefix+scope+".routing", string(data)); err != nil {
		return fmt.Errorf("writing routing for %s: %w", scope, err)
	}
	return nil
}

// VariantSlot is the location the variant artifact is written to for scope.
func VariantSlot(scope string) string { return scope + ".variant" }
