package provider

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"reelsmith/internal/generation"
	"reelsmith/internal/services"
)

var tierRank = map[generation.Tier]int{
	generation.TierBudget:   0,
	generation.TierStandard: 1,
	generation.TierPremium:  2,
}

// Registry is the lookup table of providers keyed by id.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry registers every provider, rejecting invalid or duplicate profiles.
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds p to the registry.
func (r *Registry) Register(p Provider) error {
	profile := p.Profile()
	if err := profile.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[profile.ID]; exists {
		return services.Wrap(services.ErrConfiguration, "provider registry", "register", fmt.Sprintf("duplicate provider %q", profile.ID), nil)
	}
	r.providers[profile.ID] = p
	return nil
}

// Get returns the provider with the given id.
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// Len reports the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// Profiles returns every profile sorted by id.
func (r *Registry) Profiles() []generation.Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]generation.Profile, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p.Profile())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// byCost returns providers cheapest first; ties break on tier then id.
func (r *Registry) byCost() []Provider {
	r.mu.RLock()
	list := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		list = append(list, p)
	}
	r.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i].Profile(), list[j].Profile()
		if a.CostPerSecond != b.CostPerSecond {
			return a.CostPerSecond < b.CostPerSecond
		}
		if tierRank[a.Tier] != tierRank[b.Tier] {
			return tierRank[a.Tier] < tierRank[b.Tier]
		}
		return a.ID < b.ID
	})
	return list
}

// Select chooses the provider for req: the hinted provider when it is known
// and compatible, otherwise the cheapest compatible provider. When nothing
// fits, the returned error is a capability error listing each rejection.
func (r *Registry) Select(req generation.Request) (Provider, error) {
	if hint := strings.ToLower(strings.TrimSpace(req.ProviderHint)); hint != "" {
		if p, ok := r.Get(hint); ok && p.Profile().Supports(req) == nil {
			return p, nil
		}
	}
	var reasons []string
	for _, p := range r.byCost() {
		if err := p.Profile().Supports(req); err != nil {
			reasons = append(reasons, err.Error())
			continue
		}
		return p, nil
	}
	if len(reasons) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "provider registry", "select", "no providers configured", nil)
	}
	return nil, &services.Error{
		Kind:    services.KindCapability,
		Op:      "select provider",
		Message: fmt.Sprintf("shot %s: no compatible provider (%s)", req.ShotID, strings.Join(reasons, "; ")),
	}
}

// Fallback returns the next cheapest compatible provider not in tried.
func (r *Registry) Fallback(req generation.Request, tried []string) (Provider, bool) {
	for _, p := range r.byCost() {
		if slices.Contains(tried, p.Profile().ID) {
			continue
		}
		if p.Profile().Supports(req) == nil {
			return p, true
		}
	}
	return nil, false
}
