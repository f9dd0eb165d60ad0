package providers

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"mediaminer/internal/config"
	"mediaminer/internal/services"
)

// Registry is the ordered, read-only provider list.
type Registry struct {
	providers []Descriptor
	byName    map[string]int
}

// NewRegistry validates the descriptors and orders them by ascending
// priority. Descriptors with equal priority keep their input order.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	if len(descriptors) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "providers", "build registry", "no providers configured", nil)
	}
	ordered := make([]Descriptor, 0, len(descriptors))
	seen := make(map[string]struct{}, len(descriptors))
	for _, d := range descriptors {
		d = d.clone()
		d.Name = strings.TrimSpace(d.Name)
		if d.Name == "" {
			return nil, services.Wrap(services.ErrConfiguration, "providers", "build registry", "provider name is empty", nil)
		}
		if _, dup := seen[d.Name]; dup {
			return nil, services.Wrap(services.ErrConfiguration, "providers", "build registry", fmt.Sprintf("duplicate provider %q", d.Name), nil)
		}
		seen[d.Name] = struct{}{}
		if _, err := ParseFamily(string(d.Family)); err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "providers", "build registry", d.Name, err)
		}
		if strings.TrimSpace(d.Model) == "" {
			return nil, services.Wrap(services.ErrConfiguration, "providers", "build registry", fmt.Sprintf("provider %q has no model", d.Name), nil)
		}
		ordered = append(ordered, d)
	}
	slices.SortStableFunc(ordered, func(a, b Descriptor) int {
		return a.Priority - b.Priority
	})

	byName := make(map[string]int, len(ordered))
	for i, d := range ordered {
		byName[d.Name] = i
	}
	return &Registry{providers: ordered, byName: byName}, nil
}

// FromConfig builds a registry from the [[providers]] configuration entries.
func FromConfig(cfg *config.Config) (*Registry, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "providers", "build registry", "config is nil", nil)
	}
	descriptors := make([]Descriptor, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		family, err := ParseFamily(p.Family)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "providers", "build registry", p.Name, err)
		}
		timeout := time.Duration(cfg.Dispatch.TimeoutSeconds) * time.Second
		if p.TimeoutSeconds > 0 {
			timeout = time.Duration(p.TimeoutSeconds) * time.Second
		}
		descriptors = append(descriptors, Descriptor{
			Name:          p.Name,
			Priority:      p.Priority,
			Family:        family,
			Model:         p.Model,
			CredentialEnv: p.CredentialEnv,
			BaseURL:       p.BaseURL,
			Timeout:       timeout,
			Headers:       p.Headers,
		})
	}
	return NewRegistry(descriptors)
}

// Providers returns the descriptors in try order. The slice is a copy.
func (r *Registry) Providers() []Descriptor {
	if r == nil {
		return nil
	}
	out := make([]Descriptor, len(r.providers))
	for i, d := range r.providers {
		out[i] = d.clone()
	}
	return out
}

// Lookup returns the descriptor with the given name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	if r == nil {
		return Descriptor{}, false
	}
	idx, ok := r.byName[strings.TrimSpace(name)]
	if !ok {
		return Descriptor{}, false
	}
	return r.providers[idx].clone(), true
}

// Len returns the number of providers.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.providers)
}
