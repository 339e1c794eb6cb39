package auth

import (
	"context"
	"strings"
)

// Profile is the canonical record produced by a provider exchange. Every
// provider-specific shape is normalized into it at the boundary; the core
// never branches on provider name.
type Profile struct {
	Provider string
	SocialID string
	Email    string
	Name     string
}

// Provider exchanges an authorization code for a normalized profile.
type Provider interface {
	Exchange(ctx context.Context, code string) (Profile, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, code string) (Profile, error)

func (f ProviderFunc) Exchange(ctx context.Context, code string) (Profile, error) {
	return f(ctx, code)
}

// ProviderRegistry resolves providers by id (e.g. "kakao", "google").
type ProviderRegistry struct {
	providers map[string]Provider
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{providers: make(map[string]Provider)}
}

// Register adds a provider under the given id; later registrations win.
func (r *ProviderRegistry) Register(id string, p Provider) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" || p == nil {
		return
	}
	r.providers[id] = p
}

// Lookup returns the provider for the id.
func (r *ProviderRegistry) Lookup(id string) (Provider, bool) {
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(id))]
	return p, ok
}
