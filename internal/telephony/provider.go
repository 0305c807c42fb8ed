package telephony

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrProviderUnavailable means the provider could not be reached or
	// answered with a server error. Recorded, retried on the next batch.
	ErrProviderUnavailable = errors.New("telephony: provider unavailable")

	// ErrInvalidCredentials means the provider rejected our API key.
	ErrInvalidCredentials = errors.New("telephony: invalid credentials")

	// ErrCallRejected means the provider refused this particular call
	// (bad number, quota, compliance block).
	ErrCallRejected = errors.New("telephony: call rejected")

	// ErrUnsupportedProvider means the provider tag is not registered.
	ErrUnsupportedProvider = errors.New("telephony: unsupported provider")

	// ErrNotConfigured means the adapter is registered but missing
	// credentials; Start fails, status reporting still works.
	ErrNotConfigured = errors.New("telephony: provider not configured")
)

// StartRequest carries what an adapter needs to place one outbound call.
// Provider-specific knobs stay inside the adapter.
type StartRequest struct {
	// CallID is our call identifier, passed to the provider as metadata
	// so webhooks can be matched even when the provider echoes it back.
	CallID string

	RecipientName string
	Phone         string

	Metadata map[string]string
}

// Info is the adapter status snapshot reported to collaborators.
// Never include secrets.
type Info struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"` // "voice-ai" or "pbx"
	Configured bool   `json:"configured"`
	Endpoint   string `json:"endpoint,omitempty"`
}

// Provider is the uniform capability set the dispatcher works against.
//
// Rules:
// - No provider SDK calls outside this package.
// - Start returns the provider-assigned call identifier.
// - Hangup is advisory: the call may already be over on the remote side,
//   and local cleanup never depends on its outcome.
type Provider interface {
	Name() string
	Start(ctx context.Context, req StartRequest) (providerCallID string, err error)
	Hangup(ctx context.Context, providerCallID string) error
	Health(ctx context.Context) error
	Config() Info
}

// Registry holds the adapters built at startup. Adding a provider means
// adding an adapter and registering it here; dispatch code never
// branches on provider names.
type Registry struct {
	providers   map[string]Provider
	defaultName string
}

func NewRegistry(defaultName string, providers ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider, len(providers)), defaultName: defaultName}
	for _, p := range providers {
		if _, dup := r.providers[p.Name()]; dup {
			return nil, fmt.Errorf("telephony: duplicate provider %q", p.Name())
		}
		r.providers[p.Name()] = p
	}
	if defaultName != "" {
		if _, ok := r.providers[defaultName]; !ok {
			return nil, fmt.Errorf("telephony: default provider %q not registered", defaultName)
		}
	}
	return r, nil
}

// Get resolves a provider by name; the empty string selects the default.
func (r *Registry) Get(name string) (Provider, error) {
	if name == "" {
		name = r.defaultName
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, name)
	}
	return p, nil
}

// Known reports whether a provider tag is registered, without resolving
// the default.
func (r *Registry) Known(name string) bool {
	_, ok := r.providers[name]
	return ok
}

// All returns the registered adapters in no particular order.
func (r *Registry) All() []Provider {
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	return out
}
