package sqlgate

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// RegistryConfig maps provider identities to their connection strings and
// names the default system provider.
type RegistryConfig struct {
	// ConnStrings holds one connection string per configured provider.
	ConnStrings map[Identity]string `json:"connection_strings"`

	// Provider is the identity used for system operations (schema browsing,
	// EXPLAIN) when no explicit connection descriptor is given.
	Provider Identity `json:"provider"`
}

// Registry builds provider clients and caches a single system client. The
// cache holds at most one client at a time; resolving a different identity
// supersedes the cached one without disconnecting it, matching the
// long-lived-pool model where the old pool drains on process exit.
type Registry struct {
	config RegistryConfig
	logger zerolog.Logger

	// newClient is swapped in tests.
	newClient func(id Identity, conn string, logger zerolog.Logger) (Client, error)

	mu             sync.Mutex
	cached         Client
	cachedIdentity Identity
}

// NewRegistry validates the configured provider identities and returns a
// registry. An unknown identity anywhere in the config is a ConfigError.
func NewRegistry(config RegistryConfig, logger zerolog.Logger) (*Registry, error) {
	for id := range config.ConnStrings {
		if _, err := ParseIdentity(string(id)); err != nil {
			return nil, err
		}
	}
	if config.Provider != "" {
		if _, err := ParseIdentity(string(config.Provider)); err != nil {
			return nil, err
		}
	}
	return &Registry{
		config:    config,
		logger:    logger.With().Str("component", "registry").Logger(),
		newClient: newProviderClient,
	}, nil
}

// Build constructs an uncached client for an explicit connection descriptor.
// The caller owns its lifecycle.
func (r *Registry) Build(desc ConnectionDescriptor) (Client, error) {
	id, err := ParseIdentity(string(desc.Provider))
	if err != nil {
		return nil, err
	}
	return r.newClient(id, desc.ConnString, r.logger)
}

// Resolve returns the cached client for the given identity, constructing and
// caching it on first use. A cache hit requires both a cached client and a
// matching identity; resolving a different identity replaces the cache entry.
func (r *Registry) Resolve(id Identity) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil && r.cachedIdentity == id {
		return r.cached, nil
	}

	conn, ok := r.config.ConnStrings[id]
	if !ok || conn == "" {
		return nil, &ConfigError{Reason: fmt.Sprintf("no connection string configured: connection_strings.%s", id)}
	}

	client, err := r.newClient(id, conn, r.logger)
	if err != nil {
		return nil, err
	}

	if r.cached != nil {
		// The superseded client keeps its pool open until process exit.
		r.logger.Warn().
			Str("previous", string(r.cachedIdentity)).
			Str("next", string(id)).
			Msg("system client superseded without disconnect")
	}
	r.cached = client
	r.cachedIdentity = id
	return client, nil
}

// ResolveSystem resolves the configured default provider.
func (r *Registry) ResolveSystem() (Client, error) {
	r.mu.Lock()
	id := r.config.Provider
	r.mu.Unlock()
	if id == "" {
		return nil, &ConfigError{Reason: "no system provider configured: provider"}
	}
	return r.Resolve(id)
}

// SetSystemProvider switches the default provider for subsequent system
// operations. The previously cached client, if any, is left connected.
func (r *Registry) SetSystemProvider(id Identity) error {
	if _, err := ParseIdentity(string(id)); err != nil {
		return err
	}
	r.mu.Lock()
	r.config.Provider = id
	r.mu.Unlock()
	return nil
}

// DisconnectCached tears down the cached system client. Used on shutdown.
func (r *Registry) DisconnectCached(ctx context.Context) error {
	r.mu.Lock()
	client := r.cached
	r.cached = nil
	r.cachedIdentity = ""
	r.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Disconnect(ctx)
}
