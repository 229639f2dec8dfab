package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// DiscoveryPath is the well-known path a target agent serves its
// capability manifest from.
const DiscoveryPath = "/.well-known/agent-manifest"

// Typed discovery failures. The proxy maps both to the untrusted default;
// it never aborts a request because discovery failed.
var (
	ErrNotFound    = errors.New("manifest: agent not found")
	ErrUnreachable = errors.New("manifest: discovery endpoint unreachable")
)

const maxManifestBytes = 64 * 1024

// cacheEntry is an immutable snapshot. Replacement is a whole-entry swap;
// concurrent readers never observe a partially updated manifest.
type cacheEntry struct {
	m         Manifest
	fetchedAt time.Time
}

type inflightFetch struct {
	done chan struct{}
	m    Manifest
	err  error
}

// Registry fetches and caches capability manifests by agent ID.
// Cache reads are lock-free; one origin fetch serves all concurrent misses
// for the same agent.
type Registry struct {
	targets  map[string]string // agent ID → base URL
	ttl      time.Duration
	timeout  time.Duration
	client   *http.Client
	entries  sync.Map // string → cacheEntry
	inflight sync.Map // string → *inflightFetch
	now      func() time.Time
}

// RegistryOption configures a Registry at creation time.
type RegistryOption func(*Registry)

// WithTTL sets the cache time-to-live.
func WithTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) { r.ttl = ttl }
}

// WithFetchTimeout bounds a single discovery fetch.
func WithFetchTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.timeout = d }
}

// WithHTTPClient overrides the HTTP client used for discovery fetches.
func WithHTTPClient(c *http.Client) RegistryOption {
	return func(r *Registry) { r.client = c }
}

// withClock overrides the clock. Test hook.
func withClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a Registry over a static agent→base-URL table.
func NewRegistry(targets map[string]string, opts ...RegistryOption) *Registry {
	if targets == nil {
		targets = make(map[string]string)
	}
	r := &Registry{
		targets: targets,
		ttl:     60 * time.Second,
		timeout: 2 * time.Second,
		client:  http.DefaultClient,
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// BaseURL returns the configured base URL for an agent.
func (r *Registry) BaseURL(agentID string) (string, bool) {
	base, ok := r.targets[agentID]
	return base, ok
}

// Get returns the agent's manifest, cache-first. On miss or expiry it
// fetches from the discovery endpoint under a bounded timeout.
func (r *Registry) Get(ctx context.Context, agentID string) (Manifest, error) {
	if v, ok := r.entries.Load(agentID); ok {
		e := v.(cacheEntry)
		if r.now().Sub(e.fetchedAt) < r.ttl {
			return e.m, nil
		}
	}
	return r.fetchShared(ctx, agentID)
}

// Invalidate drops the cached entry for an agent.
func (r *Registry) Invalidate(agentID string) {
	r.entries.Delete(agentID)
}

// fetchShared deduplicates concurrent origin fetches per agent: the first
// caller fetches, everyone else waits on the same result.
func (r *Registry) fetchShared(ctx context.Context, agentID string) (Manifest, error) {
	call := &inflightFetch{done: make(chan struct{})}
	if actual, loaded := r.inflight.LoadOrStore(agentID, call); loaded {
		f := actual.(*inflightFetch)
		select {
		case <-f.done:
			return f.m, f.err
		case <-ctx.Done():
			return Manifest{}, fmt.Errorf("%w: %v", ErrUnreachable, ctx.Err())
		}
	}

	call.m, call.err = r.fetchOrigin(ctx, agentID)
	if call.err == nil {
		r.entries.Store(agentID, cacheEntry{m: call.m, fetchedAt: r.now()})
	}
	r.inflight.Delete(agentID)
	close(call.done)

	return call.m, call.err
}

func (r *Registry) fetchOrigin(ctx context.Context, agentID string) (Manifest, error) {
	base, ok := r.targets[agentID]
	if !ok {
		return Manifest{}, fmt.Errorf("%w: %q", ErrNotFound, agentID)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+DiscoveryPath, nil)
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Manifest{}, fmt.Errorf("%w: %q", ErrNotFound, agentID)
	case resp.StatusCode != http.StatusOK:
		return Manifest{}, fmt.Errorf("%w: discovery returned HTTP %d", ErrUnreachable, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	m, err := Parse(data, agentID)
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: invalid manifest document: %v", ErrUnreachable, err)
	}
	return m, nil
}
