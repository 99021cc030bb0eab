// Package conn restates spec.md §9's "global mutable state" design note
// as a typed, per-connection record instead of a host-engine scratch
// map: a State struct the caller owns and threads explicitly through
// every call, plus a Registry for host bindings that cannot pass
// *State through their own call boundary and so need to look it up by
// an opaque connection token instead (grounded on teacher
// pkg/manager.TokenManager's keyed, mutex-guarded map of short-lived
// records).
package conn

import (
	"errors"
	"sync"

	"github.com/sqliteai/sqlite-sync/pkg/idgen"
)

// ErrUnknownConn is returned by Registry.Get for a token with no
// registered state.
var ErrUnknownConn = errors.New("conn: unknown connection token")

// State is the per-connection auxiliary data spec.md §5 describes: the
// site id cache, network endpoints and authentication credential. The
// sync cursors are not mirrored here; they live only in the settings
// store. It is owned and mutated only by
// the connection that holds it (spec.md §5's "Shared resources"
// paragraph); the mutex exists only to guard concurrent reads of a
// connection's own state from multiple goroutines (e.g. a metrics
// exporter reading SiteID while a sync goroutine rotates the token),
// not to arbitrate across connections.
type State struct {
	mu sync.RWMutex

	siteID idgen.ID

	checkURL  string
	uploadURL string
	apiKey    string
	token     string
}

// NewState builds an empty State. SiteID is set once, when
// cloudsync.Open wires the Engine, via SetSiteID.
func NewState() *State {
	return &State{}
}

// SiteID returns the connection's cached site id.
func (s *State) SiteID() idgen.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.siteID
}

// SetSiteID caches id as the connection's site id.
func (s *State) SetSiteID(id idgen.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.siteID = id
}

// Endpoints returns the connection's check and upload URLs, as parsed
// by cloudsync_network_init (pkg/syncer.ParseConnString).
func (s *State) Endpoints() (check, upload string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkURL, s.uploadURL
}

// SetEndpoints stashes the connection's check and upload URLs.
func (s *State) SetEndpoints(check, upload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkURL, s.uploadURL = check, upload
}

// Credential returns the connection's current bearer credential: an
// API key if set, else a rotating token, else "".
func (s *State) Credential() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.apiKey != "" {
		return s.apiKey
	}
	return s.token
}

// SetAPIKey rotates the connection's API key credential
// (cloudsync_set_apikey), clearing any previously set token.
func (s *State) SetAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKey = key
	s.token = ""
}

// SetToken rotates the connection's bearer token credential
// (cloudsync_set_token), clearing any previously set API key.
func (s *State) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.apiKey = ""
}

// Registry looks up a *State by an opaque connection token, for host
// bindings that can hand cloudsync a token (e.g. a SQLite connection
// handle's address, or a driver-assigned id) but cannot thread a Go
// value through their own C-call boundary. Most embeddable callers do
// not need this: they can hold their own *State directly and skip the
// registry entirely.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*State
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*State)}
}

// Open registers a fresh State under token, replacing any existing
// entry for that token, and returns it.
func (r *Registry) Open(token string) *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := NewState()
	r.conns[token] = st
	return st
}

// Get returns the State registered under token, or ErrUnknownConn.
func (r *Registry) Get(token string) (*State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.conns[token]
	if !ok {
		return nil, ErrUnknownConn
	}
	return st, nil
}

// Close releases token's registered state (cloudsync_terminate).
func (r *Registry) Close(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, token)
}
