package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrNotFound = errors.New("session not found")

// Session is one local agent process group raising requests. The name is
// opaque to the daemon (conventionally the working-directory name): unique
// among concurrently running sessions, not across restarts.
type Session struct {
	Name           string    `json:"name"`
	FirstSeen      time.Time `json:"first_seen"`
	LastActivityAt time.Time `json:"last_activity_at"`
	// LastContext is the most recent context-update text, shown by /status.
	LastContext string `json:"last_context,omitempty"`
	// ProxyPath is the pty-relay socket the session opted into, if any.
	ProxyPath string `json:"proxy_path,omitempty"`
	// PaneTarget is the tmux pane the session runs in, when discovered.
	PaneTarget string `json:"pane_target,omitempty"`
}

// Registry tracks sessions across hook requests. Sessions register
// implicitly on first contact and are swept when they go quiet.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	staleTTL time.Duration
	onExpire func(*Session)
}

func NewRegistry(staleTTL time.Duration) *Registry {
	if staleTTL <= 0 {
		staleTTL = 2 * time.Hour
	}
	return &Registry{
		sessions: make(map[string]*Session),
		staleTTL: staleTTL,
	}
}

// SetExpireHook registers the callback run for each swept session. The
// manager uses it to purge the session's queued requests.
func (r *Registry) SetExpireHook(hook func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = hook
}

// Touch registers a session on first contact and refreshes its activity.
func (r *Registry) Touch(name string) *Session {
	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[name]
	if !ok {
		s = &Session{Name: name, FirstSeen: now}
		r.sessions[name] = s
	}
	s.LastActivityAt = now
	return clone(s)
}

func (r *Registry) Get(name string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[name]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (r *Registry) SetContext(name, context string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[name]; ok {
		s.LastContext = context
		s.LastActivityAt = time.Now().UTC()
	}
}

func (r *Registry) SetProxyPath(name, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[name]; ok {
		s.ProxyPath = path
	}
}

func (r *Registry) SetPaneTarget(name, target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[name]; ok {
		s.PaneTarget = target
	}
}

// Remove drops a session outright, without running the expire hook.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, name)
}

// List returns sessions ordered by first contact.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, clone(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeen.Before(out[j].FirstSeen) })
	return out
}

// StartJanitor sweeps stale sessions on a ticker until the context ends.
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

func (r *Registry) sweep() {
	now := time.Now().UTC()
	var expired []*Session

	r.mu.Lock()
	for name, s := range r.sessions {
		if now.Sub(s.LastActivityAt) < r.staleTTL {
			continue
		}
		expired = append(expired, clone(s))
		delete(r.sessions, name)
	}
	hook := r.onExpire
	r.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
