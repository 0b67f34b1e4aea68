package realtime

import (
	"fmt"
	"log/slog"
	"sync"
)

// Registry is the process-wide home of the two channel supervisors. It is
// the only place connection handles live; consumers go through Acquire.
type Registry struct {
	log   *slog.Logger
	base  string
	creds Credentials
	opts  []SupervisorOption

	mu   sync.Mutex
	sups map[Channel]*Supervisor
}

// NewRegistry constructs a Registry. base is an explicit ws/wss base URL or
// an http/https origin whose scheme is upgraded per channel endpoint rules.
func NewRegistry(log *slog.Logger, base string, creds Credentials, opts ...SupervisorOption) (*Registry, error) {
	// Resolve both endpoints up front so a bad base fails construction, not
	// the first Acquire.
	for _, ch := range []Channel{ChannelChat, ChannelNotifications} {
		if _, err := EndpointURL(base, ch); err != nil {
			return nil, fmt.Errorf("registry: %w", err)
		}
	}

	return &Registry{
		log:   log,
		base:  base,
		creds: creds,
		opts:  opts,
		sups:  make(map[Channel]*Supervisor),
	}, nil
}

// Channel returns the supervisor for a logical channel, creating it lazily.
func (r *Registry) Channel(ch Channel) *Supervisor {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sups[ch]; ok {
		return s
	}

	endpoint, _ := EndpointURL(r.base, ch) // validated in NewRegistry
	s := NewSupervisor(r.log, ch, endpoint, r.creds, r.opts...)
	r.sups[ch] = s
	return s
}

// SetAuthenticated propagates the session's auth state to every channel.
func (r *Registry) SetAuthenticated(authed bool) {
	r.mu.Lock()
	sups := make([]*Supervisor, 0, len(r.sups))
	for _, s := range r.sups {
		sups = append(sups, s)
	}
	r.mu.Unlock()

	for _, s := range sups {
		s.SetAuthenticated(authed)
	}
}
