// Package identity tells the schedule store whose schedule it is holding.
//
// An Identity is either local (nobody signed in, the zero value) or
// authenticated with an owner id. Providers publish the current identity and
// notify subscribers when it changes:
//
//	none -> local -> authenticated(owner) -> signed-out (local again)
//
// How the owner id is obtained is outside this package. The CLI writes a
// session file on login and SessionFile picks it up.
package identity

import "sync"

// Identity names the owner of a schedule. The zero value is local.
type Identity struct {
	OwnerID string `json:"owner_id,omitempty"`
}

// Local returns the signed-out identity.
func Local() Identity {
	return Identity{}
}

// Authenticated returns the identity for ownerID.
func Authenticated(ownerID string) Identity {
	return Identity{OwnerID: ownerID}
}

// IsAuthenticated reports whether an owner is signed in.
func (i Identity) IsAuthenticated() bool {
	return i.OwnerID != ""
}

// Equal reports whether both identities name the same owner.
func (i Identity) Equal(o Identity) bool {
	return i.OwnerID == o.OwnerID
}

func (i Identity) String() string {
	if !i.IsAuthenticated() {
		return "local"
	}
	return "user:" + i.OwnerID
}

// Provider publishes the current identity.
type Provider interface {
	// Current returns the identity in effect right now.
	Current() Identity
	// Subscribe registers fn for identity changes. fn is called from the
	// goroutine that observed the change and must not block for long.
	Subscribe(fn func(Identity)) (cancel func())
}

// subscribers is the observer list shared by the providers.
type subscribers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(Identity)
}

func (s *subscribers) add(fn func(Identity)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(Identity))
	}
	id := s.next
	s.next++
	s.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.fns, id)
			s.mu.Unlock()
		})
	}
}

func (s *subscribers) notify(id Identity) {
	s.mu.Lock()
	fns := make([]func(Identity), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(id)
	}
}

// Static is a Provider whose identity is set by the host.
type Static struct {
	mu      sync.Mutex
	current Identity
	subs    subscribers
}

// NewStatic creates a Static provider starting at initial.
func NewStatic(initial Identity) *Static {
	return &Static{current: initial}
}

// Current implements Provider.
func (s *Static) Current() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Subscribe implements Provider.
func (s *Static) Subscribe(fn func(Identity)) func() {
	return s.subs.add(fn)
}

// Set changes the identity. Subscribers are only notified on an actual change.
func (s *Static) Set(id Identity) {
	s.mu.Lock()
	if s.current.Equal(id) {
		s.mu.Unlock()
		return
	}
	s.current = id
	s.mu.Unlock()

	s.subs.notify(id)
}
