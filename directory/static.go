package directory

import (
	"context"
	"strings"
	"sync"

	"github.com/samber/oops"

	goGate "github.com/MrEthical07/goGate"
)

// Static is an in-memory directory. Usernames are matched
// case-insensitively. It is safe for concurrent use.
type Static struct {
	mu         sync.RWMutex
	principals map[string]goGate.Principal
}

// NewStatic returns a directory holding principals. Duplicate usernames
// (ignoring case), empty ids and empty usernames are rejected.
func NewStatic(principals ...goGate.Principal) (*Static, error) {
	s := &Static{principals: make(map[string]goGate.Principal, len(principals))}
	for _, p := range principals {
		if _, dup := s.principals[key(p.Username)]; dup {
			return nil, oops.In("directory").Code("DIRECTORY_DUPLICATE").
				With("username", p.Username).
				Errorf("duplicate username")
		}
		if err := s.Put(p); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Put adds or replaces a principal.
func (s *Static) Put(p goGate.Principal) error {
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Username) == "" {
		return oops.In("directory").Code("DIRECTORY_INVALID").
			Errorf("principal id and username are required")
	}
	p.Roles = append([]string(nil), p.Roles...)

	s.mu.Lock()
	s.principals[key(p.Username)] = p
	s.mu.Unlock()
	return nil
}

// Remove deletes username and reports whether it existed.
func (s *Static) Remove(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(username)
	_, ok := s.principals[k]
	delete(s.principals, k)
	return ok
}

// Len returns the number of principals.
func (s *Static) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.principals)
}

func (s *Static) LookupByUsername(_ context.Context, username string) (*goGate.Principal, error) {
	s.mu.RLock()
	p, ok := s.principals[key(username)]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound(username)
	}
	p.Roles = append([]string(nil), p.Roles...)
	return &p, nil
}

func key(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func notFound(username string) error {
	return oops.In("directory").
		Code("PRINCIPAL_NOT_FOUND").
		With("username", username).
		Wrap(goGate.ErrPrincipalNotFound)
}
