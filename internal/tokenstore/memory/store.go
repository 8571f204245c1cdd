// Package tokenstorememory keeps the token pair in process memory. It does not
// survive restarts and is meant for tests and throwaway profiles.
package tokenstorememory

import (
	"context"
	"sync"

	"github.com/patrickmn/go-cache"

	"github.com/openkcm/session-portal/internal/tokenstore"
)

type Store struct {
	mu      sync.Mutex
	entries *cache.Cache
}

var _ tokenstore.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		entries: cache.New(cache.NoExpiration, 0),
	}
}

func (s *Store) Save(_ context.Context, pair tokenstore.TokenPair) error {
	if err := tokenstore.Validate(pair); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries.Set(tokenstore.KeyAccess, pair.AccessToken, cache.NoExpiration)
	s.entries.Set(tokenstore.KeyRefresh, pair.RefreshToken, cache.NoExpiration)

	return nil
}

func (s *Store) Load(_ context.Context) (tokenstore.TokenPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make(map[string]string, 2)
	for _, key := range []string{tokenstore.KeyAccess, tokenstore.KeyRefresh} {
		if v, ok := s.entries.Get(key); ok {
			entries[key], _ = v.(string)
		}
	}

	return tokenstore.FromEntries(entries)
}

func (s *Store) Clear(_ context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries.Delete(tokenstore.KeyAccess)
	s.entries.Delete(tokenstore.KeyRefresh)
}
