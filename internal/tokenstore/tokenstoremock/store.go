package tokenstoremock

import (
	"context"
	"sync"

	"github.com/openkcm/session-portal/internal/tokenstore"
)

// Operation names recorded by Store.
const (
	OpSave  = "save"
	OpLoad  = "load"
	OpClear = "clear"
)

type StoreOption func(*Store)

// Store is an in-memory token store with injectable failures and hooks.
type Store struct {
	mu   sync.Mutex
	pair tokenstore.TokenPair
	ops  []string

	saveErr, loadErr error
	onSave           func(tokenstore.TokenPair)
	onClear          func()
}

func WithPair(pair tokenstore.TokenPair) StoreOption {
	return func(s *Store) { s.pair = pair }
}
func WithSaveError(err error) StoreOption {
	return func(s *Store) { s.saveErr = err }
}
func WithLoadError(err error) StoreOption {
	return func(s *Store) { s.loadErr = err }
}

// WithOnSave registers a hook called after a successful save.
func WithOnSave(fn func(tokenstore.TokenPair)) StoreOption {
	return func(s *Store) { s.onSave = fn }
}

// WithOnClear registers a hook called after the entries are removed.
func WithOnClear(fn func()) StoreOption {
	return func(s *Store) { s.onClear = fn }
}

var _ = tokenstore.Store(&Store{})

func NewStore(opts ...StoreOption) *Store {
	s := &Store{}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

func (s *Store) Save(_ context.Context, pair tokenstore.TokenPair) error {
	s.mu.Lock()
	s.ops = append(s.ops, OpSave)
	if s.saveErr != nil {
		s.mu.Unlock()
		return s.saveErr
	}
	if err := tokenstore.Validate(pair); err != nil {
		s.mu.Unlock()
		return err
	}
	s.pair = pair
	hook := s.onSave
	s.mu.Unlock()

	if hook != nil {
		hook(pair)
	}

	return nil
}

func (s *Store) Load(_ context.Context) (tokenstore.TokenPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ops = append(s.ops, OpLoad)
	if s.loadErr != nil {
		return tokenstore.TokenPair{}, s.loadErr
	}

	if !s.pair.Complete() {
		return tokenstore.TokenPair{}, tokenstore.ErrNotFound
	}

	return s.pair, nil
}

func (s *Store) Clear(_ context.Context) {
	s.mu.Lock()
	s.ops = append(s.ops, OpClear)
	s.pair = tokenstore.TokenPair{}
	hook := s.onClear
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
}

// Pair returns the raw stored entries, including partial ones.
func (s *Store) Pair() tokenstore.TokenPair {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pair
}

// Ops returns the recorded operations in call order.
func (s *Store) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.ops...)
}
