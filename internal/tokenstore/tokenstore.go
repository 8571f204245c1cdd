// Package tokenstore persists the client-held token pair, the way a browser
// keeps it in local storage: two string entries under fixed names that
// survive restarts and are removed together on logout.
package tokenstore

import (
	"context"
	"errors"
)

// Fixed entry names. They are scoped by the store's profile.
const (
	KeyAccess  = "access"
	KeyRefresh = "refresh"
)

var (
	ErrNotFound    = errors.New("token pair not found")
	ErrPartialPair = errors.New("token pair must carry both an access and a refresh token")
)

// TokenPair is the credential pair issued by the backend after a successful exchange.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Complete reports whether both tokens are present.
func (p TokenPair) Complete() bool {
	return p.AccessToken != "" && p.RefreshToken != ""
}

// Empty reports whether neither token is present.
func (p TokenPair) Empty() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}

// Store is the sole source of truth for whether the client holds tokens.
type Store interface {
	// Save persists both tokens or nothing.
	Save(ctx context.Context, pair TokenPair) error
	// Load returns ErrNotFound when no complete pair is stored.
	Load(ctx context.Context) (TokenPair, error)
	// Clear removes both entries. It never fails; implementations log errors.
	Clear(ctx context.Context)
}

// Validate rejects pairs that would violate the both-or-neither invariant.
func Validate(pair TokenPair) error {
	if !pair.Complete() {
		return ErrPartialPair
	}

	return nil
}

// FromEntries assembles a pair from the raw entries of a store. Partial
// leftovers are reported as ErrNotFound.
func FromEntries(entries map[string]string) (TokenPair, error) {
	pair := TokenPair{
		AccessToken:  entries[KeyAccess],
		RefreshToken: entries[KeyRefresh],
	}
	if !pair.Complete() {
		return TokenPair{}, ErrNotFound
	}

	return pair, nil
}
