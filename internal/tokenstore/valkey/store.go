package tokenstorevalkey

import (
	"context"
	"fmt"
	"strings"

	"github.com/valkey-io/valkey-go"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-portal/internal/tokenstore"
)

type Store struct {
	valkey  valkey.Client
	prefix  string
	profile string
}

var _ tokenstore.Store = (*Store)(nil)

func NewStore(valkeyClient valkey.Client, prefix, profile string) *Store {
	prefix = strings.TrimSuffix(prefix, ":")
	return &Store{
		valkey:  valkeyClient,
		prefix:  prefix,
		profile: profile,
	}
}

// Save writes both entries with a single MSET so readers never observe half a pair.
func (s *Store) Save(ctx context.Context, pair tokenstore.TokenPair) error {
	if err := tokenstore.Validate(pair); err != nil {
		return err
	}

	cmd := s.valkey.B().Mset().KeyValue().
		KeyValue(s.key(tokenstore.KeyAccess), pair.AccessToken).
		KeyValue(s.key(tokenstore.KeyRefresh), pair.RefreshToken).
		Build()
	if err := s.valkey.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("executing mset command: %w", err)
	}

	return nil
}

func (s *Store) Load(ctx context.Context) (tokenstore.TokenPair, error) {
	names := []string{tokenstore.KeyAccess, tokenstore.KeyRefresh}

	values, err := s.valkey.Do(ctx, s.valkey.B().Mget().Key(s.key(names[0]), s.key(names[1])).Build()).ToArray()
	if err != nil {
		return tokenstore.TokenPair{}, fmt.Errorf("executing mget command: %w", err)
	}

	entries := make(map[string]string, len(names))
	for i := range values {
		if i >= len(names) || values[i].IsNil() {
			continue
		}

		v, err := values[i].ToString()
		if err != nil {
			return tokenstore.TokenPair{}, fmt.Errorf("reading %s entry: %w", names[i], err)
		}

		entries[names[i]] = v
	}

	return tokenstore.FromEntries(entries)
}

func (s *Store) Clear(ctx context.Context) {
	cmd := s.valkey.B().Del().Key(s.key(tokenstore.KeyAccess), s.key(tokenstore.KeyRefresh)).Build()
	if err := s.valkey.Do(ctx, cmd).Error(); err != nil {
		slogctx.Error(ctx, "Failed to clear the token pair", "profile", s.profile, "error", err)
	}
}

// key places both entries of a profile in the same hash slot.
func (s *Store) key(name string) string {
	return fmt.Sprintf("%s:{%s}:%s", s.prefix, s.profile, name)
}
