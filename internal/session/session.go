// Package session is the single accessor for a session's persisted local
// state. Callers never touch storage keys directly.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"bodyshop-storefront/internal/domain"
	"bodyshop-storefront/internal/repository/localstate"
	"github.com/rs/zerolog"
)

// Storage keys. Their JSON shapes are informal and unversioned.
const (
	KeyAccessToken     = "access_token"
	KeyRefreshToken    = "refresh_token"
	KeyLegacyToken     = "token"
	KeyUser            = "user"
	KeyCart            = "cart"
	KeyFavorites       = "favorites"
	KeyOrders          = "orders"
	KeyPurchaseHistory = "purchaseHistory"
)

var credentialKeys = []string{KeyAccessToken, KeyRefreshToken, KeyLegacyToken, KeyUser}

type Session struct {
	id     string
	repo   localstate.Repository
	logger zerolog.Logger
}

func New(id string, repo localstate.Repository, logger zerolog.Logger) *Session {
	return &Session{
		id:     id,
		repo:   repo,
		logger: logger.With().Str("session", id).Logger(),
	}
}

func (s *Session) ID() string {
	return s.id
}

// Credentials returns the stored credential; absent keys yield empty fields.
func (s *Session) Credentials(ctx context.Context) (domain.Credentials, error) {
	var c domain.Credentials
	var err error
	if c.Access, err = s.getString(ctx, KeyAccessToken); err != nil {
		return c, err
	}
	if c.Refresh, err = s.getString(ctx, KeyRefreshToken); err != nil {
		return c, err
	}
	if c.Legacy, err = s.getString(ctx, KeyLegacyToken); err != nil {
		return c, err
	}
	return c, nil
}

func (s *Session) SetCredentials(ctx context.Context, c domain.Credentials) error {
	pairs := []struct {
		key, val string
	}{
		{KeyAccessToken, c.Access},
		{KeyRefreshToken, c.Refresh},
		{KeyLegacyToken, c.Legacy},
	}
	for _, p := range pairs {
		if p.val == "" {
			if err := s.repo.Delete(ctx, s.id, p.key); err != nil {
				return err
			}
			continue
		}
		if err := s.put(ctx, p.key, p.val); err != nil {
			return err
		}
	}
	return nil
}

// PurgeCredentials forgets the credential and the cached profile.
func (s *Session) PurgeCredentials(ctx context.Context) error {
	return s.repo.Delete(ctx, s.id, credentialKeys...)
}

func (s *Session) User(ctx context.Context) (*domain.Profile, error) {
	var p domain.Profile
	ok, err := s.get(ctx, KeyUser, &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

func (s *Session) SetUser(ctx context.Context, p domain.Profile) error {
	return s.put(ctx, KeyUser, p)
}

func (s *Session) Cart(ctx context.Context) ([]domain.LocalCartItem, error) {
	var items []domain.LocalCartItem
	ok, err := s.get(ctx, KeyCart, &items)
	if err != nil || !ok {
		return nil, err
	}
	return items, nil
}

func (s *Session) SetCart(ctx context.Context, items []domain.LocalCartItem) error {
	if items == nil {
		items = []domain.LocalCartItem{}
	}
	return s.put(ctx, KeyCart, items)
}

func (s *Session) ClearCart(ctx context.Context) error {
	return s.repo.Delete(ctx, s.id, KeyCart)
}

func (s *Session) Favorites(ctx context.Context) ([]domain.Product, error) {
	var items []domain.Product
	ok, err := s.get(ctx, KeyFavorites, &items)
	if err != nil || !ok {
		return nil, err
	}
	return items, nil
}

func (s *Session) SetFavorites(ctx context.Context, items []domain.Product) error {
	if items == nil {
		items = []domain.Product{}
	}
	return s.put(ctx, KeyFavorites, items)
}

func (s *Session) ClearFavorites(ctx context.Context) error {
	return s.repo.Delete(ctx, s.id, KeyFavorites)
}

func (s *Session) Orders(ctx context.Context) ([]domain.Order, error) {
	var orders []domain.Order
	ok, err := s.get(ctx, KeyOrders, &orders)
	if err != nil || !ok {
		return nil, err
	}
	return orders, nil
}

// PrependOrder mirrors a confirmed order into the local order history, newest first.
func (s *Session) PrependOrder(ctx context.Context, o domain.Order) error {
	orders, err := s.Orders(ctx)
	if err != nil {
		return err
	}
	return s.put(ctx, KeyOrders, append([]domain.Order{o}, orders...))
}

func (s *Session) PurchaseHistory(ctx context.Context) ([]domain.PurchaseRecord, error) {
	var history []domain.PurchaseRecord
	ok, err := s.get(ctx, KeyPurchaseHistory, &history)
	if err != nil || !ok {
		return nil, err
	}
	return history, nil
}

// RecordPurchases upserts records by product id: an existing entry is
// replaced in place, a new one goes to the front.
func (s *Session) RecordPurchases(ctx context.Context, records ...domain.PurchaseRecord) error {
	history, err := s.PurchaseHistory(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		replaced := false
		for i := range history {
			if history[i].ID == rec.ID {
				history[i] = rec
				replaced = true
				break
			}
		}
		if !replaced {
			history = append([]domain.PurchaseRecord{rec}, history...)
		}
	}
	return s.put(ctx, KeyPurchaseHistory, history)
}

// get decodes key into dst. It reports false when the key is absent or holds
// something that does not decode; local state is a cache, so corruption is
// logged and treated as empty.
func (s *Session) get(ctx context.Context, key string, dst interface{}) (bool, error) {
	raw, err := s.repo.Get(ctx, s.id, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("discarding unreadable local state")
		return false, nil
	}
	return true, nil
}

func (s *Session) getString(ctx context.Context, key string) (string, error) {
	var v string
	ok, err := s.get(ctx, key, &v)
	if err != nil || !ok {
		return "", err
	}
	return v, nil
}

func (s *Session) put(ctx context.Context, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.repo.Set(ctx, s.id, key, raw); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
