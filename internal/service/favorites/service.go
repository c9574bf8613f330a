// Package favorites manages the session's saved products. Favorites are full
// product snapshots so the list renders without the catalog.
package favorites

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"bodyshop-storefront/internal/domain"
	"bodyshop-storefront/internal/events"
	"bodyshop-storefront/internal/service/cart"
)

type Store interface {
	ID() string
	Favorites(ctx context.Context) ([]domain.Product, error)
	SetFavorites(ctx context.Context, items []domain.Product) error
}

// CartAdder is the cart operation used by MoveToCart.
type CartAdder interface {
	AddItem(ctx context.Context, ref domain.ProductRef, quantity int) (cart.View, error)
}

type Service struct {
	store  Store
	events events.Publisher
	logger zerolog.Logger
}

func New(store Store, pub events.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		events: pub,
		logger: logger.With().Str("component", "favorites").Str("session", store.ID()).Logger(),
	}
}

func (s *Service) List(ctx context.Context) ([]domain.Product, error) {
	items, err := s.store.Favorites(ctx)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Product{}
	}
	return items, nil
}

func (s *Service) Contains(ctx context.Context, productID int64) (bool, error) {
	items, err := s.store.Favorites(ctx)
	if err != nil {
		return false, err
	}
	return indexOf(items, productID) >= 0, nil
}

// Toggle adds p when absent and removes it when present. It reports whether
// p is a favorite afterwards and the new count.
func (s *Service) Toggle(ctx context.Context, p domain.Product) (bool, int, error) {
	if p.ID == 0 {
		return false, 0, domain.ErrProductRef
	}
	items, err := s.store.Favorites(ctx)
	if err != nil {
		return false, 0, err
	}
	if idx := indexOf(items, p.ID); idx >= 0 {
		items = append(items[:idx:idx], items[idx+1:]...)
		return false, len(items), s.save(ctx, items)
	}
	items = append(items, p)
	return true, len(items), s.save(ctx, items)
}

// Add is Toggle without the removal half.
func (s *Service) Add(ctx context.Context, p domain.Product) (int, error) {
	if p.ID == 0 {
		return 0, domain.ErrProductRef
	}
	items, err := s.store.Favorites(ctx)
	if err != nil {
		return 0, err
	}
	if indexOf(items, p.ID) >= 0 {
		return len(items), nil
	}
	items = append(items, p)
	return len(items), s.save(ctx, items)
}

// Remove drops productID; removing an absent product is not an error.
func (s *Service) Remove(ctx context.Context, productID int64) (int, error) {
	items, err := s.store.Favorites(ctx)
	if err != nil {
		return 0, err
	}
	idx := indexOf(items, productID)
	if idx < 0 {
		return len(items), nil
	}
	items = append(items[:idx:idx], items[idx+1:]...)
	return len(items), s.save(ctx, items)
}

// MoveToCart puts one unit of a favorite in the cart. The favorite stays.
func (s *Service) MoveToCart(ctx context.Context, productID int64, carts CartAdder) (cart.View, error) {
	ok, err := s.Contains(ctx, productID)
	if err != nil {
		return cart.View{}, err
	}
	if !ok {
		return cart.View{}, fmt.Errorf("favorite %d: %w", productID, domain.ErrNotFound)
	}
	return carts.AddItem(ctx, domain.ProductRef{ID: productID}, 1)
}

func (s *Service) save(ctx context.Context, items []domain.Product) error {
	if err := s.store.SetFavorites(ctx, items); err != nil {
		return err
	}
	s.logger.Debug().Int("count", len(items)).Msg("favorites saved")
	if s.events != nil {
		s.events.Publish(events.Favorites(s.store.ID(), len(items)))
	}
	return nil
}

func indexOf(items []domain.Product, id int64) int {
	for i, p := range items {
		if p.ID == id {
			return i
		}
	}
	return -1
}
