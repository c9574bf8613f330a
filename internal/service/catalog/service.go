// Package catalog reads products from the backend and applies the
// storefront's client-side filters, sorting and paging.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bodyshop-storefront/internal/backend"
	"bodyshop-storefront/internal/domain"
)

const (
	// fetchSize mirrors the page size the storefront asks the backend for.
	fetchSize      = 100
	defaultPerPage = 12
)

// Sort orders.
const (
	SortNone      = ""
	SortPriceAsc  = "price-asc"
	SortPriceDesc = "price-desc"
	SortName      = "name"
	SortRating    = "rating"
)

type productSource interface {
	ListProducts(ctx context.Context, q backend.ProductQuery) ([]domain.Product, error)
	ProductBySlug(ctx context.Context, slug string) (*domain.Product, error)
}

type Service struct {
	backend productSource
	ttl     time.Duration
	now     func() time.Time
	logger  zerolog.Logger

	mu        sync.Mutex
	cached    []domain.Product
	fetchedAt time.Time
}

// New returns a catalog over src. The full listing is cached for ttl; a zero
// ttl disables caching.
func New(src productSource, ttl time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		backend: src,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger.With().Str("component", "catalog").Logger(),
	}
}

type Filter struct {
	Category    string           `form:"category"`
	Brand       string           `form:"brand"`
	Search      string           `form:"search"`
	MinPrice    *decimal.Decimal `form:"-"`
	MaxPrice    *decimal.Decimal `form:"-"`
	InStockOnly bool             `form:"in_stock"`
	Sort        string           `form:"sort"`
	Page        int              `form:"page"`
	PerPage     int              `form:"per_page"`
}

type Page struct {
	Items   []domain.Product `json:"items"`
	Total   int              `json:"total"`
	Page    int              `json:"page"`
	Pages   int              `json:"pages"`
	PerPage int              `json:"per_page"`
}

// List filters the catalog by f and returns the requested page.
func (s *Service) List(ctx context.Context, f Filter) (Page, error) {
	all, err := s.all(ctx)
	if err != nil {
		return Page{}, err
	}

	matched := make([]domain.Product, 0, len(all))
	for _, p := range all {
		if f.matches(p) {
			matched = append(matched, p)
		}
	}
	if err := sortProducts(matched, f.Sort); err != nil {
		return Page{}, err
	}

	per := f.PerPage
	if per <= 0 {
		per = defaultPerPage
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	pages := (len(matched) + per - 1) / per
	start := (page - 1) * per
	end := start + per
	if start > len(matched) {
		start = len(matched)
	}
	if end > len(matched) {
		end = len(matched)
	}
	return Page{
		Items:   matched[start:end],
		Total:   len(matched),
		Page:    page,
		Pages:   pages,
		PerPage: per,
	}, nil
}

// BySlug reads a product from the backend's detail route.
func (s *Service) BySlug(ctx context.Context, slug string) (*domain.Product, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, domain.ErrNotFound
	}
	return s.backend.ProductBySlug(ctx, slug)
}

// ByID looks a product up in the full listing.
func (s *Service) ByID(ctx context.Context, id int64) (*domain.Product, error) {
	all, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range all {
		if p.ID == id {
			p := p
			return &p, nil
		}
	}
	return nil, domain.ErrNotFound
}

// Resolve finds the product a reference points at.
func (s *Service) Resolve(ctx context.Context, ref domain.ProductRef) (*domain.Product, error) {
	switch {
	case ref.ID != 0:
		return s.ByID(ctx, ref.ID)
	case strings.TrimSpace(ref.Slug) != "":
		return s.BySlug(ctx, ref.Slug)
	default:
		return nil, domain.ErrProductRef
	}
}

func (s *Service) all(ctx context.Context) ([]domain.Product, error) {
	s.mu.Lock()
	if s.ttl > 0 && s.cached != nil && s.now().Sub(s.fetchedAt) < s.ttl {
		out := s.cached
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	products, err := s.backend.ListProducts(ctx, backend.ProductQuery{PageSize: fetchSize})
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	if products == nil {
		products = []domain.Product{}
	}
	s.logger.Debug().Int("count", len(products)).Msg("catalog fetched")

	s.mu.Lock()
	s.cached = products
	s.fetchedAt = s.now()
	s.mu.Unlock()
	return products, nil
}

func (f Filter) matches(p domain.Product) bool {
	if f.Category != "" && (p.Category == nil || p.Category.Slug != f.Category) {
		return false
	}
	if f.Brand != "" && (p.Brand == nil || p.Brand.Slug != f.Brand) {
		return false
	}
	if term := strings.ToLower(strings.TrimSpace(f.Search)); term != "" {
		if !strings.Contains(strings.ToLower(p.Name), term) && !strings.Contains(strings.ToLower(p.Description), term) {
			return false
		}
	}
	if f.MinPrice != nil && p.Price.LessThan(*f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && p.Price.GreaterThan(*f.MaxPrice) {
		return false
	}
	if f.InStockOnly && p.Stock <= 0 {
		return false
	}
	return true
}

func sortProducts(products []domain.Product, order string) error {
	var less func(a, b domain.Product) bool
	switch order {
	case SortNone:
		return nil
	case SortPriceAsc:
		less = func(a, b domain.Product) bool { return a.Price.LessThan(b.Price) }
	case SortPriceDesc:
		less = func(a, b domain.Product) bool { return a.Price.GreaterThan(b.Price) }
	case SortName:
		less = func(a, b domain.Product) bool { return strings.ToLower(a.Name) < strings.ToLower(b.Name) }
	case SortRating:
		less = func(a, b domain.Product) bool { return a.Rating.GreaterThan(b.Rating) }
	default:
		verr := &domain.ValidationError{}
		verr.Add("sort", fmt.Sprintf("unknown sort %q", order))
		return verr
	}
	sort.SliceStable(products, func(i, j int) bool { return less(products[i], products[j]) })
	return nil
}
