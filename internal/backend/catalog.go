package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"bodyshop-storefront/internal/domain"
)

// maxProductPages stops ListProducts from following a "next" chain forever.
const maxProductPages = 200

// ProductQuery holds the server-side catalog filters.
type ProductQuery struct {
	Search   string
	Category string
	PageSize int
}

func (q ProductQuery) values() url.Values {
	v := url.Values{}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.Category != "" {
		v.Set("category", q.Category)
	}
	if q.PageSize > 0 {
		v.Set("page_size", strconv.Itoa(q.PageSize))
	}
	return v
}

// ListProducts returns every product matching q, following the "next" link
// of paginated responses until the last page.
func (c *Client) ListProducts(ctx context.Context, q ProductQuery) ([]domain.Product, error) {
	var out []domain.Product
	query := q.values()
	for page := 0; page < maxProductPages; page++ {
		var raw json.RawMessage
		if err := c.do(ctx, domain.Credentials{}, http.MethodGet, "/catalog/products/", query, nil, &raw); err != nil {
			return nil, err
		}
		products, err := decodeList[domain.Product](raw)
		if err != nil {
			return nil, err
		}
		out = append(out, products...)

		next, err := nextPage(raw)
		if err != nil {
			return nil, err
		}
		if next == nil || len(products) == 0 {
			return out, nil
		}
		query = next
	}
	c.logger.Warn().Int("pages", maxProductPages).Msg("product listing truncated")
	return out, nil
}

// nextPage returns the query of the envelope's "next" link, or nil on the
// last page. Only the link's query is used.
func nextPage(raw json.RawMessage) (url.Values, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, nil
	}
	var env struct {
		Next *string `json:"next"`
	}
	if err := json.Unmarshal(trimmed, &env); err != nil || env.Next == nil || *env.Next == "" {
		return nil, nil
	}
	u, err := url.Parse(*env.Next)
	if err != nil {
		return nil, fmt.Errorf("decode next page link %q: %w", *env.Next, err)
	}
	return u.Query(), nil
}

// ProductBySlug reads one product from its detail route.
func (c *Client) ProductBySlug(ctx context.Context, slug string) (*domain.Product, error) {
	var out domain.Product
	err := c.do(ctx, domain.Credentials{}, http.MethodGet, "/catalog/products/"+url.PathEscape(slug)+"/", nil, nil, &out)
	var apiErr *domain.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound:
		return nil, fmt.Errorf("product %q: %w", slug, domain.ErrNotFound)
	case err != nil:
		return nil, err
	case out.ID == 0:
		return nil, fmt.Errorf("product %q: %w", slug, domain.ErrNotFound)
	}
	return &out, nil
}
