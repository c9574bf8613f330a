package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          int64           `json:"id"`
	Slug        string          `json:"slug"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Category    *Category       `json:"category,omitempty"`
	Brand       *Brand          `json:"brand,omitempty"`
	Rating      decimal.Decimal `json:"rating"`
	Image       string          `json:"image,omitempty"`
}

// ProductRef addresses a product either by id or by slug. The backend's
// add_item endpoint accepts both.
type ProductRef struct {
	ID   int64  `json:"product_id,omitempty"`
	Slug string `json:"product_slug,omitempty"`
}

func (r ProductRef) IsZero() bool {
	return r.ID == 0 && strings.TrimSpace(r.Slug) == ""
}

// Matches reports whether p is the product addressed by r.
func (r ProductRef) Matches(p Product) bool {
	if r.ID != 0 {
		return p.ID == r.ID
	}
	return r.Slug != "" && p.Slug == r.Slug
}
