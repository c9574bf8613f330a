package domain

import "github.com/shopspring/decimal"

// Cart is the server-held cart of an authenticated user.
type Cart struct {
	ID         int64            `json:"id"`
	Items      []CartItem       `json:"items"`
	TotalPrice *decimal.Decimal `json:"total_price,omitempty"`
}

type CartItem struct {
	ID       int64   `json:"id"`
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

// LineTotal is price × quantity for one item.
func (i CartItem) LineTotal() decimal.Decimal {
	return i.Product.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ItemQuantity is one entry of a full-list cart update. Quantity 0 asks the
// server to delete the item.
type ItemQuantity struct {
	ID       int64 `json:"id"`
	Quantity int   `json:"quantity"`
}

// LocalCartItem is the guest cart snapshot persisted under the `cart` key.
// ID is the product id.
type LocalCartItem struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Image    string          `json:"image,omitempty"`
	Slug     string          `json:"slug,omitempty"`
	Quantity int             `json:"quantity"`
}

func (i LocalCartItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// SnapshotOf builds the local cart snapshot of p with quantity q.
func SnapshotOf(p Product, q int) LocalCartItem {
	return LocalCartItem{
		ID:       p.ID,
		Name:     p.Name,
		Price:    p.Price,
		Image:    p.Image,
		Slug:     p.Slug,
		Quantity: q,
	}
}
