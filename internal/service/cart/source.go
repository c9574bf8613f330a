package cart

import (
	"github.com/shopspring/decimal"

	"bodyshop-storefront/internal/domain"
)

// Source is the authoritative cart representation: Local or Remote. Exactly
// one is held at a time, chosen by whether a credential is stored.
type Source interface {
	lines() []Line
	total() decimal.Decimal
	serverBacked() bool
}

// Local is the guest cart kept in session storage.
type Local struct {
	Items []domain.LocalCartItem
}

// Remote is the server-held cart. CartID is 0 when the user has no cart yet.
type Remote struct {
	CartID int64
	Items  []domain.CartItem
	Total  *decimal.Decimal
}

func remoteFrom(c *domain.Cart) Remote {
	if c == nil {
		return Remote{}
	}
	return Remote{CartID: c.ID, Items: c.Items, Total: c.TotalPrice}
}

func (l Local) lines() []Line {
	out := make([]Line, 0, len(l.Items))
	for _, it := range l.Items {
		out = append(out, Line{
			ID:        it.ID,
			ProductID: it.ID,
			Slug:      it.Slug,
			Name:      it.Name,
			Image:     it.Image,
			Price:     it.Price,
			Quantity:  it.Quantity,
			LineTotal: it.LineTotal(),
		})
	}
	return out
}

func (l Local) total() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range l.Items {
		sum = sum.Add(it.LineTotal())
	}
	return sum
}

func (Local) serverBacked() bool { return false }

func (l Local) find(productID int64) int {
	for i, it := range l.Items {
		if it.ID == productID {
			return i
		}
	}
	return -1
}

func (r Remote) lines() []Line {
	out := make([]Line, 0, len(r.Items))
	for _, it := range r.Items {
		out = append(out, Line{
			ID:        it.ID,
			ProductID: it.Product.ID,
			Slug:      it.Product.Slug,
			Name:      it.Product.Name,
			Image:     it.Product.Image,
			Price:     it.Product.Price,
			Quantity:  it.Quantity,
			LineTotal: it.LineTotal(),
		})
	}
	return out
}

// total prefers the server's figure whenever it sent one.
func (r Remote) total() decimal.Decimal {
	if r.Total != nil {
		return *r.Total
	}
	sum := decimal.Zero
	for _, it := range r.Items {
		sum = sum.Add(it.LineTotal())
	}
	return sum
}

func (Remote) serverBacked() bool { return true }

func (r Remote) find(itemID int64) int {
	for i, it := range r.Items {
		if it.ID == itemID {
			return i
		}
	}
	return -1
}

// Phase is the synchronizer's lifecycle position.
type Phase int

const (
	Guest Phase = iota
	Loading
	Ready
	Failed
)

func (p Phase) String() string {
	switch p {
	case Guest:
		return "guest"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "error"
	default:
		return "unknown"
	}
}

type State struct {
	Phase        Phase
	ServerBacked bool
	Err          error
}

func (s State) String() string {
	if s.Phase == Ready {
		if s.ServerBacked {
			return "ready(server)"
		}
		return "ready(local)"
	}
	return s.Phase.String()
}

// Line is one cart row as shown to the user. ID is the server item id for a
// remote cart and the product id for a local one; it is what quantity and
// removal operations take.
type Line struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	Slug      string          `json:"slug,omitempty"`
	Name      string          `json:"name"`
	Image     string          `json:"image,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// View is a snapshot of the cart for rendering.
type View struct {
	State          string          `json:"state"`
	ServerBacked   bool            `json:"server_backed"`
	SignInRequired bool            `json:"sign_in_required"`
	CartID         int64           `json:"cart_id,omitempty"`
	Items          []Line          `json:"items"`
	Count          int             `json:"count"`
	Total          decimal.Decimal `json:"total"`
	// Notice is a non-blocking message about a degraded load.
	Notice string `json:"notice,omitempty"`
}
