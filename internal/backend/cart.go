package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"bodyshop-storefront/internal/domain"
)

// ListCarts fetches the user's carts in canonical form.
func (c *Client) ListCarts(ctx context.Context, creds domain.Credentials) ([]domain.Cart, error) {
	var raw json.RawMessage
	if err := c.do(ctx, creds, http.MethodGet, "/cart/", nil, nil, &raw); err != nil {
		return nil, err
	}
	return decodeList[domain.Cart](raw)
}

// UpdateCartItems replaces item quantities of cart cartID. items must be the
// full desired list; quantity 0 deletes an item.
func (c *Client) UpdateCartItems(ctx context.Context, creds domain.Credentials, cartID int64, items []domain.ItemQuantity) (*domain.Cart, error) {
	for _, it := range items {
		if it.Quantity < 0 {
			return nil, fmt.Errorf("item %d: %w", it.ID, domain.ErrInvalidQuantity)
		}
	}
	body := struct {
		Items []domain.ItemQuantity `json:"items"`
	}{Items: items}
	var out domain.Cart
	if err := c.do(ctx, creds, http.MethodPatch, fmt.Sprintf("/cart/%d/", cartID), nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddCartItem adds quantity of the referenced product. The backend increments
// an existing line.
func (c *Client) AddCartItem(ctx context.Context, creds domain.Credentials, ref domain.ProductRef, quantity int) (*domain.Cart, error) {
	if quantity < 1 {
		return nil, domain.ErrInvalidQuantity
	}
	body := struct {
		domain.ProductRef
		Quantity int `json:"quantity"`
	}{ProductRef: ref, Quantity: quantity}
	var out domain.Cart
	if err := c.do(ctx, creds, http.MethodPost, "/cart/add_item/", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RemoveCartItem(ctx context.Context, creds domain.Credentials, itemID int64) (*domain.Cart, error) {
	body := map[string]int64{"item_id": itemID}
	var out domain.Cart
	if err := c.do(ctx, creds, http.MethodPost, "/cart/remove_item/", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ClearCart(ctx context.Context, creds domain.Credentials) error {
	return c.do(ctx, creds, http.MethodPost, "/cart/clear/", nil, nil, nil)
}
