package backend

import (
	"context"
	"net/http"

	"bodyshop-storefront/internal/domain"
)

// CreateOrder turns the user's server cart into an order.
func (c *Client) CreateOrder(ctx context.Context, creds domain.Credentials, payload domain.OrderPayload) (*domain.Order, error) {
	var out domain.Order
	if err := c.do(ctx, creds, http.MethodPost, "/orders/orders/create_order/", nil, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
