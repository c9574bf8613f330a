package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Delivery and payment methods understood by the backend.
const (
	DeliveryCourier = "courier"
	DeliveryPickup  = "pickup"
	DeliveryPost    = "post"

	PaymentCash     = "cash"
	PaymentCard     = "card"
	PaymentTransfer = "transfer"
)

type Order struct {
	ID             int64            `json:"id"`
	User           int64            `json:"user,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	Address        string           `json:"address"`
	Phone          string           `json:"phone,omitempty"`
	DeliveryMethod string           `json:"delivery_method,omitempty"`
	PaymentMethod  string           `json:"payment_method,omitempty"`
	Comment        string           `json:"comment,omitempty"`
	Status         string           `json:"status"`
	TotalPrice     *decimal.Decimal `json:"total_price,omitempty"`
	Items          []OrderItem      `json:"items"`
}

type OrderItem struct {
	ID       int64           `json:"id"`
	Product  Product         `json:"product"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// OrderForm is what the checkout screen collects.
type OrderForm struct {
	FirstName      string `json:"first_name" validate:"required,max=100"`
	LastName       string `json:"last_name" validate:"max=100"`
	Phone          string `json:"phone" validate:"required"`
	Email          string `json:"email" validate:"omitempty,email"`
	DeliveryMethod string `json:"delivery_method" validate:"required,oneof=courier pickup post"`
	City           string `json:"city" validate:"required_unless=DeliveryMethod pickup"`
	Address        string `json:"address" validate:"required_unless=DeliveryMethod pickup"`
	Apartment      string `json:"apartment"`
	PostalCode     string `json:"postal_code"`
	PaymentMethod  string `json:"payment_method" validate:"required,oneof=cash card transfer"`
	Comment        string `json:"comment" validate:"max=1000"`
}

// OrderPayload is the flattened body posted to the order-creation endpoint.
type OrderPayload struct {
	Phone          string `json:"phone"`
	Address        string `json:"address"`
	DeliveryMethod string `json:"delivery_method"`
	PaymentMethod  string `json:"payment_method"`
	Comment        string `json:"comment"`
}

// PurchaseRecord is one entry of the local purchase history.
type PurchaseRecord struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Image        string          `json:"image,omitempty"`
	Slug         string          `json:"slug,omitempty"`
	Quantity     int             `json:"quantity"`
	PurchaseDate time.Time       `json:"purchaseDate"`
	OrderID      int64           `json:"orderId,omitempty"`
}
