// Package checkout turns the authoritative server cart into an order.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"bodyshop-storefront/internal/domain"
	"bodyshop-storefront/internal/events"
	"bodyshop-storefront/internal/phone"
	"bodyshop-storefront/internal/validation"
)

// PickupAddress is sent as the address of pickup orders that carry none.
const PickupAddress = "Самовывоз"

// minskMarker selects the cheaper courier rate; matched case-insensitively
// anywhere in the city.
const minskMarker = "минск"

var (
	courierMinsk = decimal.RequireFromString("5.00")
	courierOther = decimal.RequireFromString("10.00")
	postRate     = decimal.RequireFromString("8.00")
)

type Backend interface {
	ListCarts(ctx context.Context, creds domain.Credentials) ([]domain.Cart, error)
	Profile(ctx context.Context, creds domain.Credentials) (*domain.Profile, error)
	CreateOrder(ctx context.Context, creds domain.Credentials, payload domain.OrderPayload) (*domain.Order, error)
	ClearCart(ctx context.Context, creds domain.Credentials) error
}

type Store interface {
	ID() string
	Credentials(ctx context.Context) (domain.Credentials, error)
	PurgeCredentials(ctx context.Context) error
	User(ctx context.Context) (*domain.Profile, error)
	ClearCart(ctx context.Context) error
	PrependOrder(ctx context.Context, o domain.Order) error
	RecordPurchases(ctx context.Context, records ...domain.PurchaseRecord) error
}

// CartState is told when an order consumed the server cart.
type CartState interface {
	Emptied()
}

type Service struct {
	backend Backend
	events  events.Publisher
	logger  zerolog.Logger
	now     func() time.Time
}

func New(b Backend, pub events.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		backend: b,
		events:  pub,
		logger:  logger.With().Str("component", "checkout").Logger(),
		now:     time.Now,
	}
}

type Quote struct {
	Method string          `json:"method"`
	Price  decimal.Decimal `json:"price"`
}

// Summary is what the checkout screen renders before submission.
type Summary struct {
	Cart     domain.Cart     `json:"cart"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Profile  *domain.Profile `json:"profile,omitempty"`
	// Phone is the profile phone in display form, for prefilling.
	Phone    string  `json:"phone,omitempty"`
	Delivery []Quote `json:"delivery"`
}

// Prepare re-reads the server cart and the profile. It never trusts cart
// contents handed over from the cart screen.
func (s *Service) Prepare(ctx context.Context, st Store, city string) (Summary, error) {
	creds, err := st.Credentials(ctx)
	if err != nil {
		return Summary{}, err
	}
	if !creds.Present() {
		return Summary{}, domain.ErrNotAuthenticated
	}

	var (
		carts      []domain.Cart
		profile    *domain.Profile
		profileErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		carts, err = s.backend.ListCarts(gctx, creds)
		return err
	})
	g.Go(func() error {
		profile, profileErr = s.backend.Profile(gctx, creds)
		if errors.Is(profileErr, domain.ErrUnauthorized) {
			return profileErr
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			return Summary{}, s.signOut(ctx, st)
		}
		return Summary{}, fmt.Errorf("load checkout cart: %w", err)
	}
	if profileErr != nil {
		s.logger.Warn().Err(profileErr).Str("session", st.ID()).Msg("profile fetch failed, using stored profile")
		if profile, err = st.User(ctx); err != nil {
			return Summary{}, err
		}
	}

	if len(carts) == 0 || len(carts[0].Items) == 0 {
		return Summary{}, domain.ErrEmptyCart
	}
	c := carts[0]
	out := Summary{
		Cart:     c,
		Subtotal: subtotal(c),
		Profile:  profile,
		Delivery: Quotes(city),
	}
	if profile != nil && profile.Phone != "" {
		if res := phone.Validate(profile.Phone); res.Valid {
			out.Phone = res.Formatted
		} else {
			out.Phone = phone.FormatInput(profile.Phone)
		}
	}
	return out, nil
}

// DeliveryPrice is the delivery charge for method to city.
func DeliveryPrice(method, city string) decimal.Decimal {
	switch method {
	case domain.DeliveryCourier:
		if strings.Contains(strings.ToLower(city), minskMarker) {
			return courierMinsk
		}
		return courierOther
	case domain.DeliveryPost:
		return postRate
	default:
		return decimal.Zero
	}
}

// Quotes lists every delivery method with its price for city.
func Quotes(city string) []Quote {
	methods := []string{domain.DeliveryCourier, domain.DeliveryPost, domain.DeliveryPickup}
	out := make([]Quote, 0, len(methods))
	for _, m := range methods {
		out = append(out, Quote{Method: m, Price: DeliveryPrice(m, city)})
	}
	return out
}

type Confirmation struct {
	Order    domain.Order    `json:"order"`
	Delivery decimal.Decimal `json:"delivery"`
	// Total is the order total plus delivery.
	Total decimal.Decimal `json:"total"`
}

// SubmitOrder validates form and places the order. On success the server and
// guest carts are emptied and the order is mirrored into local history. A
// backend rejection is returned as is and leaves the cart alone.
func (s *Service) SubmitOrder(ctx context.Context, st Store, form domain.OrderForm, cart CartState) (*Confirmation, error) {
	creds, err := st.Credentials(ctx)
	if err != nil {
		return nil, err
	}
	if !creds.Present() {
		return nil, domain.ErrNotAuthenticated
	}

	payload, err := buildPayload(form)
	if err != nil {
		return nil, err
	}

	order, err := s.backend.CreateOrder(ctx, creds, payload)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			return nil, s.signOut(ctx, st)
		}
		s.logger.Warn().Err(err).Str("session", st.ID()).Msg("order rejected")
		return nil, err
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = s.now().UTC()
	}

	// The order exists on the server from here on. Cleanup failures are
	// logged and never turn it into an error.
	log := s.logger.With().Str("session", st.ID()).Int64("order", order.ID).Logger()
	if err := s.backend.ClearCart(ctx, creds); err != nil {
		log.Warn().Err(err).Msg("clearing server cart after order failed")
	}
	if err := st.ClearCart(ctx); err != nil {
		log.Warn().Err(err).Msg("clearing guest cart after order failed")
	}
	if err := st.PrependOrder(ctx, *order); err != nil {
		log.Warn().Err(err).Msg("saving order to local history failed")
	}
	if err := st.RecordPurchases(ctx, s.purchases(*order)...); err != nil {
		log.Warn().Err(err).Msg("recording purchases failed")
	}
	if cart != nil {
		cart.Emptied()
	}
	if s.events != nil {
		s.events.Publish(events.Cart(st.ID()))
	}
	log.Info().Msg("order placed")

	delivery := DeliveryPrice(form.DeliveryMethod, form.City)
	total := delivery
	if order.TotalPrice != nil {
		total = order.TotalPrice.Add(delivery)
	}
	return &Confirmation{Order: *order, Delivery: delivery, Total: total}, nil
}

func buildPayload(form domain.OrderForm) (domain.OrderPayload, error) {
	verr := &domain.ValidationError{}
	res := phone.Validate(form.Phone)
	if !res.Valid {
		verr.Add("phone", res.Error)
	}
	if err := validation.Into(verr, form); err != nil {
		return domain.OrderPayload{}, err
	}
	return domain.OrderPayload{
		Phone:          res.Formatted,
		Address:        ComposeAddress(form),
		DeliveryMethod: form.DeliveryMethod,
		PaymentMethod:  form.PaymentMethod,
		Comment:        strings.TrimSpace(form.Comment),
	}, nil
}

// ComposeAddress flattens the form into "<city>, <address>[, кв. <apt>]".
func ComposeAddress(form domain.OrderForm) string {
	city := strings.TrimSpace(form.City)
	street := strings.TrimSpace(form.Address)
	if form.DeliveryMethod == domain.DeliveryPickup && city == "" && street == "" {
		return PickupAddress
	}
	addr := city + ", " + street
	if apt := strings.TrimSpace(form.Apartment); apt != "" {
		addr += ", кв. " + apt
	}
	return addr
}

func (s *Service) purchases(o domain.Order) []domain.PurchaseRecord {
	at := s.now().UTC()
	out := make([]domain.PurchaseRecord, 0, len(o.Items))
	for _, it := range o.Items {
		price := it.Price
		if price.IsZero() {
			price = it.Product.Price
		}
		out = append(out, domain.PurchaseRecord{
			ID:           it.Product.ID,
			Name:         it.Product.Name,
			Price:        price,
			Image:        it.Product.Image,
			Slug:         it.Product.Slug,
			Quantity:     it.Quantity,
			PurchaseDate: at,
			OrderID:      o.ID,
		})
	}
	return out
}

func (s *Service) signOut(ctx context.Context, st Store) error {
	s.logger.Info().Str("session", st.ID()).Msg("credential rejected during checkout, signing out")
	if err := st.PurgeCredentials(ctx); err != nil {
		return errors.Join(domain.ErrSignInRequired, err)
	}
	if s.events != nil {
		s.events.Publish(events.Auth(st.ID()))
	}
	return domain.ErrSignInRequired
}

func subtotal(c domain.Cart) decimal.Decimal {
	if c.TotalPrice != nil {
		return *c.TotalPrice
	}
	sum := decimal.Zero
	for _, it := range c.Items {
		sum = sum.Add(it.LineTotal())
	}
	return sum
}
