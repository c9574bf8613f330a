// Package cart keeps one session's cart consistent between session storage
// and the backend. A stored credential makes the server cart authoritative;
// without one the guest cart in storage is. The two are never merged.
package cart

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"bodyshop-storefront/internal/domain"
	"bodyshop-storefront/internal/events"
	"bodyshop-storefront/internal/metrics"
)

// CheckoutRoute is where ProceedToCheckout sends the user.
const CheckoutRoute = "/checkout"

// loadTimeout bounds a shared cart fetch.
const loadTimeout = 30 * time.Second

const (
	noticeUnavailable   = "cart is temporarily unavailable"
	noticeMisconfigured = "cart service returned an unexpected response; check the backend address"
)

type Backend interface {
	ListCarts(ctx context.Context, creds domain.Credentials) ([]domain.Cart, error)
	UpdateCartItems(ctx context.Context, creds domain.Credentials, cartID int64, items []domain.ItemQuantity) (*domain.Cart, error)
	AddCartItem(ctx context.Context, creds domain.Credentials, ref domain.ProductRef, quantity int) (*domain.Cart, error)
	RemoveCartItem(ctx context.Context, creds domain.Credentials, itemID int64) (*domain.Cart, error)
}

// Catalog resolves the product snapshot stored in a guest cart.
type Catalog interface {
	Resolve(ctx context.Context, ref domain.ProductRef) (*domain.Product, error)
}

// Store is the slice of session state the cart needs.
type Store interface {
	ID() string
	Credentials(ctx context.Context) (domain.Credentials, error)
	PurgeCredentials(ctx context.Context) error
	Cart(ctx context.Context) ([]domain.LocalCartItem, error)
	SetCart(ctx context.Context, items []domain.LocalCartItem) error
	RecordPurchases(ctx context.Context, records ...domain.PurchaseRecord) error
}

type Deps struct {
	Backend Backend
	Catalog Catalog
	Events  events.Publisher
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
	Now     func() time.Time
}

type Service struct {
	store   Store
	backend Backend
	catalog Catalog
	events  events.Publisher
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time

	loads singleflight.Group
	// writes serializes read-modify-write cycles on the stored guest cart.
	writes sync.Mutex

	mu             sync.Mutex
	source         Source
	state          State
	prior          State
	notice         string
	signInRequired bool
	// issued is the sequence number of the newest request; responses to
	// older ones are dropped.
	issued uint64
	busy   map[string]struct{}
}

func New(store Store, deps Deps) *Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:   store,
		backend: deps.Backend,
		catalog: deps.Catalog,
		events:  deps.Events,
		metrics: deps.Metrics,
		logger:  deps.Logger.With().Str("component", "cart").Str("session", store.ID()).Logger(),
		now:     now,
		state:   State{Phase: Guest},
		busy:    make(map[string]struct{}),
	}
}

// Load reads the authoritative cart. Without a credential it never touches
// the network. Fetch failures degrade to an empty cart with a notice; only a
// 401 is reported, as ErrSignInRequired after the credential is purged.
// Concurrent calls share one fetch.
func (s *Service) Load(ctx context.Context) (View, error) {
	v, err, _ := s.loads.Do("load", func() (interface{}, error) {
		// The fetch is shared, so it must outlive whichever caller started it.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return s.load(lctx)
	})
	if v == nil {
		return s.View(), err
	}
	return v.(View), err
}

func (s *Service) load(ctx context.Context) (View, error) {
	creds, err := s.store.Credentials(ctx)
	if err != nil {
		return s.View(), err
	}
	if !creds.Present() {
		err := s.loadLocal(ctx)
		s.metrics.CartOp("load", err)
		return s.View(), err
	}

	seq := s.begin()
	carts, err := s.backend.ListCarts(ctx, creds)
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		s.metrics.CartOp("load", err)
		return s.View(), s.signOut(ctx, seq)
	case errors.Is(err, domain.ErrUnexpectedContent):
		s.logger.Error().Err(err).Msg("cart endpoint did not return JSON; backend address is probably wrong")
		s.apply(seq, Remote{}, noticeMisconfigured)
	case err != nil:
		s.logger.Warn().Err(err).Msg("cart fetch failed, showing empty cart")
		s.apply(seq, Remote{}, noticeUnavailable)
	default:
		var first *domain.Cart
		if len(carts) > 0 {
			first = &carts[0]
		}
		s.apply(seq, remoteFrom(first), "")
	}
	s.metrics.CartOp("load", err)
	return s.View(), nil
}

func (s *Service) loadLocal(ctx context.Context) error {
	seq := s.begin()
	items, err := s.store.Cart(ctx)
	if err != nil {
		s.fail(seq, err)
		return err
	}
	s.apply(seq, Local{Items: items}, "")
	return nil
}

// UpdateQuantity sets the quantity of one line. Quantities below 1 are
// ignored. A server cart is updated by sending the full item list with only
// this line changed and adopting the server's answer.
func (s *Service) UpdateQuantity(ctx context.Context, itemID int64, quantity int) (View, error) {
	if quantity < 1 {
		return s.View(), nil
	}
	return s.adjust(ctx, "update_quantity", itemID, func(int) int { return quantity })
}

func (s *Service) Increase(ctx context.Context, itemID int64) (View, error) {
	return s.adjust(ctx, "increase", itemID, func(q int) int { return q + 1 })
}

// Decrease lowers a line by one; at quantity 1 it does nothing.
func (s *Service) Decrease(ctx context.Context, itemID int64) (View, error) {
	return s.adjust(ctx, "decrease", itemID, func(q int) int { return q - 1 })
}

func (s *Service) adjust(ctx context.Context, op string, itemID int64, next func(current int) int) (View, error) {
	release, err := s.acquire(itemKey(itemID))
	if err != nil {
		return s.View(), err
	}
	defer release()

	src, creds, err := s.ensureSource(ctx)
	if err != nil {
		return s.View(), err
	}

	switch cur := src.(type) {
	case Remote:
		idx := cur.find(itemID)
		if idx < 0 {
			err = fmt.Errorf("cart item %d: %w", itemID, domain.ErrNotFound)
			break
		}
		q := next(cur.Items[idx].Quantity)
		if q < 1 || q == cur.Items[idx].Quantity {
			break
		}
		err = s.updateRemote(ctx, creds, cur, idx, q)
	case Local:
		err = s.editLocal(ctx, func(items []domain.LocalCartItem) ([]domain.LocalCartItem, bool, error) {
			idx := Local{Items: items}.find(itemID)
			if idx < 0 {
				return nil, false, fmt.Errorf("cart item %d: %w", itemID, domain.ErrNotFound)
			}
			q := next(items[idx].Quantity)
			if q < 1 || q == items[idx].Quantity {
				return items, false, nil
			}
			out := append([]domain.LocalCartItem(nil), items...)
			out[idx].Quantity = q
			return out, true, nil
		})
	}
	s.metrics.CartOp(op, err)
	return s.View(), err
}

func (s *Service) updateRemote(ctx context.Context, creds domain.Credentials, cur Remote, idx, quantity int) error {
	list := make([]domain.ItemQuantity, len(cur.Items))
	for i, it := range cur.Items {
		list[i] = domain.ItemQuantity{ID: it.ID, Quantity: it.Quantity}
	}
	list[idx].Quantity = quantity

	seq := s.begin()
	updated, err := s.backend.UpdateCartItems(ctx, creds, cur.CartID, list)
	if err != nil {
		return s.failRemote(ctx, seq, "update quantity", err)
	}
	s.apply(seq, remoteFrom(updated), "")
	s.publish(events.Cart(s.store.ID()))
	return nil
}

// RemoveItem drops one line. Removing a line that is already gone, locally
// or on the server, succeeds without change.
func (s *Service) RemoveItem(ctx context.Context, itemID int64) (View, error) {
	release, err := s.acquire(itemKey(itemID))
	if err != nil {
		return s.View(), err
	}
	defer release()

	src, creds, err := s.ensureSource(ctx)
	if err != nil {
		return s.View(), err
	}

	switch cur := src.(type) {
	case Remote:
		if cur.find(itemID) < 0 {
			break
		}
		seq := s.begin()
		updated, rerr := s.backend.RemoveCartItem(ctx, creds, itemID)
		var apiErr *domain.APIError
		switch {
		case errors.As(rerr, &apiErr) && apiErr.Status == http.StatusNotFound:
			s.logger.Info().Int64("item", itemID).Msg("item already gone on the server, reloading")
			_, err = s.Load(ctx)
		case rerr != nil:
			err = s.failRemote(ctx, seq, "remove item", rerr)
		default:
			s.apply(seq, remoteFrom(updated), "")
			s.publish(events.Cart(s.store.ID()))
		}
	case Local:
		err = s.editLocal(ctx, func(items []domain.LocalCartItem) ([]domain.LocalCartItem, bool, error) {
			idx := Local{Items: items}.find(itemID)
			if idx < 0 {
				return items, false, nil
			}
			out := make([]domain.LocalCartItem, 0, len(items)-1)
			out = append(out, items[:idx]...)
			out = append(out, items[idx+1:]...)
			return out, true, nil
		})
	}
	s.metrics.CartOp("remove_item", err)
	return s.View(), err
}

// AddItem adds quantity of a product, incrementing an existing line.
func (s *Service) AddItem(ctx context.Context, ref domain.ProductRef, quantity int) (View, error) {
	if quantity < 1 {
		return s.View(), domain.ErrInvalidQuantity
	}
	if ref.IsZero() {
		return s.View(), domain.ErrProductRef
	}
	release, err := s.acquire(refKey(ref))
	if err != nil {
		return s.View(), err
	}
	defer release()

	src, creds, err := s.ensureSource(ctx)
	if err != nil {
		return s.View(), err
	}

	switch src.(type) {
	case Remote:
		seq := s.begin()
		updated, aerr := s.backend.AddCartItem(ctx, creds, ref, quantity)
		if aerr != nil {
			err = s.failRemote(ctx, seq, "add item", aerr)
			break
		}
		s.apply(seq, remoteFrom(updated), "")
		s.publish(events.Cart(s.store.ID()))
	case Local:
		var p *domain.Product
		if p, err = s.resolve(ctx, ref); err != nil {
			break
		}
		err = s.editLocal(ctx, func(items []domain.LocalCartItem) ([]domain.LocalCartItem, bool, error) {
			return addLocal(items, *p, quantity), true, nil
		})
	}
	s.metrics.CartOp("add_item", err)
	return s.View(), err
}

// BuyProduct is the product page's "buy" button: it always writes the guest
// cart in storage and records the purchase in the local history.
func (s *Service) BuyProduct(ctx context.Context, p domain.Product, quantity int) (View, error) {
	if quantity < 1 {
		return s.View(), domain.ErrInvalidQuantity
	}
	if p.ID == 0 {
		return s.View(), domain.ErrProductRef
	}
	release, err := s.acquire(refKey(domain.ProductRef{ID: p.ID}))
	if err != nil {
		return s.View(), err
	}
	defer release()

	err = s.buy(ctx, p, quantity)
	s.metrics.CartOp("buy", err)
	return s.View(), err
}

func (s *Service) buy(ctx context.Context, p domain.Product, quantity int) error {
	creds, err := s.store.Credentials(ctx)
	if err != nil {
		return err
	}
	s.writes.Lock()
	defer s.writes.Unlock()
	stored, err := s.store.Cart(ctx)
	if err != nil {
		return err
	}
	items := addLocal(stored, p, quantity)

	seq := s.begin()
	if err := s.store.SetCart(ctx, items); err != nil {
		s.fail(seq, err)
		return err
	}
	rec := domain.PurchaseRecord{
		ID:           p.ID,
		Name:         p.Name,
		Price:        p.Price,
		Image:        p.Image,
		Slug:         p.Slug,
		Quantity:     quantity,
		PurchaseDate: s.now().UTC(),
	}
	if err := s.store.RecordPurchases(ctx, rec); err != nil {
		s.fail(seq, err)
		return err
	}
	if creds.Present() {
		s.apply(seq, nil, "")
	} else {
		s.apply(seq, Local{Items: items}, "")
	}
	s.publish(events.Cart(s.store.ID()))
	return nil
}

// TotalPrice is the server's total for a server cart that carries one, and
// the sum of line totals otherwise.
func (s *Service) TotalPrice() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == nil {
		return decimal.Zero
	}
	return s.source.total()
}

// ProceedToCheckout returns the checkout route, or ErrEmptyCart.
func (s *Service) ProceedToCheckout(ctx context.Context) (string, error) {
	src, _, err := s.ensureSource(ctx)
	if err != nil {
		return "", err
	}
	if len(src.lines()) == 0 {
		return "", domain.ErrEmptyCart
	}
	return CheckoutRoute, nil
}

// Emptied records that the server cart was consumed by an order.
func (s *Service) Emptied() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	var id int64
	if r, ok := s.source.(Remote); ok {
		id = r.CartID
	}
	s.source = Remote{CartID: id}
	s.state = State{Phase: Ready, ServerBacked: true}
	s.notice = ""
	s.signInRequired = false
}

// Invalidate forgets the in-memory cart so the next operation reloads it.
// Used when the credential changes.
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	s.source = nil
	s.state = State{Phase: Guest}
	s.notice = ""
}

// ClearError puts the synchronizer back in the state it had before the
// failed operation.
func (s *Service) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Phase == Failed {
		s.state = s.prior
	}
}

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Busy reports whether a request is in flight.
func (s *Service) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.busy) > 0 || s.state.Phase == Loading
}

func (s *Service) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		State:          s.state.String(),
		ServerBacked:   s.state.ServerBacked,
		SignInRequired: s.signInRequired,
		Notice:         s.notice,
		Items:          []Line{},
		Total:          decimal.Zero,
	}
	if s.source == nil {
		return v
	}
	v.Items = s.source.lines()
	v.Total = s.source.total()
	for _, l := range v.Items {
		v.Count += l.Quantity
	}
	if r, ok := s.source.(Remote); ok {
		v.CartID = r.CartID
	}
	return v
}

// ensureSource returns the authoritative source, reloading when nothing is
// held yet or when the stored credential no longer matches what is held.
func (s *Service) ensureSource(ctx context.Context) (Source, domain.Credentials, error) {
	creds, err := s.store.Credentials(ctx)
	if err != nil {
		return nil, creds, err
	}
	s.mu.Lock()
	src := s.source
	s.mu.Unlock()
	if src != nil && src.serverBacked() == creds.Present() {
		return src, creds, nil
	}

	if _, err := s.Load(ctx); err != nil {
		return nil, creds, err
	}
	if creds, err = s.store.Credentials(ctx); err != nil {
		return nil, creds, err
	}
	s.mu.Lock()
	src = s.source
	s.mu.Unlock()
	if src == nil {
		return Local{}, creds, nil
	}
	return src, creds, nil
}

func (s *Service) saveLocal(ctx context.Context, items []domain.LocalCartItem) error {
	seq := s.begin()
	if err := s.store.SetCart(ctx, items); err != nil {
		s.fail(seq, err)
		return err
	}
	s.apply(seq, Local{Items: items}, "")
	s.publish(events.Cart(s.store.ID()))
	return nil
}

// editLocal runs edit against the guest cart as currently stored, not the
// in-memory copy, and saves the result. Edits of different lines may run
// concurrently, so each one sees the others' writes. An edit reporting no
// change only refreshes the view.
func (s *Service) editLocal(ctx context.Context, edit func([]domain.LocalCartItem) ([]domain.LocalCartItem, bool, error)) error {
	s.writes.Lock()
	defer s.writes.Unlock()

	stored, err := s.store.Cart(ctx)
	if err != nil {
		return err
	}
	items, changed, err := edit(stored)
	if err != nil {
		return err
	}
	if !changed {
		s.apply(s.begin(), Local{Items: stored}, "")
		return nil
	}
	return s.saveLocal(ctx, items)
}

func (s *Service) resolve(ctx context.Context, ref domain.ProductRef) (*domain.Product, error) {
	if s.catalog == nil {
		return nil, fmt.Errorf("resolve product: %w", domain.ErrNotFound)
	}
	p, err := s.catalog.Resolve(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("resolve product: %w", err)
	}
	return p, nil
}

// begin issues a sequence number and enters Loading. A failed state left by
// an earlier operation is cleared first.
func (s *Service) begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Phase == Failed {
		s.state = s.prior
	}
	if s.state.Phase != Loading {
		s.prior = s.state
	}
	s.issued++
	s.state = State{Phase: Loading, ServerBacked: s.prior.ServerBacked}
	return s.issued
}

// apply adopts src (nil keeps the current source) unless a newer request has
// been issued since seq.
func (s *Service) apply(seq uint64, src Source, notice string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < s.issued {
		s.metrics.Stale()
		s.logger.Debug().Uint64("seq", seq).Uint64("latest", s.issued).Msg("discarding stale cart response")
		return false
	}
	if src != nil {
		s.source = src
		s.signInRequired = !src.serverBacked()
	}
	s.notice = notice
	serverBacked := s.prior.ServerBacked
	if s.source != nil {
		serverBacked = s.source.serverBacked()
	}
	s.state = State{Phase: Ready, ServerBacked: serverBacked}
	return true
}

func (s *Service) fail(seq uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < s.issued {
		s.metrics.Stale()
		return
	}
	s.state = State{Phase: Failed, ServerBacked: s.prior.ServerBacked, Err: err}
}

// failRemote handles an error from a cart mutation. A 401 signs the session
// out; anything else leaves the cart as it was.
func (s *Service) failRemote(ctx context.Context, seq uint64, what string, err error) error {
	if errors.Is(err, domain.ErrUnauthorized) {
		return s.signOut(ctx, seq)
	}
	s.logger.Warn().Err(err).Msg(what + " failed")
	s.fail(seq, err)
	return err
}

// signOut purges the stale credential. The held cart is kept as is; the next
// operation reloads from the guest cart.
func (s *Service) signOut(ctx context.Context, seq uint64) error {
	s.logger.Info().Msg("credential rejected, signing out")
	purgeErr := s.store.PurgeCredentials(ctx)
	if purgeErr != nil {
		s.logger.Error().Err(purgeErr).Msg("purge credentials")
	}
	s.mu.Lock()
	if seq >= s.issued {
		s.state = State{Phase: Guest}
	}
	s.signInRequired = true
	s.mu.Unlock()
	s.publish(events.Auth(s.store.ID()))
	if purgeErr != nil {
		return errors.Join(domain.ErrSignInRequired, purgeErr)
	}
	return domain.ErrSignInRequired
}

func (s *Service) acquire(key string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.busy[key]; ok {
		return nil, domain.ErrItemBusy
	}
	s.busy[key] = struct{}{}
	return func() {
		s.mu.Lock()
		delete(s.busy, key)
		s.mu.Unlock()
	}, nil
}

func (s *Service) publish(e events.Event) {
	if s.events != nil {
		s.events.Publish(e)
	}
}

func addLocal(items []domain.LocalCartItem, p domain.Product, quantity int) []domain.LocalCartItem {
	out := append([]domain.LocalCartItem(nil), items...)
	for i := range out {
		if out[i].ID == p.ID {
			out[i].Quantity += quantity
			return out
		}
	}
	return append(out, domain.SnapshotOf(p, quantity))
}

func itemKey(id int64) string {
	return "item:" + strconv.FormatInt(id, 10)
}

func refKey(ref domain.ProductRef) string {
	if ref.ID != 0 {
		return "product:" + strconv.FormatInt(ref.ID, 10)
	}
	return "slug:" + ref.Slug
}
