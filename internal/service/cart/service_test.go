package cart

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bodyshop-storefront/internal/domain"
	"bodyshop-storefront/internal/events"
	"bodyshop-storefront/internal/repository/localstate"
	"bodyshop-storefront/internal/session"
)

type stubBackend struct {
	mu sync.Mutex

	carts       []domain.Cart
	listErr     error
	listCalls   int
	listStarted chan struct{}
	listGate    chan struct{}

	updateResult    *domain.Cart
	updateErr       error
	updateCalls     int
	updateStarted   chan struct{}
	updateGate      chan struct{}
	lastUpdateCart  int64
	lastUpdateItems []domain.ItemQuantity

	addResult  *domain.Cart
	addErr     error
	addCalls   int
	lastAddRef domain.ProductRef
	lastAddQty int

	removeResult *domain.Cart
	removeErr    error
	removeCalls  int
}

func (b *stubBackend) ListCarts(ctx context.Context, _ domain.Credentials) ([]domain.Cart, error) {
	b.mu.Lock()
	b.listCalls++
	carts, err, started, gate := b.carts, b.listErr, b.listStarted, b.listGate
	b.mu.Unlock()
	if gate != nil {
		started <- struct{}{}
		<-gate
	}
	if cerr := ctx.Err(); cerr != nil {
		return nil, cerr
	}
	return carts, err
}

func (b *stubBackend) UpdateCartItems(_ context.Context, _ domain.Credentials, cartID int64, items []domain.ItemQuantity) (*domain.Cart, error) {
	b.mu.Lock()
	b.updateCalls++
	b.lastUpdateCart = cartID
	b.lastUpdateItems = items
	res, err, started, gate := b.updateResult, b.updateErr, b.updateStarted, b.updateGate
	b.mu.Unlock()
	if gate != nil {
		started <- struct{}{}
		<-gate
	}
	return res, err
}

func (b *stubBackend) AddCartItem(_ context.Context, _ domain.Credentials, ref domain.ProductRef, quantity int) (*domain.Cart, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addCalls++
	b.lastAddRef = ref
	b.lastAddQty = quantity
	return b.addResult, b.addErr
}

func (b *stubBackend) RemoveCartItem(_ context.Context, _ domain.Credentials, _ int64) (*domain.Cart, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeCalls++
	return b.removeResult, b.removeErr
}

func (b *stubBackend) calls() (list, update, add, remove int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listCalls, b.updateCalls, b.addCalls, b.removeCalls
}

type stubCatalog struct {
	products []domain.Product
}

func (c *stubCatalog) Resolve(_ context.Context, ref domain.ProductRef) (*domain.Product, error) {
	for _, p := range c.products {
		if ref.Matches(p) {
			p := p
			return &p, nil
		}
	}
	return nil, domain.ErrNotFound
}

// gatedCatalog holds every Resolve until gate is closed.
type gatedCatalog struct {
	stubCatalog
	started chan struct{}
	gate    chan struct{}
}

func (c *gatedCatalog) Resolve(ctx context.Context, ref domain.ProductRef) (*domain.Product, error) {
	c.started <- struct{}{}
	<-c.gate
	return c.stubCatalog.Resolve(ctx, ref)
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

var (
	primer    = domain.Product{ID: 1, Slug: "epoxy-primer", Name: "Epoxy primer", Price: dec("45.90")}
	clearCoat = domain.Product{ID: 2, Slug: "clear-coat", Name: "Clear coat", Price: dec("20.00")}
	sandpaper = domain.Product{ID: 3, Slug: "sandpaper-p800", Name: "Sandpaper P800", Price: dec("1.50")}
)

type fixture struct {
	svc     *Service
	sess    *session.Session
	backend *stubBackend
	events  *recorder
}

func newFixture(t *testing.T, creds domain.Credentials) *fixture {
	t.Helper()
	sess := session.New("s1", localstate.NewMemory(), zerolog.Nop())
	if creds.Present() {
		require.NoError(t, sess.SetCredentials(context.Background(), creds))
		require.NoError(t, sess.SetUser(context.Background(), domain.Profile{ID: 9, Username: "ivan"}))
	}
	be := &stubBackend{}
	rec := &recorder{}
	svc := New(sess, Deps{
		Backend: be,
		Catalog: &stubCatalog{products: []domain.Product{primer, clearCoat, sandpaper}},
		Events:  rec,
		Logger:  zerolog.Nop(),
		Now:     func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) },
	})
	return &fixture{svc: svc, sess: sess, backend: be, events: rec}
}

var signedIn = domain.Credentials{Access: "access", Refresh: "refresh"}

func serverCart() domain.Cart {
	return domain.Cart{
		ID: 42,
		Items: []domain.CartItem{
			{ID: 100, Product: clearCoat, Quantity: 2},
			{ID: 101, Product: sandpaper, Quantity: 10},
		},
		TotalPrice: decPtr("55.00"),
	}
}

func TestLoad_GuestSkipsNetwork(t *testing.T) {
	f := newFixture(t, domain.Credentials{})
	ctx := context.Background()
	require.NoError(t, f.sess.SetCart(ctx, []domain.LocalCartItem{domain.SnapshotOf(primer, 2)}))

	view, err := f.svc.Load(ctx)
	require.NoError(t, err)

	list, _, _, _ := f.backend.calls()
	assert.Zero(t, list)
	assert.True(t, view.SignInRequired)
	assert.False(t, view.ServerBacked)
	assert.Equal(t, "ready(local)", view.State)
	require.Len(t, view.Items, 1)
	assert.Equal(t, 2, view.Count)
	assert.True(t, dec("91.80").Equal(view.Total))
}

func TestLoad_TakesFirstServerCart(t *testing.T) {
	f := newFixture(t, signedIn)
	other := domain.Cart{ID: 43}
	f.backend.carts = []domain.Cart{serverCart(), other}

	view, err := f.svc.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), view.CartID)
	assert.True(t, view.ServerBacked)
	assert.False(t, view.SignInRequired)
	assert.Len(t, view.Items, 2)
	assert.Equal(t, State{Phase: Ready, ServerBacked: true}, f.svc.State())
}

func TestLoad_NoServerCartIsEmpty(t *testing.T) {
	f := newFixture(t, signedIn)

	view, err := f.svc.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, view.Items)
	assert.True(t, view.Total.IsZero())
	assert.True(t, view.ServerBacked)
}

func TestLoad_FailureDegradesToEmptyCart(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		notice string
	}{
		{"transport", errors.New("dial tcp: connection refused"), noticeUnavailable},
		{"server error", &domain.APIError{Status: http.StatusInternalServerError}, noticeUnavailable},
		{"html response", &domain.ContentError{Endpoint: "http://shop/api/cart/", ContentType: "text/html"}, noticeMisconfigured},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, signedIn)
			f.backend.listErr = tc.err

			view, err := f.svc.Load(context.Background())
			require.NoError(t, err)
			assert.Empty(t, view.Items)
			assert.Equal(t, tc.notice, view.Notice)

			creds, err := f.sess.Credentials(context.Background())
			require.NoError(t, err)
			assert.True(t, creds.Present(), "credential must survive a non-401 failure")
		})
	}
}

func TestLoad_UnauthorizedSignsOut(t *testing.T) {
	f := newFixture(t, signedIn)
	f.backend.listErr = domain.ErrUnauthorized
	ctx := context.Background()

	_, err := f.svc.Load(ctx)
	require.ErrorIs(t, err, domain.ErrSignInRequired)

	creds, err := f.sess.Credentials(ctx)
	require.NoError(t, err)
	assert.False(t, creds.Present())
	assert.Empty(t, creds.Refresh)
	user, err := f.sess.User(ctx)
	require.NoError(t, err)
	assert.Nil(t, user)
	assert.Equal(t, []events.Kind{events.AuthChanged}, f.events.kinds())
	assert.Equal(t, Guest, f.svc.State().Phase)
}

func TestUpdateQuantity_ServerEchoAndTotal(t *testing.T) {
	f := newFixture(t, signedIn)
	f.backend.carts = []domain.Cart{serverCart()}
	ctx := context.Background()
	_, err := f.svc.Load(ctx)
	require.NoError(t, err)

	echoed := serverCart()
	echoed.Items[0].Quantity = 3
	echoed.TotalPrice = decPtr("75.00")
	f.backend.updateResult = &echoed

	view, err := f.svc.UpdateQuantity(ctx, 100, 3)
	require.NoError(t, err)

	assert.Equal(t, int64(42), f.backend.lastUpdateCart)
	assert.Equal(t, []domain.ItemQuantity{{ID: 100, Quantity: 3}, {ID: 101, Quantity: 10}}, f.backend.lastUpdateItems)
	require.Len(t, view.Items, 2)
	assert.Equal(t, 3, view.Items[0].Quantity)
	assert.Equal(t, 10, view.Items[1].Quantity)
	// the server total wins over the recomputed 60.00 + 15.00
	assert.True(t, dec("75.00").Equal(f.svc.TotalPrice()))
	assert.Equal(t, []events.Kind{events.CartChanged}, f.events.kinds())
}

func TestTotalPrice_FallsBackToLineSum(t *testing.T) {
	f := newFixture(t, signedIn)
	c := serverCart()
	c.TotalPrice = nil
	f.backend.carts = []domain.Cart{c}

	_, err := f.svc.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, dec("55.00").Equal(f.svc.TotalPrice()))
}

func TestUpdateQuantity_BelowOneIsNoop(t *testing.T) {
	f := newFixture(t, signedIn)
	f.backend.carts = []domain.Cart{serverCart()}
	ctx := context.Background()
	_, err := f.svc.Load(ctx)
	require.NoError(t, err)

	for _, q := range []int{0, -3} {
		view, err := f.svc.UpdateQuantity(ctx, 100, q)
		require.NoError(t, err)
		assert.Equal(t, 2, view.Items[0].Quantity)
	}
	_, updates, _, _ := f.backend.calls()
	assert.Zero(t, updates)
}

func TestDecrease_AtOneIsNoop(t *testing.T) {
	f := newFixture(t, signedIn)
	c := serverCart()
	c.Items[1].Quantity = 1
	f.backend.carts = []domain.Cart{c}
	ctx := context.Background()
	_, err := f.svc.Load(ctx)
	require.NoError(t, err)

	view, err := f.svc.Decrease(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Items[1].Quantity)
	_, updates, _, _ := f.backend.calls()
	assert.Zero(t, updates)

	echoed := serverCart()
	echoed.Items[0].Quantity = 1
	f.backend.updateResult = &echoed
	view, err = f.svc.Decrease(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, []domain.ItemQuantity{{ID: 100, Quantity: 1}, {ID: 101, Quantity: 1}}, f.backend.lastUpdateItems)
	assert.Equal(t, 1, view.Items[0].Quantity)
}

func TestIncreaseDecrease_Local(t *testing.T) {
	f := newFixture(t, domain.Credentials{})
	ctx := context.Background()
	require.NoError(t, f.sess.SetCart(ctx, []domain.LocalCartItem{domain.SnapshotOf(primer, 1)}))

	view, err := f.svc.Decrease(ctx, primer.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Items[0].Quantity)

	view, err = f.svc.Increase(ctx, primer.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, view.Items[0].Quantity)

	stored, err := f.sess.Cart(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stored[0].Quantity)
	assert.Equal(t, []events.Kind{events.CartChanged}, f.events.kinds())
}

func TestUpdateQuantity_FailureKeepsStateAndRestores(t *testing.T) {
	f := newFixture(t, signedIn)
	f.backend.carts = []domain.Cart{serverCart()}
	ctx := context.Background()
	_, err := f.svc.Load(ctx)
	require.NoError(t, err)

	f.backend.updateErr = &domain.APIError{Status: http.StatusBadRequest, Fields: map[string][]string{"quantity": {"Not enough stock"}}}
	view, err := f.svc.UpdateQuantity(ctx, 100, 50)

	var apiErr *domain.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 2, view.Items[0].Quantity)
	assert.Equal(t, Failed, f.svc.State().Phase)
	assert.Empty(t, f.events.kinds())

	f.svc.ClearError()
	assert.Equal(t, State{Phase: Ready, ServerBacked: true}, f.svc.State())
}

func TestUpdateQuantity_UnknownItem(t *testing.T) {
	f := newFixture(t, signedIn)
	f.backend.carts = []domain.Cart{serverCart()}

	_, err := f.svc.UpdateQuantity(context.Background(), 999, 2)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateQuantity_BusyItem(t *testing.T) {
	f := newFixture(t, signedIn)
	f.backend.carts = []domain.Cart{serverCart()}
	ctx := context.Background()
	_, err := f.svc.Load(ctx)
	require.NoError(t, err)

	echoed := serverCart()
	echoed.Items[0].Quantity = 3
	f.backend.updateResult = &echoed
	f.backend.updateStarted = make(chan struct{}, 1)
	f.backend.updateGate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Increase(ctx, 100)
		done <- err
	}()
	<-f.backend.updateStarted

	_, err = f.svc.Increase(ctx, 100)
	require.ErrorIs(t, err, domain.ErrItemBusy)
	assert.True(t, f.svc.Busy())

	close(f.backend.updateGate)
	require.NoError(t, <-done)
	_, updates, _, _ := f.backend.calls()
	assert.Equal(t, 1, updates)
	assert.Equal(t, 3, f.svc.View().Items[0].Quantity)
}

func TestStaleLoadResponseIsDiscarded(t *testing.T) {
	f := newFixture(t, signedIn)
	f.backend.carts = []domain.Cart{serverCart()}
	ctx := context.Background()
	_, err := f.svc.Load(ctx)
	require.NoError(t, err)

	f.backend.mu.Lock()
	f.backend.listStarted = make(chan struct{}, 1)
	f.backend.listGate = make(chan struct{})
	f.backend.mu.Unlock()

	loaded := make(chan error, 1)
	go func() {
		_, err := f.svc.Load(ctx)
		loaded <- err
	}()
	<-f.backend.listStarted

	echoed := serverCart()
	echoed.Items[0].Quantity = 5
	f.backend.updateResult = &echoed
	_, err = f.svc.UpdateQuantity(ctx, 100, 5)
	require.NoError(t, err)

	close(f.backend.listGate)
	require.NoError(t, <-loaded)

	// the older fetch still carries quantity 2 and must not overwrite 5
	assert.Equal(t, 5, f.svc.View().Items[0].Quantity)
}

func TestRemoveItem_Idempotent(t *testing.T) {
	f := newFixture(t, signedIn)
	f.backend.carts = []domain.Cart{serverCart()}
	ctx := context.Background()
	_, err := f.svc.Load(ctx)
	require.NoError(t, err)

	after := serverCart()
	after.Items = after.Items[1:]
	f.backend.removeResult = &after

	view, err := f.svc.RemoveItem(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, view.Items, 1)

	view, err = f.svc.RemoveItem(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, view.Items, 1)
	_, _, _, removes := f.backend.calls()
	assert.Equal(t, 1, removes)
}

func TestRemoveItem_ServerNotFoundReloads(t *testing.T) {
	f := newFixture(t, signedIn)
	f.backend.carts = []domain.Cart{serverCart()}
	ctx := context.Background()
	_, err := f.svc.Load(ctx)
	require.NoError(t, err)

	after := serverCart()
	after.Items = after.Items[1:]
	f.backend.mu.Lock()
	f.backend.carts = []domain.Cart{after}
	f.backend.removeErr = &domain.APIError{Status: http.StatusNotFound, Detail: "Not found."}
	f.backend.mu.Unlock()

	view, err := f.svc.RemoveItem(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, view.Items, 1)
	assert.Equal(t, int64(101), view.Items[0].ID)
}

func TestRemoveItem_Local(t *testing.T) {
	f := newFixture(t, domain.Credentials{})
	ctx := context.Background()
	require.NoError(t, f.sess.SetCart(ctx, []domain.LocalCartItem{domain.SnapshotOf(primer, 1), domain.SnapshotOf(sandpaper, 4)}))

	view, err := f.svc.RemoveItem(ctx, primer.ID)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, sandpaper.ID, view.Items[0].ProductID)

	_, err = f.svc.RemoveItem(ctx, primer.ID)
	require.NoError(t, err)
	stored, err := f.sess.Cart(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestAddItem_Remote(t *testing.T) {
	f := newFixture(t, signedIn)
	ctx := context.Background()
	after := domain.Cart{ID: 42, Items: []domain.CartItem{{ID: 100, Product: clearCoat, Quantity: 1}}}
	f.backend.addResult = &after

	view, err := f.svc.AddItem(ctx, domain.ProductRef{Slug: "clear-coat"}, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.ProductRef{Slug: "clear-coat"}, f.backend.lastAddRef)
	assert.Equal(t, 1, f.backend.lastAddQty)
	assert.Len(t, view.Items, 1)
	assert.Contains(t, f.events.kinds(), events.CartChanged)
}

func TestAddItem_UnauthorizedPurgesWithoutMutation(t *testing.T) {
	f := newFixture(t, signedIn)
	ctx := context.Background()
	f.backend.carts = []domain.Cart{serverCart()}
	_, err := f.svc.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, f.sess.SetCart(ctx, []domain.LocalCartItem{domain.SnapshotOf(primer, 1)}))
	before := f.svc.View().Items

	f.backend.addErr = domain.ErrUnauthorized
	_, err = f.svc.AddItem(ctx, domain.ProductRef{ID: primer.ID}, 1)
	require.ErrorIs(t, err, domain.ErrSignInRequired)

	keys, err := localKeys(ctx, f.sess)
	require.NoError(t, err)
	for _, k := range []string{session.KeyAccessToken, session.KeyRefreshToken, session.KeyLegacyToken, session.KeyUser} {
		assert.NotContains(t, keys, k)
	}
	assert.Equal(t, before, f.svc.View().Items)
	stored, err := f.sess.Cart(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.LocalCartItem{domain.SnapshotOf(primer, 1)}, stored)
	assert.True(t, f.svc.View().SignInRequired)
}

func TestAddItem_LocalAppendOrIncrement(t *testing.T) {
	f := newFixture(t, domain.Credentials{})
	ctx := context.Background()

	_, err := f.svc.AddItem(ctx, domain.ProductRef{Slug: "epoxy-primer"}, 1)
	require.NoError(t, err)
	view, err := f.svc.AddItem(ctx, domain.ProductRef{ID: primer.ID}, 2)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, 3, view.Items[0].Quantity)

	view, err = f.svc.AddItem(ctx, domain.ProductRef{ID: sandpaper.ID}, 1)
	require.NoError(t, err)
	assert.Len(t, view.Items, 2)

	_, err = f.svc.AddItem(ctx, domain.ProductRef{Slug: "missing"}, 1)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.AddItem(ctx, domain.ProductRef{ID: primer.ID}, 0)
	require.ErrorIs(t, err, domain.ErrInvalidQuantity)
	_, err = f.svc.AddItem(ctx, domain.ProductRef{}, 1)
	require.ErrorIs(t, err, domain.ErrProductRef)

	_, _, adds, _ := f.backend.calls()
	assert.Zero(t, adds)
}

func TestBuyProduct_GuestRecordsPurchase(t *testing.T) {
	f := newFixture(t, domain.Credentials{})
	ctx := context.Background()

	view, err := f.svc.BuyProduct(ctx, primer, 1)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)

	stored, err := f.sess.Cart(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, primer.ID, stored[0].ID)
	assert.Equal(t, 1, stored[0].Quantity)

	history, err := f.sess.PurchaseHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, primer.ID, history[0].ID)
	assert.False(t, history[0].PurchaseDate.IsZero())
	assert.True(t, dec("45.90").Equal(f.svc.TotalPrice()))
	assert.Equal(t, []events.Kind{events.CartChanged}, f.events.kinds())
}

func TestLogin_DoesNotMergeGuestCart(t *testing.T) {
	f := newFixture(t, domain.Credentials{})
	ctx := context.Background()
	_, err := f.svc.AddItem(ctx, domain.ProductRef{ID: primer.ID}, 2)
	require.NoError(t, err)

	require.NoError(t, f.sess.SetCredentials(ctx, signedIn))
	f.backend.carts = []domain.Cart{serverCart()}

	view, err := f.svc.Load(ctx)
	require.NoError(t, err)
	assert.True(t, view.ServerBacked)
	require.Len(t, view.Items, 2)
	for _, l := range view.Items {
		assert.NotEqual(t, primer.ID, l.ProductID)
	}
	_, _, adds, _ := f.backend.calls()
	assert.Zero(t, adds, "guest items must not be pushed to the server")

	stored, err := f.sess.Cart(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 1, "guest cart stays in storage untouched")
}

func TestCredentialChangeSwitchesSource(t *testing.T) {
	f := newFixture(t, signedIn)
	ctx := context.Background()
	f.backend.carts = []domain.Cart{serverCart()}
	_, err := f.svc.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, f.sess.SetCart(ctx, []domain.LocalCartItem{domain.SnapshotOf(primer, 1)}))

	require.NoError(t, f.sess.PurgeCredentials(ctx))
	view, err := f.svc.Increase(ctx, primer.ID)
	require.NoError(t, err)
	assert.False(t, view.ServerBacked)
	assert.Equal(t, 2, view.Items[0].Quantity)
}

func TestProceedToCheckout(t *testing.T) {
	f := newFixture(t, signedIn)
	ctx := context.Background()

	_, err := f.svc.ProceedToCheckout(ctx)
	require.ErrorIs(t, err, domain.ErrEmptyCart)

	f.backend.carts = []domain.Cart{serverCart()}
	f.svc.Invalidate()
	route, err := f.svc.ProceedToCheckout(ctx)
	require.NoError(t, err)
	assert.Equal(t, CheckoutRoute, route)
}

func TestEmptied(t *testing.T) {
	f := newFixture(t, signedIn)
	f.backend.carts = []domain.Cart{serverCart()}
	_, err := f.svc.Load(context.Background())
	require.NoError(t, err)

	f.svc.Emptied()
	view := f.svc.View()
	assert.Empty(t, view.Items)
	assert.Equal(t, int64(42), view.CartID)
	assert.True(t, view.Total.IsZero())
}

func TestLoad_Coalesced(t *testing.T) {
	f := newFixture(t, signedIn)
	f.backend.carts = []domain.Cart{serverCart()}
	f.backend.listStarted = make(chan struct{}, 1)
	f.backend.listGate = make(chan struct{})
	ctx := context.Background()

	var wg sync.WaitGroup
	first := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		close(first)
		_, _ = f.svc.Load(ctx)
	}()
	<-first
	<-f.backend.listStarted

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = f.svc.Load(ctx)
	}()
	// give the second caller time to join the in-flight fetch
	time.Sleep(20 * time.Millisecond)
	close(f.backend.listGate)
	wg.Wait()

	list, _, _, _ := f.backend.calls()
	assert.Equal(t, 1, list)
}

func TestLoad_SharedFetchOutlivesCancelledCaller(t *testing.T) {
	f := newFixture(t, signedIn)
	f.backend.carts = []domain.Cart{serverCart()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	view, err := f.svc.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, view.Notice)
	assert.Len(t, view.Items, 2)
	assert.Equal(t, int64(42), view.CartID)
}

func TestAddItem_LocalConcurrentAddsKeepEveryLine(t *testing.T) {
	sess := session.New("s1", localstate.NewMemory(), zerolog.Nop())
	cat := &gatedCatalog{
		stubCatalog: stubCatalog{products: []domain.Product{primer, clearCoat, sandpaper}},
		started:     make(chan struct{}, 3),
		gate:        make(chan struct{}),
	}
	svc := New(sess, Deps{Backend: &stubBackend{}, Catalog: cat, Events: &recorder{}, Logger: zerolog.Nop()})
	ctx := context.Background()
	_, err := svc.Load(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for _, p := range []domain.Product{primer, clearCoat, sandpaper} {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := svc.AddItem(ctx, domain.ProductRef{ID: id}, 1)
			errs <- err
		}(p.ID)
	}
	// every add has read the same empty cart before any of them writes
	for i := 0; i < 3; i++ {
		<-cat.started
	}
	close(cat.gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := sess.Cart(ctx)
	require.NoError(t, err)
	ids := make([]int64, 0, len(stored))
	for _, it := range stored {
		ids = append(ids, it.ID)
	}
	assert.ElementsMatch(t, []int64{primer.ID, clearCoat.ID, sandpaper.ID}, ids)

	view, err := svc.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, view.Items, 3)
}

func localKeys(ctx context.Context, s *session.Session) ([]string, error) {
	creds, err := s.Credentials(ctx)
	if err != nil {
		return nil, err
	}
	var keys []string
	if creds.Access != "" {
		keys = append(keys, session.KeyAccessToken)
	}
	if creds.Refresh != "" {
		keys = append(keys, session.KeyRefreshToken)
	}
	if creds.Legacy != "" {
		keys = append(keys, session.KeyLegacyToken)
	}
	user, err := s.User(ctx)
	if err != nil {
		return nil, err
	}
	if user != nil {
		keys = append(keys, session.KeyUser)
	}
	return keys, nil
}
