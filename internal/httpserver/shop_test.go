package httpserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"bodyshop-storefront/internal/backend"
	"bodyshop-storefront/internal/domain"
	"bodyshop-storefront/internal/events"
	"bodyshop-storefront/internal/metrics"
	"bodyshop-storefront/internal/repository/localstate"
	"bodyshop-storefront/internal/service/auth"
	"bodyshop-storefront/internal/service/cart"
	"bodyshop-storefront/internal/service/catalog"
	"bodyshop-storefront/internal/service/checkout"
)

const (
	shopUser     = "ivan"
	shopPassword = "secret123"
	shopAccess   = "access-1"
)

// fakeShop is an in-memory stand-in for the shop backend.
type fakeShop struct {
	mu       sync.Mutex
	products []domain.Product
	cart     domain.Cart
	nextItem int64
	orders   []domain.OrderPayload
	// htmlCart makes the cart endpoint answer with an HTML page.
	htmlCart bool
}

func newFakeShop() *fakeShop {
	return &fakeShop{
		products: []domain.Product{
			{ID: 1, Slug: "primer-2k", Name: "Грунт 2K", Price: decimal.RequireFromString("45.50"), Stock: 10},
			{ID: 2, Slug: "clearcoat", Name: "Лак HS", Price: decimal.RequireFromString("120.00"), Stock: 3},
		},
		cart:     domain.Cart{ID: 7},
		nextItem: 100,
	}
}

func (s *fakeShop) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/api")
	authed := r.Header.Get("Authorization") == "Bearer "+shopAccess

	switch {
	case path == "/catalog/products/":
		// One product per page, with an absolute next link.
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page < 1 {
			page = 1
		}
		if page > 1 && page > len(s.products) {
			shopJSON(w, http.StatusNotFound, map[string]string{"detail": "Invalid page."})
			return
		}
		results := []domain.Product{}
		var next interface{}
		if page <= len(s.products) {
			results = s.products[page-1 : page]
		}
		if page < len(s.products) {
			next = fmt.Sprintf("http://%s/api/catalog/products/?page=%d", r.Host, page+1)
		}
		shopJSON(w, http.StatusOK, map[string]interface{}{
			"count":   len(s.products),
			"next":    next,
			"results": results,
		})
	case strings.HasPrefix(path, "/catalog/products/"):
		slug := strings.TrimSuffix(strings.TrimPrefix(path, "/catalog/products/"), "/")
		for _, p := range s.products {
			if p.Slug == slug {
				shopJSON(w, http.StatusOK, p)
				return
			}
		}
		shopJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
	case path == "/auth/jwt/create/":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["username"] != shopUser || body["password"] != shopPassword {
			shopJSON(w, http.StatusUnauthorized, map[string]string{"detail": "No active account found with the given credentials"})
			return
		}
		shopJSON(w, http.StatusOK, map[string]string{"access": shopAccess, "refresh": "refresh-1"})
	case !authed:
		shopJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})
	case path == "/accounts/profile/":
		shopJSON(w, http.StatusOK, domain.Profile{ID: 5, Username: shopUser, Email: "ivan@example.com", Phone: "+375 (29) 1234567"})
	case path == "/cart/" && s.htmlCart:
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<html>storefront</html>")
	case path == "/cart/":
		shopJSON(w, http.StatusOK, []domain.Cart{s.withTotal()})
	case path == "/cart/add_item/":
		var body struct {
			domain.ProductRef
			Quantity int `json:"quantity"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		p, ok := s.find(body.ProductRef)
		if !ok {
			shopJSON(w, http.StatusNotFound, map[string]string{"detail": "Товар не найден"})
			return
		}
		for i := range s.cart.Items {
			if s.cart.Items[i].Product.ID == p.ID {
				s.cart.Items[i].Quantity += body.Quantity
				shopJSON(w, http.StatusOK, s.withTotal())
				return
			}
		}
		s.nextItem++
		s.cart.Items = append(s.cart.Items, domain.CartItem{ID: s.nextItem, Product: p, Quantity: body.Quantity})
		shopJSON(w, http.StatusOK, s.withTotal())
	case path == "/cart/clear/":
		s.cart.Items = nil
		w.WriteHeader(http.StatusNoContent)
	case path == "/orders/orders/create_order/":
		var payload domain.OrderPayload
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if len(s.cart.Items) == 0 {
			shopJSON(w, http.StatusBadRequest, map[string]string{"error": "Корзина пуста"})
			return
		}
		s.orders = append(s.orders, payload)
		total := s.withTotal().TotalPrice
		items := make([]domain.OrderItem, 0, len(s.cart.Items))
		for _, it := range s.cart.Items {
			items = append(items, domain.OrderItem{ID: it.ID, Product: it.Product, Quantity: it.Quantity, Price: it.Product.Price})
		}
		shopJSON(w, http.StatusCreated, domain.Order{
			ID: int64(len(s.orders)), CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			Address: payload.Address, Phone: payload.Phone, Status: "new", TotalPrice: total, Items: items,
		})
	default:
		shopJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
	}
}

func (s *fakeShop) find(ref domain.ProductRef) (domain.Product, bool) {
	for _, p := range s.products {
		if ref.Matches(p) {
			return p, true
		}
	}
	return domain.Product{}, false
}

func (s *fakeShop) withTotal() domain.Cart {
	c := s.cart
	total := decimal.Zero
	for _, it := range c.Items {
		total = total.Add(it.LineTotal())
	}
	c.TotalPrice = &total
	return c
}

func (s *fakeShop) itemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cart.Items)
}

func shopJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type testEnv struct {
	shop    *fakeShop
	handler http.Handler
	server  *Server
	bus     *events.Bus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	shop := newFakeShop()
	upstream := httptest.NewServer(shop)
	t.Cleanup(upstream.Close)

	logger := zerolog.Nop()
	client, err := backend.New(upstream.URL+"/api", upstream.Client(), logger)
	require.NoError(t, err)

	bus := events.NewBus(8, logger)
	m := metrics.New()
	products := catalog.New(client, time.Minute, logger)
	repo := localstate.NewMemory()
	carts := cart.NewRegistry(repo, cart.Deps{
		Backend: client,
		Catalog: products,
		Events:  bus,
		Metrics: m,
		Logger:  logger,
	}, time.Hour)

	srv, err := New(":0", logger, Deps{
		State:    repo,
		Carts:    carts,
		Catalog:  products,
		Auth:     auth.New(client, bus, logger),
		Checkout: checkout.New(client, bus, logger),
		Bus:      bus,
		Metrics:  m,
	}, Options{})
	require.NoError(t, err)

	return &testEnv{shop: shop, handler: srv.Handler(), server: srv, bus: bus}
}

// do sends a request in session sid and decodes a JSON answer into out when given.
func (e *testEnv) do(t *testing.T, sid, method, path, body string, out interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if sid != "" {
		req.Header.Set(sessionHeader, sid)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec
}

func (e *testEnv) newSession(t *testing.T) string {
	t.Helper()
	var resp struct {
		SessionID string `json:"session_id"`
	}
	rec := e.do(t, "", http.MethodPost, "/api/v1/session", "", &resp)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotEmpty(t, resp.SessionID)
	return resp.SessionID
}

func (e *testEnv) login(t *testing.T, sid string) {
	t.Helper()
	rec := e.do(t, sid, http.MethodPost, "/api/v1/auth/login",
		`{"username":"`+shopUser+`","password":"`+shopPassword+`"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}
