package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bodyshop-storefront/internal/backend"
	"bodyshop-storefront/internal/domain"
	"bodyshop-storefront/internal/events"
	"bodyshop-storefront/internal/repository/localstate"
	"bodyshop-storefront/internal/session"
)

type stubBackend struct {
	pair        backend.TokenPair
	tokenErr    error
	profile     *domain.Profile
	profileErr  error
	refreshed   string
	refreshErr  error
	registerIn  backend.RegisterInput
	registerErr error
	clearCalls  int
	clearErr    error
	lastCreds   domain.Credentials
}

func (b *stubBackend) CreateToken(_ context.Context, _, _ string) (backend.TokenPair, error) {
	return b.pair, b.tokenErr
}

func (b *stubBackend) RefreshToken(_ context.Context, _ string) (string, error) {
	return b.refreshed, b.refreshErr
}

func (b *stubBackend) Profile(_ context.Context, creds domain.Credentials) (*domain.Profile, error) {
	b.lastCreds = creds
	return b.profile, b.profileErr
}

func (b *stubBackend) RegisterUser(_ context.Context, in backend.RegisterInput) error {
	b.registerIn = in
	return b.registerErr
}

func (b *stubBackend) ClearCart(_ context.Context, creds domain.Credentials) error {
	b.clearCalls++
	b.lastCreds = creds
	return b.clearErr
}

type recorder struct {
	kinds []events.Kind
}

func (r *recorder) Publish(e events.Event) {
	r.kinds = append(r.kinds, e.Kind)
}

func newSession() *session.Session {
	return session.New("s1", localstate.NewMemory(), zerolog.Nop())
}

func TestLogin_StoresCredentialAndProfile(t *testing.T) {
	be := &stubBackend{
		pair:    backend.TokenPair{Access: "acc", Refresh: "ref"},
		profile: &domain.Profile{ID: 3, Username: "ivan"},
	}
	rec := &recorder{}
	svc := New(be, rec, zerolog.Nop())
	st := newSession()
	ctx := context.Background()
	require.NoError(t, st.SetCart(ctx, []domain.LocalCartItem{{ID: 1, Quantity: 2}}))

	p, err := svc.Login(ctx, st, " ivan ", "secret")
	require.NoError(t, err)
	assert.Equal(t, "ivan", p.Username)
	assert.Equal(t, "acc", be.lastCreds.Access)

	creds, err := st.Credentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Credentials{Access: "acc", Refresh: "ref"}, creds)
	user, err := st.User(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), user.ID)
	assert.Equal(t, []events.Kind{events.AuthChanged}, rec.kinds)

	guest, err := st.Cart(ctx)
	require.NoError(t, err)
	assert.Len(t, guest, 1, "login must not touch the guest cart")
}

func TestLogin_Failures(t *testing.T) {
	ctx := context.Background()

	svc := New(&stubBackend{tokenErr: domain.ErrUnauthorized}, nil, zerolog.Nop())
	_, err := svc.Login(ctx, newSession(), "ivan", "bad")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, newSession(), "", "")
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "username")
	assert.Contains(t, verr.Fields, "password")

	st := newSession()
	svc = New(&stubBackend{pair: backend.TokenPair{Access: "a", Refresh: "r"}, profileErr: errors.New("timeout")}, nil, zerolog.Nop())
	_, err = svc.Login(ctx, st, "ivan", "secret")
	require.Error(t, err)
	creds, err := st.Credentials(ctx)
	require.NoError(t, err)
	assert.False(t, creds.Present(), "half-finished login must not leave a credential behind")
}

func TestRegister_ValidatesThenLogsIn(t *testing.T) {
	be := &stubBackend{
		pair:    backend.TokenPair{Access: "acc", Refresh: "ref"},
		profile: &domain.Profile{ID: 4, Username: "petr"},
	}
	svc := New(be, nil, zerolog.Nop())
	ctx := context.Background()

	_, err := svc.Register(ctx, newSession(), backend.RegisterInput{Email: "bad", Username: "pe", Password: "short", Phone: "+375 (11) 1234567"})
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	for _, f := range []string{"email", "username", "password", "phone"} {
		assert.Contains(t, verr.Fields, f)
	}

	res, err := svc.Register(ctx, newSession(), backend.RegisterInput{
		Email: "petr@example.by", Username: "petr", Password: "longenough1", Phone: "80291234567",
	})
	require.NoError(t, err)
	assert.True(t, res.LoggedIn)
	assert.Equal(t, "longenough1", be.registerIn.RePassword)
	assert.Equal(t, "+375 (29) 1234567", be.registerIn.Phone)
}

func TestRegister_BackendFieldErrorsPassThrough(t *testing.T) {
	apiErr := &domain.APIError{Status: http.StatusBadRequest, Fields: map[string][]string{"username": {"A user with that username already exists."}}}
	svc := New(&stubBackend{registerErr: apiErr}, nil, zerolog.Nop())

	_, err := svc.Register(context.Background(), newSession(), backend.RegisterInput{Email: "a@b.by", Username: "taken", Password: "longenough1"})
	var got *domain.APIError
	require.True(t, errors.As(err, &got))
	assert.Equal(t, apiErr, got)
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()

	st := newSession()
	require.NoError(t, st.SetCredentials(ctx, domain.Credentials{Access: "old", Refresh: "ref"}))
	svc := New(&stubBackend{refreshed: "new"}, nil, zerolog.Nop())
	require.NoError(t, svc.Refresh(ctx, st))
	creds, err := st.Credentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new", creds.Access)
	assert.Equal(t, "ref", creds.Refresh)

	rec := &recorder{}
	svc = New(&stubBackend{refreshErr: domain.ErrUnauthorized}, rec, zerolog.Nop())
	require.ErrorIs(t, svc.Refresh(ctx, st), domain.ErrSignInRequired)
	creds, err = st.Credentials(ctx)
	require.NoError(t, err)
	assert.False(t, creds.Present())
	assert.Equal(t, []events.Kind{events.AuthChanged}, rec.kinds)

	require.ErrorIs(t, svc.Refresh(ctx, st), domain.ErrNotAuthenticated)
}

func TestRefresh_TransportErrorKeepsCredential(t *testing.T) {
	ctx := context.Background()
	st := newSession()
	require.NoError(t, st.SetCredentials(ctx, domain.Credentials{Access: "old", Refresh: "ref"}))
	svc := New(&stubBackend{refreshErr: errors.New("connection reset")}, nil, zerolog.Nop())

	err := svc.Refresh(ctx, st)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrSignInRequired)
	creds, err := st.Credentials(ctx)
	require.NoError(t, err)
	assert.True(t, creds.Present())
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	st := newSession()
	require.NoError(t, st.SetCredentials(ctx, domain.Credentials{Access: "acc", Refresh: "ref"}))
	require.NoError(t, st.SetUser(ctx, domain.Profile{ID: 1}))
	require.NoError(t, st.SetCart(ctx, []domain.LocalCartItem{{ID: 1, Quantity: 1}}))
	require.NoError(t, st.SetFavorites(ctx, []domain.Product{{ID: 2}}))

	be := &stubBackend{clearErr: errors.New("backend down")}
	rec := &recorder{}
	svc := New(be, rec, zerolog.Nop())
	require.NoError(t, svc.Logout(ctx, st))

	assert.Equal(t, 1, be.clearCalls)
	creds, _ := st.Credentials(ctx)
	assert.False(t, creds.Present())
	cart, _ := st.Cart(ctx)
	assert.Empty(t, cart)
	favs, _ := st.Favorites(ctx)
	assert.Empty(t, favs)
	assert.Equal(t, []events.Kind{events.AuthChanged, events.CartChanged, events.FavoritesChanged}, rec.kinds)

	require.NoError(t, svc.Logout(ctx, st))
	assert.Equal(t, 1, be.clearCalls, "guest logout must not call the backend")
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := New(&stubBackend{}, nil, zerolog.Nop())
	svc.now = func() time.Time { return now }

	st := newSession()
	status, err := svc.Status(ctx, st)
	require.NoError(t, err)
	assert.False(t, status.Authenticated)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp":     now.Add(5 * time.Minute).Unix(),
		"user_id": 7,
	}).SignedString([]byte("not-the-server-key"))
	require.NoError(t, err)
	require.NoError(t, st.SetCredentials(ctx, domain.Credentials{Access: token, Refresh: "r"}))
	require.NoError(t, st.SetUser(ctx, domain.Profile{ID: 7, Username: "ivan"}))

	status, err = svc.Status(ctx, st)
	require.NoError(t, err)
	assert.True(t, status.Authenticated)
	require.NotNil(t, status.ExpiresAt)
	assert.Equal(t, now.Add(5*time.Minute), *status.ExpiresAt)
	assert.False(t, status.Expired)
	assert.Equal(t, "7", status.Subject)
	assert.Equal(t, "ivan", status.User.Username)

	svc.now = func() time.Time { return now.Add(time.Hour) }
	status, err = svc.Status(ctx, st)
	require.NoError(t, err)
	assert.True(t, status.Expired)

	require.NoError(t, st.SetCredentials(ctx, domain.Credentials{Legacy: "drf-token"}))
	status, err = svc.Status(ctx, st)
	require.NoError(t, err)
	assert.True(t, status.Authenticated)
	assert.Nil(t, status.ExpiresAt)
}

func TestIssueSession(t *testing.T) {
	svc := New(&stubBackend{}, nil, zerolog.Nop())
	a, b := svc.IssueSession(), svc.IssueSession()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
