// Package auth signs sessions in and out against the backend's JWT endpoints
// and keeps the session's stored credential and profile in step.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bodyshop-storefront/internal/backend"
	"bodyshop-storefront/internal/domain"
	"bodyshop-storefront/internal/events"
	"bodyshop-storefront/internal/phone"
	"bodyshop-storefront/internal/validation"
)

// ErrInvalidCredentials is returned when the backend rejects a username and
// password.
var ErrInvalidCredentials = errors.New("invalid credentials")

type Backend interface {
	CreateToken(ctx context.Context, username, password string) (backend.TokenPair, error)
	RefreshToken(ctx context.Context, refresh string) (string, error)
	Profile(ctx context.Context, creds domain.Credentials) (*domain.Profile, error)
	RegisterUser(ctx context.Context, in backend.RegisterInput) error
	ClearCart(ctx context.Context, creds domain.Credentials) error
}

// Store is the session state touched by sign-in and sign-out.
type Store interface {
	ID() string
	Credentials(ctx context.Context) (domain.Credentials, error)
	SetCredentials(ctx context.Context, c domain.Credentials) error
	PurgeCredentials(ctx context.Context) error
	User(ctx context.Context) (*domain.Profile, error)
	SetUser(ctx context.Context, p domain.Profile) error
	ClearCart(ctx context.Context) error
	ClearFavorites(ctx context.Context) error
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
		logger:  logger.With().Str("component", "auth").Logger(),
		now:     time.Now,
	}
}

// IssueSession returns a fresh guest session id.
func (s *Service) IssueSession() string {
	return uuid.NewString()
}

// Login exchanges username and password for a token pair, then loads and
// stores the profile. The guest cart is left where it is.
func (s *Service) Login(ctx context.Context, st Store, username, password string) (*domain.Profile, error) {
	username = strings.TrimSpace(username)
	verr := &domain.ValidationError{}
	if username == "" {
		verr.Add("username", "this field is required")
	}
	if password == "" {
		verr.Add("password", "this field is required")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	pair, err := s.backend.CreateToken(ctx, username, password)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	creds := domain.Credentials{Access: pair.Access, Refresh: pair.Refresh}
	if err := st.SetCredentials(ctx, creds); err != nil {
		return nil, err
	}

	profile, err := s.backend.Profile(ctx, creds)
	if err != nil {
		s.logger.Warn().Err(err).Str("session", st.ID()).Msg("profile fetch after login failed")
		if perr := st.PurgeCredentials(ctx); perr != nil {
			return nil, errors.Join(err, perr)
		}
		return nil, err
	}
	if err := st.SetUser(ctx, *profile); err != nil {
		return nil, err
	}

	s.logger.Info().Str("session", st.ID()).Int64("user", profile.ID).Msg("signed in")
	s.publish(events.Auth(st.ID()))
	return profile, nil
}

type RegisterResult struct {
	// LoggedIn is false when the account was created but the follow-up
	// sign-in failed; the user can sign in manually.
	LoggedIn bool            `json:"logged_in"`
	Profile  *domain.Profile `json:"profile,omitempty"`
}

// Register creates the account and signs straight in.
func (s *Service) Register(ctx context.Context, st Store, in backend.RegisterInput) (RegisterResult, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	if in.RePassword == "" {
		in.RePassword = in.Password
	}
	verr := &domain.ValidationError{}
	if in.Phone != "" {
		res := phone.Validate(in.Phone)
		if !res.Valid {
			verr.Add("phone", res.Error)
		} else {
			in.Phone = res.Formatted
		}
	}
	if err := validation.Into(verr, in); err != nil {
		return RegisterResult{}, err
	}

	if err := s.backend.RegisterUser(ctx, in); err != nil {
		return RegisterResult{}, err
	}
	profile, err := s.Login(ctx, st, in.Username, in.Password)
	if err != nil {
		s.logger.Warn().Err(err).Str("session", st.ID()).Msg("registered but automatic sign-in failed")
		return RegisterResult{}, nil
	}
	return RegisterResult{LoggedIn: true, Profile: profile}, nil
}

// Refresh replaces the access token using the stored refresh token. If the
// backend refuses, the session is signed out.
func (s *Service) Refresh(ctx context.Context, st Store) error {
	creds, err := st.Credentials(ctx)
	if err != nil {
		return err
	}
	if creds.Refresh == "" {
		return domain.ErrNotAuthenticated
	}

	access, err := s.backend.RefreshToken(ctx, creds.Refresh)
	if err != nil {
		var apiErr *domain.APIError
		rejected := errors.Is(err, domain.ErrUnauthorized) ||
			(errors.As(err, &apiErr) && apiErr.Status >= http.StatusBadRequest && apiErr.Status < http.StatusInternalServerError)
		if !rejected {
			return err
		}
		s.logger.Info().Str("session", st.ID()).Msg("refresh token rejected, signing out")
		if perr := st.PurgeCredentials(ctx); perr != nil {
			return errors.Join(domain.ErrSignInRequired, perr)
		}
		s.publish(events.Auth(st.ID()))
		return domain.ErrSignInRequired
	}

	creds.Access = access
	return st.SetCredentials(ctx, creds)
}

// Logout empties the server cart when signed in, then forgets the
// credential, favorites and guest cart. The server call is best effort.
func (s *Service) Logout(ctx context.Context, st Store) error {
	creds, err := st.Credentials(ctx)
	if err != nil {
		return err
	}
	if creds.Present() {
		if err := s.backend.ClearCart(ctx, creds); err != nil {
			s.logger.Warn().Err(err).Str("session", st.ID()).Msg("clearing server cart on logout failed")
		}
	}
	if err := st.PurgeCredentials(ctx); err != nil {
		return err
	}
	if err := st.ClearFavorites(ctx); err != nil {
		return err
	}
	if err := st.ClearCart(ctx); err != nil {
		return err
	}
	s.publish(events.Auth(st.ID()))
	s.publish(events.Cart(st.ID()))
	s.publish(events.Favorites(st.ID(), 0))
	return nil
}

type Status struct {
	Authenticated bool            `json:"authenticated"`
	User          *domain.Profile `json:"user,omitempty"`
	// ExpiresAt is the access token's exp claim, read without verifying
	// the signature; the backend remains the judge.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Expired   bool       `json:"expired"`
	Subject   string     `json:"subject,omitempty"`
}

// Status reports what the session believes about its sign-in. It makes no
// network call.
func (s *Service) Status(ctx context.Context, st Store) (Status, error) {
	creds, err := st.Credentials(ctx)
	if err != nil {
		return Status{}, err
	}
	if !creds.Present() {
		return Status{}, nil
	}
	user, err := st.User(ctx)
	if err != nil {
		return Status{}, err
	}
	out := Status{Authenticated: true, User: user}
	if creds.Access == "" {
		return out, nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(creds.Access, claims); err != nil {
		s.logger.Debug().Err(err).Str("session", st.ID()).Msg("access token is not a readable JWT")
		return out, nil
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time.UTC()
		out.ExpiresAt = &t
		out.Expired = !s.now().Before(t)
	}
	if sub, err := claims.GetSubject(); err == nil {
		out.Subject = sub
	}
	if out.Subject == "" {
		if uid, ok := claims["user_id"]; ok {
			out.Subject = jsonScalar(uid)
		}
	}
	return out, nil
}

func (s *Service) publish(e events.Event) {
	if s.events != nil {
		s.events.Publish(e)
	}
}

func jsonScalar(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return ""
	}
}
