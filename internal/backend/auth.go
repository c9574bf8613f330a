package backend

import (
	"context"
	"errors"
	"net/http"

	"bodyshop-storefront/internal/domain"
)

// TokenPair is the JWT endpoint's response.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// RegisterInput is the user-creation payload.
type RegisterInput struct {
	Email      string `json:"email" validate:"required,email"`
	Username   string `json:"username" validate:"required,min=3,max=150"`
	Password   string `json:"password" validate:"required,min=8"`
	RePassword string `json:"re_password" validate:"required,eqfield=Password"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Phone      string `json:"phone,omitempty"`
}

var errMalformedTokens = errors.New("token response is missing access or refresh")

func (c *Client) CreateToken(ctx context.Context, username, password string) (TokenPair, error) {
	body := map[string]string{"username": username, "password": password}
	var out TokenPair
	if err := c.do(ctx, domain.Credentials{}, http.MethodPost, "/auth/jwt/create/", nil, body, &out); err != nil {
		return TokenPair{}, err
	}
	if out.Access == "" || out.Refresh == "" {
		return TokenPair{}, errMalformedTokens
	}
	return out, nil
}

// RefreshToken exchanges a refresh token for a new access token.
func (c *Client) RefreshToken(ctx context.Context, refresh string) (string, error) {
	body := map[string]string{"refresh": refresh}
	var out struct {
		Access string `json:"access"`
	}
	if err := c.do(ctx, domain.Credentials{}, http.MethodPost, "/auth/jwt/refresh/", nil, body, &out); err != nil {
		return "", err
	}
	if out.Access == "" {
		return "", errMalformedTokens
	}
	return out.Access, nil
}

func (c *Client) Profile(ctx context.Context, creds domain.Credentials) (*domain.Profile, error) {
	var out domain.Profile
	if err := c.do(ctx, creds, http.MethodGet, "/accounts/profile/", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RegisterUser(ctx context.Context, in RegisterInput) error {
	if in.RePassword == "" {
		in.RePassword = in.Password
	}
	return c.do(ctx, domain.Credentials{}, http.MethodPost, "/accounts/auth/users/", nil, in, nil)
}
