package domain

import "strings"

// Profile is the authenticated user snapshot persisted under the `user` key.
type Profile struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	IsAdmin  bool   `json:"is_admin"`
}

// Credentials is the stored access credential. Access/Refresh come from the
// JWT endpoint; Legacy is the older DRF token still accepted by some calls.
type Credentials struct {
	Access  string `json:"access_token,omitempty"`
	Refresh string `json:"refresh_token,omitempty"`
	Legacy  string `json:"token,omitempty"`
}

func (c Credentials) Present() bool {
	return strings.TrimSpace(c.Access) != "" || strings.TrimSpace(c.Legacy) != ""
}

// AuthorizationHeader returns the value for the Authorization header, or ""
// when no credential is stored. Bearer wins over the legacy token.
func (c Credentials) AuthorizationHeader() string {
	if v := strings.TrimSpace(c.Access); v != "" {
		return "Bearer " + v
	}
	if v := strings.TrimSpace(c.Legacy); v != "" {
		return "Token " + v
	}
	return ""
}
