package domain

import "time"

// Credential is a stored Google OAuth token set for one user.
type Credential struct {
	UserID       UserID    `json:"user_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	SavedAt      time.Time `json:"saved_at"`
}

// Expired reports whether the access token has expired and cannot be refreshed.
func (c *Credential) Expired(now time.Time) bool {
	if c.RefreshToken != "" {
		return false
	}
	return !c.Expiry.IsZero() && now.After(c.Expiry)
}
