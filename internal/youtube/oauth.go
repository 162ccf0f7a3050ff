// Package youtube wraps Google OAuth and the YouTube Data API.
package youtube

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	yt "google.golang.org/api/youtube/v3"

	"github.com/donmunna435-dev/Deep-yt/internal/config"
	"github.com/donmunna435-dev/Deep-yt/internal/domain"
)

// Scopes requested from Google.
var Scopes = []string{
	yt.YoutubeUploadScope,
	yt.YoutubeReadonlyScope,
}

// OAuth builds authorization URLs and exchanges codes for tokens.
type OAuth struct {
	cfg *oauth2.Config
}

// NewOAuth creates an OAuth helper from the Google client configuration.
// AuthURL and TokenURL override Google's endpoints when set.
func NewOAuth(gc config.GoogleConfig) *OAuth {
	endpoint := google.Endpoint
	if gc.AuthURL != "" {
		endpoint.AuthURL = gc.AuthURL
	}
	if gc.TokenURL != "" {
		endpoint.TokenURL = gc.TokenURL
	}
	return &OAuth{
		cfg: &oauth2.Config{
			ClientID:     gc.ClientID,
			ClientSecret: gc.ClientSecret,
			RedirectURL:  gc.RedirectURL,
			Scopes:       Scopes,
			Endpoint:     endpoint,
		},
	}
}

// AuthCodeURL returns the consent page URL. Offline access and forced consent
// make Google return a refresh token every time.
func (o *OAuth) AuthCodeURL(state string) string {
	return o.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a credential.
func (o *OAuth) Exchange(ctx context.Context, userID domain.UserID, code string) (*domain.Credential, error) {
	tok, err := o.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCodeExchangeFailed, err)
	}
	return TokenToCredential(userID, tok), nil
}

// TokenSource returns a refreshing token source seeded with tok.
func (o *OAuth) TokenSource(ctx context.Context, tok *oauth2.Token) oauth2.TokenSource {
	return o.cfg.TokenSource(ctx, tok)
}

// TokenToCredential converts an oauth2 token into a storable credential.
func TokenToCredential(userID domain.UserID, tok *oauth2.Token) *domain.Credential {
	c := &domain.Credential{
		UserID:       userID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
		SavedAt:      time.Now(),
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		c.Scope = scope
	}
	return c
}

// CredentialToToken converts a stored credential back into an oauth2 token.
func CredentialToToken(c *domain.Credential) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.Expiry,
	}
}
