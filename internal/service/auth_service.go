package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	ttlworker "github.com/FloatTech/ttl"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"github.com/donmunna435-dev/Deep-yt/internal/domain"
	"github.com/donmunna435-dev/Deep-yt/internal/repository"
)

// DefaultStateTTL is how long an issued OAuth state stays redeemable.
const DefaultStateTTL = 10 * time.Minute

// AuthService runs the Google OAuth flow for chat users.
type AuthService struct {
	oauth  OAuthProvider
	creds  repository.CredentialStore
	logger *slog.Logger

	// states maps an issued OAuth state to the user it was issued for.
	mu     sync.Mutex
	states *ttlworker.Cache[string, domain.UserID]
}

// NewAuthService creates a new auth service.
func NewAuthService(oauth OAuthProvider, creds repository.CredentialStore, stateTTL time.Duration, logger *slog.Logger) *AuthService {
	if stateTTL <= 0 {
		stateTTL = DefaultStateTTL
	}
	return &AuthService{
		oauth:  oauth,
		creds:  creds,
		logger: logger,
		states: ttlworker.NewCache[string, domain.UserID](stateTTL),
	}
}

// BeginAuth issues a fresh state for the user and returns the consent URL.
func (a *AuthService) BeginAuth(userID domain.UserID) string {
	state := uuid.NewString()

	a.mu.Lock()
	a.states.Set(state, userID)
	a.mu.Unlock()

	a.logger.Info("auth started", "user_id", userID.String())
	return a.oauth.AuthCodeURL(state)
}

// Exchange trades an authorization code for a credential and stores it.
func (a *AuthService) Exchange(ctx context.Context, userID domain.UserID, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("%w: empty authorization code", domain.ErrCodeExchangeFailed)
	}

	cred, err := a.oauth.Exchange(ctx, userID, code)
	if err != nil {
		a.logger.Warn("code exchange failed", "user_id", userID.String(), "error", err)
		if errors.Is(err, domain.ErrCodeExchangeFailed) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrCodeExchangeFailed, err)
	}
	cred.UserID = userID

	if err := a.creds.Save(ctx, userID, cred); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}

	a.logger.Info("google account connected", "user_id", userID.String())
	return nil
}

// CompleteCallback redeems an OAuth state from the redirect page and exchanges
// the code for the user it was issued to. Each state is redeemable once.
func (a *AuthService) CompleteCallback(ctx context.Context, state, code string) (domain.UserID, error) {
	userID, ok := a.redeem(state)
	if !ok {
		return 0, domain.ErrUnknownState
	}
	return userID, a.Exchange(ctx, userID, code)
}

// Logout deletes the user's stored credential.
func (a *AuthService) Logout(ctx context.Context, userID domain.UserID) error {
	if err := a.creds.Delete(ctx, userID); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	a.logger.Info("google account disconnected", "user_id", userID.String())
	return nil
}

// HasCredential reports whether any credential is stored for the user.
func (a *AuthService) HasCredential(ctx context.Context, userID domain.UserID) bool {
	_, err := a.creds.Get(ctx, userID)
	return err == nil
}

func (a *AuthService) redeem(state string) (domain.UserID, bool) {
	if state == "" {
		return 0, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	userID := a.states.Get(state)
	if userID == 0 {
		return 0, false
	}
	a.states.Delete(state)
	return userID, true
}

// AuthQRCode renders the consent URL as a PNG QR code.
func AuthQRCode(authURL string) ([]byte, error) {
	png, err := qrcode.Encode(authURL, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("encode qr code: %w", err)
	}
	return png, nil
}
