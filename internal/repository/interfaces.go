package repository

import (
	"context"

	"github.com/donmunna435-dev/Deep-yt/internal/domain"
)

// CredentialStore persists Google OAuth credentials keyed by user.
type CredentialStore interface {
	// Save stores the credential, replacing any existing entry for the user.
	Save(ctx context.Context, userID domain.UserID, cred *domain.Credential) error

	// Get returns domain.ErrCredentialNotFound when the user has no entry.
	Get(ctx context.Context, userID domain.UserID) (*domain.Credential, error)

	// Delete removes the user's credential. Deleting a missing entry is not an error.
	Delete(ctx context.Context, userID domain.UserID) error

	// ListUserIDs returns every user with a stored credential.
	ListUserIDs(ctx context.Context) ([]domain.UserID, error)
}

// SessionStore holds per-user conversation state.
type SessionStore interface {
	// Get returns a copy of the session or domain.ErrSessionNotFound.
	Get(ctx context.Context, userID domain.UserID) (*domain.Session, error)

	// GetOrCreate returns the existing session or stores the one built by init.
	GetOrCreate(ctx context.Context, userID domain.UserID, init func() *domain.Session) (*domain.Session, error)

	// Mutate applies fn to the stored session atomically and returns the result.
	// The change is discarded when fn returns an error.
	Mutate(ctx context.Context, userID domain.UserID, fn func(s *domain.Session) error) (*domain.Session, error)

	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, userID domain.UserID) error

	// List returns copies of all sessions.
	List(ctx context.Context) ([]*domain.Session, error)
}
