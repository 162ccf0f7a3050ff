package domain

import "errors"

// Domain errors.
var (
	// ErrNotAuthenticated is returned when a user has no usable Google credential.
	ErrNotAuthenticated = errors.New("not authenticated with YouTube")

	// ErrCredentialNotFound is returned when no credential is stored for a user.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrSessionNotFound is returned when a session cannot be found.
	ErrSessionNotFound = errors.New("session not found")

	// ErrFileTooLarge is returned when a download exceeds the configured maximum size.
	ErrFileTooLarge = errors.New("file is too large")

	// ErrEmptyFile is returned when a download produced zero bytes.
	ErrEmptyFile = errors.New("downloaded file is empty")

	// ErrInvalidExtension is returned when the file extension is not allowed.
	ErrInvalidExtension = errors.New("file type is not supported")

	// ErrInvalidURL is returned when a URL cannot be used as a download source.
	ErrInvalidURL = errors.New("invalid URL")

	// ErrInvalidDriveLink is returned when a Google Drive link has no recognisable file id.
	ErrInvalidDriveLink = errors.New("invalid Google Drive link format")

	// ErrDownloadFailed is returned when the video download fails.
	ErrDownloadFailed = errors.New("video download failed")

	// ErrUploadFailed is returned when the YouTube API rejects an upload.
	ErrUploadFailed = errors.New("YouTube upload failed")

	// ErrStorageFull is returned when there is insufficient scratch space.
	ErrStorageFull = errors.New("insufficient storage space")

	// ErrInvalidPrivacy is returned for an unknown privacy status.
	ErrInvalidPrivacy = errors.New("invalid privacy status")

	// ErrCodeExchangeFailed is returned when an authorization code cannot be exchanged.
	ErrCodeExchangeFailed = errors.New("authorization code exchange failed")

	// ErrUnknownState is returned when an OAuth state is unknown or expired.
	ErrUnknownState = errors.New("unknown or expired authorization state")

	// ErrUnexpectedEvent is returned for an event the flow has no handler for.
	ErrUnexpectedEvent = errors.New("unexpected event")
)

// FlowError wraps an error with upload flow context.
type FlowError struct {
	UserID UserID
	Op     string
	Err    error
}

func (e *FlowError) Error() string {
	if e.UserID != 0 {
		return e.Op + " [" + e.UserID.String() + "]: " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// NewFlowError creates a new FlowError.
func NewFlowError(userID UserID, op string, err error) *FlowError {
	return &FlowError{
		UserID: userID,
		Op:     op,
		Err:    err,
	}
}
