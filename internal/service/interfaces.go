package service

import (
	"context"

	"github.com/donmunna435-dev/Deep-yt/internal/domain"
)

// Chat is the outbound side of the chat transport.
type Chat interface {
	// Send posts a message and returns its id.
	Send(ctx context.Context, chatID int64, msg OutMessage) (int, error)

	// Edit replaces the text of a previously sent message.
	Edit(ctx context.Context, chatID int64, messageID int, text string) error

	// SendPhoto posts a PNG image with a caption.
	SendPhoto(ctx context.Context, chatID int64, png []byte, caption string) error

	// FileURL resolves a chat attachment id to a download URL.
	FileURL(ctx context.Context, fileID string) (string, error)

	// AnswerCallback acknowledges a button press.
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// OutMessage is a text message with an optional inline keyboard.
type OutMessage struct {
	Text    string
	Buttons [][]Button
}

// Button is one inline keyboard button. Exactly one of Data and URL is set.
type Button struct {
	Text string
	Data string
	URL  string
}

// Uploader is the video platform gateway.
type Uploader interface {
	UploadVideo(ctx context.Context, userID domain.UserID, info domain.VideoInfo, progress *domain.Progress) (*domain.UploadResult, error)
	IsAuthenticated(ctx context.Context, userID domain.UserID) bool
	Channel(ctx context.Context, userID domain.UserID) (*domain.ChannelInfo, error)
}

// OAuthProvider issues consent URLs and exchanges codes.
type OAuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, userID domain.UserID, code string) (*domain.Credential, error)
}
