package downloader

import (
	"context"

	"github.com/donmunna435-dev/Deep-yt/internal/domain"
)

// Acquirer fetches videos into scratch storage.
type Acquirer interface {
	// FromChatMedia streams an already uploaded chat attachment.
	FromChatMedia(ctx context.Context, src MediaSource, progress *domain.Progress) (*domain.Acquisition, error)

	// FromURL streams an arbitrary http(s) URL.
	FromURL(ctx context.Context, rawURL string, progress *domain.Progress) (*domain.Acquisition, error)

	// FromDrive resolves a Google Drive share link and streams the file.
	FromDrive(ctx context.Context, link string, progress *domain.Progress) (*domain.Acquisition, error)

	// Cleanup removes a scratch file. Missing files are ignored.
	Cleanup(path string)
}

// MediaSource describes a chat attachment to fetch.
type MediaSource struct {
	URL          string
	FileName     string
	MimeType     string
	DeclaredSize int64
}

// ProbeResult contains information learned from a HEAD request.
type ProbeResult struct {
	ContentType   string
	ContentLength int64
	FileName      string
	Accessible    bool
	Error         string
}
