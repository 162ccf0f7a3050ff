package downloader

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/donmunna435-dev/Deep-yt/internal/domain"
)

var drivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`/d/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`), // also open?id=
}

// IsDriveLink reports whether text is a Google Drive URL.
func IsDriveLink(text string) bool {
	u, err := url.Parse(strings.TrimSpace(text))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "drive.google.com" || host == "docs.google.com"
}

// DriveFileID extracts the file identifier from a Drive share link.
func DriveFileID(link string) (string, error) {
	link = strings.TrimSpace(link)
	for _, re := range drivePatterns {
		if m := re.FindStringSubmatch(link); m != nil {
			return m[1], nil
		}
	}
	return "", domain.ErrInvalidDriveLink
}

// DriveDownloadURL builds the direct download URL for a Drive file id.
func DriveDownloadURL(base, id string) string {
	if base == "" {
		base = "https://drive.google.com/uc"
	}
	return base + "?export=download&id=" + url.QueryEscape(id) + "&confirm=t"
}
