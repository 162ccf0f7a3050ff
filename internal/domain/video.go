package domain

import (
	"strings"
	"unicode/utf8"
)

// YouTube metadata limits.
const (
	MaxTitleRunes       = 100
	MaxDescriptionRunes = 5000
	MaxTags             = 30
)

// Privacy is the YouTube privacy status of an uploaded video.
type Privacy string

const (
	PrivacyPrivate  Privacy = "private"
	PrivacyUnlisted Privacy = "unlisted"
	PrivacyPublic   Privacy = "public"
)

// ParsePrivacy validates a privacy status string.
func ParsePrivacy(s string) (Privacy, error) {
	switch p := Privacy(strings.ToLower(strings.TrimSpace(s))); p {
	case PrivacyPrivate, PrivacyUnlisted, PrivacyPublic:
		return p, nil
	}
	return "", ErrInvalidPrivacy
}

// OrDefault returns the privacy, or private when unset.
func (p Privacy) OrDefault() Privacy {
	if p == "" {
		return PrivacyPrivate
	}
	return p
}

// VideoInfo is the metadata collected during an upload flow.
type VideoInfo struct {
	Title         string  `json:"title,omitempty"`
	Description   string  `json:"description,omitempty"`
	Tags          string  `json:"tags,omitempty"` // raw comma-separated input
	PrivacyStatus Privacy `json:"privacy_status,omitempty"`
	MimeType      string  `json:"mime_type,omitempty"`
	Size          int64   `json:"size,omitempty"`
	FilePath      string  `json:"file_path,omitempty"`
	SourceName    string  `json:"source_name,omitempty"`
}

// ParseTags splits a comma-separated tag list, dropping blanks.
// At most MaxTags entries are returned.
func ParseTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		tags = append(tags, t)
		if len(tags) == MaxTags {
			break
		}
	}
	return tags
}

// TruncateRunes shortens s to at most n runes.
func TruncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// Acquisition is a video fetched into scratch storage.
type Acquisition struct {
	FilePath string
	Size     int64
	MimeType string
	FileName string
}

// UploadResult describes a video accepted by YouTube.
type UploadResult struct {
	VideoID       string
	VideoURL      string
	Title         string
	PrivacyStatus Privacy
}

// ChannelInfo summarises the authenticated user's channel.
type ChannelInfo struct {
	ID              string
	Title           string
	SubscriberCount uint64
	VideoCount      uint64
}
