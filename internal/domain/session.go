package domain

import (
	"strconv"
	"time"
)

// UserID identifies a chat user. It is the Telegram numeric user id.
type UserID int64

// String returns the decimal representation of the UserID.
func (id UserID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseUserID parses a decimal user id.
func ParseUserID(s string) (UserID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return UserID(v), nil
}

// Step is the position of a session in the upload flow.
type Step string

const (
	StepIdle                Step = "idle"
	StepAwaitingVideo       Step = "awaiting_video"
	StepDownloading         Step = "downloading"
	StepAwaitingTitle       Step = "awaiting_title"
	StepAwaitingDescription Step = "awaiting_description"
	StepAwaitingPrivacy     Step = "awaiting_privacy"
	StepAwaitingTags        Step = "awaiting_tags"
	StepUploading           Step = "uploading"
)

// AuthStep is the authentication sub-state, independent of Step.
type AuthStep string

const (
	AuthStepNone         AuthStep = ""
	AuthStepAwaitingCode AuthStep = "awaiting_code"
)

// Session is the per-user conversation state.
type Session struct {
	UserID           UserID    `json:"user_id"`
	ChatID           int64     `json:"chat_id"`
	Step             Step      `json:"step"`
	AuthStep         AuthStep  `json:"auth_step,omitempty"`
	VideoInfo        VideoInfo `json:"video_info"`
	FlowID           string    `json:"flow_id,omitempty"`
	StatusMessageID  int       `json:"status_message_id,omitempty"`
	DownloadProgress int       `json:"download_progress"`
	UploadProgress   int       `json:"upload_progress"`
	IsAdmin          bool      `json:"is_admin"`
	LastActivity     time.Time `json:"last_activity"`
	CreatedAt        time.Time `json:"created_at"`
}

// NewSession creates an idle session.
func NewSession(userID UserID, chatID int64, isAdmin bool) *Session {
	now := time.Now()
	return &Session{
		UserID:       userID,
		ChatID:       chatID,
		Step:         StepIdle,
		IsAdmin:      isAdmin,
		LastActivity: now,
		CreatedAt:    now,
	}
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	c := *s
	return &c
}

// Touch records inbound activity.
func (s *Session) Touch() {
	s.LastActivity = time.Now()
}

// InFlow reports whether an upload flow is in progress.
func (s *Session) InFlow() bool {
	return s.Step != "" && s.Step != StepIdle
}

// ResetFlow returns the upload flow to idle and forgets the video. The auth
// sub-state is left alone.
func (s *Session) ResetFlow() {
	s.Step = StepIdle
	s.VideoInfo = VideoInfo{}
	s.FlowID = ""
	s.StatusMessageID = 0
	s.DownloadProgress = 0
	s.UploadProgress = 0
}

// Reset restores defaults, keeping identity and the admin flag.
func (s *Session) Reset() {
	s.ResetFlow()
	s.AuthStep = AuthStepNone
}
