package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/donmunna435-dev/Deep-yt/internal/domain"
	"github.com/donmunna435-dev/Deep-yt/internal/downloader"
	"github.com/donmunna435-dev/Deep-yt/internal/repository"
)

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sentMessage is one message recorded by mockChat.
type sentMessage struct {
	ChatID  int64
	Text    string
	Buttons [][]Button
}

// mockChat is a test implementation of Chat.
type mockChat struct {
	mu         sync.Mutex
	nextID     int
	sent       []sentMessage
	edits      []string
	photos     int
	callbacks  []string
	fileURLErr error
}

func (m *mockChat) Send(ctx context.Context, chatID int64, msg OutMessage) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.sent = append(m.sent, sentMessage{ChatID: chatID, Text: msg.Text, Buttons: msg.Buttons})
	return m.nextID, nil
}

func (m *mockChat) Edit(ctx context.Context, chatID int64, messageID int, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, text)
	return nil
}

func (m *mockChat) SendPhoto(ctx context.Context, chatID int64, png []byte, caption string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.photos++
	return nil
}

func (m *mockChat) FileURL(ctx context.Context, fileID string) (string, error) {
	if m.fileURLErr != nil {
		return "", m.fileURLErr
	}
	return "https://files.example/" + fileID, nil
}

func (m *mockChat) AnswerCallback(ctx context.Context, callbackID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, callbackID)
	return nil
}

// lastText returns the text of the most recent message sent to chatID.
func (m *mockChat) lastText(chatID int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].ChatID == chatID {
			return m.sent[i].Text
		}
	}
	return ""
}

// said reports whether any sent or edited message contains substr.
func (m *mockChat) said(substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sent {
		if strings.Contains(s.Text, substr) {
			return true
		}
	}
	for _, e := range m.edits {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

func (m *mockChat) editTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.edits...)
}

// mockAcquirer is a test implementation of downloader.Acquirer that writes
// small files into a temp dir.
type mockAcquirer struct {
	mu      sync.Mutex
	dir     string
	seq     int
	err     error
	calls   []string
	cleaned []string

	// block, when set, holds every fetch until closed or cancelled.
	block chan struct{}
	// ignoreCancel keeps a blocked fetch running after cancellation.
	ignoreCancel bool
	// progress is published before blocking.
	progress int
}

func (m *mockAcquirer) fetch(ctx context.Context, kind, src string, p *domain.Progress) (*domain.Acquisition, error) {
	m.mu.Lock()
	m.calls = append(m.calls, kind+":"+src)
	block, ignore, err := m.block, m.ignoreCancel, m.err
	m.mu.Unlock()

	if m.progress > 0 {
		p.Set(m.progress)
	}
	if block != nil {
		if ignore {
			<-block
		} else {
			select {
			case <-block:
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", domain.ErrDownloadFailed, ctx.Err())
			}
		}
	}
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.seq++
	path := filepath.Join(m.dir, fmt.Sprintf("%s_%d.mp4", kind, m.seq))
	m.mu.Unlock()
	if err := os.WriteFile(path, []byte("video-bytes"), 0644); err != nil {
		return nil, err
	}
	return &domain.Acquisition{FilePath: path, Size: 11, MimeType: "video/mp4", FileName: "clip.mp4"}, nil
}

func (m *mockAcquirer) FromChatMedia(ctx context.Context, src downloader.MediaSource, p *domain.Progress) (*domain.Acquisition, error) {
	return m.fetch(ctx, "tg", src.URL, p)
}

func (m *mockAcquirer) FromURL(ctx context.Context, rawURL string, p *domain.Progress) (*domain.Acquisition, error) {
	return m.fetch(ctx, "url", rawURL, p)
}

func (m *mockAcquirer) FromDrive(ctx context.Context, link string, p *domain.Progress) (*domain.Acquisition, error) {
	if _, err := downloader.DriveFileID(link); err != nil {
		return nil, err
	}
	return m.fetch(ctx, "drive", link, p)
}

func (m *mockAcquirer) Cleanup(path string) {
	m.mu.Lock()
	m.cleaned = append(m.cleaned, path)
	m.mu.Unlock()
	os.Remove(path)
}

func (m *mockAcquirer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// mockUploader is a test implementation of Uploader.
type mockUploader struct {
	mu       sync.Mutex
	authed   map[domain.UserID]bool
	err      error
	panicMsg string
	calls    []domain.VideoInfo
	// fileSeen records whether the video file existed when the upload started.
	fileSeen []bool
	channel  *domain.ChannelInfo
}

func newMockUploader() *mockUploader {
	return &mockUploader{authed: make(map[domain.UserID]bool)}
}

func (m *mockUploader) UploadVideo(ctx context.Context, userID domain.UserID, info domain.VideoInfo, p *domain.Progress) (*domain.UploadResult, error) {
	_, statErr := os.Stat(info.FilePath)

	m.mu.Lock()
	m.calls = append(m.calls, info)
	m.fileSeen = append(m.fileSeen, statErr == nil)
	err, panicMsg := m.err, m.panicMsg
	m.mu.Unlock()

	if panicMsg != "" {
		panic(panicMsg)
	}
	if err != nil {
		return nil, err
	}
	p.Set(100)
	return &domain.UploadResult{
		VideoID:       "vid123",
		VideoURL:      "https://www.youtube.com/watch?v=vid123",
		Title:         info.Title,
		PrivacyStatus: info.PrivacyStatus.OrDefault(),
	}, nil
}

func (m *mockUploader) IsAuthenticated(ctx context.Context, userID domain.UserID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authed[userID]
}

func (m *mockUploader) Channel(ctx context.Context, userID domain.UserID) (*domain.ChannelInfo, error) {
	if m.channel == nil {
		return nil, fmt.Errorf("no channel")
	}
	return m.channel, nil
}

func (m *mockUploader) setAuthed(userID domain.UserID, ok bool) {
	m.mu.Lock()
	m.authed[userID] = ok
	m.mu.Unlock()
}

func (m *mockUploader) uploadCalls() []domain.VideoInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.VideoInfo(nil), m.calls...)
}

// mockOAuth is a test implementation of OAuthProvider. The code "good-code"
// is accepted.
type mockOAuth struct {
	mu        sync.Mutex
	lastState string
}

func (m *mockOAuth) AuthCodeURL(state string) string {
	m.mu.Lock()
	m.lastState = state
	m.mu.Unlock()
	return "https://auth.example/consent?state=" + state
}

func (m *mockOAuth) Exchange(ctx context.Context, userID domain.UserID, code string) (*domain.Credential, error) {
	if code != "good-code" {
		return nil, fmt.Errorf("%w: invalid_grant", domain.ErrCodeExchangeFailed)
	}
	return &domain.Credential{AccessToken: "tok-" + userID.String(), RefreshToken: "refresh", TokenType: "Bearer"}, nil
}

func (m *mockOAuth) state() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastState
}

// flowEnv wires a FlowService to mocks and real in-process stores.
type flowEnv struct {
	flow     *FlowService
	auth     *AuthService
	sessions *repository.InMemorySessionStore
	creds    *repository.FileCredentialStore
	chat     *mockChat
	acq      *mockAcquirer
	up       *mockUploader
	oauth    *mockOAuth
}

func newFlowEnv(t *testing.T, cfg FlowConfig, opts ...FlowOption) *flowEnv {
	t.Helper()
	creds, err := repository.NewFileCredentialStore(filepath.Join(t.TempDir(), "tokens.json"), "")
	if err != nil {
		t.Fatalf("NewFileCredentialStore failed: %v", err)
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = 50 << 20
	}

	env := &flowEnv{
		sessions: repository.NewInMemorySessionStore(),
		creds:    creds,
		chat:     &mockChat{},
		acq:      &mockAcquirer{dir: t.TempDir()},
		up:       newMockUploader(),
		oauth:    &mockOAuth{},
	}
	env.auth = NewAuthService(env.oauth, creds, 0, testLogger())

	// Background work runs inline unless the test overrides it.
	all := append([]FlowOption{WithSpawner(func(fn func()) { fn() })}, opts...)
	env.flow = NewFlowService(env.sessions, creds, env.auth, env.acq, env.up, env.chat, cfg, testLogger(), all...)
	t.Cleanup(env.flow.Close)
	return env
}

func (e *flowEnv) handle(t *testing.T, ev domain.Event) {
	t.Helper()
	if err := e.flow.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle(%s) failed: %v", ev.Kind, err)
	}
}

func (e *flowEnv) session(t *testing.T, userID domain.UserID) *domain.Session {
	t.Helper()
	s, err := e.sessions.Get(context.Background(), userID)
	if err != nil {
		t.Fatalf("Get session %d failed: %v", userID, err)
	}
	return s
}

// toTitle authenticates the user and drives a flow to awaiting_title.
func (e *flowEnv) toTitle(t *testing.T, userID domain.UserID) *domain.Session {
	t.Helper()
	e.up.setAuthed(userID, true)
	e.handle(t, command(userID, "upload", ""))
	e.handle(t, media(userID, 10<<20))
	s := e.session(t, userID)
	if s.Step != domain.StepAwaitingTitle {
		t.Fatalf("Step = %q, want %q", s.Step, domain.StepAwaitingTitle)
	}
	return s
}

func command(userID domain.UserID, name, args string) domain.Event {
	return domain.Event{UserID: userID, ChatID: int64(userID), Kind: domain.EventCommand, Command: name, Args: args}
}

func text(userID domain.UserID, s string) domain.Event {
	return domain.Event{UserID: userID, ChatID: int64(userID), Kind: domain.EventText, Text: s}
}

func button(userID domain.UserID, data string) domain.Event {
	return domain.Event{UserID: userID, ChatID: int64(userID), Kind: domain.EventButton, Button: data, CallbackID: "cb-" + data}
}

func media(userID domain.UserID, size int64) domain.Event {
	return domain.Event{
		UserID: userID,
		ChatID: int64(userID),
		Kind:   domain.EventMedia,
		Media:  &domain.Media{FileID: "file-1", FileName: "clip.mp4", MimeType: "video/mp4", Size: size},
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
