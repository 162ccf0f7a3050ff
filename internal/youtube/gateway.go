package youtube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/donmunna435-dev/Deep-yt/internal/config"
	"github.com/donmunna435-dev/Deep-yt/internal/domain"
	"github.com/donmunna435-dev/Deep-yt/internal/repository"
)

// WatchURLPrefix is prepended to a video id to form its public URL.
const WatchURLPrefix = "https://www.youtube.com/watch?v="

// Gateway performs authenticated YouTube calls on behalf of a user.
type Gateway struct {
	oauth  *OAuth
	store  repository.CredentialStore
	cfg    config.YouTubeConfig
	logger *slog.Logger

	// baseClient carries requests under the OAuth transport. Nil uses the default.
	baseClient *http.Client
}

// NewGateway creates a new upload gateway.
func NewGateway(oauth *OAuth, store repository.CredentialStore, cfg config.YouTubeConfig, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CategoryID == "" {
		cfg.CategoryID = "22"
	}
	return &Gateway{
		oauth:  oauth,
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
}

// UploadVideo inserts one video. The call is made exactly once.
func (g *Gateway) UploadVideo(ctx context.Context, userID domain.UserID, info domain.VideoInfo, progress *domain.Progress) (*domain.UploadResult, error) {
	if g.cfg.UploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.UploadTimeout)
		defer cancel()
	}

	svc, err := g.service(ctx, userID)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(info.FilePath)
	if err != nil {
		return nil, fmt.Errorf("%w: open video: %w", domain.ErrUploadFailed, err)
	}
	defer f.Close()

	size := info.Size
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}

	mimeType := info.MimeType
	if mimeType == "" {
		mimeType = "video/mp4"
	}

	video := g.buildVideo(info)
	logger := g.logger.With("user_id", userID.String(), "file", filepath.Base(info.FilePath))
	logger.Info("uploading video",
		"title", video.Snippet.Title,
		"privacy", video.Status.PrivacyStatus,
		"size_bytes", size,
	)

	body := &countingReader{r: f, total: size, progress: progress}
	resp, err := svc.Videos.Insert([]string{"snippet", "status"}, video).
		Media(body, googleapi.ContentType(mimeType), googleapi.ChunkSize(0)).
		Context(ctx).
		Do()
	if err != nil {
		logger.Warn("upload failed", "error", err)
		return nil, classify(domain.ErrUploadFailed, err)
	}
	progress.Set(100)

	result := &domain.UploadResult{
		VideoID:       resp.Id,
		VideoURL:      WatchURLPrefix + resp.Id,
		Title:         video.Snippet.Title,
		PrivacyStatus: domain.Privacy(video.Status.PrivacyStatus),
	}
	if resp.Snippet != nil && resp.Snippet.Title != "" {
		result.Title = resp.Snippet.Title
	}
	if resp.Status != nil && resp.Status.PrivacyStatus != "" {
		result.PrivacyStatus = domain.Privacy(resp.Status.PrivacyStatus)
	}

	logger.Info("upload complete", "video_id", resp.Id)
	return result, nil
}

// IsAuthenticated performs one cheap read call. Any failure means false.
func (g *Gateway) IsAuthenticated(ctx context.Context, userID domain.UserID) bool {
	if g.cfg.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.ProbeTimeout)
		defer cancel()
	}

	svc, err := g.service(ctx, userID)
	if err != nil {
		return false
	}
	if _, err := svc.Channels.List([]string{"id"}).Mine(true).MaxResults(1).Context(ctx).Do(); err != nil {
		g.logger.Debug("authentication probe failed", "user_id", userID.String(), "error", err)
		return false
	}
	return true
}

// Channel returns the user's own channel.
func (g *Gateway) Channel(ctx context.Context, userID domain.UserID) (*domain.ChannelInfo, error) {
	if g.cfg.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.ProbeTimeout)
		defer cancel()
	}

	svc, err := g.service(ctx, userID)
	if err != nil {
		return nil, err
	}
	resp, err := svc.Channels.List([]string{"snippet", "statistics"}).Mine(true).MaxResults(1).Context(ctx).Do()
	if err != nil {
		return nil, classify(errors.New("channel lookup failed"), err)
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("no YouTube channel on this account")
	}

	ch := resp.Items[0]
	info := &domain.ChannelInfo{ID: ch.Id}
	if ch.Snippet != nil {
		info.Title = ch.Snippet.Title
	}
	if ch.Statistics != nil {
		info.SubscriberCount = ch.Statistics.SubscriberCount
		info.VideoCount = ch.Statistics.VideoCount
	}
	return info, nil
}

func (g *Gateway) buildVideo(info domain.VideoInfo) *yt.Video {
	title := strings.TrimSpace(info.Title)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(info.FilePath), filepath.Ext(info.FilePath))
	}
	return &yt.Video{
		Snippet: &yt.VideoSnippet{
			Title:       domain.TruncateRunes(title, domain.MaxTitleRunes),
			Description: domain.TruncateRunes(info.Description, domain.MaxDescriptionRunes),
			Tags:        domain.ParseTags(info.Tags),
			CategoryId:  g.cfg.CategoryID,
		},
		Status: &yt.VideoStatus{
			PrivacyStatus: string(info.PrivacyStatus.OrDefault()),
		},
	}
}

func (g *Gateway) service(ctx context.Context, userID domain.UserID) (*yt.Service, error) {
	cred, err := g.store.Get(ctx, userID)
	if errors.Is(err, domain.ErrCredentialNotFound) {
		return nil, domain.ErrNotAuthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if cred.Expired(time.Now()) {
		return nil, fmt.Errorf("%w: token expired", domain.ErrNotAuthenticated)
	}

	if g.baseClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, g.baseClient)
	}
	tok := CredentialToToken(cred)
	ts := &persistingTokenSource{
		src:    g.oauth.TokenSource(ctx, tok),
		last:   tok.AccessToken,
		userID: userID,
		cred:   cred,
		store:  g.store,
		logger: g.logger,
	}

	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, ts))}
	if g.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.cfg.Endpoint))
	}
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	return svc, nil
}

// classify wraps err under base, or under ErrNotAuthenticated when Google
// rejected the credentials.
func classify(base, err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return fmt.Errorf("%w: %w", domain.ErrNotAuthenticated, err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized {
		return fmt.Errorf("%w: %w", domain.ErrNotAuthenticated, err)
	}
	return fmt.Errorf("%w: %w", base, err)
}

// persistingTokenSource writes refreshed tokens back to the credential store.
type persistingTokenSource struct {
	mu     sync.Mutex
	src    oauth2.TokenSource
	last   string
	userID domain.UserID
	cred   *domain.Credential
	store  repository.CredentialStore
	logger *slog.Logger
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken == p.last {
		return tok, nil
	}
	p.last = tok.AccessToken

	next := TokenToCredential(p.userID, tok)
	if next.RefreshToken == "" {
		next.RefreshToken = p.cred.RefreshToken
	}
	if next.Scope == "" {
		next.Scope = p.cred.Scope
	}
	if err := p.store.Save(context.Background(), p.userID, next); err != nil {
		p.logger.Warn("failed to persist refreshed token", "user_id", p.userID.String(), "error", err)
	} else {
		p.logger.Debug("refreshed token persisted", "user_id", p.userID.String())
	}
	return tok, nil
}

// countingReader publishes upload progress as the body is consumed.
type countingReader struct {
	r        io.Reader
	total    int64
	read     int64
	progress *domain.Progress
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 && c.total > 0 {
		c.read += int64(n)
		// Hold back 100 until the API has accepted the video.
		done := c.read
		if done >= c.total {
			done = c.total - 1
		}
		c.progress.Update(done, c.total)
	}
	return n, err
}
