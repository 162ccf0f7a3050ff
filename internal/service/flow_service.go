package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/donmunna435-dev/Deep-yt/internal/domain"
	"github.com/donmunna435-dev/Deep-yt/internal/downloader"
	"github.com/donmunna435-dev/Deep-yt/internal/repository"
)

// errStale rejects a transition whose session moved on since the event was produced.
var errStale = errors.New("stale flow event")

// FlowConfig holds FlowService settings.
type FlowConfig struct {
	MaxFileSize  int64
	AdminUserIDs []int64

	// EditInterval is how often status messages show transfer progress.
	// Zero disables progress edits.
	EditInterval time.Duration

	// SendAuthQR adds a QR code of the consent URL to the /auth reply.
	SendAuthQR bool
}

// FlowOption customises a FlowService.
type FlowOption func(*FlowService)

// WithSpawner replaces the launcher used for background transfers.
func WithSpawner(spawn func(func())) FlowOption {
	return func(s *FlowService) {
		s.spawn = spawn
	}
}

// task is a running acquisition or upload of one flow.
type task struct {
	flowID   string
	cancel   context.CancelFunc
	progress *domain.Progress
}

// FlowService is the per-user upload state machine.
type FlowService struct {
	sessions repository.SessionStore
	creds    repository.CredentialStore
	auth     *AuthService
	acquirer downloader.Acquirer
	uploader Uploader
	chat     Chat
	cfg      FlowConfig
	admins   map[domain.UserID]bool
	logger   *slog.Logger

	spawn func(func())

	emitMu sync.RWMutex
	emit   func(domain.Event)

	ctx   context.Context
	stop  context.CancelFunc
	mu    sync.Mutex
	tasks map[domain.UserID]*task
}

// NewFlowService creates a new flow service.
func NewFlowService(
	sessions repository.SessionStore,
	creds repository.CredentialStore,
	auth *AuthService,
	acquirer downloader.Acquirer,
	uploader Uploader,
	chat Chat,
	cfg FlowConfig,
	logger *slog.Logger,
	opts ...FlowOption,
) *FlowService {
	ctx, stop := context.WithCancel(context.Background())
	s := &FlowService{
		sessions: sessions,
		creds:    creds,
		auth:     auth,
		acquirer: acquirer,
		uploader: uploader,
		chat:     chat,
		cfg:      cfg,
		admins:   make(map[domain.UserID]bool, len(cfg.AdminUserIDs)),
		logger:   logger,
		spawn:    func(fn func()) { go fn() },
		ctx:      ctx,
		stop:     stop,
		tasks:    make(map[domain.UserID]*task),
	}
	for _, id := range cfg.AdminUserIDs {
		s.admins[domain.UserID(id)] = true
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetEmitter routes background completions, normally into the dispatcher so
// they are serialised with the user's chat events. Without an emitter they
// are handled directly.
func (s *FlowService) SetEmitter(emit func(domain.Event)) {
	s.emitMu.Lock()
	s.emit = emit
	s.emitMu.Unlock()
}

// Close aborts every running transfer.
func (s *FlowService) Close() {
	s.stop()
}

// ActiveTransfers returns the number of running acquisitions and uploads.
func (s *FlowService) ActiveTransfers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Handle processes one event. Events of the same user must not be handled
// concurrently.
func (s *FlowService) Handle(ctx context.Context, ev domain.Event) error {
	sess, err := s.sessions.GetOrCreate(ctx, ev.UserID, func() *domain.Session {
		return domain.NewSession(ev.UserID, ev.ChatID, s.isAdmin(ev.UserID))
	})
	if err != nil {
		return domain.NewFlowError(ev.UserID, "load session", err)
	}

	if !ev.Internal() {
		sess, err = s.sessions.Mutate(ctx, ev.UserID, func(x *domain.Session) error {
			if ev.ChatID != 0 {
				x.ChatID = ev.ChatID
			}
			x.Touch()
			return nil
		})
		if err != nil {
			return domain.NewFlowError(ev.UserID, "touch session", err)
		}
	}

	switch ev.Kind {
	case domain.EventCommand:
		return s.handleCommand(ctx, sess, ev)
	case domain.EventButton:
		return s.handleButton(ctx, sess, ev)
	case domain.EventText:
		return s.handleText(ctx, sess, ev.Text)
	case domain.EventMedia:
		return s.handleMedia(ctx, sess, ev.Media)
	case domain.EventAcquired:
		return s.handleAcquired(ctx, sess, ev)
	case domain.EventUploaded:
		return s.handleUploaded(ctx, sess, ev)
	default:
		return domain.NewFlowError(ev.UserID, "handle event", fmt.Errorf("%w: kind %q", domain.ErrUnexpectedEvent, ev.Kind))
	}
}

func (s *FlowService) handleCommand(ctx context.Context, sess *domain.Session, ev domain.Event) error {
	switch strings.ToLower(ev.Command) {
	case "start", "help":
		s.sendHelp(ctx, sess)
		return nil
	case "auth":
		return s.beginAuth(ctx, sess)
	case "logout":
		return s.logout(ctx, sess)
	case "status":
		return s.status(ctx, sess)
	case "upload":
		return s.startUpload(ctx, sess)
	case "cancel":
		return s.cancel(ctx, sess)
	case "stats", "users", "revoke":
		if !sess.IsAdmin {
			s.send(ctx, sess.ChatID, msgAdminOnly, nil)
			return nil
		}
		return s.handleAdmin(ctx, sess, strings.ToLower(ev.Command), ev.Args)
	default:
		s.send(ctx, sess.ChatID, msgUnknownCommand, nil)
		return nil
	}
}

func (s *FlowService) handleButton(ctx context.Context, sess *domain.Session, ev domain.Event) error {
	if ev.CallbackID != "" {
		if err := s.chat.AnswerCallback(ctx, ev.CallbackID, ""); err != nil {
			s.logger.Debug("failed to answer callback", "user_id", sess.UserID.String(), "error", err)
		}
	}

	switch ev.Button {
	case domain.ButtonUpload:
		return s.startUpload(ctx, sess)
	case domain.ButtonAuth:
		return s.beginAuth(ctx, sess)
	case domain.ButtonStatus:
		return s.status(ctx, sess)
	case domain.ButtonCancel:
		return s.cancel(ctx, sess)
	case domain.ButtonHelp:
		s.sendHelp(ctx, sess)
		return nil
	case domain.ButtonPrivate, domain.ButtonUnlisted, domain.ButtonPublic:
		return s.choosePrivacy(ctx, sess, strings.TrimPrefix(ev.Button, "privacy:"))
	default:
		s.send(ctx, sess.ChatID, msgMenuExpired, nil)
		return nil
	}
}

// handleText routes free text. A pending authorization code takes precedence
// over the upload step.
func (s *FlowService) handleText(ctx context.Context, sess *domain.Session, text string) error {
	if sess.AuthStep == domain.AuthStepAwaitingCode {
		return s.redeemCode(ctx, sess, text)
	}

	switch sess.Step {
	case domain.StepIdle, "":
		s.send(ctx, sess.ChatID, msgIdleHint, mainMenu())
		return nil
	case domain.StepAwaitingVideo:
		return s.acquireFromText(ctx, sess, text)
	case domain.StepDownloading:
		s.send(ctx, sess.ChatID, msgStillDownloading, cancelMenu())
		return nil
	case domain.StepAwaitingTitle:
		return s.setTitle(ctx, sess, text)
	case domain.StepAwaitingDescription:
		return s.setDescription(ctx, sess, text)
	case domain.StepAwaitingPrivacy:
		s.send(ctx, sess.ChatID, msgUseButtons, privacyMenu())
		return nil
	case domain.StepAwaitingTags:
		return s.setTags(ctx, sess, text)
	case domain.StepUploading:
		s.send(ctx, sess.ChatID, msgStillUploading, cancelMenu())
		return nil
	default:
		return domain.NewFlowError(sess.UserID, "handle text", fmt.Errorf("%w: step %q", domain.ErrUnexpectedEvent, sess.Step))
	}
}

func (s *FlowService) handleMedia(ctx context.Context, sess *domain.Session, m *domain.Media) error {
	if sess.Step != domain.StepAwaitingVideo || m == nil {
		s.send(ctx, sess.ChatID, msgNotAwaitingVideo, mainMenu())
		return nil
	}

	media := *m
	return s.startAcquisition(ctx, sess, "chat", func(ctx context.Context, p *domain.Progress) (*domain.Acquisition, error) {
		if s.cfg.MaxFileSize > 0 && media.Size > s.cfg.MaxFileSize {
			return nil, fmt.Errorf("%w: %s exceeds the %s limit",
				domain.ErrFileTooLarge, formatMiB(media.Size), formatMiB(s.cfg.MaxFileSize))
		}
		fileURL, err := s.chat.FileURL(ctx, media.FileID)
		if err != nil {
			return nil, fmt.Errorf("%w: resolve attachment: %w", domain.ErrDownloadFailed, err)
		}
		return s.acquirer.FromChatMedia(ctx, downloader.MediaSource{
			URL:          fileURL,
			FileName:     media.FileName,
			MimeType:     media.MimeType,
			DeclaredSize: media.Size,
		}, p)
	})
}

func (s *FlowService) acquireFromText(ctx context.Context, sess *domain.Session, text string) error {
	link := strings.TrimSpace(text)
	switch {
	case downloader.IsDriveLink(link):
		return s.startAcquisition(ctx, sess, "drive", func(ctx context.Context, p *domain.Progress) (*domain.Acquisition, error) {
			return s.acquirer.FromDrive(ctx, link, p)
		})
	case isHTTPURL(link):
		return s.startAcquisition(ctx, sess, "url", func(ctx context.Context, p *domain.Progress) (*domain.Acquisition, error) {
			return s.acquirer.FromURL(ctx, link, p)
		})
	default:
		s.send(ctx, sess.ChatID, msgNotAVideoSource, cancelMenu())
		return nil
	}
}

func (s *FlowService) setTitle(ctx context.Context, sess *domain.Session, text string) error {
	if strings.TrimSpace(text) == "" {
		s.send(ctx, sess.ChatID, msgEmptyTitle, nil)
		return nil
	}
	_, err := s.transition(ctx, sess.UserID, domain.StepAwaitingTitle, sess.FlowID, func(x *domain.Session) {
		x.VideoInfo.Title = text
		x.Step = domain.StepAwaitingDescription
	})
	if err != nil {
		return s.transitionFailed(ctx, sess, "set title", err)
	}
	s.send(ctx, sess.ChatID, msgAskDescription, nil)
	return nil
}

func (s *FlowService) setDescription(ctx context.Context, sess *domain.Session, text string) error {
	_, err := s.transition(ctx, sess.UserID, domain.StepAwaitingDescription, sess.FlowID, func(x *domain.Session) {
		x.VideoInfo.Description = ""
		if !isSkip(text) {
			x.VideoInfo.Description = text
		}
		x.Step = domain.StepAwaitingPrivacy
	})
	if err != nil {
		return s.transitionFailed(ctx, sess, "set description", err)
	}
	s.send(ctx, sess.ChatID, msgAskPrivacy, privacyMenu())
	return nil
}

func (s *FlowService) choosePrivacy(ctx context.Context, sess *domain.Session, value string) error {
	privacy, err := domain.ParsePrivacy(value)
	if err != nil || sess.Step != domain.StepAwaitingPrivacy {
		s.send(ctx, sess.ChatID, msgMenuExpired, nil)
		return nil
	}
	_, err = s.transition(ctx, sess.UserID, domain.StepAwaitingPrivacy, sess.FlowID, func(x *domain.Session) {
		x.VideoInfo.PrivacyStatus = privacy
		x.Step = domain.StepAwaitingTags
	})
	if err != nil {
		return s.transitionFailed(ctx, sess, "set privacy", err)
	}
	s.send(ctx, sess.ChatID, msgAskTags, nil)
	return nil
}

// setTags stores the tags and starts the upload straight away.
func (s *FlowService) setTags(ctx context.Context, sess *domain.Session, text string) error {
	if !s.uploader.IsAuthenticated(ctx, sess.UserID) {
		s.send(ctx, sess.ChatID, msgAuthRequired, nil)
		return nil
	}
	updated, err := s.transition(ctx, sess.UserID, domain.StepAwaitingTags, sess.FlowID, func(x *domain.Session) {
		x.VideoInfo.Tags = ""
		if !isSkip(text) {
			x.VideoInfo.Tags = text
		}
		x.Step = domain.StepUploading
		x.UploadProgress = 0
	})
	if err != nil {
		return s.transitionFailed(ctx, sess, "set tags", err)
	}
	s.startUploadTask(ctx, updated)
	return nil
}

// startUpload enters awaiting_video from idle with a clean session. A running
// flow has to be cancelled first.
func (s *FlowService) startUpload(ctx context.Context, sess *domain.Session) error {
	if sess.InFlow() {
		s.send(ctx, sess.ChatID, msgFlowInProgress, cancelMenu())
		return nil
	}
	if !s.uploader.IsAuthenticated(ctx, sess.UserID) {
		s.send(ctx, sess.ChatID, msgAuthRequired, [][]Button{{{Text: "Connect Google", Data: domain.ButtonAuth}}})
		return nil
	}

	s.abortTask(sess.UserID)
	flowID := uuid.NewString()
	var leftover string
	_, err := s.sessions.Mutate(ctx, sess.UserID, func(x *domain.Session) error {
		leftover = x.VideoInfo.FilePath
		x.ResetFlow()
		x.Step = domain.StepAwaitingVideo
		x.FlowID = flowID
		return nil
	})
	if err != nil {
		return s.fail(ctx, sess, "start upload", err)
	}
	if leftover != "" {
		s.acquirer.Cleanup(leftover)
	}

	s.logger.Info("upload flow started", "user_id", sess.UserID.String(), "flow_id", flowID)
	s.send(ctx, sess.ChatID, fmt.Sprintf(msgSendVideoFmt, formatMiB(s.cfg.MaxFileSize)), cancelMenu())
	return nil
}

// cancel returns the session to idle from any state, aborting running
// transfers and removing the scratch file.
func (s *FlowService) cancel(ctx context.Context, sess *domain.Session) error {
	aborted := s.abortTask(sess.UserID)
	var leftover string
	_, err := s.sessions.Mutate(ctx, sess.UserID, func(x *domain.Session) error {
		leftover = x.VideoInfo.FilePath
		x.Reset()
		return nil
	})
	if err != nil {
		return s.fail(ctx, sess, "cancel", err)
	}
	if leftover != "" {
		s.acquirer.Cleanup(leftover)
	}

	if !aborted && !sess.InFlow() && sess.AuthStep == domain.AuthStepNone {
		s.send(ctx, sess.ChatID, msgNothingToCancel, mainMenu())
		return nil
	}
	s.logger.Info("flow cancelled", "user_id", sess.UserID.String(), "step", sess.Step)
	s.send(ctx, sess.ChatID, msgCancelled, mainMenu())
	return nil
}

func (s *FlowService) beginAuth(ctx context.Context, sess *domain.Session) error {
	authURL := s.auth.BeginAuth(sess.UserID)
	_, err := s.sessions.Mutate(ctx, sess.UserID, func(x *domain.Session) error {
		x.AuthStep = domain.AuthStepAwaitingCode
		return nil
	})
	if err != nil {
		return s.fail(ctx, sess, "begin auth", err)
	}

	s.send(ctx, sess.ChatID, msgAuthPrompt, authMenu(authURL))
	if s.cfg.SendAuthQR {
		png, err := AuthQRCode(authURL)
		if err != nil {
			s.logger.Warn("failed to render auth qr code", "error", err)
			return nil
		}
		if err := s.chat.SendPhoto(ctx, sess.ChatID, png, msgAuthQRCaption); err != nil {
			s.logger.Warn("failed to send auth qr code", "user_id", sess.UserID.String(), "error", err)
		}
	}
	return nil
}

// redeemCode treats text as an authorization code. The auth sub-state is
// cleared whatever the outcome.
func (s *FlowService) redeemCode(ctx context.Context, sess *domain.Session, code string) error {
	_, err := s.sessions.Mutate(ctx, sess.UserID, func(x *domain.Session) error {
		x.AuthStep = domain.AuthStepNone
		return nil
	})
	if err != nil {
		return s.fail(ctx, sess, "redeem code", err)
	}

	if err := s.auth.Exchange(ctx, sess.UserID, code); err != nil {
		s.send(ctx, sess.ChatID, fmt.Sprintf(msgAuthFailedFmt, err), nil)
		return nil
	}
	s.send(ctx, sess.ChatID, msgAuthSuccess, mainMenu())
	return nil
}

// CompleteOAuth finishes an authorization from the OAuth redirect page and
// notifies the user in chat.
func (s *FlowService) CompleteOAuth(ctx context.Context, state, code string) (domain.UserID, error) {
	userID, err := s.auth.CompleteCallback(ctx, state, code)
	if errors.Is(err, domain.ErrUnknownState) {
		return 0, err
	}

	chatID := int64(userID)
	sess, merr := s.sessions.Mutate(ctx, userID, func(x *domain.Session) error {
		x.AuthStep = domain.AuthStepNone
		return nil
	})
	if merr == nil && sess.ChatID != 0 {
		chatID = sess.ChatID
	}

	if err != nil {
		s.send(ctx, chatID, fmt.Sprintf(msgAuthFailedFmt, err), nil)
		return userID, err
	}
	s.send(ctx, chatID, msgAuthSuccess, mainMenu())
	return userID, nil
}

func (s *FlowService) logout(ctx context.Context, sess *domain.Session) error {
	s.abortTask(sess.UserID)
	var leftover string
	_, err := s.sessions.Mutate(ctx, sess.UserID, func(x *domain.Session) error {
		leftover = x.VideoInfo.FilePath
		x.Reset()
		return nil
	})
	if err != nil {
		return s.fail(ctx, sess, "logout", err)
	}
	if leftover != "" {
		s.acquirer.Cleanup(leftover)
	}

	if err := s.auth.Logout(ctx, sess.UserID); err != nil {
		return s.fail(ctx, sess, "logout", err)
	}
	s.send(ctx, sess.ChatID, msgLoggedOut, nil)
	return nil
}

func (s *FlowService) status(ctx context.Context, sess *domain.Session) error {
	connected := s.uploader.IsAuthenticated(ctx, sess.UserID)
	var ch *domain.ChannelInfo
	if connected {
		info, err := s.uploader.Channel(ctx, sess.UserID)
		if err != nil {
			s.logger.Warn("channel lookup failed", "user_id", sess.UserID.String(), "error", err)
		} else {
			ch = info
		}
	}

	pct, known := s.taskProgress(sess.UserID, sess.FlowID)
	if !known {
		switch sess.Step {
		case domain.StepDownloading:
			pct, known = sess.DownloadProgress, sess.DownloadProgress > 0
		case domain.StepUploading:
			pct, known = sess.UploadProgress, sess.UploadProgress > 0
		}
	}

	text := statusText(sess, connected, ch, pct, known)
	if !connected && s.auth.HasCredential(ctx, sess.UserID) {
		text += "\n\n" + msgAuthStale
	}
	s.send(ctx, sess.ChatID, text, mainMenu())
	return nil
}

func (s *FlowService) handleAdmin(ctx context.Context, sess *domain.Session, cmd, args string) error {
	switch cmd {
	case "stats":
		st, err := s.Stats(ctx)
		if err != nil {
			return s.fail(ctx, sess, "stats", err)
		}
		s.send(ctx, sess.ChatID, fmt.Sprintf(
			"Stored credentials: %d\nSessions: %d\nActive flows: %d\nRunning transfers: %d",
			st.Credentials, st.Sessions, st.ActiveFlows, st.RunningTransfers), nil)
		return nil

	case "users":
		ids, err := s.creds.ListUserIDs(ctx)
		if err != nil {
			return s.fail(ctx, sess, "users", err)
		}
		if len(ids) == 0 {
			s.send(ctx, sess.ChatID, "No stored credentials.", nil)
			return nil
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		lines := make([]string, 0, len(ids)+1)
		lines = append(lines, fmt.Sprintf("Users with stored credentials (%d):", len(ids)))
		for _, id := range ids {
			lines = append(lines, id.String())
		}
		s.send(ctx, sess.ChatID, strings.Join(lines, "\n"), nil)
		return nil

	default:
		target, err := domain.ParseUserID(strings.TrimSpace(args))
		if err != nil {
			s.send(ctx, sess.ChatID, msgRevokeUsage, nil)
			return nil
		}
		if err := s.revoke(ctx, target); err != nil {
			return s.fail(ctx, sess, "revoke", err)
		}
		s.logger.Info("user revoked", "admin_id", sess.UserID.String(), "user_id", target.String())
		s.send(ctx, sess.ChatID, fmt.Sprintf(msgRevokedFmt, target), nil)
		return nil
	}
}

// Stats summarises stored credentials and sessions.
type Stats struct {
	Credentials      int `json:"credentials"`
	Sessions         int `json:"sessions"`
	ActiveFlows      int `json:"active_flows"`
	RunningTransfers int `json:"running_transfers"`
}

// Stats counts credentials, sessions and the flows in progress.
func (s *FlowService) Stats(ctx context.Context) (*Stats, error) {
	ids, err := s.creds.ListUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	sessions, err := s.sessions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	st := &Stats{
		Credentials:      len(ids),
		Sessions:         len(sessions),
		RunningTransfers: s.ActiveTransfers(),
	}
	for _, x := range sessions {
		if x.InFlow() {
			st.ActiveFlows++
		}
	}
	return st, nil
}

// revoke removes a user's credential and session and aborts their transfers.
func (s *FlowService) revoke(ctx context.Context, userID domain.UserID) error {
	s.abortTask(userID)
	if target, err := s.sessions.Get(ctx, userID); err == nil && target.VideoInfo.FilePath != "" {
		s.acquirer.Cleanup(target.VideoInfo.FilePath)
	}
	if err := s.creds.Delete(ctx, userID); err != nil {
		return err
	}
	return s.sessions.Delete(ctx, userID)
}

func (s *FlowService) sendHelp(ctx context.Context, sess *domain.Session) {
	text := msgHelp
	if sess.IsAdmin {
		text += msgAdminHelp
	}
	s.send(ctx, sess.ChatID, text, mainMenu())
}

// transition applies fn when the session is still at step within flowID.
func (s *FlowService) transition(ctx context.Context, userID domain.UserID, from domain.Step, flowID string, fn func(x *domain.Session)) (*domain.Session, error) {
	return s.sessions.Mutate(ctx, userID, func(x *domain.Session) error {
		if x.Step != from || x.FlowID != flowID {
			return errStale
		}
		fn(x)
		return nil
	})
}

func (s *FlowService) transitionFailed(ctx context.Context, sess *domain.Session, op string, err error) error {
	if errors.Is(err, errStale) {
		s.logger.Debug("transition skipped", "user_id", sess.UserID.String(), "op", op)
		return nil
	}
	return s.fail(ctx, sess, op, err)
}

func (s *FlowService) fail(ctx context.Context, sess *domain.Session, op string, err error) error {
	s.send(ctx, sess.ChatID, msgInternalError, nil)
	return domain.NewFlowError(sess.UserID, op, err)
}

func (s *FlowService) send(ctx context.Context, chatID int64, text string, buttons [][]Button) int {
	id, err := s.chat.Send(ctx, chatID, OutMessage{Text: text, Buttons: buttons})
	if err != nil {
		s.logger.Warn("failed to send message", "chat_id", chatID, "error", err)
		return 0
	}
	return id
}

// edit updates a status message, or sends a new one when there is none.
func (s *FlowService) edit(ctx context.Context, chatID int64, messageID int, text string) {
	if messageID == 0 {
		s.send(ctx, chatID, text, nil)
		return
	}
	if err := s.chat.Edit(ctx, chatID, messageID, text); err != nil {
		s.logger.Debug("failed to edit message", "chat_id", chatID, "message_id", messageID, "error", err)
	}
}

func (s *FlowService) isAdmin(userID domain.UserID) bool {
	return s.admins[userID]
}

func isSkip(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), "skip")
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
