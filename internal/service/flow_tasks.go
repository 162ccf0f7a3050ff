package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/donmunna435-dev/Deep-yt/internal/domain"
)

type acquireFunc func(ctx context.Context, progress *domain.Progress) (*domain.Acquisition, error)

// startAcquisition moves awaiting_video to downloading and fetches the video
// in the background. The result comes back as an EventAcquired.
func (s *FlowService) startAcquisition(ctx context.Context, sess *domain.Session, source string, fetch acquireFunc) error {
	userID, flowID := sess.UserID, sess.FlowID
	updated, err := s.transition(ctx, userID, domain.StepAwaitingVideo, flowID, func(x *domain.Session) {
		x.Step = domain.StepDownloading
		x.DownloadProgress = 0
	})
	if err != nil {
		return s.transitionFailed(ctx, sess, "start download", err)
	}

	chatID := updated.ChatID
	msgID := s.send(ctx, chatID, msgDownloading, cancelMenu())
	s.setStatusMessage(ctx, userID, domain.StepDownloading, flowID, msgID)

	taskCtx, cancel, progress := s.track(userID, flowID)
	s.watch(taskCtx, userID, chatID, msgID, domain.StepDownloading, flowID, msgDownloadingFmt, progress)

	s.logger.Info("acquisition started", "user_id", userID.String(), "flow_id", flowID, "source", source)
	s.spawn(func() {
		defer cancel()
		acq, err := protect(func() (*domain.Acquisition, error) {
			return fetch(taskCtx, progress)
		})
		if err != nil && acq != nil {
			s.acquirer.Cleanup(acq.FilePath)
			acq = nil
		}
		s.dispatch(domain.Event{
			UserID:      userID,
			ChatID:      chatID,
			Kind:        domain.EventAcquired,
			FlowID:      flowID,
			Acquisition: acq,
			Err:         err,
		})
	})
	return nil
}

// handleAcquired applies a finished acquisition. Completions of a flow that
// was cancelled or replaced are discarded and their file removed.
func (s *FlowService) handleAcquired(ctx context.Context, sess *domain.Session, ev domain.Event) error {
	s.untrack(ev.UserID, ev.FlowID)
	logger := s.logger.With("user_id", ev.UserID.String(), "flow_id", ev.FlowID)

	failed := ev.Err != nil || ev.Acquisition == nil
	_, err := s.transition(ctx, ev.UserID, domain.StepDownloading, ev.FlowID, func(x *domain.Session) {
		if failed {
			x.ResetFlow()
			return
		}
		a := ev.Acquisition
		x.VideoInfo.FilePath = a.FilePath
		x.VideoInfo.MimeType = a.MimeType
		x.VideoInfo.Size = a.Size
		x.VideoInfo.SourceName = a.FileName
		x.Step = domain.StepAwaitingTitle
		x.DownloadProgress = 100
	})
	if err != nil {
		if ev.Acquisition != nil {
			s.acquirer.Cleanup(ev.Acquisition.FilePath)
		}
		if errors.Is(err, errStale) {
			logger.Info("discarding stale acquisition result")
			return nil
		}
		return s.fail(ctx, sess, "apply download", err)
	}

	if failed {
		cause := ev.Err
		if cause == nil {
			cause = domain.ErrDownloadFailed
		}
		logger.Warn("acquisition failed", "error", cause)
		s.edit(ctx, sess.ChatID, sess.StatusMessageID, fmt.Sprintf(msgDownloadFailedFmt, cause))
		s.send(ctx, sess.ChatID, msgIdleHint, mainMenu())
		return nil
	}

	logger.Info("acquisition complete", "size_bytes", ev.Acquisition.Size, "mime_type", ev.Acquisition.MimeType)
	s.edit(ctx, sess.ChatID, sess.StatusMessageID, fmt.Sprintf(msgDownloadedFmt, formatMiB(ev.Acquisition.Size)))
	s.send(ctx, sess.ChatID, msgAskTitle, cancelMenu())
	return nil
}

// startUploadTask runs the single upload call of a flow in the background.
// The scratch file is removed as soon as the call returns, whatever the outcome.
func (s *FlowService) startUploadTask(ctx context.Context, sess *domain.Session) {
	userID, flowID, chatID := sess.UserID, sess.FlowID, sess.ChatID
	info := sess.VideoInfo

	msgID := s.send(ctx, chatID, msgUploading, cancelMenu())
	s.setStatusMessage(ctx, userID, domain.StepUploading, flowID, msgID)

	taskCtx, cancel, progress := s.track(userID, flowID)
	s.watch(taskCtx, userID, chatID, msgID, domain.StepUploading, flowID, msgUploadingFmt, progress)

	s.logger.Info("upload started", "user_id", userID.String(), "flow_id", flowID, "privacy", info.PrivacyStatus.OrDefault())
	s.spawn(func() {
		defer cancel()
		res, err := protect(func() (*domain.UploadResult, error) {
			return s.uploader.UploadVideo(taskCtx, userID, info, progress)
		})
		s.acquirer.Cleanup(info.FilePath)
		if err == nil && res == nil {
			err = domain.ErrUploadFailed
		}
		s.dispatch(domain.Event{
			UserID: userID,
			ChatID: chatID,
			Kind:   domain.EventUploaded,
			FlowID: flowID,
			Result: res,
			Err:    err,
		})
	})
}

// handleUploaded returns the flow to idle after the upload attempt.
func (s *FlowService) handleUploaded(ctx context.Context, sess *domain.Session, ev domain.Event) error {
	s.untrack(ev.UserID, ev.FlowID)
	logger := s.logger.With("user_id", ev.UserID.String(), "flow_id", ev.FlowID)

	_, err := s.transition(ctx, ev.UserID, domain.StepUploading, ev.FlowID, func(x *domain.Session) {
		x.ResetFlow()
	})
	stale := errors.Is(err, errStale)
	if err != nil && !stale {
		return s.fail(ctx, sess, "finish upload", err)
	}

	if ev.Err != nil {
		logger.Warn("upload failed", "error", ev.Err, "stale", stale)
		if !stale {
			s.edit(ctx, sess.ChatID, sess.StatusMessageID, uploadFailedText(ev.Err))
		}
		return nil
	}

	// A video that made it to the platform is reported even if the flow
	// was cancelled meanwhile.
	r := ev.Result
	logger.Info("upload finished", "video_id", r.VideoID, "stale", stale)
	if !stale {
		s.edit(ctx, sess.ChatID, sess.StatusMessageID, "Upload complete.")
	}
	s.send(ctx, sess.ChatID, fmt.Sprintf(msgUploadDoneFmt, r.Title, r.PrivacyStatus, r.VideoURL), mainMenu())
	return nil
}

func (s *FlowService) setStatusMessage(ctx context.Context, userID domain.UserID, step domain.Step, flowID string, msgID int) {
	if msgID == 0 {
		return
	}
	_, err := s.transition(ctx, userID, step, flowID, func(x *domain.Session) {
		x.StatusMessageID = msgID
	})
	if err != nil && !errors.Is(err, errStale) {
		s.logger.Warn("failed to record status message", "user_id", userID.String(), "error", err)
	}
}

// track registers a transfer for the user, aborting any earlier one.
func (s *FlowService) track(userID domain.UserID, flowID string) (context.Context, context.CancelFunc, *domain.Progress) {
	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{flowID: flowID, cancel: cancel, progress: domain.NewProgress()}

	s.mu.Lock()
	old := s.tasks[userID]
	s.tasks[userID] = t
	s.mu.Unlock()

	if old != nil {
		old.cancel()
	}
	return ctx, cancel, t.progress
}

func (s *FlowService) untrack(userID domain.UserID, flowID string) {
	s.mu.Lock()
	t := s.tasks[userID]
	if t == nil || t.flowID != flowID {
		s.mu.Unlock()
		return
	}
	delete(s.tasks, userID)
	s.mu.Unlock()
	t.cancel()
}

// abortTask cancels the user's running transfer and reports whether there was one.
func (s *FlowService) abortTask(userID domain.UserID) bool {
	s.mu.Lock()
	t := s.tasks[userID]
	delete(s.tasks, userID)
	s.mu.Unlock()

	if t == nil {
		return false
	}
	t.cancel()
	s.logger.Info("transfer aborted", "user_id", userID.String(), "flow_id", t.flowID)
	return true
}

func (s *FlowService) taskProgress(userID domain.UserID, flowID string) (int, bool) {
	s.mu.Lock()
	t := s.tasks[userID]
	s.mu.Unlock()
	if t == nil || t.flowID != flowID {
		return 0, false
	}
	return t.progress.Percent()
}

// watch periodically mirrors transfer progress into the status message and
// the session until ctx ends.
func (s *FlowService) watch(ctx context.Context, userID domain.UserID, chatID int64, msgID int, step domain.Step, flowID, format string, p *domain.Progress) {
	if s.cfg.EditInterval <= 0 || msgID == 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(s.cfg.EditInterval)
		defer ticker.Stop()

		last := -1
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			pct, ok := p.Percent()
			if !ok || pct == last {
				continue
			}
			last = pct

			if err := s.chat.Edit(ctx, chatID, msgID, fmt.Sprintf(format, pct)); err != nil {
				s.logger.Debug("failed to edit progress", "user_id", userID.String(), "error", err)
			}
			_, err := s.transition(ctx, userID, step, flowID, func(x *domain.Session) {
				if step == domain.StepDownloading {
					x.DownloadProgress = pct
				} else {
					x.UploadProgress = pct
				}
			})
			if err != nil && !errors.Is(err, errStale) && ctx.Err() == nil {
				s.logger.Debug("failed to record progress", "user_id", userID.String(), "error", err)
			}
		}
	}()
}

func (s *FlowService) dispatch(ev domain.Event) {
	s.emitMu.RLock()
	emit := s.emit
	s.emitMu.RUnlock()

	if emit != nil {
		emit(ev)
		return
	}
	if err := s.Handle(context.Background(), ev); err != nil {
		s.logger.Error("failed to handle completion", "user_id", ev.UserID.String(), "kind", ev.Kind, "error", err)
	}
}

// protect converts a panic in fn into an error.
func protect[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
