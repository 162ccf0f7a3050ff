package handler

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/donmunna435-dev/Deep-yt/internal/domain"
)

// OAuthCompleter finishes an authorization started from chat.
type OAuthCompleter interface {
	CompleteOAuth(ctx context.Context, state, code string) (domain.UserID, error)
}

// OAuthHandler serves the Google OAuth redirect.
type OAuthHandler struct {
	completer   OAuthCompleter
	botUsername string
	logger      *slog.Logger
}

// NewOAuthHandler creates a new OAuth callback handler. botUsername is used
// to link back to the chat and may be empty.
func NewOAuthHandler(completer OAuthCompleter, botUsername string, logger *slog.Logger) *OAuthHandler {
	return &OAuthHandler{
		completer:   completer,
		botUsername: botUsername,
		logger:      logger,
	}
}

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title>
<meta name="viewport" content="width=device-width, initial-scale=1"></head>
<body style="font-family: sans-serif; max-width: 32em; margin: 3em auto;">
<h3>{{.Title}}</h3>
<p>{{.Message}}</p>
{{if .Code}}<p><code style="word-break: break-all; user-select: all;">{{.Code}}</code></p>{{end}}
{{if .BotURL}}<p><a href="{{.BotURL}}">Return to Telegram</a></p>{{end}}
</body></html>
`))

type callbackView struct {
	Title   string
	Message string
	Code    string
	BotURL  string
}

// Callback handles GET /oauth/callback.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if reason := q.Get("error"); reason != "" {
		h.logger.Info("oauth consent declined", "reason", reason)
		h.render(w, http.StatusBadRequest, callbackView{
			Title:   "Authorization cancelled",
			Message: "Google did not grant access (" + reason + "). Send /auth in the chat to try again.",
		})
		return
	}

	code := q.Get("code")
	if code == "" {
		h.render(w, http.StatusBadRequest, callbackView{
			Title:   "Missing code",
			Message: "The authorization response did not include a code. Send /auth in the chat to try again.",
		})
		return
	}

	userID, err := h.completer.CompleteOAuth(r.Context(), q.Get("state"), code)
	switch {
	case err == nil:
		h.logger.Info("oauth completed from callback", "user_id", userID.String())
		h.render(w, http.StatusOK, callbackView{
			Title:   "Connected!",
			Message: "Your YouTube account is connected. You can close this window and return to the chat.",
		})

	case errors.Is(err, domain.ErrUnknownState):
		// The state expired or was issued by another process; the user can
		// still paste the code after /auth.
		h.render(w, http.StatusOK, callbackView{
			Title:   "Almost there",
			Message: "Send /auth in the chat, then paste this code:",
			Code:    code,
		})

	default:
		h.logger.Warn("oauth code exchange failed", "user_id", userID.String(), "error", err)
		h.render(w, http.StatusBadGateway, callbackView{
			Title:   "Authorization failed",
			Message: "The code could not be exchanged with Google. Send /auth in the chat to try again.",
		})
	}
}

func (h *OAuthHandler) render(w http.ResponseWriter, status int, view callbackView) {
	if h.botUsername != "" {
		view.BotURL = "https://t.me/" + h.botUsername
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := callbackPage.Execute(w, view); err != nil {
		h.logger.Warn("failed to render callback page", "error", err)
	}
}
