package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/donmunna435-dev/Deep-yt/internal/domain"
)

const (
	msgHelp = `I upload videos to your YouTube channel.

1. Connect your Google account with /auth
2. Start an upload with /upload
3. Send the video as a file, a direct link or a Google Drive share link
4. Answer the questions about title, description, privacy and tags

Commands:
/upload - start a new upload
/auth - connect your Google account
/logout - disconnect your Google account
/status - show your account and upload status
/cancel - abort the current upload
/help - show this message`

	msgAdminHelp = `

Admin commands:
/stats - usage counters
/users - users with stored credentials
/revoke <user id> - remove a user's credential and session`

	msgAuthRequired      = "You need to connect your Google account first. Use /auth and try again."
	msgAuthPrompt        = "Open the link below, allow access and you will be connected automatically. If the page shows a code instead, paste it here."
	msgAuthQRCaption     = "Scan to open the Google sign-in page."
	msgAuthSuccess       = "Google account connected. Send /upload to upload a video."
	msgAuthFailedFmt     = "Authorization failed: %v\nUse /auth to try again."
	msgLoggedOut         = "Your Google account has been disconnected."
	msgAuthStale         = "Your saved Google authorization no longer works. Use /auth to reconnect."
	msgSendVideoFmt      = "Send me the video as a file, a direct video URL or a Google Drive share link (max %s)."
	msgNotAwaitingVideo  = "Start an upload first with /upload."
	msgFlowInProgress    = "An upload is already in progress. Finish it or /cancel it first."
	msgNotAVideoSource   = "That doesn't look like a video. Send a file, a direct http(s) URL or a Google Drive link."
	msgDownloading       = "Downloading..."
	msgDownloadingFmt    = "Downloading... %d%%"
	msgStillDownloading  = "Still downloading. Wait for it to finish or /cancel."
	msgDownloadedFmt     = "Downloaded %s."
	msgDownloadFailedFmt = "Download failed: %v"
	msgAskTitle          = "Send the video title."
	msgEmptyTitle        = "The title can't be empty. Send the video title."
	msgAskDescription    = "Send the description, or \"skip\"."
	msgAskPrivacy        = "Choose who can see the video."
	msgUseButtons        = "Please choose one of the buttons."
	msgAskTags           = "Send tags separated by commas, or \"skip\"."
	msgUploading         = "Uploading to YouTube..."
	msgUploadingFmt      = "Uploading to YouTube... %d%%"
	msgStillUploading    = "The upload is still running. Wait for it to finish or /cancel."
	msgUploadDoneFmt     = "Uploaded!\nTitle: %s\nPrivacy: %s\n%s"
	msgUploadFailedFmt   = "Upload failed: %v"
	msgUploadAuthLost    = "Upload failed: your Google authorization is no longer valid. Use /auth and start again with /upload."
	msgIdleHint          = "Send /upload to upload a video or /help for help."
	msgCancelled         = "Cancelled. Send /upload to start again."
	msgNothingToCancel   = "Nothing to cancel."
	msgMenuExpired       = "This menu has expired."
	msgUnknownCommand    = "Unknown command. Send /help for the list of commands."
	msgAdminOnly         = "This command is only available to administrators."
	msgRevokeUsage       = "Usage: /revoke <user id>"
	msgRevokedFmt        = "Removed credential and session of user %s."
	msgInternalError     = "Something went wrong, please try again."
)

func mainMenu() [][]Button {
	return [][]Button{
		{{Text: "Upload video", Data: domain.ButtonUpload}, {Text: "Connect Google", Data: domain.ButtonAuth}},
		{{Text: "Status", Data: domain.ButtonStatus}, {Text: "Help", Data: domain.ButtonHelp}},
	}
}

func privacyMenu() [][]Button {
	return [][]Button{
		{
			{Text: "Private", Data: domain.ButtonPrivate},
			{Text: "Unlisted", Data: domain.ButtonUnlisted},
			{Text: "Public", Data: domain.ButtonPublic},
		},
		{{Text: "Cancel", Data: domain.ButtonCancel}},
	}
}

func cancelMenu() [][]Button {
	return [][]Button{{{Text: "Cancel", Data: domain.ButtonCancel}}}
}

func authMenu(authURL string) [][]Button {
	return [][]Button{{{Text: "Sign in with Google", URL: authURL}}}
}

// formatMiB renders a byte count the way size limits are reported.
func formatMiB(n int64) string {
	return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
}

func uploadFailedText(err error) string {
	if errors.Is(err, domain.ErrNotAuthenticated) {
		return msgUploadAuthLost
	}
	return fmt.Sprintf(msgUploadFailedFmt, err)
}

func statusText(s *domain.Session, connected bool, ch *domain.ChannelInfo, pct int, known bool) string {
	var b strings.Builder
	switch {
	case !connected:
		b.WriteString("Google account: not connected\n")
	case ch != nil:
		fmt.Fprintf(&b, "Google account: connected\nChannel: %s (%d subscribers, %d videos)\n",
			ch.Title, ch.SubscriberCount, ch.VideoCount)
	default:
		b.WriteString("Google account: connected\n")
	}

	fmt.Fprintf(&b, "Current step: %s", strings.ReplaceAll(string(s.Step), "_", " "))
	if s.AuthStep == domain.AuthStepAwaitingCode {
		b.WriteString("\nWaiting for your authorization code")
	}
	if s.VideoInfo.Title != "" {
		fmt.Fprintf(&b, "\nTitle: %s", s.VideoInfo.Title)
	}
	if known {
		switch s.Step {
		case domain.StepDownloading:
			fmt.Fprintf(&b, "\nDownload: %d%%", pct)
		case domain.StepUploading:
			fmt.Fprintf(&b, "\nUpload: %d%%", pct)
		}
	}
	return b.String()
}
