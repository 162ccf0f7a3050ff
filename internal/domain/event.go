package domain

// EventKind classifies an inbound event.
type EventKind string

const (
	EventCommand  EventKind = "command"
	EventText     EventKind = "text"
	EventMedia    EventKind = "media"
	EventButton   EventKind = "button"
	EventAcquired EventKind = "acquired" // internal: acquisition finished
	EventUploaded EventKind = "uploaded" // internal: upload finished
)

// Button payloads carried by inline keyboards.
const (
	ButtonUpload   = "upload"
	ButtonAuth     = "auth"
	ButtonStatus   = "status"
	ButtonCancel   = "cancel"
	ButtonHelp     = "help"
	ButtonPrivate  = "privacy:private"
	ButtonUnlisted = "privacy:unlisted"
	ButtonPublic   = "privacy:public"
)

// Media describes a file attached to a chat message.
type Media struct {
	FileID   string
	FileName string
	MimeType string
	Size     int64
}

// Event is a single unit of input for a user's session. Chat updates and
// background task completions share this type so that both are serialised
// through the same per-user queue.
type Event struct {
	UserID    UserID
	ChatID    int64
	Kind      EventKind
	MessageID int

	Command string
	Args    string
	Text    string
	Media   *Media

	Button     string
	CallbackID string

	// Completion fields.
	FlowID      string
	Acquisition *Acquisition
	Result      *UploadResult
	Err         error
}

// Internal reports whether the event was produced by a background task.
func (e Event) Internal() bool {
	return e.Kind == EventAcquired || e.Kind == EventUploaded
}
