package models

// FragmentKind identifies what a normalized inbound unit carries.
type FragmentKind string

const (
	FragmentText     FragmentKind = "text"
	FragmentPhoto    FragmentKind = "photo"
	FragmentVideo    FragmentKind = "video"
	FragmentLocation FragmentKind = "location"
	FragmentButton   FragmentKind = "button"
	FragmentCommand  FragmentKind = "command"
)

// Coordinates is a WGS84 point.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Location is either explicit coordinates, an external map link, or both.
type Location struct {
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	MapLink     string       `json:"map_link,omitempty"`
}

// Present reports whether the location satisfies "has location".
func (l *Location) Present() bool {
	return l != nil && (l.Coordinates != nil || l.MapLink != "")
}

// MediaRef is an opaque platform reference to a photo or video.
type MediaRef struct {
	FileID   string `json:"file_id"`
	UniqueID string `json:"unique_id,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Size     int    `json:"size,omitempty"`
}

// Provenance describes where a forwarded message originally came from.
type Provenance struct {
	SourceChatID    int64  `json:"source_chat_id,omitempty"`
	SourceChatTitle string `json:"source_chat_title,omitempty"`
	SourceUsername  string `json:"source_username,omitempty"`
	SourceUserID    int64  `json:"source_user_id,omitempty"`
	SenderName      string `json:"sender_name,omitempty"`
	MessageID       int    `json:"message_id,omitempty"`
	MessageLink     string `json:"message_link,omitempty"`
}

// Fragment is one normalized inbound unit.
type Fragment struct {
	Kind       FragmentKind
	UserID     int64
	ChatID     int64
	MessageID  int
	BurstID    string
	Text       string
	Media      *MediaRef
	Location   *Location
	Provenance *Provenance

	// Button presses.
	CallbackID string
	Payload    string

	// Commands, without the leading slash.
	Command string
	Args    string
}
