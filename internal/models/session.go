package models

import "time"

// SessionState tracks whether a draft is still accumulating fragments.
type SessionState string

const (
	StateCollecting   SessionState = "collecting"
	StateSaveInFlight SessionState = "save_in_flight"
)

// Session is the mutable draft one user builds before saving a listing.
type Session struct {
	UserID        int64        `json:"user_id"`
	ChatID        int64        `json:"chat_id"`
	State         SessionState `json:"state"`
	Photos        []MediaRef   `json:"photos"`
	Video         *MediaRef    `json:"video,omitempty"`
	Location      *Location    `json:"location,omitempty"`
	Description   string       `json:"description"`
	Provenance    *Provenance  `json:"provenance,omitempty"`
	BurstID       string       `json:"burst_id,omitempty"`
	LimitNotified bool         `json:"limit_notified"`
	Attempt       int          `json:"attempt,omitempty"` // save attempts handed back to the user
	CreatedAt     time.Time    `json:"created_at"`
	LastActivity  time.Time    `json:"last_activity"`
}

// NewSession starts an empty draft for the user.
func NewSession(userID, chatID int64, now time.Time) *Session {
	return &Session{
		UserID:       userID,
		ChatID:       chatID,
		State:        StateCollecting,
		Photos:       make([]MediaRef, 0),
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Clone returns a deep copy so callers never share slices with the store.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Photos = append(make([]MediaRef, 0, len(s.Photos)), s.Photos...)
	if s.Video != nil {
		v := *s.Video
		c.Video = &v
	}
	if s.Location != nil {
		l := *s.Location
		if s.Location.Coordinates != nil {
			coords := *s.Location.Coordinates
			l.Coordinates = &coords
		}
		c.Location = &l
	}
	if s.Provenance != nil {
		p := *s.Provenance
		c.Provenance = &p
	}
	return &c
}

// HasLocation reports whether coordinates or a map link were supplied.
func (s *Session) HasLocation() bool {
	return s != nil && s.Location != nil && s.Location.Present()
}

// Apply merges one fragment into the draft.
//
// Photos append, text is joined with a newline, video and location are
// last-write-wins and provenance is captured once.
func (s *Session) Apply(f Fragment, now time.Time) {
	switch f.Kind {
	case FragmentText:
		if f.Text == "" {
			break
		}
		if s.Description == "" {
			s.Description = f.Text
		} else {
			s.Description += "\n" + f.Text
		}
	case FragmentPhoto:
		if f.Media != nil {
			s.Photos = append(s.Photos, *f.Media)
		}
	case FragmentVideo:
		if f.Media != nil {
			v := *f.Media
			s.Video = &v
		}
	case FragmentLocation:
		if f.Location != nil && f.Location.Present() {
			l := *f.Location
			s.Location = &l
		}
	}
	if s.Provenance == nil && f.Provenance != nil {
		p := *f.Provenance
		s.Provenance = &p
	}
	if f.BurstID != "" {
		s.BurstID = f.BurstID
	}
	if f.ChatID != 0 {
		s.ChatID = f.ChatID
	}
	s.LastActivity = now
}
