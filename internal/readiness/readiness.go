// Package readiness decides whether a draft is complete enough to save.
package readiness

import (
	"strings"

	"listingbot/internal/models"
)

// Names used in Report.Missing.
const (
	MissingLocation    = "location"
	MissingMedia       = "photo or video"
	MissingDescription = "description"
)

// Report summarizes a draft for the status message.
type Report struct {
	HasLocation    bool
	HasVisualMedia bool
	HasDescription bool
	Ready          bool
	Missing        []string

	PhotoCount int
	HasVideo   bool
}

// Evaluate inspects the session without modifying it. A nil session is
// reported as missing everything.
func Evaluate(s *models.Session) Report {
	var r Report
	if s != nil {
		r.HasLocation = s.HasLocation()
		r.PhotoCount = len(s.Photos)
		r.HasVideo = s.Video != nil
		r.HasDescription = strings.TrimSpace(s.Description) != ""
	}
	r.HasVisualMedia = r.PhotoCount > 0 || r.HasVideo

	if !r.HasLocation {
		r.Missing = append(r.Missing, MissingLocation)
	}
	if !r.HasVisualMedia {
		r.Missing = append(r.Missing, MissingMedia)
	}
	if !r.HasDescription {
		r.Missing = append(r.Missing, MissingDescription)
	}
	r.Ready = len(r.Missing) == 0
	return r
}

// CanForce reports whether a partial draft may still be saved on explicit
// request: it needs something to locate the listing by.
func (r Report) CanForce() bool {
	return r.HasLocation || r.HasDescription
}
