package readiness

import (
	"testing"
	"time"

	"listingbot/internal/models"
)

func draft(location, photo, video, description bool) *models.Session {
	s := models.NewSession(1, 1, time.Unix(0, 0))
	if location {
		s.Location = &models.Location{Coordinates: &models.Coordinates{Latitude: 1, Longitude: 2}}
	}
	if photo {
		s.Photos = append(s.Photos, models.MediaRef{FileID: "p"})
	}
	if video {
		s.Video = &models.MediaRef{FileID: "v"}
	}
	if description {
		s.Description = "flat"
	}
	return s
}

func TestEvaluateAllSubsets(t *testing.T) {
	for mask := 0; mask < 16; mask++ {
		loc, photo, video, desc := mask&1 != 0, mask&2 != 0, mask&4 != 0, mask&8 != 0
		s := draft(loc, photo, video, desc)
		before := s.Clone()

		r := Evaluate(s)
		want := loc && (photo || video) && desc
		if r.Ready != want {
			t.Fatalf("mask %04b: ready=%v want %v", mask, r.Ready, want)
		}
		if !want && len(r.Missing) == 0 {
			t.Fatalf("mask %04b: not ready but nothing missing", mask)
		}
		if want && len(r.Missing) != 0 {
			t.Fatalf("mask %04b: ready but missing %v", mask, r.Missing)
		}
		if Evaluate(s).Ready != r.Ready {
			t.Fatalf("mask %04b: evaluation not idempotent", mask)
		}
		if len(s.Photos) != len(before.Photos) || s.Description != before.Description {
			t.Fatalf("mask %04b: session mutated", mask)
		}
	}
}

func TestEvaluateMapLinkCountsAsLocation(t *testing.T) {
	s := draft(false, true, false, true)
	s.Location = &models.Location{MapLink: "https://maps.app.goo.gl/abc"}
	r := Evaluate(s)
	if !r.HasLocation || !r.Ready {
		t.Fatalf("map link should satisfy location: %+v", r)
	}
}

func TestEvaluateBlankDescription(t *testing.T) {
	s := draft(true, true, false, false)
	s.Description = "  \n "
	r := Evaluate(s)
	if r.HasDescription || r.Ready {
		t.Fatalf("whitespace description must not count: %+v", r)
	}
	if len(r.Missing) != 1 || r.Missing[0] != MissingDescription {
		t.Fatalf("unexpected missing list %v", r.Missing)
	}
}

func TestEvaluateNilSession(t *testing.T) {
	r := Evaluate(nil)
	if r.Ready || len(r.Missing) != 3 || r.CanForce() {
		t.Fatalf("nil session report: %+v", r)
	}
}
