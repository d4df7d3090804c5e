package models

import (
	"strings"
	"testing"
	"time"
)

func TestApplyJoinsTextInArrivalOrder(t *testing.T) {
	now := time.Now()
	s := NewSession(1, 1, now)
	parts := []string{"2 rooms", "near the park", "500 usd"}
	for _, p := range parts {
		s.Apply(Fragment{Kind: FragmentText, Text: p}, now)
	}
	if want := strings.Join(parts, "\n"); s.Description != want {
		t.Fatalf("description mismatch: want %q got %q", want, s.Description)
	}
}

func TestApplyLastLocationAndVideoWin(t *testing.T) {
	now := time.Now()
	s := NewSession(1, 1, now)
	s.Apply(Fragment{Kind: FragmentLocation, Location: &Location{Coordinates: &Coordinates{Latitude: 1, Longitude: 2}}}, now)
	s.Apply(Fragment{Kind: FragmentLocation, Location: &Location{MapLink: "https://maps.example/x"}}, now)
	if s.Location.Coordinates != nil || s.Location.MapLink == "" {
		t.Fatalf("expected second location to win, got %+v", s.Location)
	}
	s.Apply(Fragment{Kind: FragmentVideo, Media: &MediaRef{FileID: "v1"}}, now)
	s.Apply(Fragment{Kind: FragmentVideo, Media: &MediaRef{FileID: "v2"}}, now)
	if s.Video.FileID != "v2" {
		t.Fatalf("expected last video, got %s", s.Video.FileID)
	}
}

func TestApplyKeepsFirstProvenanceAndAppendsPhotos(t *testing.T) {
	now := time.Now()
	s := NewSession(1, 1, now)
	s.Apply(Fragment{Kind: FragmentPhoto, Media: &MediaRef{FileID: "p1"}, Provenance: &Provenance{SourceChatTitle: "first"}}, now)
	s.Apply(Fragment{Kind: FragmentPhoto, Media: &MediaRef{FileID: "p1"}, Provenance: &Provenance{SourceChatTitle: "second"}}, now)
	if s.Provenance.SourceChatTitle != "first" {
		t.Fatalf("provenance overwritten: %+v", s.Provenance)
	}
	if len(s.Photos) != 2 {
		t.Fatalf("photos should not be deduplicated, got %d", len(s.Photos))
	}
}

func TestCloneDoesNotShareState(t *testing.T) {
	now := time.Now()
	s := NewSession(1, 1, now)
	s.Apply(Fragment{Kind: FragmentPhoto, Media: &MediaRef{FileID: "p1"}}, now)
	s.Apply(Fragment{Kind: FragmentLocation, Location: &Location{Coordinates: &Coordinates{Latitude: 1}}}, now)
	c := s.Clone()
	c.Photos[0].FileID = "changed"
	c.Location.Coordinates.Latitude = 9
	if s.Photos[0].FileID != "p1" || s.Location.Coordinates.Latitude != 1 {
		t.Fatalf("clone shares memory with original")
	}
}
