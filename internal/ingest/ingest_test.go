package ingest

import (
	"errors"
	"testing"

	"listingbot/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func privateMessage(userID int64) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 10,
		From:      &tgbotapi.User{ID: userID, FirstName: "Ann"},
		Chat:      &tgbotapi.Chat{ID: userID, Type: "private"},
	}
}

func TestNormalizePhotoWithCaptionAndMapLink(t *testing.T) {
	msg := privateMessage(5)
	msg.MediaGroupID = "g1"
	msg.Photo = []tgbotapi.PhotoSize{
		{FileID: "small", Width: 90, Height: 60},
		{FileID: "big", FileUniqueID: "u-big", Width: 1280, Height: 853, FileSize: 200000},
		{FileID: "mid", Width: 320, Height: 213},
	}
	msg.Caption = "2 rooms, 500$ https://www.google.com/maps/place/Rustaveli/@41.7008,44.7936,17z near metro"

	frags, err := Normalize(tgbotapi.Update{Message: msg})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(frags) != 3 {
		t.Fatalf("expected photo, location and text fragments, got %d", len(frags))
	}
	photo, loc, text := frags[0], frags[1], frags[2]
	if photo.Kind != models.FragmentPhoto || photo.Media.FileID != "big" || photo.BurstID != "g1" {
		t.Fatalf("unexpected photo fragment %+v", photo)
	}
	if loc.Kind != models.FragmentLocation || loc.Location.Coordinates == nil {
		t.Fatalf("expected parsed map link, got %+v", loc.Location)
	}
	if c := loc.Location.Coordinates; c.Latitude != 41.7008 || c.Longitude != 44.7936 {
		t.Fatalf("coordinates mismatch %+v", c)
	}
	if text.Kind != models.FragmentText || text.Text != "2 rooms, 500$  near metro" {
		t.Fatalf("unexpected text %q", text.Text)
	}
	for _, f := range frags {
		if f.UserID != 5 || f.ChatID != 5 || f.BurstID != "g1" {
			t.Fatalf("base fields not propagated: %+v", f)
		}
	}
}

func TestNormalizeLocationAndVideo(t *testing.T) {
	msg := privateMessage(6)
	msg.Location = &tgbotapi.Location{Latitude: 50.45, Longitude: 30.52}
	frags, err := Normalize(tgbotapi.Update{Message: msg})
	if err != nil || len(frags) != 1 || frags[0].Kind != models.FragmentLocation {
		t.Fatalf("location: %+v %v", frags, err)
	}
	if c := frags[0].Location.Coordinates; c.Latitude != 50.45 || c.Longitude != 30.52 {
		t.Fatalf("coordinates swapped: %+v", c)
	}

	msg = privateMessage(6)
	msg.Video = &tgbotapi.Video{FileID: "vid", FileUniqueID: "uv", Width: 720, Height: 1280}
	frags, err = Normalize(tgbotapi.Update{Message: msg})
	if err != nil || len(frags) != 1 || frags[0].Kind != models.FragmentVideo || frags[0].Media.FileID != "vid" {
		t.Fatalf("video: %+v %v", frags, err)
	}
}

func TestNormalizeCommand(t *testing.T) {
	msg := privateMessage(7)
	msg.Text = "/Save@listing_bot force"
	msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 17}}
	frags, err := Normalize(tgbotapi.Update{Message: msg})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(frags) != 1 || frags[0].Kind != models.FragmentCommand || frags[0].Command != "save" || frags[0].Args != "force" {
		t.Fatalf("unexpected command fragment %+v", frags)
	}
}

func TestNormalizeCallback(t *testing.T) {
	u := tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		From:    &tgbotapi.User{ID: 8},
		Data:    "save",
		Message: &tgbotapi.Message{MessageID: 99, Chat: &tgbotapi.Chat{ID: 8}},
	}}
	frags, err := Normalize(u)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	f := frags[0]
	if f.Kind != models.FragmentButton || f.CallbackID != "cb-1" || f.Payload != "save" || f.MessageID != 99 || f.ChatID != 8 {
		t.Fatalf("unexpected button fragment %+v", f)
	}
}

func TestNormalizeForwardedFromChannel(t *testing.T) {
	msg := privateMessage(9)
	msg.Text = "cozy studio"
	msg.ForwardFromChat = &tgbotapi.Chat{ID: -100123, Type: "channel", Title: "Rentals", UserName: "rentals_tbs"}
	msg.ForwardFromMessageID = 345
	frags, err := Normalize(tgbotapi.Update{Message: msg})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	p := frags[0].Provenance
	if p == nil || p.SourceChatTitle != "Rentals" || p.MessageLink != "https://t.me/rentals_tbs/345" {
		t.Fatalf("unexpected provenance %+v", p)
	}

	msg = privateMessage(9)
	msg.Text = "from a hidden user"
	msg.ForwardSenderName = "Bob"
	frags, _ = Normalize(tgbotapi.Update{Message: msg})
	if p := frags[0].Provenance; p == nil || p.SenderName != "Bob" || p.MessageLink != "" {
		t.Fatalf("unexpected hidden sender provenance %+v", p)
	}
}

func TestNormalizeRejectsEmptyUpdates(t *testing.T) {
	if _, err := Normalize(tgbotapi.Update{}); !errors.Is(err, ErrEmptyUpdate) {
		t.Fatalf("expected ErrEmptyUpdate, got %v", err)
	}
	if _, err := Normalize(tgbotapi.Update{Message: privateMessage(1)}); !errors.Is(err, ErrEmptyUpdate) {
		t.Fatalf("expected ErrEmptyUpdate for blank message, got %v", err)
	}
	if _, err := Normalize(tgbotapi.Update{Message: &tgbotapi.Message{Text: "hi"}}); !errors.Is(err, ErrNoSender) {
		t.Fatalf("expected ErrNoSender, got %v", err)
	}
}

func TestParseMapLink(t *testing.T) {
	cases := []struct {
		link     string
		lat, lng float64
		ok       bool
	}{
		{"https://maps.google.com/?q=41.7,44.8", 41.7, 44.8, true},
		{"https://www.google.com/maps/place/X/data=!3d41.71!4d44.79", 41.71, 44.79, true},
		{"https://yandex.ru/maps/?ll=44.8,41.7&z=16", 41.7, 44.8, true},
		{"https://www.openstreetmap.org/?mlat=41.7&mlon=44.8#map=17/41.7/44.8", 41.7, 44.8, true},
		{"https://www.openstreetmap.org/#map=17/41.69/44.81", 41.69, 44.81, true},
		{"https://maps.apple.com/?ll=41.7,44.8", 41.7, 44.8, true},
		{"https://2gis.ge/tbilisi?m=44.8,41.7/16", 41.7, 44.8, true},
		{"https://maps.app.goo.gl/AbCdEf", 0, 0, false},
		{"https://maps.google.com/?q=991,44.8", 0, 0, false},
		{"https://maps.apple.com/?ll=NaN,NaN", 0, 0, false},
		{"https://maps.google.com/?q=41.7,NaN", 0, 0, false},
		{"https://www.openstreetmap.org/?mlat=Inf&mlon=44.8", 0, 0, false},
		{"https://yandex.ru/maps/?ll=-Inf,41.7", 0, 0, false},
	}
	for _, tc := range cases {
		c := ParseMapLink(tc.link)
		if (c != nil) != tc.ok {
			t.Fatalf("%s: parsed=%v want ok=%v", tc.link, c, tc.ok)
		}
		if c != nil && (c.Latitude != tc.lat || c.Longitude != tc.lng) {
			t.Fatalf("%s: got %+v", tc.link, c)
		}
	}
}

func TestFindMapLinkIgnoresOtherURLs(t *testing.T) {
	if _, _, ok := FindMapLink("see https://example.com/flat for details"); ok {
		t.Fatalf("non-map url treated as map link")
	}
	link, rest, ok := FindMapLink("here: https://maps.app.goo.gl/xyz.")
	if !ok || link != "https://maps.app.goo.gl/xyz" || rest != "here: ." {
		t.Fatalf("unexpected result link=%q rest=%q ok=%v", link, rest, ok)
	}
}
