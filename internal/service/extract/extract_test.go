package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"listingbot/internal/models"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

type fakeChatModel struct {
	reply string
	err   error
	seen  []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.seen = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

func (f *fakeChatModel) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return f, nil
}

func TestServiceExtractParsesModelReply(t *testing.T) {
	fake := &fakeChatModel{reply: "```json\n" + `{"latitude": 41.71, "longitude": 44.79, "price": "1,200", "currency": "$",
		"rooms": 2, "area_sqm": "55.5", "floor": null, "deal_type": "Rent", "address": " Rustaveli 5 ",
		"amenities": ["wifi", "WiFi", "balcony", ""]}` + "\n```"}
	svc, err := New(context.Background(), fake, Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	hint := &models.Location{MapLink: "https://maps.app.goo.gl/x"}
	ext, err := svc.Extract(context.Background(), "2 rooms near Rustaveli", hint)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if ext.Coordinates == nil || ext.Coordinates.Latitude != 41.71 {
		t.Fatalf("coordinates missing: %+v", ext.Coordinates)
	}
	if ext.Price == nil || *ext.Price != 1200 || ext.Currency != "USD" {
		t.Fatalf("price mismatch: %v %s", ext.Price, ext.Currency)
	}
	if ext.Rooms == nil || *ext.Rooms != 2 || ext.AreaSqm == nil || *ext.AreaSqm != 55.5 || ext.Floor != nil {
		t.Fatalf("numeric fields mismatch: %+v", ext)
	}
	if ext.DealType != "rent" || ext.Address != "Rustaveli 5" || len(ext.Amenities) != 2 {
		t.Fatalf("text fields mismatch: %+v", ext)
	}
	if len(fake.seen) != 2 || fake.seen[0].Role != schema.System || !strings.Contains(fake.seen[1].Content, hint.MapLink) {
		t.Fatalf("unexpected prompt messages: %+v", fake.seen)
	}
}

func TestServiceExtractErrors(t *testing.T) {
	boom := errors.New("quota")
	svc, _ := New(context.Background(), &fakeChatModel{err: boom}, Options{})
	if _, err := svc.Extract(context.Background(), "text", nil); !errors.Is(err, boom) {
		t.Fatalf("expected model error, got %v", err)
	}
	svc, _ = New(context.Background(), &fakeChatModel{reply: "sorry, I cannot help"}, Options{})
	if _, err := svc.Extract(context.Background(), "text", nil); !errors.Is(err, ErrNoJSON) {
		t.Fatalf("expected ErrNoJSON, got %v", err)
	}
	if _, err := New(context.Background(), nil, Options{}); err == nil {
		t.Fatalf("expected error for nil model")
	}
}

func TestParseExtractionRejectsBadCoordinates(t *testing.T) {
	ext, err := ParseExtraction(`{"latitude": 0, "longitude": 0, "price": -5}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ext.Coordinates != nil || ext.Price != nil {
		t.Fatalf("null island and negative price must be dropped: %+v", ext)
	}
	ext, _ = ParseExtraction(`{"latitude": 141.0, "longitude": 10}`)
	if ext.Coordinates != nil {
		t.Fatalf("out of range latitude accepted")
	}
	ext, _ = ParseExtraction(`{"latitude": "41,5", "longitude": "44.8"}`)
	if ext.Coordinates == nil || ext.Coordinates.Latitude != 41.5 {
		t.Fatalf("decimal comma not handled: %+v", ext.Coordinates)
	}
}

func TestStaticExtractor(t *testing.T) {
	hint := &models.Location{MapLink: "https://maps.google.com/?q=41.7,44.8"}
	ext, err := Static{}.Extract(context.Background(), "Cozy 2-room flat, 48 m², 1 500 $ per month", hint)
	if err != nil {
		t.Fatalf("static: %v", err)
	}
	if ext.Coordinates == nil || ext.Coordinates.Longitude != 44.8 {
		t.Fatalf("map link coordinates missing: %+v", ext.Coordinates)
	}
	if ext.Price == nil || *ext.Price != 1500 || ext.Currency != "USD" {
		t.Fatalf("price mismatch: %v %q", ext.Price, ext.Currency)
	}
	if ext.Rooms == nil || *ext.Rooms != 2 || ext.AreaSqm == nil || *ext.AreaSqm != 48 {
		t.Fatalf("rooms/area mismatch: %+v", ext)
	}

	ext, _ = Static{}.Extract(context.Background(), "no numbers here", nil)
	if ext.Price != nil || ext.Coordinates != nil {
		t.Fatalf("unexpected fields: %+v", ext)
	}
}

func TestRateLimiter(t *testing.T) {
	l := newRateLimiter(2, 60_000_000_000)
	if !l.Allow("k") || !l.Allow("k") || l.Allow("k") {
		t.Fatalf("limiter should allow exactly two calls")
	}
	if !l.Allow("other") {
		t.Fatalf("keys must be independent")
	}
}
