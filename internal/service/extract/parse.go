package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"listingbot/internal/models"
)

// ErrNoJSON is returned when a model reply contains no JSON object.
var ErrNoJSON = errors.New("no json object in reply")

type rawExtraction struct {
	Latitude  any      `json:"latitude"`
	Longitude any      `json:"longitude"`
	Price     any      `json:"price"`
	Currency  string   `json:"currency"`
	Rooms     any      `json:"rooms"`
	AreaSqm   any      `json:"area_sqm"`
	Floor     any      `json:"floor"`
	DealType  string   `json:"deal_type"`
	Address   string   `json:"address"`
	Amenities []string `json:"amenities"`
}

var currencySymbols = map[string]string{
	"$": "USD",
	"€": "EUR",
	"₾": "GEL",
	"₽": "RUB",
	"£": "GBP",
	"₴": "UAH",
}

// ParseExtraction decodes a model reply. Code fences and prose around the
// object are tolerated; numbers may arrive as strings.
func ParseExtraction(reply string) (*models.Extraction, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return nil, ErrNoJSON
	}
	var raw rawExtraction
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("decode extraction: %w", err)
	}

	ext := &models.Extraction{
		Price:     toFloat(raw.Price),
		AreaSqm:   toFloat(raw.AreaSqm),
		Rooms:     toInt(raw.Rooms),
		Floor:     toInt(raw.Floor),
		Currency:  normalizeCurrency(raw.Currency),
		DealType:  strings.ToLower(strings.TrimSpace(raw.DealType)),
		Address:   strings.TrimSpace(raw.Address),
		Amenities: cleanList(raw.Amenities),
	}
	lat, lng := toFloat(raw.Latitude), toFloat(raw.Longitude)
	if lat != nil && lng != nil && math.Abs(*lat) <= 90 && math.Abs(*lng) <= 180 && (*lat != 0 || *lng != 0) {
		ext.Coordinates = &models.Coordinates{Latitude: *lat, Longitude: *lng}
	}
	if ext.Price != nil && *ext.Price <= 0 {
		ext.Price = nil
	}
	return ext, nil
}

func toFloat(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case string:
		s := normalizeNumber(t)
		if s == "" {
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return &f
	}
	return nil
}

// normalizeNumber keeps digits, sign and one decimal separator. A comma
// followed by exactly three digits is a thousands separator.
func normalizeNumber(s string) string {
	s = strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' || r == '-' {
			return r
		}
		return -1
	}, s)
	if i := strings.LastIndex(s, ","); i >= 0 {
		if strings.Contains(s, ".") || len(s)-i-1 == 3 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.ReplaceAll(s, ",", ".")
		}
	}
	return s
}

func toInt(v any) *int {
	f := toFloat(v)
	if f == nil {
		return nil
	}
	n := int(math.Round(*f))
	return &n
}

func normalizeCurrency(c string) string {
	c = strings.TrimSpace(c)
	if code, ok := currencySymbols[c]; ok {
		return code
	}
	return strings.ToUpper(c)
}

func cleanList(in []string) []string {
	var out []string
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
