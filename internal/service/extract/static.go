package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"listingbot/internal/ingest"
	"listingbot/internal/models"
)

var (
	pricePattern = regexp.MustCompile(`(?i)(?:([$€₾£₽])\s*(\d[\d\s.,]*\d|\d))|(?:(\d[\d\s.,]*\d|\d)\s*([$€₾£₽]|usd|eur|gel|rub|gbp|uah|лари|руб))`)
	roomsPattern = regexp.MustCompile(`(?i)(\d+)\s*(?:-\s*)?(?:rooms?|bedrooms?|комн\S*|კომ\S*)`)
	areaPattern  = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(?:m2|m²|sqm|sq\.?\s?m|кв\.?\s?м|м2|м²)`)
)

// Static extracts what simple patterns can find, for deployments without an
// LLM provider. Coordinates come only from a map link hint.
type Static struct{}

func (Static) Extract(_ context.Context, text string, hint *models.Location) (*models.Extraction, error) {
	ext := &models.Extraction{}
	if hint != nil && hint.Coordinates == nil && hint.MapLink != "" {
		ext.Coordinates = ingest.ParseMapLink(hint.MapLink)
	}
	if m := pricePattern.FindStringSubmatch(text); m != nil {
		amount, symbol := m[2], m[1]
		if amount == "" {
			amount, symbol = m[3], m[4]
		}
		if p := toFloat(strings.ReplaceAll(amount, " ", "")); p != nil && *p > 0 {
			ext.Price = p
			ext.Currency = currencyFromWord(symbol)
		}
	}
	if m := roomsPattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			ext.Rooms = &n
		}
	}
	if m := areaPattern.FindStringSubmatch(text); m != nil {
		ext.AreaSqm = toFloat(m[1])
	}
	return ext, nil
}

func currencyFromWord(w string) string {
	switch strings.ToLower(w) {
	case "лари":
		return "GEL"
	case "руб":
		return "RUB"
	}
	return normalizeCurrency(w)
}
