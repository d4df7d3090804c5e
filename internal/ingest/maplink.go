package ingest

import (
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"listingbot/internal/models"
)

var (
	urlPattern    = regexp.MustCompile(`https?://[^\s<>"]+`)
	atPattern     = regexp.MustCompile(`@(-?\d{1,2}(?:\.\d+)?),(-?\d{1,3}(?:\.\d+)?)`)
	bangPattern   = regexp.MustCompile(`!3d(-?\d{1,2}(?:\.\d+)?)!4d(-?\d{1,3}(?:\.\d+)?)`)
	osmMapPattern = regexp.MustCompile(`map=\d+/(-?\d{1,2}(?:\.\d+)?)/(-?\d{1,3}(?:\.\d+)?)`)
)

type mapProvider int

const (
	providerNone mapProvider = iota
	providerGoogle
	providerYandex
	providerOSM
	providerApple
	provider2GIS
)

func classify(u *url.URL) mapProvider {
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
	path := strings.ToLower(u.Path)
	switch {
	case host == "maps.app.goo.gl",
		host == "goo.gl" && strings.HasPrefix(path, "/maps"),
		strings.HasPrefix(host, "maps.google."),
		strings.HasPrefix(host, "google.") && strings.HasPrefix(path, "/maps"):
		return providerGoogle
	case strings.HasPrefix(host, "yandex.") && strings.Contains(path, "/maps"),
		strings.HasPrefix(host, "maps.yandex."):
		return providerYandex
	case host == "openstreetmap.org" || host == "osm.org":
		return providerOSM
	case host == "maps.apple.com":
		return providerApple
	case strings.HasPrefix(host, "2gis."), host == "go.2gis.com":
		return provider2GIS
	}
	return providerNone
}

// FindMapLink returns the first map link in text and the text with that
// link removed. ok is false when text has no map link.
func FindMapLink(text string) (link, rest string, ok bool) {
	for _, loc := range urlPattern.FindAllStringIndex(text, -1) {
		raw := strings.TrimRight(text[loc[0]:loc[1]], ".,;)!?")
		u, err := url.Parse(raw)
		if err != nil || classify(u) == providerNone {
			continue
		}
		rest = text[:loc[0]] + text[loc[0]+len(raw):]
		return raw, strings.TrimSpace(rest), true
	}
	return "", text, false
}

// ParseMapLink extracts coordinates embedded in a map link. Short links
// carry none and return nil.
func ParseMapLink(raw string) *models.Coordinates {
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	q := u.Query()
	switch classify(u) {
	case providerGoogle:
		if c := matchPair(bangPattern, raw, false); c != nil {
			return c
		}
		if c := matchPair(atPattern, u.Path, false); c != nil {
			return c
		}
		for _, key := range []string{"q", "query", "ll", "center", "destination"} {
			if c := parsePair(q.Get(key), false); c != nil {
				return c
			}
		}
	case providerYandex:
		for _, key := range []string{"pt", "ll", "whatshere[point]"} {
			if c := parsePair(q.Get(key), true); c != nil {
				return c
			}
		}
	case providerOSM:
		lat, errLat := strconv.ParseFloat(q.Get("mlat"), 64)
		lng, errLng := strconv.ParseFloat(q.Get("mlon"), 64)
		if errLat == nil && errLng == nil {
			return valid(lat, lng)
		}
		if c := matchPair(osmMapPattern, u.Fragment, false); c != nil {
			return c
		}
	case providerApple:
		for _, key := range []string{"ll", "q", "coordinate", "sll"} {
			if c := parsePair(q.Get(key), false); c != nil {
				return c
			}
		}
	case provider2GIS:
		// 2gis puts "lng,lat" in the m parameter, followed by a zoom
		m := q.Get("m")
		if i := strings.Index(m, "/"); i >= 0 {
			m = m[:i]
		}
		return parsePair(m, true)
	}
	return nil
}

func matchPair(re *regexp.Regexp, s string, lngFirst bool) *models.Coordinates {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	return parsePair(m[1]+","+m[2], lngFirst)
}

func parsePair(s string, lngFirst bool) *models.Coordinates {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return nil
	}
	a, errA := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	b, errB := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if errA != nil || errB != nil {
		return nil
	}
	if lngFirst {
		a, b = b, a
	}
	return valid(a, b)
}

// valid rejects NaN and infinities as well as out of range values.
func valid(lat, lng float64) *models.Coordinates {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return nil
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil
	}
	return &models.Coordinates{Latitude: lat, Longitude: lng}
}
