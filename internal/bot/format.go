package bot

import (
	"fmt"
	"strconv"
	"strings"

	"listingbot/internal/models"
	"listingbot/internal/readiness"
)

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func formatStatus(r readiness.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Draft: %d photo(s), video: %s, location: %s, description: %s\n",
		r.PhotoCount, yesNo(r.HasVideo), yesNo(r.HasLocation), yesNo(r.HasDescription))
	if r.Ready {
		b.WriteString("Ready to save.")
	} else {
		b.WriteString("Missing: " + strings.Join(r.Missing, ", "))
	}
	return b.String()
}

// MapURL links to the listing on a map, preferring the link the user sent.
func MapURL(l *models.Listing) string {
	if l.MapLink != "" {
		return l.MapLink
	}
	return "https://www.google.com/maps?q=" +
		strconv.FormatFloat(l.Coordinates.Latitude, 'f', 6, 64) + "," +
		strconv.FormatFloat(l.Coordinates.Longitude, 'f', 6, 64)
}

func formatSaved(l *models.Listing, failedUploads int) string {
	var b strings.Builder
	b.WriteString("Listing saved.\n")
	b.WriteString(formatListing(l))
	fmt.Fprintf(&b, "\nPhotos uploaded: %d", len(l.Photos))
	if failedUploads > 0 {
		fmt.Fprintf(&b, " (%d failed)", failedUploads)
	}
	return b.String()
}

func formatDuplicate(l *models.Listing) string {
	return "This looks like a listing you already saved on " +
		l.CreatedAt.Format("2006-01-02") + ", nothing new was stored.\n" + formatListing(l)
}

func formatListing(l *models.Listing) string {
	var parts []string
	if l.DealType != "" {
		parts = append(parts, l.DealType)
	}
	if l.Price != nil {
		p := strconv.FormatFloat(*l.Price, 'f', -1, 64)
		if l.Currency != "" {
			p += " " + l.Currency
		}
		parts = append(parts, p)
	}
	if l.Rooms != nil {
		parts = append(parts, fmt.Sprintf("%d room(s)", *l.Rooms))
	}
	if l.AreaSqm != nil {
		parts = append(parts, strconv.FormatFloat(*l.AreaSqm, 'f', -1, 64)+" m²")
	}
	if l.Floor != nil {
		parts = append(parts, fmt.Sprintf("floor %d", *l.Floor))
	}

	var b strings.Builder
	if len(parts) > 0 {
		b.WriteString(strings.Join(parts, " · "))
		b.WriteString("\n")
	}
	if l.Address != "" {
		b.WriteString(l.Address + "\n")
	}
	if len(l.Amenities) > 0 {
		b.WriteString("Amenities: " + strings.Join(l.Amenities, ", ") + "\n")
	}
	if l.Favorite {
		b.WriteString("★ favorite\n")
	}
	if l.Provenance != nil && l.Provenance.MessageLink != "" {
		b.WriteString("Source: " + l.Provenance.MessageLink + "\n")
	}
	b.WriteString("ID: " + l.ID)
	return b.String()
}
