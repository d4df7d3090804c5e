// Package dedup flags a new listing that repeats one the owner already saved.
package dedup

import (
	"context"
	"fmt"
	"math"

	"listingbot/internal/models"
)

// DefaultEpsilon is the coordinate tolerance in degrees, roughly 100m.
const DefaultEpsilon = 0.001

// Finder returns the owner's listings inside a +/- epsilon coordinate box.
type Finder interface {
	FindNear(ctx context.Context, ownerID int64, c models.Coordinates, epsilon float64) ([]*models.Listing, error)
}

// Detector runs the duplicate policy against a listing store.
type Detector struct {
	finder  Finder
	epsilon float64
}

// NewDetector builds a detector; epsilon <= 0 selects DefaultEpsilon.
func NewDetector(finder Finder, epsilon float64) *Detector {
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	return &Detector{finder: finder, epsilon: epsilon}
}

// FindDuplicate returns the first existing listing that matches, or nil.
func (d *Detector) FindDuplicate(ctx context.Context, ownerID int64, c models.Coordinates, price *float64) (*models.Listing, error) {
	candidates, err := d.finder.FindNear(ctx, ownerID, c, d.epsilon)
	if err != nil {
		return nil, fmt.Errorf("find nearby listings: %w", err)
	}
	for _, cand := range candidates {
		if Match(cand, ownerID, c, price, d.epsilon) {
			return cand, nil
		}
	}
	return nil, nil
}

// Match applies the duplicate policy to one candidate. Coordinates must be
// within epsilon on both axes; when both prices are known they must be equal.
func Match(cand *models.Listing, ownerID int64, c models.Coordinates, price *float64, epsilon float64) bool {
	if cand == nil || cand.OwnerID != ownerID {
		return false
	}
	if math.Abs(cand.Coordinates.Latitude-c.Latitude) > epsilon ||
		math.Abs(cand.Coordinates.Longitude-c.Longitude) > epsilon {
		return false
	}
	if price == nil || cand.Price == nil {
		return true
	}
	return *cand.Price == *price
}
