package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"listingbot/internal/models"

	"github.com/google/uuid"
)

// ErrListingNotFound is returned when no listing matches the id/owner pair.
var ErrListingNotFound = errors.New("listing not found")

const listingColumns = `id, owner_id, latitude, longitude, map_link, price, currency, rooms, area_sqm, floor,
	deal_type, address, amenities, photos, video_ref, description, provenance, favorite, created_at`

// ListingStore persists committed listings.
type ListingStore struct {
	db     *sql.DB
	driver string
}

// NewListingStore builds a store for the given driver name.
func NewListingStore(db *sql.DB, driver string) *ListingStore {
	return &ListingStore{db: db, driver: normalizeDriver(driver)}
}

func (s *ListingStore) q(query string) string {
	return rebind(s.driver, query)
}

// Create inserts a listing and returns the stored record.
func (s *ListingStore) Create(ctx context.Context, in models.ListingInput) (*models.Listing, error) {
	if in.OwnerID == 0 {
		return nil, errors.New("owner_id is required")
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	amenities, err := json.Marshal(nonNilStrings(in.Amenities))
	if err != nil {
		return nil, fmt.Errorf("encode amenities: %w", err)
	}
	photos, err := json.Marshal(nonNilStrings(in.Photos))
	if err != nil {
		return nil, fmt.Errorf("encode photos: %w", err)
	}
	var provenance sql.NullString
	if in.Provenance != nil {
		raw, err := json.Marshal(in.Provenance)
		if err != nil {
			return nil, fmt.Errorf("encode provenance: %w", err)
		}
		provenance = sql.NullString{String: string(raw), Valid: true}
	}
	now := time.Now().UTC().Truncate(time.Second)
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO listings (`+listingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		in.ID, in.OwnerID, in.Coordinates.Latitude, in.Coordinates.Longitude, in.MapLink,
		nullFloat(in.Price), in.Currency, nullInt(in.Rooms), nullFloat(in.AreaSqm), nullInt(in.Floor),
		in.DealType, in.Address, string(amenities), string(photos), in.VideoRef, in.Description,
		provenance, false, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert listing: %w", err)
	}
	return &models.Listing{
		ID:          in.ID,
		OwnerID:     in.OwnerID,
		Coordinates: in.Coordinates,
		MapLink:     in.MapLink,
		Price:       in.Price,
		Currency:    in.Currency,
		Rooms:       in.Rooms,
		AreaSqm:     in.AreaSqm,
		Floor:       in.Floor,
		DealType:    in.DealType,
		Address:     in.Address,
		Amenities:   nonNilStrings(in.Amenities),
		Photos:      nonNilStrings(in.Photos),
		VideoRef:    in.VideoRef,
		Description: in.Description,
		Provenance:  in.Provenance,
		CreatedAt:   now,
	}, nil
}

// Get returns one listing by id.
func (s *ListingStore) Get(ctx context.Context, id string) (*models.Listing, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+listingColumns+` FROM listings WHERE id = ?`), id)
	l, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrListingNotFound
	}
	return l, err
}

// FindNear returns the owner's listings inside a coordinate box of +/- epsilon
// degrees, newest first.
func (s *ListingStore) FindNear(ctx context.Context, ownerID int64, c models.Coordinates, epsilon float64) ([]*models.Listing, error) {
	eps := math.Abs(epsilon)
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+listingColumns+` FROM listings
		WHERE owner_id = ? AND latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?
		ORDER BY created_at DESC`),
		ownerID, c.Latitude-eps, c.Latitude+eps, c.Longitude-eps, c.Longitude+eps,
	)
	if err != nil {
		return nil, fmt.Errorf("find near listings: %w", err)
	}
	defer rows.Close()
	return collectListings(rows)
}

// ListByOwner returns the owner's most recent listings.
func (s *ListingStore) ListByOwner(ctx context.Context, ownerID int64, limit int) ([]*models.Listing, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+listingColumns+` FROM listings
		WHERE owner_id = ? ORDER BY created_at DESC LIMIT ?`), ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	defer rows.Close()
	return collectListings(rows)
}

// SetFavorite flags or unflags a listing owned by ownerID.
func (s *ListingStore) SetFavorite(ctx context.Context, ownerID int64, id string, favorite bool) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE listings SET favorite = ? WHERE id = ? AND owner_id = ?`), favorite, id, ownerID)
	if err != nil {
		return fmt.Errorf("update favorite: %w", err)
	}
	return expectAffected(res)
}

// Delete removes a listing owned by ownerID.
func (s *ListingStore) Delete(ctx context.Context, ownerID int64, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM listings WHERE id = ? AND owner_id = ?`), id, ownerID)
	if err != nil {
		return fmt.Errorf("delete listing: %w", err)
	}
	return expectAffected(res)
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrListingNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*models.Listing, error) {
	var (
		l          models.Listing
		price      sql.NullFloat64
		area       sql.NullFloat64
		rooms      sql.NullInt64
		floor      sql.NullInt64
		amenities  string
		photos     string
		provenance sql.NullString
	)
	err := row.Scan(&l.ID, &l.OwnerID, &l.Coordinates.Latitude, &l.Coordinates.Longitude, &l.MapLink,
		&price, &l.Currency, &rooms, &area, &floor, &l.DealType, &l.Address, &amenities, &photos,
		&l.VideoRef, &l.Description, &provenance, &l.Favorite, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	if price.Valid {
		l.Price = &price.Float64
	}
	if area.Valid {
		l.AreaSqm = &area.Float64
	}
	if rooms.Valid {
		v := int(rooms.Int64)
		l.Rooms = &v
	}
	if floor.Valid {
		v := int(floor.Int64)
		l.Floor = &v
	}
	if err := json.Unmarshal([]byte(amenities), &l.Amenities); err != nil {
		return nil, fmt.Errorf("decode amenities: %w", err)
	}
	if err := json.Unmarshal([]byte(photos), &l.Photos); err != nil {
		return nil, fmt.Errorf("decode photos: %w", err)
	}
	if provenance.Valid && provenance.String != "" {
		var p models.Provenance
		if err := json.Unmarshal([]byte(provenance.String), &p); err != nil {
			return nil, fmt.Errorf("decode provenance: %w", err)
		}
		l.Provenance = &p
	}
	return &l, nil
}

func collectListings(rows *sql.Rows) ([]*models.Listing, error) {
	var out []*models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
