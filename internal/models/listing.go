package models

import "time"

// Extraction holds the structured fields pulled out of a free-text description.
type Extraction struct {
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	Price       *float64     `json:"price,omitempty"`
	Currency    string       `json:"currency,omitempty"`
	Rooms       *int         `json:"rooms,omitempty"`
	AreaSqm     *float64     `json:"area_sqm,omitempty"`
	Floor       *int         `json:"floor,omitempty"`
	DealType    string       `json:"deal_type,omitempty"`
	Address     string       `json:"address,omitempty"`
	Amenities   []string     `json:"amenities,omitempty"`
}

// ListingInput is everything needed to create a listing.
type ListingInput struct {
	ID          string
	OwnerID     int64
	Coordinates Coordinates
	MapLink     string
	Price       *float64
	Currency    string
	Rooms       *int
	AreaSqm     *float64
	Floor       *int
	DealType    string
	Address     string
	Amenities   []string
	Photos      []string
	VideoRef    string
	Description string
	Provenance  *Provenance
}

// Listing is the committed artifact.
type Listing struct {
	ID          string      `json:"id"`
	OwnerID     int64       `json:"owner_id"`
	Coordinates Coordinates `json:"coordinates"`
	MapLink     string      `json:"map_link,omitempty"`
	Price       *float64    `json:"price,omitempty"`
	Currency    string      `json:"currency,omitempty"`
	Rooms       *int        `json:"rooms,omitempty"`
	AreaSqm     *float64    `json:"area_sqm,omitempty"`
	Floor       *int        `json:"floor,omitempty"`
	DealType    string      `json:"deal_type,omitempty"`
	Address     string      `json:"address,omitempty"`
	Amenities   []string    `json:"amenities,omitempty"`
	Photos      []string    `json:"photos"`
	VideoRef    string      `json:"video_ref,omitempty"`
	Description string      `json:"description"`
	Provenance  *Provenance `json:"provenance,omitempty"`
	Favorite    bool        `json:"favorite"`
	CreatedAt   time.Time   `json:"created_at"`
}
