package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"listingbot/internal/config"
	"listingbot/internal/models"
)

func TestListingCreateAndGet(t *testing.T) {
	store, db := openTestStore(t)
	defer db.Close()
	ctx := context.Background()

	price := 450.0
	rooms := 2
	created, err := store.Create(ctx, models.ListingInput{
		OwnerID:     7,
		Coordinates: models.Coordinates{Latitude: 41.71, Longitude: 44.79},
		Price:       &price,
		Currency:    "USD",
		Rooms:       &rooms,
		Amenities:   []string{"balcony", "wifi"},
		Photos:      []string{"http://media/1.jpg", "http://media/2.jpg"},
		VideoRef:    "vid-1",
		Description: "two rooms\nnear metro",
		Provenance:  &models.Provenance{SourceChatTitle: "rentals", MessageLink: "https://t.me/rentals/5"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected generated id")
	}

	got, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Price == nil || *got.Price != price || got.Rooms == nil || *got.Rooms != rooms {
		t.Fatalf("numeric fields mismatch: %+v", got)
	}
	if got.AreaSqm != nil || got.Floor != nil {
		t.Fatalf("unset fields should stay nil: %+v", got)
	}
	if len(got.Photos) != 2 || len(got.Amenities) != 2 {
		t.Fatalf("json fields mismatch: photos=%v amenities=%v", got.Photos, got.Amenities)
	}
	if got.Provenance == nil || got.Provenance.MessageLink != "https://t.me/rentals/5" {
		t.Fatalf("provenance mismatch: %+v", got.Provenance)
	}
	if got.Favorite {
		t.Fatalf("new listing should not be favorite")
	}
}

func TestListingFindNearIsOwnerScoped(t *testing.T) {
	store, db := openTestStore(t)
	defer db.Close()
	ctx := context.Background()

	base := models.Coordinates{Latitude: 50.0, Longitude: 30.0}
	mustCreate(t, store, models.ListingInput{OwnerID: 1, Coordinates: base})
	mustCreate(t, store, models.ListingInput{OwnerID: 2, Coordinates: base})
	mustCreate(t, store, models.ListingInput{OwnerID: 1, Coordinates: models.Coordinates{Latitude: 50.01, Longitude: 30.0}})

	near, err := store.FindNear(ctx, 1, models.Coordinates{Latitude: 50.0005, Longitude: 29.9995}, 0.001)
	if err != nil {
		t.Fatalf("find near: %v", err)
	}
	if len(near) != 1 || near[0].OwnerID != 1 {
		t.Fatalf("expected exactly one nearby listing for owner 1, got %d", len(near))
	}
}

func TestListingFavoriteAndDelete(t *testing.T) {
	store, db := openTestStore(t)
	defer db.Close()
	ctx := context.Background()

	l := mustCreate(t, store, models.ListingInput{OwnerID: 3, Coordinates: models.Coordinates{Latitude: 1, Longitude: 1}})

	if err := store.SetFavorite(ctx, 4, l.ID, true); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("expected not found for foreign owner, got %v", err)
	}
	if err := store.SetFavorite(ctx, 3, l.ID, true); err != nil {
		t.Fatalf("set favorite: %v", err)
	}
	got, err := store.Get(ctx, l.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Favorite {
		t.Fatalf("favorite not persisted")
	}

	list, err := store.ListByOwner(ctx, 3, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("list by owner: %v (%d)", err, len(list))
	}

	if err := store.Delete(ctx, 3, l.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, l.ID); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := store.Delete(ctx, 3, l.ID); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("second delete should report not found, got %v", err)
	}
}

func TestRebindPostgres(t *testing.T) {
	got := rebind("postgres", "SELECT 1 WHERE a = ? AND b = ?")
	if got != "SELECT 1 WHERE a = $1 AND b = $2" {
		t.Fatalf("unexpected rebind: %s", got)
	}
	if rebind("sqlite3", "a = ?") != "a = ?" {
		t.Fatalf("sqlite query should be unchanged")
	}
}

func mustCreate(t *testing.T, store *ListingStore, in models.ListingInput) *models.Listing {
	t.Helper()
	l, err := store.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	return l
}

func openTestStore(t *testing.T) (*ListingStore, *sql.DB) {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return NewListingStore(db, "sqlite3"), db
}
