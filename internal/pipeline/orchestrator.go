// Package pipeline drives drafts from inbound fragments to saved listings.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"listingbot/internal/clock"
	"listingbot/internal/debounce"
	"listingbot/internal/ingest"
	"listingbot/internal/models"
	"listingbot/internal/readiness"
	"listingbot/internal/session"
	"listingbot/internal/telemetry"

	"github.com/google/uuid"
)

// Stage is a step of the save state machine.
type Stage string

const (
	StageIdle                Stage = "idle"
	StageTriggered           Stage = "triggered"
	StageExtracting          Stage = "extracting"
	StageCoordinatesResolved Stage = "coordinates_resolved"
	StageDuplicateChecked    Stage = "duplicate_checked"
	StageMediaUploaded       Stage = "media_uploaded"
	StagePersisted           Stage = "persisted"
	StageReplied             Stage = "replied"
	StageFailed              Stage = "failed"
)

const defaultSaveTimeout = 90 * time.Second

// Extractor turns a description into structured fields.
type Extractor interface {
	Extract(ctx context.Context, text string, hint *models.Location) (*models.Extraction, error)
}

// Uploader re-hosts photos and returns the URLs that succeeded.
type Uploader interface {
	Upload(ctx context.Context, ownerID int64, listingID string, refs []models.MediaRef) ([]string, error)
}

// DuplicateFinder looks for an existing listing at the same place.
type DuplicateFinder interface {
	FindDuplicate(ctx context.Context, ownerID int64, c models.Coordinates, price *float64) (*models.Listing, error)
}

// ListingCreator commits a listing.
type ListingCreator interface {
	Create(ctx context.Context, in models.ListingInput) (*models.Listing, error)
}

// Notifier is the outbound side used by the pipeline.
type Notifier interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendStatus(ctx context.Context, chatID int64, r readiness.Report) error
	SendPhotoLimit(ctx context.Context, chatID int64, limit int) error
	SendSaved(ctx context.Context, chatID int64, l *models.Listing, failedUploads int) error
	SendDuplicate(ctx context.Context, chatID int64, existing *models.Listing) error
	SendFailure(ctx context.Context, chatID int64, reason string) error
	SendListings(ctx context.Context, chatID int64, listings []*models.Listing) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// MediaRemover deletes the stored media of a listing.
type MediaRemover interface {
	Remove(ctx context.Context, ownerID int64, listingID string) error
}

// SaveRequest asks for the user's draft to be saved. Force accepts an
// incomplete draft as long as a location or a description is present.
type SaveRequest struct {
	UserID int64
	ChatID int64
	Force  bool
}

// Result describes how a save attempt ended.
type Result struct {
	Stage         Stage
	Kind          ErrorKind
	Listing       *models.Listing
	Duplicate     *models.Listing
	Uploaded      int
	FailedUploads int
	Err           error
}

// Deps are the collaborators of an Orchestrator. Extractor and Uploader may
// be nil.
type Deps struct {
	Sessions  *session.Store
	Debouncer *debounce.Debouncer
	Extractor Extractor
	Uploader  Uploader
	Dedup     DuplicateFinder
	Listings  ListingCreator
	Notifier  Notifier
	Telemetry *telemetry.Manager
	Clock     clock.Clock
	Timeout   time.Duration
}

// Orchestrator runs the one-shot save of a draft.
type Orchestrator struct {
	sessions  *session.Store
	debouncer *debounce.Debouncer
	extractor Extractor
	uploader  Uploader
	dedup     DuplicateFinder
	listings  ListingCreator
	notifier  Notifier
	telemetry *telemetry.Manager
	clock     clock.Clock
	timeout   time.Duration
}

func NewOrchestrator(d Deps) *Orchestrator {
	o := &Orchestrator{
		sessions:  d.Sessions,
		debouncer: d.Debouncer,
		extractor: d.Extractor,
		uploader:  d.Uploader,
		dedup:     d.Dedup,
		listings:  d.Listings,
		notifier:  d.Notifier,
		telemetry: d.Telemetry,
		clock:     d.Clock,
		timeout:   d.Timeout,
	}
	if o.clock == nil {
		o.clock = clock.Real()
	}
	if o.timeout <= 0 {
		o.timeout = defaultSaveTimeout
	}
	return o
}

// Save takes the user's draft and turns it into a listing. The draft leaves
// the session store before any external call, so a concurrent or repeated
// trigger finds nothing and ends as a ConcurrencyNoOp. Exactly one terminal
// reply is sent per attempt, except for no-ops which stay silent.
func (o *Orchestrator) Save(ctx context.Context, req SaveRequest) Result {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	started := o.clock.Now()
	ctx, span := o.telemetry.StartSpan(ctx, "pipeline.save")
	res := o.save(ctx, req)

	var spanErr error
	if res.Kind == KindUpstreamFailure || res.Kind == KindValidationFailure {
		spanErr = res.Err
	}
	telemetry.EndSpan(span, spanErr)
	o.telemetry.RecordSave(ctx, res.Kind.Outcome(), o.clock.Now().Sub(started))
	return res
}

func (o *Orchestrator) save(ctx context.Context, req SaveRequest) Result {
	res := Result{Stage: StageIdle}

	var report readiness.Report
	draft, err := o.sessions.Take(req.UserID, func(s *models.Session) error {
		report = readiness.Evaluate(s)
		switch {
		case report.Ready:
			return nil
		case req.Force && report.CanForce():
			return nil
		case req.Force:
			return ErrMissingLocation
		}
		return ErrNotReady
	})
	switch {
	case errors.Is(err, session.ErrNoSession):
		log.Printf("save for user %d: no draft, ignoring", req.UserID)
		res.Kind = KindConcurrencyNoOp
		res.Err = err
		return res
	case err != nil:
		// the draft stays, re-prompt with what is missing
		res.Kind = KindValidationFailure
		res.Err = err
		if sendErr := o.notifier.SendStatus(ctx, req.ChatID, report); sendErr != nil {
			log.Printf("send status to user %d failed: %v", req.UserID, sendErr)
		}
		return res
	}
	// only the missing location path hands the draft back; every other
	// outcome ends the take for good
	defer o.sessions.Settle(draft)
	res.Stage = StageTriggered
	if o.debouncer != nil {
		o.debouncer.Cancel(req.UserID)
	}

	chatID := draft.ChatID
	if chatID == 0 {
		chatID = req.ChatID
	}
	fail := func(kind ErrorKind, err error, reason string) Result {
		res.Stage = StageFailed
		res.Kind = kind
		res.Err = err
		log.Printf("save for user %d failed: %v", req.UserID, err)
		if sendErr := o.notifier.SendFailure(ctx, chatID, reason); sendErr != nil {
			log.Printf("send failure to user %d failed: %v", req.UserID, sendErr)
		}
		return res
	}

	res.Stage = StageExtracting
	known := directCoordinates(draft.Location)
	ext, err := o.extract(ctx, draft)
	if err != nil {
		if known == nil {
			return fail(KindUpstreamFailure, fmt.Errorf("extract: %w", err),
				"I could not read this listing. Please send it again.")
		}
		log.Printf("extract for user %d failed, continuing with the supplied location: %v", req.UserID, err)
		ext = &models.Extraction{}
	}

	coords := known
	if coords == nil {
		coords = ext.Coordinates
	}
	if coords == nil {
		return o.reoffer(ctx, res, draft, chatID)
	}
	res.Stage = StageCoordinatesResolved

	var dup *models.Listing
	err = o.step(ctx, "dedup", func(ctx context.Context) error {
		var err error
		dup, err = o.dedup.FindDuplicate(ctx, req.UserID, *coords, ext.Price)
		return err
	})
	if err != nil {
		return fail(KindUpstreamFailure, fmt.Errorf("duplicate check: %w", err),
			"Saving is unavailable right now. Please send the listing again later.")
	}
	res.Stage = StageDuplicateChecked
	if dup != nil {
		res.Kind = KindDuplicateFound
		res.Duplicate = dup
		if sendErr := o.notifier.SendDuplicate(ctx, chatID, dup); sendErr != nil {
			log.Printf("send duplicate to user %d failed: %v", req.UserID, sendErr)
		}
		return res
	}

	listingID := uuid.NewString()
	urls := o.upload(ctx, req.UserID, listingID, draft.Photos)
	res.Uploaded = len(urls)
	res.FailedUploads = len(draft.Photos) - len(urls)
	res.Stage = StageMediaUploaded

	in := listingInput(listingID, draft, *coords, ext, urls)
	var listing *models.Listing
	err = o.step(ctx, "persist", func(ctx context.Context) error {
		var err error
		listing, err = o.listings.Create(ctx, in)
		return err
	})
	if err != nil {
		o.discardMedia(req.UserID, listingID, len(urls))
		return fail(KindUpstreamFailure, fmt.Errorf("persist: %w", err),
			"I could not save this listing. Please send it again.")
	}
	res.Stage = StagePersisted
	res.Listing = listing

	if err := o.notifier.SendSaved(ctx, chatID, listing, res.FailedUploads); err != nil {
		log.Printf("send saved reply to user %d failed: %v", req.UserID, err)
		return res
	}
	res.Stage = StageReplied
	return res
}

// reoffer ends an attempt that could not place the listing. Nothing was
// uploaded or stored yet, so the draft goes back to the user unless they
// cancelled or started another one meanwhile.
func (o *Orchestrator) reoffer(ctx context.Context, res Result, draft *models.Session, chatID int64) Result {
	res.Stage = StageFailed
	res.Kind = KindValidationFailure
	res.Err = ErrMissingLocation
	log.Printf("save for user %d failed: %v", draft.UserID, res.Err)

	if !o.sessions.Reoffer(draft) {
		if err := o.notifier.SendFailure(ctx, chatID,
			"I could not work out where this listing is. Please send it again with a location or a map link."); err != nil {
			log.Printf("send failure to user %d failed: %v", draft.UserID, err)
		}
		return res
	}
	if err := o.notifier.SendFailure(ctx, chatID,
		"I could not work out where this listing is. Send a location or a map link, then save again."); err != nil {
		log.Printf("send failure to user %d failed: %v", draft.UserID, err)
	}
	if err := o.notifier.SendStatus(ctx, chatID, readiness.Evaluate(o.sessions.Get(draft.UserID))); err != nil {
		log.Printf("send status to user %d failed: %v", draft.UserID, err)
	}
	return res
}

func (o *Orchestrator) extract(ctx context.Context, draft *models.Session) (*models.Extraction, error) {
	if o.extractor == nil || (strings.TrimSpace(draft.Description) == "" && !draft.HasLocation()) {
		return &models.Extraction{}, nil
	}
	var ext *models.Extraction
	err := o.step(ctx, "extract", func(ctx context.Context) error {
		var err error
		ext, err = o.extractor.Extract(ctx, draft.Description, draft.Location)
		return err
	})
	if err != nil {
		return nil, err
	}
	if ext == nil {
		ext = &models.Extraction{}
	}
	return ext, nil
}

// upload never fails the save; whatever could not be stored is counted.
func (o *Orchestrator) upload(ctx context.Context, ownerID int64, listingID string, photos []models.MediaRef) []string {
	if o.uploader == nil || len(photos) == 0 {
		return nil
	}
	var urls []string
	err := o.step(ctx, "upload", func(ctx context.Context) error {
		var err error
		urls, err = o.uploader.Upload(ctx, ownerID, listingID, photos)
		return err
	})
	if err != nil {
		log.Printf("upload for listing %s failed: %v", listingID, err)
		return nil
	}
	return urls
}

func (o *Orchestrator) discardMedia(ownerID int64, listingID string, uploaded int) {
	remover, ok := o.uploader.(MediaRemover)
	if !ok || uploaded == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := remover.Remove(ctx, ownerID, listingID); err != nil {
		log.Printf("remove media of unsaved listing %s failed: %v", listingID, err)
	}
}

func (o *Orchestrator) step(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := o.telemetry.StartSpan(ctx, "pipeline.save."+name)
	err := fn(ctx)
	telemetry.EndSpan(span, err)
	return err
}

// directCoordinates returns coordinates the user supplied: a shared
// location first, then coordinates embedded in a map link.
func directCoordinates(l *models.Location) *models.Coordinates {
	if l == nil {
		return nil
	}
	if l.Coordinates != nil {
		c := *l.Coordinates
		return &c
	}
	if l.MapLink != "" {
		return ingest.ParseMapLink(l.MapLink)
	}
	return nil
}

func listingInput(id string, draft *models.Session, c models.Coordinates, ext *models.Extraction, photos []string) models.ListingInput {
	in := models.ListingInput{
		ID:          id,
		OwnerID:     draft.UserID,
		Coordinates: c,
		Price:       ext.Price,
		Currency:    ext.Currency,
		Rooms:       ext.Rooms,
		AreaSqm:     ext.AreaSqm,
		Floor:       ext.Floor,
		DealType:    ext.DealType,
		Address:     ext.Address,
		Amenities:   ext.Amenities,
		Photos:      photos,
		Description: draft.Description,
		Provenance:  draft.Provenance,
	}
	if draft.Location != nil {
		in.MapLink = draft.Location.MapLink
	}
	if draft.Video != nil {
		in.VideoRef = draft.Video.FileID
	}
	return in
}
