package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"listingbot/internal/bot"
	"listingbot/internal/clock"
	"listingbot/internal/debounce"
	"listingbot/internal/ingest"
	"listingbot/internal/models"
	"listingbot/internal/readiness"
	"listingbot/internal/session"
	"listingbot/internal/storage"
	"listingbot/internal/telemetry"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	DefaultPhotoLimit = 20
	listLimit         = 10
	callbackTimeout   = 15 * time.Second
)

var routerDebugEnabled = strings.EqualFold(os.Getenv("LISTINGBOT_DEBUG"), "1")

func debugLog(format string, args ...interface{}) {
	if routerDebugEnabled {
		log.Printf(format, args...)
	}
}

const helpText = `Send me a listing piece by piece: photos or a video, a location (or a map link) and a description.
Forwarded posts work too.

/status - what the draft has so far
/save - save the draft (/save force to save without photos)
/cancel - discard the draft
/list - your latest listings`

// Runner executes jobs one at a time per user.
type Runner interface {
	Submit(userID int64, name string, fn func()) error
	CancelUser(userID int64) int
}

// Saver is the save entry point used by the router.
type Saver interface {
	Save(ctx context.Context, req SaveRequest) Result
}

// ListingManager is the owner-scoped listing access behind buttons and /list.
type ListingManager interface {
	ListByOwner(ctx context.Context, ownerID int64, limit int) ([]*models.Listing, error)
	SetFavorite(ctx context.Context, ownerID int64, id string, favorite bool) error
	Delete(ctx context.Context, ownerID int64, id string) error
}

// RouterDeps are the collaborators of a Router. Media may be nil.
type RouterDeps struct {
	Sessions   *session.Store
	Debouncer  *debounce.Debouncer
	Saver      Saver
	Runner     Runner
	Notifier   Notifier
	Listings   ListingManager
	Media      MediaRemover
	Telemetry  *telemetry.Manager
	Clock      clock.Clock
	PhotoLimit int
}

// Router applies inbound updates to drafts and routes commands and buttons.
type Router struct {
	sessions   *session.Store
	debouncer  *debounce.Debouncer
	saver      Saver
	runner     Runner
	notifier   Notifier
	listings   ListingManager
	media      MediaRemover
	telemetry  *telemetry.Manager
	clock      clock.Clock
	photoLimit int
}

func NewRouter(d RouterDeps) *Router {
	r := &Router{
		sessions:   d.Sessions,
		debouncer:  d.Debouncer,
		saver:      d.Saver,
		runner:     d.Runner,
		notifier:   d.Notifier,
		listings:   d.Listings,
		media:      d.Media,
		telemetry:  d.Telemetry,
		clock:      d.Clock,
		photoLimit: d.PhotoLimit,
	}
	if r.clock == nil {
		r.clock = clock.Real()
	}
	if r.photoLimit <= 0 {
		r.photoLimit = DefaultPhotoLimit
	}
	return r
}

// HandleUpdate routes one webhook update. Updates without usable content are
// ignored; the error is reserved for failures worth logging upstream.
func (r *Router) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	fragments, err := ingest.Normalize(update)
	if errors.Is(err, ingest.ErrEmptyUpdate) || errors.Is(err, ingest.ErrNoSender) {
		debugLog("update %d ignored: %v", update.UpdateID, err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("normalize update %d: %w", update.UpdateID, err)
	}

	var errs []error
	for _, f := range fragments {
		r.telemetry.RecordFragment(ctx, string(f.Kind))
		debugLog("user %d fragment %s burst=%q", f.UserID, f.Kind, f.BurstID)
		switch f.Kind {
		case models.FragmentCommand:
			errs = append(errs, r.handleCommand(ctx, f))
		case models.FragmentButton:
			errs = append(errs, r.handleButton(ctx, f))
		default:
			errs = append(errs, r.handleContent(ctx, f))
		}
	}
	return errors.Join(errs...)
}

func (r *Router) handleContent(ctx context.Context, f models.Fragment) error {
	var limitHit, notify bool
	_, err := r.sessions.Upsert(f.UserID, func(s *models.Session) error {
		if f.Kind == models.FragmentPhoto && len(s.Photos) >= r.photoLimit {
			limitHit = true
			if !s.LimitNotified {
				s.LimitNotified = true
				notify = true
			}
			return nil
		}
		s.Apply(f, r.clock.Now())
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply %s fragment: %w", f.Kind, err)
	}
	if notify {
		if err := r.notifier.SendPhotoLimit(ctx, f.ChatID, r.photoLimit); err != nil {
			log.Printf("send photo limit to user %d failed: %v", f.UserID, err)
		}
	}
	if limitHit {
		return nil
	}

	userID := f.UserID
	r.debouncer.Touch(userID, f.BurstID, func() { r.scheduleStatus(userID) })
	return nil
}

// scheduleStatus runs when a burst went quiet.
func (r *Router) scheduleStatus(userID int64) {
	err := r.runner.Submit(userID, "status", func() {
		ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
		defer cancel()
		r.sendStatus(ctx, userID)
	})
	if err != nil {
		log.Printf("schedule status for user %d failed: %v", userID, err)
	}
}

// sendStatus reports the draft. A draft saved or cancelled in the meantime
// is not recreated.
func (r *Router) sendStatus(ctx context.Context, userID int64) {
	s := r.sessions.Get(userID)
	if s == nil {
		debugLog("status for user %d skipped: no draft", userID)
		return
	}
	report := readiness.Evaluate(s)
	if err := r.notifier.SendStatus(ctx, s.ChatID, report); err != nil {
		log.Printf("send status to user %d failed: %v", userID, err)
		return
	}
	r.telemetry.RecordStatus(ctx, report.Ready)
}

func (r *Router) handleCommand(ctx context.Context, f models.Fragment) error {
	switch f.Command {
	case "start", "help":
		return r.notifier.SendText(ctx, f.ChatID, helpText)
	case "status":
		s := r.sessions.Get(f.UserID)
		if s == nil {
			return r.notifier.SendText(ctx, f.ChatID, "No draft yet. Send photos, a location and a description.")
		}
		return r.notifier.SendStatus(ctx, f.ChatID, readiness.Evaluate(s))
	case "save":
		force := strings.EqualFold(strings.TrimSpace(f.Args), "force")
		return r.submitSave(ctx, f.UserID, f.ChatID, force)
	case "cancel":
		return r.cancel(ctx, f.UserID, f.ChatID)
	case "list":
		listings, err := r.listings.ListByOwner(ctx, f.UserID, listLimit)
		if err != nil {
			return fmt.Errorf("list listings: %w", err)
		}
		return r.notifier.SendListings(ctx, f.ChatID, listings)
	}
	return r.notifier.SendText(ctx, f.ChatID, "Unknown command. Try /help.")
}

// handleButton always acknowledges the callback; the platform keeps the
// button spinning otherwise.
func (r *Router) handleButton(ctx context.Context, f models.Fragment) error {
	var (
		answer string
		err    error
	)
	switch payload := f.Payload; {
	case payload == bot.PayloadSave:
		answer = "Saving..."
		err = r.submitSave(ctx, f.UserID, f.ChatID, false)
	case payload == bot.PayloadSaveForce:
		answer = "Saving..."
		err = r.submitSave(ctx, f.UserID, f.ChatID, true)
	case payload == bot.PayloadCancel:
		err = r.cancel(ctx, f.UserID, f.ChatID)
	case strings.HasPrefix(payload, bot.PrefixFavorite):
		answer, err = r.favorite(ctx, f.UserID, strings.TrimPrefix(payload, bot.PrefixFavorite))
	case strings.HasPrefix(payload, bot.PrefixDelete):
		answer, err = r.delete(ctx, f.UserID, strings.TrimPrefix(payload, bot.PrefixDelete))
	default:
		debugLog("user %d pressed unknown button %q", f.UserID, payload)
	}
	if ackErr := r.notifier.AnswerCallback(ctx, f.CallbackID, answer); ackErr != nil {
		err = errors.Join(err, ackErr)
	}
	return err
}

func (r *Router) submitSave(ctx context.Context, userID, chatID int64, force bool) error {
	jobCtx := context.WithoutCancel(ctx)
	err := r.runner.Submit(userID, "save", func() {
		res := r.saver.Save(jobCtx, SaveRequest{UserID: userID, ChatID: chatID, Force: force})
		debugLog("save for user %d ended at %s (%s)", userID, res.Stage, res.Kind.Outcome())
	})
	if err != nil {
		log.Printf("submit save for user %d failed: %v", userID, err)
		return r.notifier.SendText(ctx, chatID, "I am busy right now. Please press save again in a moment.")
	}
	return nil
}

// cancel discards the draft. A save that already started finishes on the
// copy it took; queued jobs of the user are dropped.
func (r *Router) cancel(ctx context.Context, userID, chatID int64) error {
	r.debouncer.Cancel(userID)
	removed := r.sessions.Remove(userID)
	if dropped := r.runner.CancelUser(userID); dropped > 0 {
		debugLog("dropped %d queued jobs of user %d", dropped, userID)
	}
	if !removed {
		return r.notifier.SendText(ctx, chatID, "Nothing to cancel.")
	}
	return r.notifier.SendText(ctx, chatID, "Draft discarded.")
}

func (r *Router) favorite(ctx context.Context, userID int64, id string) (string, error) {
	err := r.listings.SetFavorite(ctx, userID, id, true)
	switch {
	case errors.Is(err, storage.ErrListingNotFound):
		return "Listing not found", nil
	case err != nil:
		return "Something went wrong", fmt.Errorf("favorite %s: %w", id, err)
	}
	return "Added to favorites", nil
}

func (r *Router) delete(ctx context.Context, userID int64, id string) (string, error) {
	err := r.listings.Delete(ctx, userID, id)
	switch {
	case errors.Is(err, storage.ErrListingNotFound):
		return "Listing not found", nil
	case err != nil:
		return "Something went wrong", fmt.Errorf("delete %s: %w", id, err)
	}
	if r.media != nil {
		if err := r.media.Remove(ctx, userID, id); err != nil {
			log.Printf("remove media of listing %s failed: %v", id, err)
		}
	}
	return "Deleted", nil
}
