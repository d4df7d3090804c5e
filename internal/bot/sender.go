// Package bot sends replies through the chat platform.
package bot

import (
	"context"
	"fmt"

	"listingbot/internal/models"
	"listingbot/internal/readiness"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Callback payloads carried by inline buttons.
const (
	PayloadSave      = "save"
	PayloadSaveForce = "save:force"
	PayloadCancel    = "cancel"
	PrefixFavorite   = "fav:"
	PrefixDelete     = "del:"
)

// API is the slice of the bot client the sender needs.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Sender formats and dispatches outbound messages.
type Sender struct {
	api API
}

func NewSender(api API) *Sender {
	return &Sender{api: api}
}

func (s *Sender) send(chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if markup != nil {
		msg.ReplyMarkup = *markup
	}
	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SendText sends plain text.
func (s *Sender) SendText(_ context.Context, chatID int64, text string) error {
	return s.send(chatID, text, nil)
}

// SendStatus reports what the draft has and offers the matching actions.
func (s *Sender) SendStatus(_ context.Context, chatID int64, r readiness.Report) error {
	return s.send(chatID, formatStatus(r), statusKeyboard(r))
}

// SendPhotoLimit tells the user further photos are rejected.
func (s *Sender) SendPhotoLimit(_ context.Context, chatID int64, limit int) error {
	return s.send(chatID, fmt.Sprintf("Photo limit reached: a listing holds at most %d photos. Further photos are ignored.", limit), nil)
}

// SendSaved confirms a persisted listing.
func (s *Sender) SendSaved(_ context.Context, chatID int64, l *models.Listing, failedUploads int) error {
	return s.send(chatID, formatSaved(l, failedUploads), listingKeyboard(l, true))
}

// SendDuplicate points the user at the listing they already saved.
func (s *Sender) SendDuplicate(_ context.Context, chatID int64, existing *models.Listing) error {
	return s.send(chatID, formatDuplicate(existing), listingKeyboard(existing, false))
}

// SendFailure reports a failed save. reason carries the next step for the
// user.
func (s *Sender) SendFailure(_ context.Context, chatID int64, reason string) error {
	return s.send(chatID, "Could not save the listing. "+reason, nil)
}

// SendListings shows the user's recent listings, one message each.
func (s *Sender) SendListings(ctx context.Context, chatID int64, listings []*models.Listing) error {
	if len(listings) == 0 {
		return s.SendText(ctx, chatID, "You have no saved listings yet.")
	}
	for _, l := range listings {
		if err := s.send(chatID, formatListing(l), listingKeyboard(l, true)); err != nil {
			return err
		}
	}
	return nil
}

// AnswerCallback acknowledges a button press.
func (s *Sender) AnswerCallback(_ context.Context, callbackID, text string) error {
	if callbackID == "" {
		return nil
	}
	if _, err := s.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

// FileURL resolves a media reference to a short-lived download url.
func (s *Sender) FileURL(_ context.Context, fileID string) (string, error) {
	url, err := s.api.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("resolve file %s: %w", fileID, err)
	}
	return url, nil
}

func statusKeyboard(r readiness.Report) *tgbotapi.InlineKeyboardMarkup {
	var row []tgbotapi.InlineKeyboardButton
	switch {
	case r.Ready:
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("Save", PayloadSave))
	case r.CanForce():
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("Save anyway", PayloadSaveForce))
	}
	row = append(row, tgbotapi.NewInlineKeyboardButtonData("Cancel", PayloadCancel))
	markup := tgbotapi.NewInlineKeyboardMarkup(row)
	return &markup
}

func listingKeyboard(l *models.Listing, withFavorite bool) *tgbotapi.InlineKeyboardMarkup {
	row := []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonURL("Open map", MapURL(l)),
	}
	if withFavorite && !l.Favorite {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("Favorite", PrefixFavorite+l.ID))
	}
	row = append(row, tgbotapi.NewInlineKeyboardButtonData("Delete", PrefixDelete+l.ID))
	markup := tgbotapi.NewInlineKeyboardMarkup(row)
	return &markup
}
