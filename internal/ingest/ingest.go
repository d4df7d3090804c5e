// Package ingest turns raw bot updates into fragments.
package ingest

import (
	"errors"
	"fmt"
	"strings"

	"listingbot/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var (
	// ErrEmptyUpdate marks updates that carry nothing a draft can use.
	ErrEmptyUpdate = errors.New("update carries no usable content")
	ErrNoSender    = errors.New("update has no sender")
)

// Normalize converts one update into fragments. A single message may yield
// several fragments, e.g. a photo whose caption holds a map link and text.
func Normalize(u tgbotapi.Update) ([]models.Fragment, error) {
	switch {
	case u.CallbackQuery != nil:
		f, err := fromCallback(u.CallbackQuery)
		if err != nil {
			return nil, err
		}
		return []models.Fragment{f}, nil
	case u.Message != nil:
		return fromMessage(u.Message)
	}
	return nil, ErrEmptyUpdate
}

func fromCallback(cb *tgbotapi.CallbackQuery) (models.Fragment, error) {
	if cb.From == nil {
		return models.Fragment{}, ErrNoSender
	}
	f := models.Fragment{
		Kind:       models.FragmentButton,
		UserID:     cb.From.ID,
		CallbackID: cb.ID,
		Payload:    cb.Data,
	}
	if cb.Message != nil {
		f.MessageID = cb.Message.MessageID
		if cb.Message.Chat != nil {
			f.ChatID = cb.Message.Chat.ID
		}
	}
	if f.ChatID == 0 {
		// private chats share the user's id
		f.ChatID = cb.From.ID
	}
	return f, nil
}

func fromMessage(msg *tgbotapi.Message) ([]models.Fragment, error) {
	if msg.From == nil {
		return nil, ErrNoSender
	}
	base := models.Fragment{
		UserID:     msg.From.ID,
		ChatID:     msg.From.ID,
		MessageID:  msg.MessageID,
		BurstID:    msg.MediaGroupID,
		Provenance: provenanceOf(msg),
	}
	if msg.Chat != nil {
		base.ChatID = msg.Chat.ID
	}

	if msg.IsCommand() {
		f := base
		f.Kind = models.FragmentCommand
		f.Command = strings.ToLower(msg.Command())
		f.Args = strings.TrimSpace(msg.CommandArguments())
		return []models.Fragment{f}, nil
	}

	var out []models.Fragment
	if p := largestPhoto(msg.Photo); p != nil {
		f := base
		f.Kind = models.FragmentPhoto
		f.Media = &models.MediaRef{
			FileID:   p.FileID,
			UniqueID: p.FileUniqueID,
			Width:    p.Width,
			Height:   p.Height,
			Size:     p.FileSize,
		}
		out = append(out, f)
	}
	if v := msg.Video; v != nil {
		f := base
		f.Kind = models.FragmentVideo
		f.Media = &models.MediaRef{
			FileID:   v.FileID,
			UniqueID: v.FileUniqueID,
			Width:    v.Width,
			Height:   v.Height,
			Size:     v.FileSize,
		}
		out = append(out, f)
	}
	if l := msg.Location; l != nil {
		f := base
		f.Kind = models.FragmentLocation
		f.Location = &models.Location{
			Coordinates: &models.Coordinates{Latitude: l.Latitude, Longitude: l.Longitude},
		}
		out = append(out, f)
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if link, rest, ok := FindMapLink(text); ok {
		f := base
		f.Kind = models.FragmentLocation
		f.Location = &models.Location{MapLink: link, Coordinates: ParseMapLink(link)}
		out = append(out, f)
		text = rest
	}
	if text = strings.TrimSpace(text); text != "" {
		f := base
		f.Kind = models.FragmentText
		f.Text = text
		out = append(out, f)
	}

	if len(out) == 0 {
		return nil, ErrEmptyUpdate
	}
	return out, nil
}

func largestPhoto(sizes []tgbotapi.PhotoSize) *tgbotapi.PhotoSize {
	var best *tgbotapi.PhotoSize
	for i := range sizes {
		p := &sizes[i]
		if best == nil || p.Width*p.Height > best.Width*best.Height ||
			(p.Width*p.Height == best.Width*best.Height && p.FileSize > best.FileSize) {
			best = p
		}
	}
	return best
}

func provenanceOf(msg *tgbotapi.Message) *models.Provenance {
	var p models.Provenance
	found := false
	if ch := msg.ForwardFromChat; ch != nil {
		found = true
		p.SourceChatID = ch.ID
		p.SourceChatTitle = ch.Title
		p.SourceUsername = ch.UserName
		p.MessageID = msg.ForwardFromMessageID
		if ch.UserName != "" && msg.ForwardFromMessageID != 0 {
			p.MessageLink = fmt.Sprintf("https://t.me/%s/%d", ch.UserName, msg.ForwardFromMessageID)
		}
		p.SenderName = msg.ForwardSignature
	}
	if u := msg.ForwardFrom; u != nil {
		found = true
		p.SourceUserID = u.ID
		if p.SourceUsername == "" {
			p.SourceUsername = u.UserName
		}
		p.SenderName = strings.TrimSpace(u.FirstName + " " + u.LastName)
	}
	if msg.ForwardSenderName != "" {
		found = true
		if p.SenderName == "" {
			p.SenderName = msg.ForwardSenderName
		}
	}
	if !found {
		return nil
	}
	return &p
}
