package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	maxUpdateBytes = 1 << 20
	healthTimeout  = 2 * time.Second
)

// UpdateHandler consumes decoded bot updates.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update) error
}

// Pinger reports whether the listing database is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Options configure the HTTP surface.
type Options struct {
	Secret   string
	MediaDir string
	MediaURL string
}

// Handler wires the webhook and health routes.
type Handler struct {
	updates  UpdateHandler
	db       Pinger
	secret   string
	mediaDir string
	mediaURL string
}

// NewHandler constructs a Handler instance.
func NewHandler(updates UpdateHandler, db Pinger, opts Options) *Handler {
	return &Handler{
		updates:  updates,
		db:       db,
		secret:   opts.Secret,
		mediaDir: opts.MediaDir,
		mediaURL: opts.MediaURL,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.POST("/webhook/:secret", h.requireSecret(), h.receiveUpdate)
	router.GET("/healthz", h.health)
	if h.mediaDir != "" && h.mediaURL != "" {
		router.Static(h.mediaURL, h.mediaDir)
	}
}

// receiveUpdate answers 200 once the update is decoded, even when routing
// fails, so the platform does not redeliver it.
func (h *Handler) receiveUpdate(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUpdateBytes)
	var update tgbotapi.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid update payload"})
		return
	}
	if err := h.updates.HandleUpdate(c.Request.Context(), update); err != nil {
		log.Printf("handle update %d failed: %v", update.UpdateID, err)
	}
	c.Status(http.StatusOK)
}

func (h *Handler) health(c *gin.Context) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
