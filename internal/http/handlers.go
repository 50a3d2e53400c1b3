package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/config"
	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/repo"
	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/services"
)

type service interface {
	Run(ctx context.Context) (services.Summary, error)
}

type Handlers struct {
	cfg  config.Config
	log  zerolog.Logger
	svc  service
	repo *repo.Repository
}

func NewHandlers(cfg config.Config, log zerolog.Logger, svc service, r *repo.Repository) *Handlers {
	return &Handlers{cfg: cfg, log: log, svc: svc, repo: r}
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) LastRun(c *gin.Context) {
	lr, err := h.repo.GetLastRun(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, lr)
}

func (h *Handlers) RunNow(c *gin.Context) {
	// Detached from the request context so the cycle survives the response.
	go func() {
		if _, err := h.svc.Run(context.Background()); err != nil {
			h.log.Error().Err(err).Msg("admin: manual cycle failed")
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}
