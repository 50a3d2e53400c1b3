package http

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/config"
	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/repo"
)

func NewRouter(cfg config.Config, log zerolog.Logger, svc service, r *repo.Repository) *gin.Engine {
	if cfg.AppEnv != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	e := gin.New()
	e.Use(gin.Recovery())
	e.Use(func(c *gin.Context) {
		c.Next()
		log.Info().Str("m", c.Request.Method).Str("p", c.FullPath()).Int("s", c.Writer.Status()).Msg("http")
	})

	h := NewHandlers(cfg, log, svc, r)

	e.GET("/healthz", h.Healthz)
	e.GET("/admin/last-run", h.LastRun)
	e.POST("/admin/run", h.RunNow)

	return e
}
