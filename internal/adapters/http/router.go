package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/dkeye/voicebot/internal/app"
	"github.com/dkeye/voicebot/internal/config"
	"github.com/dkeye/voicebot/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const RequestIDHeader = "X-Request-ID"

// CallService is what the status API needs from the call orchestrator.
type CallService interface {
	Calls() []app.SessionInfo
	Hangup(id domain.CallID) error
}

func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("module", "adapters.http").
			Str("request_id", c.GetString("request_id")).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

func SetupRouter(cfg *config.Config, calls CallService) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(accessLog())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "backend": cfg.Backend(), "calls": len(calls.Calls())})
	})

	api := r.Group("/api")
	api.GET("/calls", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"calls": calls.Calls()})
	})
	api.DELETE("/calls/:id", func(c *gin.Context) {
		id := domain.CallID(c.Param("id"))
		if err := id.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		err := calls.Hangup(id)
		switch {
		case errors.Is(err, app.ErrUnknownSession):
			c.JSON(http.StatusNotFound, gin.H{"error": "no such call"})
		case err != nil:
			log.Error().Err(err).Str("module", "adapters.http").Str("call_id", string(id)).Msg("hangup failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "hangup failed"})
		default:
			log.Info().Str("module", "adapters.http").Str("call_id", string(id)).Msg("call hung up via api")
			c.Status(http.StatusNoContent)
		}
	})

	log.Info().Str("module", "adapters.http").Str("addr", cfg.HTTPAddr).Msg("router setup")
	return r
}
