package http

import (
	"context"
	stdhttp "net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Grid/internal/adapters/coordinator"
	"github.com/dkeye/Grid/internal/app"
	"github.com/dkeye/Grid/internal/config"
	"github.com/dkeye/Grid/internal/core"
)

const tokenKey = "ct"

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware pins a stable token to the browser/worker session.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(tokenKey).(string)
		if token == "" {
			token = genClientToken()
			session.Set(tokenKey, token)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, ctl *coordinator.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("GridSessions", store))
	r.Use(ClientTokenMiddleware())

	log.Info().Str("module", "adapters.http").Str("identity", ctl.Identity).Msg("router setup")

	r.GET("/socket.io/", func(c *gin.Context) {
		ctl.HandleSocket(ctx, c)
	})

	api := r.Group("/api")

	api.GET("/health", func(c *gin.Context) {
		c.JSON(stdhttp.StatusOK, gin.H{
			"status":   "ok",
			"identity": ctl.Identity,
			"sessions": ctl.Registry.Count(),
		})
	})

	api.GET("/sessions", func(c *gin.Context) {
		c.JSON(stdhttp.StatusOK, gin.H{"sessions": ctl.Registry.List()})
	})

	api.GET("/sessions/:sid", func(c *gin.Context) {
		info, ok := ctl.Registry.Get(core.SessionID(c.Param("sid")))
		if !ok {
			c.JSON(stdhttp.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(stdhttp.StatusOK, info)
	})

	// DELETE /api/sessions/:sid drops a worker socket
	api.DELETE("/sessions/:sid", func(c *gin.Context) {
		if !ctl.Registry.Cancel(core.SessionID(c.Param("sid"))) {
			c.JSON(stdhttp.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.Status(stdhttp.StatusNoContent)
	})

	return r
}

// NewCoordinator builds the controller described by cfg.
func NewCoordinator(cfg *config.Config, reg *app.Registry) (*coordinator.Controller, error) {
	handler, err := app.HandlerFor(app.ReplyMode(cfg.ReplyMode))
	if err != nil {
		return nil, err
	}
	ctl := coordinator.NewController(reg, handler, cfg.Identity)
	if cfg.PingPeriod > 0 {
		ctl.PingPeriod = cfg.PingPeriod
	}
	if cfg.PingTimeout > 0 {
		ctl.PingTimeout = cfg.PingTimeout
	}
	if cfg.ReadLimit > 0 {
		ctl.ReadLimit = cfg.ReadLimit
	}
	if cfg.ConnectLimit > 0 {
		ctl.Limiter = app.NewConnectLimiter(cfg.ConnectLimit, cfg.ConnectWindow)
	}
	return ctl, nil
}
