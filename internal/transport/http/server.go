package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay/internal/config"
	"github.com/vovakirdan/wirerelay/internal/core"
	"github.com/vovakirdan/wirerelay/internal/metrics"
	"github.com/vovakirdan/wirerelay/internal/store"
)

// NewServer builds the HTTP server: WebSocket gateway, REST API, health and metrics.
func NewServer(hub *core.Hub, st store.Store, cfg *config.Config, m *metrics.Metrics, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", healthHandler)
	router.GET("/ws", gin.WrapH(NewWSHandler(hub, WSOptions{
		MaxMessageBytes: cfg.MaxMessageBytes,
		OriginPatterns:  cfg.OriginPatterns,
	}, m, logger)))
	router.GET("/metrics", func(c *gin.Context) {
		c.Header("Content-Type", "application/json")
		m.WriteJSON(c.Writer)
	})

	apiHandlers := NewAPIHandlers(st, logger)

	api := router.Group("/api")
	api.Use(LoggerMiddleware(logger))
	{
		api.GET("/stats", func(c *gin.Context) {
			c.JSON(stdhttp.StatusOK, hub.Registry().Stats())
		})
		api.POST("/users", apiHandlers.CreateUser)
		api.GET("/users/:userId/channels", apiHandlers.ListUserChannels)
		api.POST("/channels", apiHandlers.CreateChannel)
		api.GET("/channels/:channelId/messages", apiHandlers.ListMessages)
	}

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
