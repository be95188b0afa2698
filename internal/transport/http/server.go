package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/parcelchat-server/internal/auth"
	"github.com/vovakirdan/parcelchat-server/internal/config"
	"github.com/vovakirdan/parcelchat-server/internal/core"
)

// NewServer builds the HTTP server: health check, WebSocket endpoint and REST API.
func NewServer(hub *core.Hub, authService *auth.Service, st HistoryStore, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)
	router.GET("/ws", NewWSHandler(hub, authService, cfg, logger).Handle)

	api := NewAPIHandlers(authService, st, logger)
	apiGroup := router.Group("/api")
	apiGroup.POST("/login", api.Login)

	protected := apiGroup.Group("")
	protected.Use(AuthMiddleware(authService, logger))
	protected.GET("/conversations/:id/messages", api.ConversationMessages)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
