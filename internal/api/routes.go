package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	internalapi "community-hub/internal/api/internal"
	"community-hub/internal/api/middleware"
	v1 "community-hub/internal/api/v1"
	"community-hub/internal/hub"
	"community-hub/internal/presence"
	"community-hub/internal/service"
)

type RouteDeps struct {
	Auth           *service.AuthService
	Users          *service.UserService
	Channels       *service.ChannelService
	Messages       *service.MessageService
	Levels         *service.LevelService
	Presence       *presence.Tracker
	Hub            *hub.Hub
	Pipeline       *hub.ChatPipeline
	InternalToken  string
	AllowedOrigins []string
	WSConnectLimit int
	Logger         *zap.Logger
}

// RegisterRoutes mounts the community API, the admin API, the chat socket
// and the internal endpoints on router.
func RegisterRoutes(router *gin.Engine, deps RouteDeps) {
	auth := middleware.JWTAuth(deps.Auth)
	group := router.Group("/api/v1")

	var poster v1.ChatPoster
	if deps.Pipeline != nil {
		poster = deps.Pipeline
	}
	v1.RegisterCommunityRoutes(group, v1.NewCommunityHandler(
		deps.Channels,
		deps.Messages,
		deps.Users,
		deps.Presence,
		deps.Levels,
		poster,
	), auth)

	v1.RegisterAdminRoutes(group, v1.NewAdminHandler(
		deps.Levels,
		deps.Users,
		deps.Channels,
		deps.Messages,
		deps.Logger,
	), auth)

	limiter := middleware.NewRateLimiter(deps.WSConnectLimit, time.Minute)
	v1.RegisterWSRoutes(router, v1.NewWSHandler(
		deps.Hub,
		deps.Auth,
		deps.AllowedOrigins,
		deps.Logger,
	), limiter.Middleware("ip"))

	internalAuth := middleware.InternalTokenAuth(deps.InternalToken, false)
	internalapi.RegisterPurchaseRoutes(router, internalapi.NewPurchaseHandler(deps.Users, deps.Logger), internalAuth)
	router.GET("/internal/metrics", internalAuth, gin.WrapH(promhttp.Handler()))
}
