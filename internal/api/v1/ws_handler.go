package v1

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"community-hub/internal/api/middleware"
	"community-hub/internal/api/response"
	hubpkg "community-hub/internal/hub"
)

type WSHandler struct {
	hub      *hubpkg.Hub
	verifier middleware.TokenVerifier
	logger   *zap.Logger

	upgrader websocket.Upgrader
}

func NewWSHandler(h *hubpkg.Hub, verifier middleware.TokenVerifier, allowedOrigins []string, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		hub:      h,
		verifier: verifier,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func RegisterWSRoutes(router gin.IRoutes, handler *WSHandler, limiter gin.HandlerFunc) {
	if limiter != nil {
		router.GET("/ws/chat", limiter, handler.Chat)
		return
	}
	router.GET("/ws/chat", handler.Chat)
}

// Chat upgrades the connection. A missing token gives an anonymous
// connection; a token that fails verification is refused before upgrade.
func (h *WSHandler) Chat(c *gin.Context) {
	if h.hub == nil {
		response.Fail(c, http.StatusServiceUnavailable, response.ErrInternal, "hub unavailable")
		return
	}

	userID := uuid.Nil
	if token := middleware.TokenFromRequest(c); token != "" {
		if h.verifier == nil {
			response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "unauthorized")
			return
		}
		identity, err := h.verifier.Verify(token)
		if err != nil {
			response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "unauthorized")
			return
		}
		userID = identity.UserID
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := hubpkg.NewChatClient(userID, conn, h.hub)
	h.hub.Register(client)
	client.Start()
}

// originChecker allows any origin when the list is empty or contains "*".
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		if origin != "" {
			set[origin] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		origin := strings.TrimRight(strings.TrimSpace(r.Header.Get("Origin")), "/")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
