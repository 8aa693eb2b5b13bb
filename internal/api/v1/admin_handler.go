package v1

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"community-hub/internal/api/middleware"
	"community-hub/internal/api/response"
	"community-hub/internal/api/sanitize"
	"community-hub/internal/model"
	"community-hub/internal/service"
)

type XPGranter interface {
	AddXP(ctx context.Context, userID uuid.UUID, delta int) (*service.LevelChange, error)
}

type UserModerator interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	SetMuted(ctx context.Context, id uuid.UUID, muted bool) error
	SetRole(ctx context.Context, id uuid.UUID, role model.UserRole) error
}

type MessageModerator interface {
	Remove(ctx context.Context, messageID int64, requester *model.User) (bool, error)
}

type ChannelAdmin interface {
	Create(ctx context.Context, req service.CreateChannelRequest) (*model.Channel, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type AdminHandler struct {
	levels   XPGranter
	users    UserModerator
	channels ChannelAdmin
	messages MessageModerator
	logger   *zap.Logger
}

type grantXPRequest struct {
	Amount int `json:"amount" binding:"required,gt=0,lte=1000000"`
}

type muteRequest struct {
	Muted *bool `json:"muted" binding:"required"`
}

type setRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

type createChannelRequest struct {
	Name        string  `json:"name" binding:"required,max=64"`
	AccessLevel string  `json:"access_level" binding:"required,oneof=open readonly admin-only level course"`
	MinLevel    *int    `json:"min_level" binding:"omitempty,gte=0,lte=100"`
	CourseID    *string `json:"course_id" binding:"omitempty,uuid"`
	Hidden      bool    `json:"hidden"`
	System      bool    `json:"system"`
}

func NewAdminHandler(
	levels XPGranter,
	users UserModerator,
	channels ChannelAdmin,
	messages MessageModerator,
	logger *zap.Logger,
) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{
		levels:   levels,
		users:    users,
		channels: channels,
		messages: messages,
		logger:   logger,
	}
}

func RegisterAdminRoutes(group *gin.RouterGroup, handler *AdminHandler, auth gin.HandlerFunc) {
	admin := group.Group("/admin")
	admin.Use(auth, middleware.RequireRole(model.UserRoleAdmin))

	admin.POST("/users/:id/xp", handler.GrantXP)
	admin.PUT("/users/:id/mute", handler.SetMuted)
	admin.PUT("/users/:id/role", handler.SetRole)
	admin.POST("/channels", handler.CreateChannel)
	admin.DELETE("/channels/:id", handler.DeleteChannel)
	admin.DELETE("/messages/:messageId", handler.RemoveMessage)
}

func (h *AdminHandler) GrantXP(c *gin.Context) {
	userID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req grantXPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidParams, "invalid request")
		return
	}

	change, err := h.levels.AddXP(c.Request.Context(), userID, req.Amount)
	if err != nil {
		handleServiceError(c, err, response.ErrUserNotFound)
		return
	}

	h.logger.Info("admin granted xp",
		zap.String("user_id", userID.String()),
		zap.String("admin_id", adminID(c)),
		zap.Int("amount", req.Amount),
		zap.Int("level", change.After.Level),
	)
	response.Success(c, change)
}

func (h *AdminHandler) SetMuted(c *gin.Context) {
	userID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidParams, "invalid request")
		return
	}

	if err := h.users.SetMuted(c.Request.Context(), userID, *req.Muted); err != nil {
		handleServiceError(c, err, response.ErrUserNotFound)
		return
	}

	h.logger.Info("admin changed mute flag",
		zap.String("user_id", userID.String()),
		zap.String("admin_id", adminID(c)),
		zap.Bool("muted", *req.Muted),
	)
	response.Success(c, gin.H{"id": userID, "muted": *req.Muted})
}

func (h *AdminHandler) SetRole(c *gin.Context) {
	userID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req setRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidParams, "invalid request")
		return
	}
	role := model.UserRole(strings.ToUpper(strings.TrimSpace(req.Role)))
	if !role.Valid() {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidParams, "invalid role")
		return
	}

	if err := h.users.SetRole(c.Request.Context(), userID, role); err != nil {
		handleServiceError(c, err, response.ErrUserNotFound)
		return
	}

	h.logger.Info("admin changed role",
		zap.String("user_id", userID.String()),
		zap.String("admin_id", adminID(c)),
		zap.String("role", string(role)),
	)
	response.Success(c, gin.H{"id": userID, "role": role})
}

func (h *AdminHandler) CreateChannel(c *gin.Context) {
	var req createChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidParams, "invalid request")
		return
	}

	create := service.CreateChannelRequest{
		Name:        sanitize.ChatText(req.Name),
		AccessLevel: req.AccessLevel,
		MinLevel:    req.MinLevel,
		Hidden:      req.Hidden,
		System:      req.System,
	}
	if req.CourseID != nil && strings.TrimSpace(*req.CourseID) != "" {
		courseID, err := uuid.Parse(strings.TrimSpace(*req.CourseID))
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidParams, "invalid course_id")
			return
		}
		create.CourseID = &courseID
	}

	channel, err := h.channels.Create(c.Request.Context(), create)
	if err != nil {
		handleServiceError(c, err, response.ErrCourseNotFound)
		return
	}
	response.Success(c, channel)
}

func (h *AdminHandler) DeleteChannel(c *gin.Context) {
	channelID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.channels.Delete(c.Request.Context(), channelID); err != nil {
		handleServiceError(c, err, response.ErrChannelNotFound)
		return
	}
	response.Success(c, gin.H{"deleted": true, "id": channelID})
}

// RemoveMessage deletes any message regardless of channel or sender.
func (h *AdminHandler) RemoveMessage(c *gin.Context) {
	messageID, ok := parseInt64Param(c, "messageId")
	if !ok {
		return
	}
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "unauthorized")
		return
	}

	requester, err := h.users.GetByID(c.Request.Context(), identity.UserID)
	if err != nil {
		handleServiceError(c, err, response.ErrUserNotFound)
		return
	}

	removed, err := h.messages.Remove(c.Request.Context(), messageID, requester)
	if err != nil {
		handleServiceError(c, err, response.ErrMessageNotFound)
		return
	}
	if !removed {
		response.Fail(c, http.StatusNotFound, response.ErrMessageNotFound, "message not found")
		return
	}
	response.Success(c, gin.H{"deleted": true, "id": messageID})
}

func adminID(c *gin.Context) string {
	if identity, ok := middleware.GetIdentity(c); ok {
		return identity.UserID.String()
	}
	return ""
}
