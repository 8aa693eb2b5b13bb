package v1

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"community-hub/internal/access"
	"community-hub/internal/api/middleware"
	"community-hub/internal/api/response"
	"community-hub/internal/hub"
	"community-hub/internal/model"
	"community-hub/internal/service"
)

type ChannelDirectory interface {
	ListVisible(ctx context.Context, user *model.User) ([]*model.Channel, error)
	ListFree(ctx context.Context, user *model.User) ([]*model.Channel, error)
	ListPremium(ctx context.Context, user *model.User) ([]*model.Channel, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Channel, error)
}

type MessageLog interface {
	ListOrdered(ctx context.Context, channel *model.Channel) ([]model.MessageView, error)
	Edit(ctx context.Context, channelID uuid.UUID, messageID int64, content string, requester *model.User) (bool, error)
	Delete(ctx context.Context, channelID uuid.UUID, messageID int64, requester *model.User) (bool, error)
}

type LeaderboardSource interface {
	Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error)
}

// ChatPoster runs an HTTP-posted message through the same pipeline as the
// socket transports.
type ChatPoster interface {
	HandlePostedEvent(ctx context.Context, userID uuid.UUID, channelID string, event hub.ChatEvent) hub.Outcome
}

type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	CountAll(ctx context.Context) (int64, error)
}

type PresenceView interface {
	AllOnline() []uuid.UUID
	Count() int
}

type CommunityHandler struct {
	channels ChannelDirectory
	messages MessageLog
	users    UserLookup
	presence PresenceView
	levels   LeaderboardSource
	poster   ChatPoster
}

type channelResponse struct {
	*model.Channel
	CanPost bool `json:"can_post"`
}

type editMessageRequest struct {
	Content string `json:"content" binding:"required,max=4000"`
}

type postMessageRequest struct {
	Content string `json:"content" binding:"required,max=4000"`
	ReplyTo *int64 `json:"reply_to" binding:"omitempty,gt=0"`
}

type presenceResponse struct {
	Online       []uuid.UUID `json:"online"`
	OnlineCount  int         `json:"online_count"`
	OfflineCount int64       `json:"offline_count"`
}

func NewCommunityHandler(
	channels ChannelDirectory,
	messages MessageLog,
	users UserLookup,
	presence PresenceView,
	levels LeaderboardSource,
	poster ChatPoster,
) *CommunityHandler {
	return &CommunityHandler{
		channels: channels,
		messages: messages,
		users:    users,
		presence: presence,
		levels:   levels,
		poster:   poster,
	}
}

func RegisterCommunityRoutes(group *gin.RouterGroup, handler *CommunityHandler, auth gin.HandlerFunc) {
	community := group.Group("/community")
	community.Use(auth)

	community.GET("/channels", handler.ListChannels)
	community.GET("/free-channels", handler.ListFreeChannels)
	community.GET("/premium-channels", handler.ListPremiumChannels)
	community.GET("/channels/:id/messages", handler.ListMessages)
	community.POST("/channels/:id/messages", handler.PostMessage)
	community.PUT("/channels/:id/messages/:messageId", handler.EditMessage)
	community.DELETE("/channels/:id/messages/:messageId", handler.DeleteMessage)
	community.GET("/presence", handler.Presence)
	community.GET("/leaderboard", handler.Leaderboard)
}

func (h *CommunityHandler) ListChannels(c *gin.Context) {
	h.listWith(c, h.channels.ListVisible)
}

func (h *CommunityHandler) ListFreeChannels(c *gin.Context) {
	h.listWith(c, h.channels.ListFree)
}

func (h *CommunityHandler) ListPremiumChannels(c *gin.Context) {
	h.listWith(c, h.channels.ListPremium)
}

func (h *CommunityHandler) listWith(
	c *gin.Context,
	list func(ctx context.Context, user *model.User) ([]*model.Channel, error),
) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	channels, err := list(c.Request.Context(), user)
	if err != nil {
		handleServiceError(c, err, response.ErrChannelNotFound)
		return
	}

	out := make([]channelResponse, 0, len(channels))
	for _, channel := range channels {
		out = append(out, channelResponse{Channel: channel, CanPost: access.CanPost(user, channel)})
	}
	response.Success(c, out)
}

// ListMessages returns the ordered history of a channel the caller can view.
// Hidden channels are served here too.
func (h *CommunityHandler) ListMessages(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	channel, ok := h.viewableChannel(c, user)
	if !ok {
		return
	}

	messages, err := h.messages.ListOrdered(c.Request.Context(), channel)
	if err != nil {
		handleServiceError(c, err, response.ErrChannelNotFound)
		return
	}
	response.Success(c, messages)
}

// PostMessage stores and broadcasts a message the same way a socket chat
// frame would be.
func (h *CommunityHandler) PostMessage(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	channelID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	if h.poster == nil {
		response.Fail(c, http.StatusServiceUnavailable, response.ErrInternal, "chat is unavailable")
		return
	}

	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidParams, "invalid request")
		return
	}

	outcome := h.poster.HandlePostedEvent(c.Request.Context(), user.ID, channelID.String(), hub.ChatEvent{
		Content: req.Content,
		ReplyTo: req.ReplyTo,
	})
	if !outcome.Succeeded() {
		handleServiceError(c, outcome.Err, response.ErrChannelNotFound)
		return
	}
	response.Success(c, outcome.Message)
}

func (h *CommunityHandler) EditMessage(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	channel, ok := h.viewableChannel(c, user)
	if !ok {
		return
	}
	messageID, ok := parseInt64Param(c, "messageId")
	if !ok {
		return
	}

	var req editMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidParams, "invalid request")
		return
	}

	updated, err := h.messages.Edit(c.Request.Context(), channel.ID, messageID, req.Content, user)
	if err != nil {
		handleServiceError(c, err, response.ErrMessageNotFound)
		return
	}
	if !updated {
		response.Fail(c, http.StatusNotFound, response.ErrMessageNotFound, "message not found")
		return
	}
	response.Success(c, gin.H{"updated": true, "id": messageID})
}

func (h *CommunityHandler) DeleteMessage(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	channel, ok := h.viewableChannel(c, user)
	if !ok {
		return
	}
	messageID, ok := parseInt64Param(c, "messageId")
	if !ok {
		return
	}

	deleted, err := h.messages.Delete(c.Request.Context(), channel.ID, messageID, user)
	if err != nil {
		handleServiceError(c, err, response.ErrMessageNotFound)
		return
	}
	if !deleted {
		response.Fail(c, http.StatusNotFound, response.ErrMessageNotFound, "message not found")
		return
	}
	response.Success(c, gin.H{"deleted": true, "id": messageID})
}

func (h *CommunityHandler) Presence(c *gin.Context) {
	if _, ok := h.currentUser(c); !ok {
		return
	}

	total, err := h.users.CountAll(c.Request.Context())
	if err != nil {
		handleServiceError(c, err, response.ErrUserNotFound)
		return
	}

	online := h.presence.AllOnline()
	response.Success(c, presenceResponse{
		Online:       online,
		OnlineCount:  len(online),
		OfflineCount: service.OfflineCount(total, len(online)),
	})
}

// Leaderboard lists the top users by level and XP. An optional ?limit
// outside 1..100 falls back to the default size.
func (h *CommunityHandler) Leaderboard(c *gin.Context) {
	if _, ok := h.currentUser(c); !ok {
		return
	}

	limit := model.LeaderboardSize
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidParams, "invalid limit")
			return
		}
		limit = parsed
	}

	entries, err := h.levels.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		handleServiceError(c, err, response.ErrUserNotFound)
		return
	}
	response.Success(c, entries)
}

// currentUser loads the caller fresh so role, level and courses reflect the
// latest purchases rather than the token.
func (h *CommunityHandler) currentUser(c *gin.Context) (*model.User, bool) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "unauthorized")
		return nil, false
	}

	user, err := h.users.GetByID(c.Request.Context(), identity.UserID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "unauthorized")
			return nil, false
		}
		handleServiceError(c, err, response.ErrUserNotFound)
		return nil, false
	}
	return user, true
}

func (h *CommunityHandler) viewableChannel(c *gin.Context, user *model.User) (*model.Channel, bool) {
	channelID, ok := parseUUIDParam(c, "id")
	if !ok {
		return nil, false
	}

	channel, err := h.channels.GetByID(c.Request.Context(), channelID)
	if err != nil {
		handleServiceError(c, err, response.ErrChannelNotFound)
		return nil, false
	}
	if !access.CanView(user, channel) {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden, "forbidden")
		return nil, false
	}
	return channel, true
}
