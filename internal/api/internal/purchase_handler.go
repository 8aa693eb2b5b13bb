package internalapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"community-hub/internal/api/response"
	"community-hub/internal/api/sanitize"
	"community-hub/internal/model"
	"community-hub/internal/service"
)

type PurchaseRecorder interface {
	RecordPurchase(ctx context.Context, userID, courseID uuid.UUID, externalRef string) (*model.User, error)
}

// PurchaseHandler is the bookkeeping end of the payment webhook: it links a
// paid course to the buyer.
type PurchaseHandler struct {
	users  PurchaseRecorder
	logger *zap.Logger
}

type recordPurchaseRequest struct {
	UserID      string `json:"user_id" binding:"required,uuid"`
	CourseID    string `json:"course_id" binding:"required,uuid"`
	ExternalRef string `json:"external_ref" binding:"max=255"`
}

type purchaseResponse struct {
	UserID    uuid.UUID      `json:"user_id"`
	Role      model.UserRole `json:"role"`
	CourseIDs []uuid.UUID    `json:"course_ids"`
}

func NewPurchaseHandler(users PurchaseRecorder, logger *zap.Logger) *PurchaseHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PurchaseHandler{users: users, logger: logger}
}

func RegisterPurchaseRoutes(router gin.IRoutes, handler *PurchaseHandler, auth gin.HandlerFunc) {
	router.POST("/internal/purchases", auth, handler.Record)
}

func (h *PurchaseHandler) Record(c *gin.Context) {
	var req recordPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidParams, "invalid request")
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidParams, "invalid user_id")
		return
	}
	courseID, err := uuid.Parse(req.CourseID)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidParams, "invalid course_id")
		return
	}

	user, err := h.users.RecordPurchase(c.Request.Context(), userID, courseID, sanitize.Text(req.ExternalRef))
	if err != nil {
		handlePurchaseError(c, err)
		return
	}

	h.logger.Info("course purchase recorded",
		zap.String("user_id", user.ID.String()),
		zap.String("course_id", courseID.String()),
		zap.String("role", string(user.Role)),
	)
	response.Success(c, purchaseResponse{
		UserID:    user.ID,
		Role:      user.Role,
		CourseIDs: user.CourseIDs,
	})
}

func handlePurchaseError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrCourseNotFound, "user or course not found")
	case errors.Is(err, service.ErrInvalidInput):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidParams, "invalid request")
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal, "internal server error")
	}
}
