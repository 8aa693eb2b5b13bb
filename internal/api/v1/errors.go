package v1

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"community-hub/internal/api/response"
	"community-hub/internal/service"
)

// handleServiceError maps the service error kinds onto HTTP responses.
// notFoundCode names the missing resource.
func handleServiceError(c *gin.Context, err error, notFoundCode int) {
	switch {
	case errors.Is(err, service.ErrAuthentication):
		response.Fail(c, http.StatusUnauthorized, response.ErrUnauthorized, "unauthorized")
	case errors.Is(err, service.ErrPermission):
		response.Fail(c, http.StatusForbidden, response.ErrForbidden, "forbidden")
	case errors.Is(err, service.ErrNotFound):
		response.Fail(c, http.StatusNotFound, notFoundCode, "not found")
	case errors.Is(err, service.ErrInvalidInput):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidParams, err.Error())
	case errors.Is(err, service.ErrConflict):
		response.Fail(c, http.StatusConflict, response.ErrChannelExists, "already exists")
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal, "internal server error")
	}
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(c.Param(name)))
	if err != nil || id == uuid.Nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidParams, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Param(name)), 10, 64)
	if err != nil || id <= 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidParams, "invalid "+name)
		return 0, false
	}
	return id, true
}
