package response

import "github.com/gin-gonic/gin"

const (
	CodeSuccess = 0
)

const (
	ErrUnauthorized = 10001
	ErrTokenExpired = 10002
	ErrForbidden    = 10003
	ErrRateLimited  = 10004
)

const (
	ErrUserNotFound = 20001
	ErrUserMuted    = 20002
)

const (
	ErrChannelNotFound = 30001
	ErrChannelSystem   = 30002
	ErrChannelExists   = 30003
)

const (
	ErrMessageNotFound = 40001
)

const (
	ErrCourseNotFound = 50001
)

const (
	ErrInvalidParams = 90001
	ErrInternal      = 99999
)

type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func Success(c *gin.Context, data any) {
	c.JSON(200, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Fail(c *gin.Context, httpStatus, appCode int, message string) {
	c.JSON(httpStatus, Response{
		Code:    appCode,
		Message: message,
	})
}
