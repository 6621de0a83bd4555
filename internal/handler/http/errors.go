package http

import (
	"errors"
	"net/http"

	"collaborative-whiteboard/internal/domain"
	"collaborative-whiteboard/internal/hub"
	"collaborative-whiteboard/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// HandleServiceError 把业务错误映射为 HTTP 状态码
func HandleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRoom), errors.Is(err, service.ErrInvalidInput):
		ErrorResponse(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrInvalidTicket):
		ErrorResponse(c, http.StatusUnauthorized, "invalid or expired ticket")
	case errors.Is(err, domain.ErrAccessDenied):
		ErrorResponse(c, http.StatusForbidden, service.RejectionReason(err))
	case errors.Is(err, domain.ErrRoomNotFound):
		ErrorResponse(c, http.StatusNotFound, "room not found")
	case errors.Is(err, domain.ErrRoomExists):
		ErrorResponse(c, http.StatusConflict, "room already exists")
	case errors.Is(err, hub.ErrHubStopped):
		ErrorResponse(c, http.StatusServiceUnavailable, "server is shutting down")
	default:
		// Log the internal error for debugging
		logrus.WithError(err).Error("Unhandled internal server error")
		ErrorResponse(c, http.StatusInternalServerError, "An unexpected error occurred")
	}
}
