package middleware

import (
	"errors"

	"callscope/internal/core/domain"
	"callscope/internal/core/services"
	"callscope/pkg/circuitbreaker"
	apperrors "callscope/pkg/errors"
	"callscope/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MapError converts an error from the core or infrastructure into the
// AppError rendered to clients.
func MapError(err error) *apperrors.AppError {
	if appErr, ok := apperrors.As(err); ok {
		return appErr
	}
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrRecordNotFound):
		return apperrors.NotFound(err)
	case errors.Is(err, domain.ErrSessionExists), errors.Is(err, domain.ErrSessionEnded):
		return apperrors.Conflict(err)
	case errors.Is(err, services.ErrInvalidToken),
		errors.Is(err, services.ErrExpiredToken),
		errors.Is(err, services.ErrUnauthorized):
		return apperrors.Unauthorized(err)
	case errors.Is(err, services.ErrForbidden):
		return apperrors.Forbidden(err)
	case errors.Is(err, circuitbreaker.ErrOpen), errors.Is(err, services.ErrAnalyticsClosed):
		return apperrors.ServiceUnavailable(err)
	default:
		return apperrors.Internal(err)
	}
}

// ErrorHandlerMiddleware renders the last error attached with c.Error.
func ErrorHandlerMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		appErr := MapError(err)
		requestID := logger.RequestID(c.Request.Context())

		if appErr.HTTPStatus >= 500 {
			log.Errorw("request failed",
				"code", appErr.Code,
				"status", appErr.HTTPStatus,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"request_id", requestID,
				"error", err,
			)
		} else {
			log.Debugw("request rejected",
				"code", appErr.Code,
				"status", appErr.HTTPStatus,
				"path", c.Request.URL.Path,
				"error", err,
			)
		}

		body := gin.H{
			"error":   string(appErr.Code),
			"message": appErr.Message,
		}
		if len(appErr.Details) > 0 {
			body["details"] = appErr.Details
		}
		if requestID != "" {
			body["request_id"] = requestID
		}
		c.JSON(appErr.HTTPStatus, body)
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Errorw("panic recovered",
					"panic", r,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				c.AbortWithStatusJSON(500, gin.H{
					"error":   string(apperrors.ErrCodeInternal),
					"message": "internal error",
				})
			}
		}()

		c.Next()
	}
}
