package httpapi

import (
	"errors"
	"net/http"

	"connect-platform/internal/availability"
	"connect-platform/internal/broker"
	"connect-platform/internal/history"
	"connect-platform/internal/ledger"
	"connect-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Stable error codes returned alongside the HTTP status.
const (
	codeInvalidArgument   = "invalid_argument"
	codeNotFound          = "not_found"
	codeUnavailable       = "counterpart_unavailable"
	codeConflict          = "conflict"
	codeInsufficientFunds = "insufficient_funds"
	codePaymentDeclined   = "payment_declined"
	codeForbidden         = "forbidden"
	codeInternal          = "internal"
)

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, broker.ErrInvalidArgument),
		errors.Is(err, ledger.ErrInvalidArgument),
		errors.Is(err, history.ErrInvalidRequest):
		return http.StatusBadRequest, codeInvalidArgument
	case errors.Is(err, broker.ErrNotFound),
		errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, availability.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, broker.ErrUnavailable):
		return http.StatusConflict, codeUnavailable
	case errors.Is(err, broker.ErrConflict):
		return http.StatusConflict, codeConflict
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusPaymentRequired, codeInsufficientFunds
	case errors.Is(err, ledger.ErrPaymentDeclined):
		return http.StatusPaymentRequired, codePaymentDeclined
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

// writeError maps a service error to a response. Internal errors are logged
// and replaced with a generic message.
func writeError(c *gin.Context, err error, extra gin.H) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "err", err)
		_ = c.Error(err)
		msg = "internal error"
	}
	body := gin.H{"error": msg, "code": code}
	for k, v := range extra {
		body[k] = v
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "code": codeInvalidArgument})
}

func forbidden(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": msg, "code": codeForbidden})
}
