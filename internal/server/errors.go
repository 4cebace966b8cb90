package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/billfold/internal/errs"
)

var (
	ErrNotFound    = errs.NotFound("not_found", "resource not found")
	errRateLimited = errs.RateLimited("transfer_limit", "too many transfers, slow down")
)

type errorBody struct {
	Kind    string         `json:"kind"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// AbortWithError maps the error taxonomy onto HTTP status codes. Unknown
// errors are masked as a plain 500.
func AbortWithError(c *gin.Context, err error) {
	var typed *errs.Error
	if !errors.As(err, &typed) {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": errorBody{
			Kind:    string(errs.KindUnknown),
			Code:    "internal_error",
			Message: "internal error",
		}})
		return
	}

	c.AbortWithStatusJSON(statusFor(typed.Kind), gin.H{"error": errorBody{
		Kind:    string(typed.Kind),
		Code:    typed.Code,
		Message: typed.Message,
		Meta:    typed.Meta,
	}})
}

func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindDuplicate, errs.KindAlreadyOwned:
		return http.StatusConflict
	case errs.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case errs.KindRateLimited:
		return http.StatusTooManyRequests
	case errs.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func invalidRequestError() *errs.Error {
	return errs.Validation("invalid_request", "request body could not be parsed")
}

func newValidationError(field, code, message string) *errs.Error {
	err := errs.Validation(code, message)
	err.Meta = map[string]any{"field": field}
	return err
}
