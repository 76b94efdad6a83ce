// Package respond maps the error taxonomy of the register services onto HTTP
// responses and holds the small request helpers shared by the API handlers.
//
// Status codes:
//
//	*objects.ValidationError      422  {"message", "errors": [{field, message}]}
//	*objects.LockConflictError    423  {"message", "holder", "expiresAt"}
//	objects.ErrNotAuthorized      401
//	objects.ErrNotFound           404
//	objects.ErrAlreadyExists      409
//	objects.ErrInvalidInput       400
//	storage.ErrNotExist           404
//	registry.ErrNoExportStore     501
//	*validation.ReferenceError    500  {"message", "reason", "ref", "field"}
//	anything else                 500
package respond

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/openregister/openregister/internal/objects"
	"github.com/openregister/openregister/internal/registry"
	"github.com/openregister/openregister/internal/storage"
	"github.com/openregister/openregister/internal/validation"
)

// Error writes the response for err and aborts the handler chain
func Error(c *gin.Context, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		slog.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, body)
}

func classify(err error) (int, gin.H) {
	var (
		verr *objects.ValidationError
		lerr *objects.LockConflictError
		rerr *validation.ReferenceError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity, gin.H{"message": "validation failed", "errors": verr.Errors}
	case errors.As(err, &lerr):
		return http.StatusLocked, gin.H{"message": lerr.Error(), "holder": lerr.Holder, "expiresAt": lerr.ExpiresAt}
	case errors.Is(err, objects.ErrNotAuthorized):
		return http.StatusUnauthorized, gin.H{"message": err.Error()}
	case errors.Is(err, objects.ErrNotFound), errors.Is(err, storage.ErrNotExist):
		return http.StatusNotFound, gin.H{"message": err.Error()}
	case errors.Is(err, objects.ErrAlreadyExists):
		return http.StatusConflict, gin.H{"message": err.Error()}
	case errors.Is(err, objects.ErrInvalidInput):
		return http.StatusBadRequest, gin.H{"message": err.Error()}
	case errors.Is(err, registry.ErrNoExportStore):
		return http.StatusNotImplemented, gin.H{"message": err.Error()}
	case errors.As(err, &rerr):
		return http.StatusInternalServerError, gin.H{
			"message": "schema configuration error",
			"reason":  rerr.Error(),
			"ref":     rerr.Ref,
			"field":   rerr.Field,
		}
	default:
		return http.StatusInternalServerError, gin.H{"message": "internal server error"}
	}
}

// BadRequest aborts with 400 and message
func BadRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": message})
}

// Paging reads _limit and _offset. Missing values use the defaults; invalid
// or negative values are an error.
func Paging(c *gin.Context, defaultLimit, maxLimit int) (limit, offset int, err error) {
	limit, err = nonNegative(c, "_limit", defaultLimit)
	if err != nil {
		return 0, 0, err
	}
	if limit == 0 {
		limit = defaultLimit
	}
	limit = min(limit, maxLimit)
	offset, err = nonNegative(c, "_offset", 0)
	return limit, offset, err
}

func nonNegative(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return n, nil
}

// IsTrue reports whether query parameter key is "true" or "1"
func IsTrue(c *gin.Context, key string) bool {
	v := c.Query(key)
	return v == "true" || v == "1"
}

// List is the envelope of plain paged listings
type List[T any] struct {
	Results []T `json:"results"`
	Total   int `json:"total"`
	Limit   int `json:"limit,omitempty"`
	Offset  int `json:"offset"`
}
