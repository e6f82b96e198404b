package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roach88/weft/internal/conflict"
	"github.com/roach88/weft/internal/engine"
	"github.com/roach88/weft/internal/graph"
	"github.com/roach88/weft/internal/lock"
)

// Codes the adapter adds on top of the core taxonomy.
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeInternal       = "INTERNAL"
	ErrCodeUnavailable    = "UNAVAILABLE"
)

var statusByCode = map[string]int{
	lock.ErrCodeDenied:                   http.StatusConflict,
	lock.ErrCodeBatchFailure:             http.StatusConflict,
	lock.ErrCodeNotHeld:                  http.StatusForbidden,
	lock.ErrCodeNotTracked:               http.StatusNotFound,
	conflict.ErrCodeHashConflict:         http.StatusConflict,
	graph.ErrCodeFunctionNotFound:        http.StatusNotFound,
	graph.ErrCodeNodeNotFound:            http.StatusNotFound,
	graph.ErrCodeInvalidMutation:         http.StatusBadRequest,
	string(engine.ErrCodeEmptyCommit):    http.StatusBadRequest,
	string(engine.ErrCodeStructuralLock): http.StatusServiceUnavailable,
	string(engine.ErrCodeBuildFailed):    http.StatusUnprocessableEntity,
	ErrCodeInvalidRequest:                http.StatusBadRequest,
	ErrCodeUnavailable:                   http.StatusServiceUnavailable,
}

// errorCode returns err's stable code, falling back to INTERNAL.
func errorCode(err error) string {
	if code := engine.ErrorCode(err); code != "" {
		return code
	}
	return ErrCodeInternal
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// errorDetails extracts the structured part of the errors clients act on.
func errorDetails(err error) any {
	var batch *lock.BatchError
	if errors.As(err, &batch) {
		return batch
	}
	if denied, ok := lock.AsDenied(err); ok {
		return denied
	}
	var hc *conflict.HashConflictError
	if errors.As(err, &hc) {
		return hc.Conflicts
	}
	return nil
}

// writeError renders err with its mapped status.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	code := errorCode(err)
	status := StatusFor(code)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "code", code, "error", err)
	} else {
		logger.Debug("request rejected", "code", code, "error", err)
	}
	c.JSON(status, ErrorResponse{
		Error:   err.Error(),
		Code:    code,
		Details: errorDetails(err),
	})
}

func badRequest(c *gin.Context, logger *slog.Logger, msg string, err error) {
	logger.Warn("invalid request", "error", err)
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: msg + ": " + err.Error(),
		Code:  ErrCodeInvalidRequest,
	})
}
