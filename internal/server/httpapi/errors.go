package httpapi

import (
	"errors"
	"net/http"

	"github.com/dmitrijs2005/attachkeeper/internal/common"
	"github.com/dmitrijs2005/attachkeeper/internal/server/attachments"
	"github.com/dmitrijs2005/attachkeeper/internal/server/auth"
	"github.com/dmitrijs2005/attachkeeper/internal/server/quota"
	"github.com/gin-gonic/gin"
)

// errorResponse is the body of every non-2xx answer.
type errorResponse struct {
	Error     string   `json:"error"`
	Invalid   []string `json:"invalid,omitempty"`
	Remaining *int64   `json:"remaining,omitempty"`
}

// classify maps a failure to its status code, metric reason and body.
// Internal failures get a generic message; details stay in the log.
func classify(err error) (int, string, errorResponse) {
	var (
		invalid  *attachments.InvalidRecipientError
		parse    *attachments.ExpiryParseError
		expired  *attachments.ExpiredError
		denied   *attachments.AccessDeniedError
		noQuota  *quota.InsufficientQuotaError
		tooLarge *http.MaxBytesError
	)

	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest, "invalid_recipient", errorResponse{Error: err.Error(), Invalid: invalid.Invalid}
	case errors.Is(err, attachments.ErrPayloadTooLarge), errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "payload_too_large", errorResponse{Error: attachments.ErrPayloadTooLarge.Error()}
	case errors.As(err, &parse), errors.As(err, &expired):
		return http.StatusBadRequest, "bad_expiry", errorResponse{Error: err.Error()}
	case errors.As(err, &noQuota):
		remaining := noQuota.Remaining
		return http.StatusInsufficientStorage, "insufficient_quota", errorResponse{Error: err.Error(), Remaining: &remaining}
	case errors.Is(err, attachments.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited", errorResponse{Error: err.Error()}
	case errors.Is(err, attachments.ErrNotFound):
		return http.StatusNotFound, "not_found", errorResponse{Error: err.Error()}
	case errors.As(err, &denied):
		return http.StatusUnauthorized, "access_denied", errorResponse{Error: err.Error()}
	case errors.Is(err, quota.ErrCommunication):
		return http.StatusInternalServerError, "quota_unavailable", errorResponse{Error: "quota service unavailable"}
	case errors.Is(err, common.ErrorUnauthorized):
		return http.StatusUnauthorized, "unauthenticated", errorResponse{Error: common.ErrorUnauthorized.Error()}
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request", errorResponse{Error: err.Error()}
	case errors.Is(err, attachments.ErrStorageWrite):
		return http.StatusInternalServerError, "storage", errorResponse{Error: attachments.ErrStorageWrite.Error()}
	default:
		return http.StatusInternalServerError, "internal", errorResponse{Error: common.ErrorInternal.Error()}
	}
}

var errBadRequest = errors.New("bad request")

// fail writes the error response, counts the rejection and logs server
// side failures with their cause.
func (s *Server) fail(c *gin.Context, err error) {
	status, reason, body := classify(err)
	s.metrics.Rejected(reason)

	ctx := c.Request.Context()
	if status >= http.StatusInternalServerError {
		s.logger.Error(ctx, "request failed", "reason", reason, "error", err)
	} else {
		s.logger.Info(ctx, "request rejected", "reason", reason, "error", err)
	}

	if status == http.StatusUnauthorized && reason == "unauthenticated" && s.auth.Current().Name() != auth.ModeBearer {
		c.Header("WWW-Authenticate", `Basic realm="attachkeeper"`)
	}
	c.AbortWithStatusJSON(status, body)
}
