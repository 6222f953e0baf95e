package httpapi

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/attachkeeper/internal/common"
	"github.com/dmitrijs2005/attachkeeper/internal/logging"
	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// traceRequest tags the request context with a trace id and the remote
// address, echoes the id and logs one line per request.
func (s *Server) traceRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		traceID := c.GetHeader(common.TraceIDHeaderName)
		if traceID == "" {
			var err error
			if traceID, err = common.MakeRandHexString(8); err != nil {
				traceID = "unknown"
			}
		}
		c.Header(common.TraceIDHeaderName, traceID)

		ctx := logging.WithFields(c.Request.Context(), "trace_id", traceID, "remote", c.ClientIP())
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		s.logger.Debug(c.Request.Context(), "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		s.logger.Error(c.Request.Context(), "panic recovered", "panic", recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: common.ErrorInternal.Error()})
	})
}

// requireIdentity resolves the caller through the active auth strategy.
func (s *Server) requireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := s.auth.Identify(c.Request.Context(), c.GetHeader(common.AuthorizationHeaderName))
		if err != nil {
			s.fail(c, err)
			return
		}

		c.Set(identityKey, identity)
		c.Request = c.Request.WithContext(logging.WithFields(c.Request.Context(), "identity", identity))
		c.Next()
	}
}
