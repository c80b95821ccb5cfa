package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/slabworks/cardvault-backend/internal/platform/ctxutil"
)

// AttachRequestContext stamps every request with trace identifiers so audit
// events and logs written downstream can be tied back to a request. When a
// tracing span is already on the request (otelgin runs first) its trace id
// wins over a generated one.
func AttachRequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Trace-Id")
		if traceID == "" {
			spanCtx := trace.SpanContextFromContext(c.Request.Context())
			if spanCtx.HasTraceID() {
				traceID = spanCtx.TraceID().String()
			}
		}
		if traceID == "" {
			traceID = uuid.NewString()
		}
		td := &ctxutil.TraceData{
			TraceID:   traceID,
			RequestID: uuid.NewString(),
		}
		c.Request = c.Request.WithContext(ctxutil.WithTraceData(c.Request.Context(), td))
		c.Writer.Header().Set("X-Trace-Id", traceID)
		c.Next()
	}
}
