package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/rabbitreels/autoscaler/pkg/models"
)

const TraceIDHeader = "X-Trace-ID"

// TraceID attaches a per-request trace id, honoring one supplied by the
// caller so traces span the monitor and controller APIs.
func TraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceIDHeader)
		if traceID == "" {
			traceID = models.NewUUID()
		}

		c.Set("trace_id", traceID)
		c.Header(TraceIDHeader, traceID)

		c.Next()
	}
}

func GetTraceID(c *gin.Context) string {
	traceID, _ := c.Get("trace_id")
	if s, ok := traceID.(string); ok {
		return s
	}
	return ""
}
