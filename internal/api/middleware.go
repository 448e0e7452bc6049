package api

import (
	"strconv"
	"time"

	"fulfillment-service/internal/reqctx"
	"fulfillment-service/internal/util"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const (
	headerRequestID      = "X-Request-Id"
	headerActorID        = "X-Actor-Id"
	headerIdempotencyKey = "Idempotency-Key"
)

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Requested-With", headerRequestID, headerActorID, headerIdempotencyKey},
		ExposeHeaders: []string{headerRequestID},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

func tracingMiddleware() gin.HandlerFunc {
	return otelgin.Middleware(util.ServiceName)
}

// requestContextMiddleware reads the request headers once and stores them on
// the request context. A request id is generated when the client sends none.
func requestContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		rd := &reqctx.RequestData{
			RequestID:      c.GetHeader(headerRequestID),
			ActorID:        c.GetHeader(headerActorID),
			IdempotencyKey: c.GetHeader(headerIdempotencyKey),
		}
		if rd.RequestID == "" {
			rd.RequestID = uuid.NewString()
		}
		c.Header(headerRequestID, rd.RequestID)
		c.Request = c.Request.WithContext(reqctx.WithRequestData(c.Request.Context(), rd))
		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		util.LoggerFromContext(c.Request.Context(), logger).Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
