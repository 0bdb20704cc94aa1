package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/k-code-yt/gogo-lamp/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// NewRouter mounts the API. testLimiter, when set, guards the synthetic
// payment endpoint.
func NewRouter(h *Handler, wsHandler http.Handler, testLimiter gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), metrics.PrometheusMiddleware())

	api := r.Group("/api")
	api.POST("/webhook/payment", h.Webhook)
	if testLimiter != nil {
		api.POST("/test-payment", testLimiter, h.TestPayment)
	} else {
		api.POST("/test-payment", h.TestPayment)
	}
	api.GET("/payments", h.RecentPayments)

	r.GET("/ws", gin.WrapH(wsHandler))
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logrus.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Error("request failed")
			return
		}
		entry.Debug("request")
	}
}
