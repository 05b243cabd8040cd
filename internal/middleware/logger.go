package middleware

import (
	"bytes"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/venue-simulator/pkg/logger"
)

// RequestLoggerMiddleware logs all incoming requests
// For GET requests: logs only the full URL with query parameters
// For other requests: logs basic info (full logging handled by TradingLoggerMiddleware)
func RequestLoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		// Build full URL
		fullURL := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			fullURL = fullURL + "?" + c.Request.URL.RawQuery
		}

		// Process request
		c.Next()

		// Calculate latency
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()

		// Log format: METHOD URL | status | latency
		if statusCode >= 400 {
			logger.Error("%s %s | status=%d | latency=%v",
				c.Request.Method, fullURL, statusCode, latency)
		} else {
			logger.Info("%s %s | status=%d | latency=%v",
				c.Request.Method, fullURL, statusCode, latency)
		}
	}
}

// TradingLoggerMiddleware logs complete request details for trade mutations
// Records: full URL with query, the caller's identity headers, and body
// Use this for: opening, closing, and cancelling trades
func TradingLoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		// Read and restore request body
		var bodyBytes []byte
		if c.Request.Body != nil {
			bodyBytes, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
		}

		// Build full URL
		fullURL := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			fullURL = fullURL + "?" + c.Request.URL.RawQuery
		}

		// Authorization header with token masked (show scheme + first 8 chars)
		authStr := "(none)"
		if val := c.GetHeader("Authorization"); val != "" {
			if len(val) > 20 {
				val = val[:20] + "***"
			}
			authStr = val
		}

		// Body string
		bodyStr := string(bodyBytes)
		if bodyStr == "" {
			bodyStr = "(empty)"
		} else if len(bodyStr) > 1000 {
			bodyStr = bodyStr[:1000] + "..."
		}

		// Log trading request details
		logger.Info("====== TRADING REQUEST ======")
		logger.Info("TIME: %s", startTime.Format("2006-01-02 15:04:05.000"))
		logger.Info("URL: %s %s", c.Request.Method, fullURL)
		logger.Info("AUTH: %s", authStr)
		logger.Info("BODY: %s", bodyStr)

		// Process request
		c.Next()

		// Log response
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		logger.Info("RESPONSE: status=%d | latency=%v", statusCode, latency)
		logger.Info("=============================")
	}
}
