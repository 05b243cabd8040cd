package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/venue-simulator/internal/ports"
	"github.com/venue-simulator/internal/pricefeed"
	"github.com/venue-simulator/internal/worker"
	"github.com/venue-simulator/pkg/response"
)

// PriceHandler handles market data and scheduler status API requests
type PriceHandler struct {
	feed      *pricefeed.Feed
	scheduler *worker.Scheduler
}

// NewPriceHandler creates a new PriceHandler
func NewPriceHandler(feed *pricefeed.Feed, scheduler *worker.Scheduler) *PriceHandler {
	return &PriceHandler{
		feed:      feed,
		scheduler: scheduler,
	}
}

// GetPrice returns the current mark price for a symbol
// GET /api/v1/prices/:symbol
func (h *PriceHandler) GetPrice(c *gin.Context) {
	symbol := c.Param("symbol")

	price, err := h.feed.Current(c.Request.Context(), symbol)
	if err != nil {
		if errors.Is(err, ports.ErrPriceNotFound) {
			response.NotFound(c, "no price for symbol "+symbol)
			return
		}
		response.InternalError(c, "price feed unavailable")
		return
	}

	response.Success(c, gin.H{
		"symbol": symbol,
		"price":  price,
	})
}

// GetSchedulerStatus returns the state of the reconciliation jobs
// GET /api/v1/system/scheduler
func (h *PriceHandler) GetSchedulerStatus(c *gin.Context) {
	response.Success(c, gin.H{
		"feed_connected": h.feed.IsConnected(),
		"jobs":           h.scheduler.Status(),
	})
}

// RegisterRoutes registers market data and system routes
func (h *PriceHandler) RegisterRoutes(rg *gin.RouterGroup) {
	prices := rg.Group("/prices")
	{
		prices.GET("/:symbol", h.GetPrice)
	}

	system := rg.Group("/system")
	{
		system.GET("/scheduler", h.GetSchedulerStatus)
	}
}
