package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/venue-simulator/internal/service"
	"github.com/venue-simulator/pkg/response"
)

// writeServiceError maps a service error onto the HTTP response. Unrecognized
// errors become a 500 with a generic message so internals never leak.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrTradeNotFound):
		response.NotFound(c, "trade not found")
	case errors.Is(err, service.ErrInvalidTrade):
		response.BadRequest(c, err.Error())
	case errors.Is(err, service.ErrInsufficientFunds):
		response.Rejected(c, -2001, err.Error())
	case errors.Is(err, service.ErrMarketClosed):
		response.Conflict(c, -2002, err.Error())
	case errors.Is(err, service.ErrPositionLimitExceeded):
		response.Rejected(c, -2003, err.Error())
	case errors.Is(err, service.ErrLeverageLimitExceeded):
		response.Rejected(c, -2004, err.Error())
	case errors.Is(err, service.ErrTransient):
		response.Unavailable(c, -2005, "temporarily unavailable, retry")
	default:
		response.InternalError(c, "internal error")
	}
}
