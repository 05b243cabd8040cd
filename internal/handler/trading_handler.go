package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/venue-simulator/internal/middleware"
	"github.com/venue-simulator/internal/models"
	"github.com/venue-simulator/internal/service"
	"github.com/venue-simulator/pkg/response"
)

// TradingHandler handles trade lifecycle API requests
type TradingHandler struct {
	tradeService *service.TradeService
}

// NewTradingHandler creates a new TradingHandler
func NewTradingHandler(tradeService *service.TradeService) *TradingHandler {
	return &TradingHandler{
		tradeService: tradeService,
	}
}

type futuresTermsRequest struct {
	Leverage     int             `json:"leverage" binding:"required"`
	ExpiryDate   *time.Time      `json:"expiry_date"`
	ContractSize decimal.Decimal `json:"contract_size"`
}

type optionsTermsRequest struct {
	OptionType  models.OptionType `json:"option_type" binding:"required,oneof=CALL PUT"`
	Position    models.Direction  `json:"position" binding:"required,oneof=LONG SHORT"`
	StrikePrice decimal.Decimal   `json:"strike_price" binding:"required"`
	ExpiryDate  time.Time         `json:"expiry_date" binding:"required"`
}

type openTradeRequest struct {
	Symbol      string               `json:"symbol" binding:"required"`
	Name        string               `json:"name"`
	Exchange    string               `json:"exchange"`
	TradeType   models.TradeType     `json:"trade_type" binding:"required,oneof=SPOT FUTURES OPTIONS"`
	HoldingType models.HoldingType   `json:"holding_type" binding:"omitempty,oneof=SHORT_TERM LONG_TERM SWING"`
	Direction   models.Direction     `json:"direction" binding:"required,oneof=LONG SHORT"`
	Quantity    decimal.Decimal      `json:"quantity" binding:"required"`
	Price       decimal.Decimal      `json:"price" binding:"required"`
	OrderType   models.OrderType     `json:"order_type" binding:"omitempty,oneof=MARKET LIMIT"`
	Futures     *futuresTermsRequest `json:"futures_details"`
	Options     *optionsTermsRequest `json:"options_details"`
}

// OpenTrade opens a new trade
// POST /api/v1/trades
func (h *TradingHandler) OpenTrade(c *gin.Context) {
	var req openTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	svcReq := &service.OpenTradeRequest{
		UserID:      middleware.GetUserID(c),
		Symbol:      req.Symbol,
		Name:        req.Name,
		Exchange:    req.Exchange,
		TradeType:   req.TradeType,
		HoldingType: req.HoldingType,
		Direction:   req.Direction,
		Quantity:    req.Quantity,
		Price:       req.Price,
		OrderType:   req.OrderType,
	}
	if req.Futures != nil {
		svcReq.Futures = &service.FuturesTerms{
			Leverage:     req.Futures.Leverage,
			ExpiryDate:   req.Futures.ExpiryDate,
			ContractSize: req.Futures.ContractSize,
		}
	}
	if req.Options != nil {
		svcReq.Options = &service.OptionsTerms{
			OptionType:  req.Options.OptionType,
			Position:    req.Options.Position,
			StrikePrice: req.Options.StrikePrice,
			ExpiryDate:  req.Options.ExpiryDate,
		}
	}

	trade, err := h.tradeService.Open(svcReq)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Created(c, trade)
}

type increaseTradeRequest struct {
	Quantity decimal.Decimal `json:"quantity" binding:"required"`
	Price    decimal.Decimal `json:"price" binding:"required"`
}

// IncreaseTrade adds quantity to an existing trade
// POST /api/v1/trades/:id/increase
func (h *TradingHandler) IncreaseTrade(c *gin.Context) {
	var req increaseTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	trade, err := h.tradeService.Increase(middleware.GetUserID(c), c.Param("id"), req.Quantity, req.Price)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, trade)
}

type closeTradeRequest struct {
	// Quantity omitted or zero closes the full remaining quantity
	Quantity decimal.Decimal `json:"quantity"`
	// Price omitted closes at the current mark from the price feed
	Price decimal.Decimal `json:"price"`
}

// CloseTrade closes part or all of a trade
// POST /api/v1/trades/:id/close
func (h *TradingHandler) CloseTrade(c *gin.Context) {
	var req closeTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	userID := middleware.GetUserID(c)
	tradeID := c.Param("id")

	var trade *models.Trade
	var err error
	switch {
	case req.Price.IsPositive() && req.Quantity.IsPositive():
		trade, err = h.tradeService.Close(userID, tradeID, req.Quantity, req.Price, models.OrderTypeLimit)
	case req.Price.IsPositive():
		trade, err = h.tradeService.CloseFull(userID, tradeID, req.Price, models.OrderTypeLimit)
	case req.Quantity.IsPositive():
		trade, err = h.tradeService.CloseAtMarket(c.Request.Context(), userID, tradeID, req.Quantity)
	default:
		existing, getErr := h.tradeService.Get(userID, tradeID)
		if getErr != nil {
			writeServiceError(c, getErr)
			return
		}
		trade, err = h.tradeService.CloseAtMarket(c.Request.Context(), userID, tradeID, existing.RemainingQuantity)
	}
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, trade)
}

// CancelTrade cancels a pending trade
// POST /api/v1/trades/:id/cancel
func (h *TradingHandler) CancelTrade(c *gin.Context) {
	trade, err := h.tradeService.Cancel(middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, trade)
}

// GetTrade returns one trade
// GET /api/v1/trades/:id
func (h *TradingHandler) GetTrade(c *gin.Context) {
	trade, err := h.tradeService.Get(middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, trade)
}

// ListTrades returns all trades for the authenticated user
// GET /api/v1/trades
func (h *TradingHandler) ListTrades(c *gin.Context) {
	trades, err := h.tradeService.List(middleware.GetUserID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, trades)
}

// GetTradeHistory returns the history ledger for one trade
// GET /api/v1/trades/:id/history
func (h *TradingHandler) GetTradeHistory(c *gin.Context) {
	history, err := h.tradeService.History(middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, history)
}

// GetUserHistory returns the authenticated user's full history, paginated
// GET /api/v1/history?page=1&page_size=50
func (h *TradingHandler) GetUserHistory(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	entries, total, err := h.tradeService.UserHistory(middleware.GetUserID(c), page, pageSize)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.SuccessPaginated(c, entries, total, page, pageSize)
}

// RegisterRoutes registers trade routes, all behind authentication. Mutations
// additionally go through the trading logger.
func (h *TradingHandler) RegisterRoutes(rg *gin.RouterGroup, authMiddleware gin.HandlerFunc) {
	trades := rg.Group("/trades")
	trades.Use(authMiddleware)
	{
		trades.GET("", h.ListTrades)
		trades.GET("/:id", h.GetTrade)
		trades.GET("/:id/history", h.GetTradeHistory)

		mutations := trades.Group("")
		mutations.Use(middleware.TradingLoggerMiddleware())
		{
			mutations.POST("", h.OpenTrade)
			mutations.POST("/:id/increase", h.IncreaseTrade)
			mutations.POST("/:id/close", h.CloseTrade)
			mutations.POST("/:id/cancel", h.CancelTrade)
		}
	}

	history := rg.Group("/history")
	history.Use(authMiddleware)
	{
		history.GET("", h.GetUserHistory)
	}
}
