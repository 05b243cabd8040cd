package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/venue-simulator/internal/middleware"
	"github.com/venue-simulator/internal/service"
	"github.com/venue-simulator/pkg/response"
)

// PortfolioHandler handles portfolio and wallet API requests
type PortfolioHandler struct {
	portfolioService *service.PortfolioService
	balanceService   *service.BalanceService
}

// NewPortfolioHandler creates a new PortfolioHandler
func NewPortfolioHandler(portfolioService *service.PortfolioService, balanceService *service.BalanceService) *PortfolioHandler {
	return &PortfolioHandler{
		portfolioService: portfolioService,
		balanceService:   balanceService,
	}
}

// GetPortfolio returns the authenticated user's portfolio aggregate
// GET /api/v1/portfolio
func (h *PortfolioHandler) GetPortfolio(c *gin.Context) {
	portfolio, err := h.portfolioService.Get(middleware.GetUserID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, portfolio)
}

// RefreshPortfolio forces a recompute and returns the fresh aggregate
// POST /api/v1/portfolio/refresh
func (h *PortfolioHandler) RefreshPortfolio(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if err := h.portfolioService.Recompute(userID); err != nil {
		writeServiceError(c, err)
		return
	}

	portfolio, err := h.portfolioService.Get(userID)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, portfolio)
}

// GetSnapshots returns the user's daily snapshot series, oldest first
// GET /api/v1/portfolio/snapshots?limit=90
func (h *PortfolioHandler) GetSnapshots(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "90"))
	if limit < 1 || limit > 1000 {
		limit = 90
	}

	snapshots, err := h.portfolioService.Snapshots(middleware.GetUserID(c), limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, snapshots)
}

// GetBalance returns the authenticated user's wallet balance
// GET /api/v1/wallet
func (h *PortfolioHandler) GetBalance(c *gin.Context) {
	balance, err := h.balanceService.Balance(middleware.GetUserID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}

	response.Success(c, gin.H{
		"currency": "USDT",
		"balance":  balance,
	})
}

// RegisterRoutes registers portfolio and wallet routes, all behind authentication
func (h *PortfolioHandler) RegisterRoutes(rg *gin.RouterGroup, authMiddleware gin.HandlerFunc) {
	portfolio := rg.Group("/portfolio")
	portfolio.Use(authMiddleware)
	{
		portfolio.GET("", h.GetPortfolio)
		portfolio.POST("/refresh", h.RefreshPortfolio)
		portfolio.GET("/snapshots", h.GetSnapshots)
	}

	wallet := rg.Group("/wallet")
	wallet.Use(authMiddleware)
	{
		wallet.GET("", h.GetBalance)
	}
}
