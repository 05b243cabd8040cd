package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/venue-simulator/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestWriteServiceErrorStatusMapping(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
	}{
		{service.ErrTradeNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: quantity must be positive", service.ErrInvalidTrade), http.StatusBadRequest},
		{service.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{service.ErrMarketClosed, http.StatusConflict},
		{service.ErrPositionLimitExceeded, http.StatusUnprocessableEntity},
		{service.ErrLeverageLimitExceeded, http.StatusUnprocessableEntity},
		{service.ErrTransient, http.StatusServiceUnavailable},
		{errors.New("database exploded"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			writeServiceError(c, tt.err)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestWriteServiceErrorHidesInternals(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	writeServiceError(c, errors.New("pq: connection refused at 10.0.0.3"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "10.0.0.3")
}
