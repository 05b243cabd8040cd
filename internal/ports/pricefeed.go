package ports

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrPriceNotFound is returned when no mark price is known for a symbol.
var ErrPriceNotFound = errors.New("price not found")

// PriceSource supplies the current mark price for a symbol. Implementations
// must respect the context deadline; a timeout is a transient failure.
type PriceSource interface {
	Current(ctx context.Context, symbol string) (decimal.Decimal, error)
}
