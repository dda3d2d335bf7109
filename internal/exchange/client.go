package exchange

import (
	"context"
	"errors"
	"fmt"

	"steady-hand/internal/domain"
)

// ErrTransient marks timeouts and connection failures. Only calls that are
// idempotent may be retried on it.
var ErrTransient = errors.New("transient network error")

// APIError is a non-zero return code from the exchange. Never retried.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange error %d: %s", e.Code, e.Msg)
}

// AuthFailure reports a signature or timestamp rejection. These indicate
// misconfiguration and must fail hard.
func (e *APIError) AuthFailure() bool {
	return e.Code == retCodeInvalidAPIKey || e.Code == retCodeInvalidSignature || e.Code == retCodeTimestampOutOfWindow
}

const (
	retCodeInvalidAPIKey        = 10003
	retCodeInvalidSignature     = 10004
	retCodeTimestampOutOfWindow = 10002
)

// OrderRequest is the payload for order creation.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          domain.Direction
	Type          domain.OrderType
	Qty           float64
	Price         float64
	StopLoss      float64
	TakeProfit    float64
}

// OrderAck is the exchange's view of an order after create or when listed.
type OrderAck struct {
	ExchangeOrderID string
	ClientOrderID   string
	Symbol          string
	Status          string
	FilledQty       float64
	AvgFillPrice    float64
}

// Client is the exchange surface the trading core depends on. LiveClient
// talks to the real REST API; SimClient is the simulated implementation.
// Which one runs is decided by configuration at startup, never swapped at
// runtime.
type Client interface {
	Balance(ctx context.Context) (domain.Balance, error)
	Positions(ctx context.Context) ([]domain.Position, error)
	MarkPrice(ctx context.Context, symbol string) (float64, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error)
	CreateOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, symbol, clientOrderID string) error
	OpenOrders(ctx context.Context) ([]OrderAck, error)
}
