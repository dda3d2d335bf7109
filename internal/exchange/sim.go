package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"steady-hand/internal/domain"
)

// SimClient is the simulated exchange used for paper trading and tests.
// Orders fill immediately at the configured mark price; balances and fills
// are deterministic. Selected explicitly via DATA_SOURCE=sim.
type SimClient struct {
	mu          sync.Mutex
	balance     domain.Balance
	marks       map[string]float64
	klines      map[string][]domain.Candle
	orders      map[string]OrderAck
	positions   map[string]domain.Position
	createErr   error
	fillRatio   float64
}

func NewSimClient(initialEquity float64) *SimClient {
	return &SimClient{
		balance:   domain.Balance{Equity: initialEquity, Available: initialEquity},
		marks:     make(map[string]float64),
		klines:    make(map[string][]domain.Candle),
		orders:    make(map[string]OrderAck),
		positions: make(map[string]domain.Position),
		fillRatio: 1.0,
	}
}

// SetMarkPrice sets the fill/mark price for a symbol.
func (c *SimClient) SetMarkPrice(symbol string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marks[symbol] = price
}

// SetKlines seeds candle history for volatility estimation.
func (c *SimClient) SetKlines(symbol string, candles []domain.Candle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.klines[symbol] = candles
}

// SetBalance overrides the wallet snapshot.
func (c *SimClient) SetBalance(b domain.Balance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balance = b
}

// FailNextCreate makes the next CreateOrder return err once.
func (c *SimClient) FailNextCreate(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createErr = err
}

// PartialFillNext makes subsequent orders fill at the given ratio (0..1).
func (c *SimClient) PartialFillNext(ratio float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fillRatio = ratio
}

func (c *SimClient) Balance(ctx context.Context) (domain.Balance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance, nil
}

func (c *SimClient) Positions(ctx context.Context) ([]domain.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Position, 0, len(c.positions))
	for _, p := range c.positions {
		out = append(out, p)
	}
	return out, nil
}

func (c *SimClient) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	price, ok := c.marks[symbol]
	if !ok {
		return 0, fmt.Errorf("sim: no mark price for %s", symbol)
	}
	return price, nil
}

func (c *SimClient) Klines(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	candles := c.klines[symbol]
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

func (c *SimClient) CreateOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Same client-order-id twice returns the original ack, creating nothing.
	if ack, ok := c.orders[req.ClientOrderID]; ok {
		return ack, nil
	}

	if c.createErr != nil {
		err := c.createErr
		c.createErr = nil
		return OrderAck{}, err
	}

	price, ok := c.marks[req.Symbol]
	if !ok {
		return OrderAck{}, &APIError{Code: 10001, Msg: "unknown symbol " + req.Symbol}
	}
	if req.Type == domain.OrderTypeLimit && req.Price > 0 {
		price = req.Price
	}

	filled := req.Qty * c.fillRatio
	status := "Filled"
	if filled < req.Qty {
		status = "PartiallyFilled"
	}

	ack := OrderAck{
		ExchangeOrderID: fmt.Sprintf("sim-%d", len(c.orders)+1),
		ClientOrderID:   req.ClientOrderID,
		Symbol:          req.Symbol,
		Status:          status,
		FilledQty:       filled,
		AvgFillPrice:    price,
	}
	c.orders[req.ClientOrderID] = ack
	c.applyFill(req.Symbol, req.Side, filled, price)
	return ack, nil
}

func (c *SimClient) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ack, ok := c.orders[clientOrderID]
	if !ok {
		return &APIError{Code: 20001, Msg: "order not exists"}
	}
	if ack.Status == "Filled" || ack.Status == "Cancelled" {
		return &APIError{Code: 20002, Msg: "order already closed"}
	}
	ack.Status = "Cancelled"
	c.orders[clientOrderID] = ack
	return nil
}

func (c *SimClient) OpenOrders(ctx context.Context) ([]OrderAck, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var open []OrderAck
	for _, ack := range c.orders {
		if ack.Status == "New" || ack.Status == "PartiallyFilled" {
			open = append(open, ack)
		}
	}
	return open, nil
}

// applyFill keeps the exchange-side position list coherent so that startup
// reconciliation has something real to compare against.
func (c *SimClient) applyFill(symbol string, side domain.Direction, qty, price float64) {
	pos, ok := c.positions[symbol]
	if !ok {
		c.positions[symbol] = domain.Position{
			Symbol: symbol, Side: side, Size: qty,
			EntryPrice: price, MarkPrice: price,
			OpenedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		}
		return
	}
	if pos.Side == side {
		total := pos.Size + qty
		pos.EntryPrice = (pos.EntryPrice*pos.Size + price*qty) / total
		pos.Size = total
	} else {
		pos.Size -= qty
		if pos.Size <= 0 {
			delete(c.positions, symbol)
			return
		}
	}
	pos.MarkPrice = price
	pos.UpdatedAt = time.Now().UTC()
	c.positions[symbol] = pos
}
