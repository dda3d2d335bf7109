package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"steady-hand/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

const (
	mainnetBaseURL = "https://api.bybit.com"
	testnetBaseURL = "https://api-testnet.bybit.com"

	signType = "2" // HMAC-SHA256
)

// Options configures the live client.
type Options struct {
	APIKey         string
	APISecret      string
	Testnet        bool
	RecvWindowMS   int64
	RequestTimeout time.Duration
	Limiter        *RateLimiter
}

// LiveClient is the signed REST client for the real exchange. Idempotent
// reads go through the read retry policy; order create/cancel are issued
// exactly once.
type LiveClient struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	apiSecret  string
	recvWindow int64
	limiter    *RateLimiter
	readRetry  RetryPolicy
	tracer     trace.Tracer
	now        func() time.Time
}

func NewLiveClient(tracer trace.Tracer, opts Options) *LiveClient {
	baseURL := mainnetBaseURL
	if opts.Testnet {
		baseURL = testnetBaseURL
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	recvWindow := opts.RecvWindowMS
	if recvWindow <= 0 {
		recvWindow = 5000
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = NewRateLimiter(60, time.Minute)
	}
	return &LiveClient{
		client:     &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     opts.APIKey,
		apiSecret:  opts.APISecret,
		recvWindow: recvWindow,
		limiter:    limiter,
		readRetry:  DefaultReadPolicy(),
		tracer:     tracer,
		now:        time.Now,
	}
}

type envelope struct {
	RetCode int             `json:"ret_code"`
	RetMsg  string          `json:"ret_msg"`
	Result  json.RawMessage `json:"result"`
}

type balanceResult struct {
	Equity    float64 `json:"equity"`
	Available float64 `json:"available_balance"`
}

type positionResult struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Size       float64 `json:"size"`
	EntryPrice float64 `json:"entry_price"`
	MarkPrice  float64 `json:"mark_price"`
}

type tickerResult struct {
	Symbol    string  `json:"symbol"`
	MarkPrice float64 `json:"mark_price"`
}

type klineResult struct {
	Symbol   string  `json:"symbol"`
	Interval string  `json:"interval"`
	OpenTime int64   `json:"open_time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

type orderResult struct {
	OrderID     string  `json:"order_id"`
	OrderLinkID string  `json:"order_link_id"`
	Symbol      string  `json:"symbol"`
	OrderStatus string  `json:"order_status"`
	CumExecQty  float64 `json:"cum_exec_qty"`
	AvgPrice    float64 `json:"avg_price"`
}

func (c *LiveClient) Balance(ctx context.Context) (domain.Balance, error) {
	_, span := c.tracer.Start(ctx, "exchange.balance")
	defer span.End()

	var res balanceResult
	err := c.readRetry.Do(ctx, func() error {
		return c.get(ctx, "/v2/private/wallet/balance", nil, &res)
	})
	if err != nil {
		return domain.Balance{}, fmt.Errorf("fetch balance: %w", err)
	}
	return domain.Balance{Equity: res.Equity, Available: res.Available}, nil
}

func (c *LiveClient) Positions(ctx context.Context) ([]domain.Position, error) {
	_, span := c.tracer.Start(ctx, "exchange.positions")
	defer span.End()

	var res []positionResult
	err := c.readRetry.Do(ctx, func() error {
		return c.get(ctx, "/v2/private/position/list", nil, &res)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}

	positions := make([]domain.Position, 0, len(res))
	for _, p := range res {
		if p.Size == 0 {
			continue
		}
		positions = append(positions, domain.Position{
			Symbol:     p.Symbol,
			Side:       sideToDirection(p.Side),
			Size:       p.Size,
			EntryPrice: p.EntryPrice,
			MarkPrice:  p.MarkPrice,
		})
	}
	return positions, nil
}

func (c *LiveClient) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	_, span := c.tracer.Start(ctx, "exchange.mark-price")
	defer span.End()

	var res []tickerResult
	err := c.readRetry.Do(ctx, func() error {
		return c.get(ctx, "/v2/public/tickers", map[string]string{"symbol": symbol}, &res)
	})
	if err != nil {
		return 0, fmt.Errorf("fetch mark price for %s: %w", symbol, err)
	}
	for _, t := range res {
		if t.Symbol == symbol {
			return t.MarkPrice, nil
		}
	}
	return 0, fmt.Errorf("mark price for %s not in ticker response", symbol)
}

func (c *LiveClient) Klines(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	_, span := c.tracer.Start(ctx, "exchange.klines")
	defer span.End()

	params := map[string]string{
		"symbol":   symbol,
		"interval": interval,
		"limit":    strconv.Itoa(limit),
	}
	var res []klineResult
	err := c.readRetry.Do(ctx, func() error {
		return c.get(ctx, "/v2/public/kline/list", params, &res)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch klines for %s: %w", symbol, err)
	}

	candles := make([]domain.Candle, 0, len(res))
	for _, k := range res {
		candles = append(candles, domain.Candle{
			Symbol:   k.Symbol,
			Interval: k.Interval,
			OpenTime: time.Unix(k.OpenTime, 0).UTC(),
			Open:     k.Open,
			High:     k.High,
			Low:      k.Low,
			Close:    k.Close,
			Volume:   k.Volume,
		})
	}
	return candles, nil
}

// CreateOrder submits a new order. Issued exactly once: any failure leaves
// the caller to mark the order rejected and start a fresh assessment cycle.
func (c *LiveClient) CreateOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	_, span := c.tracer.Start(ctx, "exchange.create-order")
	defer span.End()

	params := map[string]string{
		"order_link_id": req.ClientOrderID,
		"symbol":        req.Symbol,
		"side":          directionToSide(req.Side),
		"order_type":    string(req.Type),
		"qty":           formatFloat(req.Qty),
	}
	if req.Type == domain.OrderTypeLimit && req.Price > 0 {
		params["price"] = formatFloat(req.Price)
	}
	if req.StopLoss > 0 {
		params["stop_loss"] = formatFloat(req.StopLoss)
	}
	if req.TakeProfit > 0 {
		params["take_profit"] = formatFloat(req.TakeProfit)
	}

	var res orderResult
	if err := c.post(ctx, "/v2/private/order/create", params, &res); err != nil {
		return OrderAck{}, fmt.Errorf("create order %s: %w", req.ClientOrderID, err)
	}
	return ackFromOrder(res), nil
}

// CancelOrder cancels by client order id. Issued exactly once.
func (c *LiveClient) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	_, span := c.tracer.Start(ctx, "exchange.cancel-order")
	defer span.End()

	params := map[string]string{
		"symbol":        symbol,
		"order_link_id": clientOrderID,
	}
	if err := c.post(ctx, "/v2/private/order/cancel", params, nil); err != nil {
		return fmt.Errorf("cancel order %s: %w", clientOrderID, err)
	}
	return nil
}

func (c *LiveClient) OpenOrders(ctx context.Context) ([]OrderAck, error) {
	_, span := c.tracer.Start(ctx, "exchange.open-orders")
	defer span.End()

	var res []orderResult
	err := c.readRetry.Do(ctx, func() error {
		return c.get(ctx, "/v2/private/order/list", map[string]string{"order_status": "New,PartiallyFilled"}, &res)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch open orders: %w", err)
	}

	acks := make([]OrderAck, 0, len(res))
	for _, o := range res {
		acks = append(acks, ackFromOrder(o))
	}
	return acks, nil
}

func (c *LiveClient) get(ctx context.Context, path string, params map[string]string, out any) error {
	url := c.baseURL + path
	if canonical := canonicalize(params); canonical != "" {
		url += "?" + canonical
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	c.sign(req, params)
	return c.do(req, out)
}

func (c *LiveClient) post(ctx context.Context, path string, params map[string]string, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.sign(req, params)
	return c.do(req, out)
}

// sign attaches the auth headers. Every request carries its timestamp and
// receive window; the server rejects anything outside the window.
func (c *LiveClient) sign(req *http.Request, params map[string]string) {
	timestamp := c.now().UnixMilli()
	req.Header.Set("API-KEY", c.apiKey)
	req.Header.Set("SIGN-TYPE", signType)
	req.Header.Set("TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("RECV-WINDOW", strconv.FormatInt(c.recvWindow, 10))
	req.Header.Set("SIGN", signPayload(c.apiSecret, c.apiKey, timestamp, c.recvWindow, canonicalize(params)))
}

func (c *LiveClient) do(req *http.Request, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrTransient)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %v: %w", err, ErrTransient)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("http %d: %s: %w", resp.StatusCode, string(body), ErrTransient)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if env.RetCode != 0 {
		return &APIError{Code: env.RetCode, Msg: env.RetMsg}
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("parse result: %w", err)
		}
	}
	return nil
}

func ackFromOrder(o orderResult) OrderAck {
	return OrderAck{
		ExchangeOrderID: o.OrderID,
		ClientOrderID:   o.OrderLinkID,
		Symbol:          o.Symbol,
		Status:          o.OrderStatus,
		FilledQty:       o.CumExecQty,
		AvgFillPrice:    o.AvgPrice,
	}
}

func sideToDirection(side string) domain.Direction {
	if side == "Sell" {
		return domain.DirectionSell
	}
	return domain.DirectionBuy
}

func directionToSide(d domain.Direction) string {
	if d == domain.DirectionSell {
		return "Sell"
	}
	return "Buy"
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
