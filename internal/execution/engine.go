package execution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"steady-hand/internal/domain"
	"steady-hand/internal/exchange"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditLog records every order state transition. Append-only; reads are only
// used for crash recovery.
type AuditLog interface {
	AppendEvent(ctx context.Context, event domain.OrderEvent) error
	RecentEvents(ctx context.Context, limit int) ([]domain.OrderEvent, error)
}

const auditReplayLimit = 500

// SnapshotStore archives positions when they close.
type SnapshotStore interface {
	SavePosition(ctx context.Context, pos domain.Position) error
}

var orderIDNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// Engine turns approved assessments into exchange orders, tracks positions,
// and maintains the audit trail. All per-symbol work is serialized: one order
// in flight per symbol, with a cooldown between orders on the same symbol.
type Engine struct {
	tracer       trace.Tracer
	client       exchange.Client
	state        *domain.PortfolioState
	audit        AuditLog
	archive      SnapshotStore
	cooldown     time.Duration
	maxPositions int

	mu        sync.Mutex
	locks     map[string]*sync.Mutex
	lastOrder map[string]time.Time
	orders    map[string]*domain.TradeOrder
	book      *book

	now func() time.Time
}

func NewEngine(tracer trace.Tracer, client exchange.Client, state *domain.PortfolioState, audit AuditLog, archive SnapshotStore, cooldown time.Duration, maxPositions int) *Engine {
	return &Engine{
		tracer:       tracer,
		client:       client,
		state:        state,
		audit:        audit,
		archive:      archive,
		cooldown:     cooldown,
		maxPositions: maxPositions,
		locks:        make(map[string]*sync.Mutex),
		lastOrder:    make(map[string]time.Time),
		orders:       make(map[string]*domain.TradeOrder),
		book:         newBook(),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) lockFor(symbol string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		e.locks[symbol] = l
	}
	return l
}

// clientOrderID is deterministic per signal so that a duplicate submission of
// the same assessment maps to the same exchange order.
func clientOrderID(sig domain.UnifiedSignal) string {
	seed := fmt.Sprintf("%s|%s|%s|%d", sig.Symbol, sig.Direction, sig.Strategy, sig.CreatedAt.UnixNano())
	return uuid.NewSHA1(orderIDNamespace, []byte(seed)).String()
}

// Execute places an order for an approved assessment. The order is sized from
// current equity, guarded against available balance, submitted exactly once
// (order creation is never retried) and its fills folded into the position
// ledger.
func (e *Engine) Execute(ctx context.Context, ra domain.RiskAssessment) (domain.ExecutionReport, error) {
	ctx, span := e.tracer.Start(ctx, "execution.execute")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", ra.Signal.Symbol))

	if !ra.Approved {
		return domain.ExecutionReport{}, fmt.Errorf("assessment for %s not approved", ra.Signal.Symbol)
	}
	if e.state != nil && e.state.EmergencyMode() {
		return domain.ExecutionReport{}, ErrTradingHalted
	}

	symbol := ra.Signal.Symbol
	lock := e.lockFor(symbol)
	lock.Lock()
	defer lock.Unlock()

	id := clientOrderID(ra.Signal)
	e.mu.Lock()
	existing, dup := e.orders[id]
	last, hasLast := e.lastOrder[symbol]
	e.mu.Unlock()
	if dup {
		return e.reportFor(existing), nil
	}
	if hasLast {
		if since := e.now().Sub(last); since < e.cooldown {
			return domain.ExecutionReport{}, fmt.Errorf("%w: %s traded %s ago", ErrCooldown, symbol, since.Round(time.Second))
		}
	}

	balance, err := e.client.Balance(ctx)
	if err != nil {
		return domain.ExecutionReport{}, fmt.Errorf("fetching balance: %w", err)
	}
	mark, err := e.client.MarkPrice(ctx, symbol)
	if err != nil {
		return domain.ExecutionReport{}, fmt.Errorf("fetching mark price for %s: %w", symbol, err)
	}

	notional := balance.Equity * ra.RecommendedSizePct / 100
	qty := notional / mark

	order := &domain.TradeOrder{
		ID:        id,
		Symbol:    symbol,
		Side:      ra.Signal.Direction,
		Type:      domain.OrderTypeMarket,
		Qty:       qty,
		Strategy:  ra.Signal.Strategy,
		RiskPct:   ra.RecommendedSizePct,
		State:     domain.OrderCreated,
		CreatedAt: e.now(),
		UpdatedAt: e.now(),
	}
	order.StopLoss, order.TakeProfit = exitPrices(ra.Signal.Direction, mark, ra.StopLossPct, ra.TakeProfitPct)

	e.mu.Lock()
	e.orders[id] = order
	e.mu.Unlock()
	e.record(ctx, order, "", domain.OrderCreated, 0, 0, "")

	// The assessment saw a book snapshot that may be stale by now. Re-check
	// the position limits against the live ledger before spending balance.
	if reason := e.positionGuard(symbol, ra.Signal.Direction); reason != "" {
		if err := e.transition(ctx, order, domain.OrderRejected, 0, 0, reason); err != nil {
			return domain.ExecutionReport{}, err
		}
		return e.reportFor(order), nil
	}

	if notional > balance.Available {
		reason := fmt.Sprintf("insufficient balance: need $%.2f, have $%.2f", notional, balance.Available)
		if err := e.transition(ctx, order, domain.OrderRejected, 0, 0, reason); err != nil {
			return domain.ExecutionReport{}, err
		}
		return e.reportFor(order), nil
	}

	if err := e.transition(ctx, order, domain.OrderSubmitted, 0, 0, ""); err != nil {
		return domain.ExecutionReport{}, err
	}

	ack, err := e.client.CreateOrder(ctx, exchange.OrderRequest{
		ClientOrderID: id,
		Symbol:        symbol,
		Side:          ra.Signal.Direction,
		Type:          domain.OrderTypeMarket,
		Qty:           qty,
		StopLoss:      order.StopLoss,
		TakeProfit:    order.TakeProfit,
	})
	if err != nil {
		if terr := e.transition(ctx, order, domain.OrderRejected, 0, 0, err.Error()); terr != nil {
			return domain.ExecutionReport{}, terr
		}
		var apiErr *exchange.APIError
		if errors.As(err, &apiErr) && apiErr.AuthFailure() {
			return e.reportFor(order), fmt.Errorf("exchange authentication failure: %w", err)
		}
		return e.reportFor(order), nil
	}

	e.mu.Lock()
	e.lastOrder[symbol] = e.now()
	e.mu.Unlock()

	if err := e.applyAck(ctx, order, ack); err != nil {
		return domain.ExecutionReport{}, err
	}
	return e.reportFor(order), nil
}

// positionGuard is the engine-side re-check of per-symbol and total position
// limits. Adding to an opposing position is always allowed since that reduces
// exposure.
func (e *Engine) positionGuard(symbol string, side domain.Direction) string {
	pos, open := e.book.get(symbol)
	if open && pos.Side == side {
		return fmt.Sprintf("position already open for %s", symbol)
	}
	if !open && e.maxPositions > 0 && len(e.book.list()) >= e.maxPositions {
		return "maximum total positions reached"
	}
	return ""
}

// applyAck folds an exchange acknowledgement into the order and the book.
func (e *Engine) applyAck(ctx context.Context, order *domain.TradeOrder, ack exchange.OrderAck) error {
	e.mu.Lock()
	order.ExchangeOrderID = ack.ExchangeOrderID
	newFill := ack.FilledQty - order.FilledQty
	e.mu.Unlock()

	var to domain.OrderState
	switch ack.Status {
	case "Filled":
		to = domain.OrderFilled
	case "PartiallyFilled":
		to = domain.OrderPartiallyFilled
	case "Cancelled":
		to = domain.OrderCancelled
	case "Rejected":
		to = domain.OrderRejected
	default:
		// "New" and friends: submitted, nothing filled yet.
		return nil
	}

	if err := e.transition(ctx, order, to, ack.AvgFillPrice, newFill, ""); err != nil {
		return err
	}

	var realized float64
	var closed *domain.Position
	if newFill > 0 {
		realized, closed = e.book.applyFill(order.Symbol, order.Side, newFill, ack.AvgFillPrice, order.Strategy, e.now())
	}

	e.mu.Lock()
	order.FilledQty = ack.FilledQty
	if ack.FilledQty > 0 && ack.AvgFillPrice > 0 {
		order.AvgFillPrice = ack.AvgFillPrice
	}
	order.RealizedPnL += realized
	e.mu.Unlock()

	if closed != nil && e.archive != nil {
		if err := e.archive.SavePosition(ctx, *closed); err != nil {
			log.Printf("Warning: archiving closed position %s failed: %v", closed.Symbol, err)
		}
	}
	return nil
}

// transition moves the order through the state machine and appends the audit
// event. Invalid transitions are programming errors and fail loudly. The
// order fields are mutated under e.mu so Order and reportFor see a consistent
// view; the audit append happens outside the lock.
func (e *Engine) transition(ctx context.Context, order *domain.TradeOrder, to domain.OrderState, fillPrice, fillQty float64, reason string) error {
	e.mu.Lock()
	from := order.State
	if from != to && !canTransition(from, to) {
		e.mu.Unlock()
		return transitionError(from, to)
	}
	order.State = to
	order.UpdatedAt = e.now()
	if reason != "" {
		order.Reason = reason
	}
	e.mu.Unlock()
	e.record(ctx, order, from, to, fillPrice, fillQty, reason)
	return nil
}

func (e *Engine) record(ctx context.Context, order *domain.TradeOrder, from, to domain.OrderState, fillPrice, fillQty float64, reason string) {
	if e.audit == nil {
		return
	}
	event := domain.OrderEvent{
		OrderID:   order.ID,
		Symbol:    order.Symbol,
		FromState: from,
		ToState:   to,
		FillPrice: fillPrice,
		FillQty:   fillQty,
		Reason:    reason,
		At:        e.now(),
	}
	if err := e.audit.AppendEvent(ctx, event); err != nil {
		log.Printf("Warning: audit append for order %s failed: %v", order.ID, err)
	}
}

// Cancel cancels a live order. Allowed in emergency mode: closing risk is
// always permitted.
func (e *Engine) Cancel(ctx context.Context, orderID string) error {
	ctx, span := e.tracer.Start(ctx, "execution.cancel")
	defer span.End()

	e.mu.Lock()
	order, ok := e.orders[orderID]
	var state domain.OrderState
	if ok {
		state = order.State
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	if state.Terminal() {
		return transitionError(state, domain.OrderCancelled)
	}

	if err := e.client.CancelOrder(ctx, order.Symbol, order.ID); err != nil {
		return fmt.Errorf("cancelling order %s: %w", order.ID, err)
	}
	return e.transition(ctx, order, domain.OrderCancelled, 0, 0, "cancelled by operator")
}

// Order returns a copy of a tracked order.
func (e *Engine) Order(orderID string) (domain.TradeOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, ok := e.orders[orderID]
	if !ok {
		return domain.TradeOrder{}, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	return *order, nil
}

// Positions returns the open position ledger.
func (e *Engine) Positions() []domain.Position {
	return e.book.list()
}

// RefreshMarks updates mark prices and unrealized PnL for all open positions.
// Individual symbol failures are logged and skipped.
func (e *Engine) RefreshMarks(ctx context.Context) {
	ctx, span := e.tracer.Start(ctx, "execution.refresh-marks")
	defer span.End()

	for _, pos := range e.book.list() {
		mark, err := e.client.MarkPrice(ctx, pos.Symbol)
		if err != nil {
			log.Printf("Warning: mark refresh for %s failed: %v", pos.Symbol, err)
			continue
		}
		e.book.setMark(pos.Symbol, mark, e.now())
	}
}

// Reconcile aligns local state with the exchange after a restart or a
// mid-cycle failure: in-flight orders are rebuilt from the audit log,
// exchange-reported positions replace the local ledger, and tracked orders no
// longer open on the exchange are resolved.
func (e *Engine) Reconcile(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "execution.reconcile")
	defer span.End()

	if e.audit != nil {
		e.replayAudit(ctx)
	}

	positions, err := e.client.Positions(ctx)
	if err != nil {
		return fmt.Errorf("listing exchange positions: %w", err)
	}
	e.book.replace(positions)

	open, err := e.client.OpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("listing open orders: %w", err)
	}
	stillOpen := make(map[string]exchange.OrderAck, len(open))
	for _, ack := range open {
		stillOpen[ack.ClientOrderID] = ack
	}

	e.mu.Lock()
	stale := make([]*domain.TradeOrder, 0, len(e.orders))
	resolved := make(map[string]domain.OrderState, len(e.orders))
	for _, order := range e.orders {
		if order.State.Terminal() {
			continue
		}
		if _, ok := stillOpen[order.ID]; ok {
			continue
		}
		// Not on the exchange anymore: treat the order as fully resolved.
		to := domain.OrderFilled
		if order.FilledQty == 0 {
			to = domain.OrderCancelled
		}
		stale = append(stale, order)
		resolved[order.ID] = to
	}
	e.mu.Unlock()

	for _, order := range stale {
		if err := e.transition(ctx, order, resolved[order.ID], 0, 0, "reconciled against exchange"); err != nil {
			log.Printf("Warning: reconciling order %s: %v", order.ID, err)
		}
	}
	return nil
}

// replayAudit rebuilds tracked orders from the persisted event log so a
// restarted engine can resolve orders that were in flight when it died.
func (e *Engine) replayAudit(ctx context.Context) {
	events, err := e.audit.RecentEvents(ctx, auditReplayLimit)
	if err != nil {
		log.Printf("Warning: audit replay failed: %v", err)
		return
	}

	latest := make(map[string]*domain.TradeOrder)
	for _, ev := range events {
		order, ok := latest[ev.OrderID]
		if !ok {
			order = &domain.TradeOrder{ID: ev.OrderID, Symbol: ev.Symbol, CreatedAt: ev.At}
			latest[ev.OrderID] = order
		}
		order.FilledQty += ev.FillQty
		if !ev.At.Before(order.UpdatedAt) {
			order.State = ev.ToState
			order.UpdatedAt = ev.At
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for id, order := range latest {
		if order.State.Terminal() {
			continue
		}
		if _, ok := e.orders[id]; ok {
			continue
		}
		e.orders[id] = order
	}
}

func exitPrices(side domain.Direction, mark, stopPct, targetPct float64) (stop, target float64) {
	if side == domain.DirectionSell {
		return mark * (1 + stopPct/100), mark * (1 - targetPct/100)
	}
	return mark * (1 - stopPct/100), mark * (1 + targetPct/100)
}

// reportFor snapshots an order into the report handed downstream.
func (e *Engine) reportFor(order *domain.TradeOrder) domain.ExecutionReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.ExecutionReport{
		OrderID:     order.ID,
		Symbol:      order.Symbol,
		Status:      order.State,
		FillPrice:   order.AvgFillPrice,
		FilledQty:   order.FilledQty,
		RealizedPnL: order.RealizedPnL,
		Reason:      order.Reason,
		At:          order.UpdatedAt,
	}
}
