package exchange

import (
	"context"
	"errors"
	"testing"

	"steady-hand/internal/domain"
)

func TestSimClientFillsAtMarkPrice(t *testing.T) {
	sim := NewSimClient(10000)
	sim.SetMarkPrice("BTCUSDT", 50000)

	ack, err := sim.CreateOrder(context.Background(), OrderRequest{
		ClientOrderID: "o1",
		Symbol:        "BTCUSDT",
		Side:          domain.DirectionBuy,
		Type:          domain.OrderTypeMarket,
		Qty:           0.5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack.Status != "Filled" {
		t.Fatalf("expected Filled, got %s", ack.Status)
	}
	if ack.AvgFillPrice != 50000 || ack.FilledQty != 0.5 {
		t.Fatalf("unexpected fill: %+v", ack)
	}

	positions, _ := sim.Positions(context.Background())
	if len(positions) != 1 || positions[0].Size != 0.5 {
		t.Fatalf("expected one 0.5 position, got %+v", positions)
	}
}

func TestSimClientIdempotentClientOrderID(t *testing.T) {
	sim := NewSimClient(10000)
	sim.SetMarkPrice("BTCUSDT", 50000)

	req := OrderRequest{
		ClientOrderID: "same-id",
		Symbol:        "BTCUSDT",
		Side:          domain.DirectionBuy,
		Type:          domain.OrderTypeMarket,
		Qty:           1,
	}
	first, err := sim.CreateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := sim.CreateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ExchangeOrderID != second.ExchangeOrderID {
		t.Fatal("duplicate client order id must return the original ack")
	}

	positions, _ := sim.Positions(context.Background())
	if len(positions) != 1 || positions[0].Size != 1 {
		t.Fatalf("duplicate submit must not grow the position, got %+v", positions)
	}
}

func TestSimClientRoundTripFlattensPosition(t *testing.T) {
	sim := NewSimClient(10000)
	sim.SetMarkPrice("ETHUSDT", 3000)

	buy := OrderRequest{ClientOrderID: "b1", Symbol: "ETHUSDT", Side: domain.DirectionBuy, Type: domain.OrderTypeMarket, Qty: 2}
	if _, err := sim.CreateOrder(context.Background(), buy); err != nil {
		t.Fatalf("buy: %v", err)
	}

	sim.SetMarkPrice("ETHUSDT", 3100)
	sell := OrderRequest{ClientOrderID: "s1", Symbol: "ETHUSDT", Side: domain.DirectionSell, Type: domain.OrderTypeMarket, Qty: 2}
	if _, err := sim.CreateOrder(context.Background(), sell); err != nil {
		t.Fatalf("sell: %v", err)
	}

	positions, _ := sim.Positions(context.Background())
	if len(positions) != 0 {
		t.Fatalf("expected flat book, got %+v", positions)
	}
}

func TestSimClientCancelLifecycle(t *testing.T) {
	sim := NewSimClient(10000)
	sim.SetMarkPrice("BTCUSDT", 50000)
	sim.PartialFillNext(0.5)

	req := OrderRequest{ClientOrderID: "p1", Symbol: "BTCUSDT", Side: domain.DirectionBuy, Type: domain.OrderTypeMarket, Qty: 1}
	ack, err := sim.CreateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack.Status != "PartiallyFilled" {
		t.Fatalf("expected PartiallyFilled, got %s", ack.Status)
	}

	if err := sim.CancelOrder(context.Background(), "BTCUSDT", "p1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	var apiErr *APIError
	err = sim.CancelOrder(context.Background(), "BTCUSDT", "p1")
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError on double cancel, got %v", err)
	}

	err = sim.CancelOrder(context.Background(), "BTCUSDT", "missing")
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError for unknown order, got %v", err)
	}
}

func TestSimClientFailureInjection(t *testing.T) {
	sim := NewSimClient(10000)
	sim.SetMarkPrice("BTCUSDT", 50000)
	sim.FailNextCreate(&APIError{Code: 30031, Msg: "position size exceeded"})

	_, err := sim.CreateOrder(context.Background(), OrderRequest{
		ClientOrderID: "f1", Symbol: "BTCUSDT", Side: domain.DirectionBuy, Type: domain.OrderTypeMarket, Qty: 1,
	})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected injected APIError, got %v", err)
	}

	// The failure is one-shot; the next create succeeds.
	if _, err := sim.CreateOrder(context.Background(), OrderRequest{
		ClientOrderID: "f2", Symbol: "BTCUSDT", Side: domain.DirectionBuy, Type: domain.OrderTypeMarket, Qty: 1,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
