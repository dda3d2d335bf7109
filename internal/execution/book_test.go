package execution

import (
	"math"
	"testing"
	"time"

	"steady-hand/internal/domain"
)

func TestBookWeightedAverageEntry(t *testing.T) {
	b := newBook()
	at := time.Now().UTC()

	b.applyFill("BTCUSDT", domain.DirectionBuy, 1, 100, "momentum", at)
	b.applyFill("BTCUSDT", domain.DirectionBuy, 1, 110, "momentum", at)

	pos, ok := b.get("BTCUSDT")
	if !ok {
		t.Fatal("expected an open position")
	}
	if pos.Size != 2 || math.Abs(pos.EntryPrice-105) > 1e-9 {
		t.Fatalf("expected size 2 @ 105, got %g @ %g", pos.Size, pos.EntryPrice)
	}
}

func TestBookRealizesPnLOnClose(t *testing.T) {
	b := newBook()
	at := time.Now().UTC()

	b.applyFill("BTCUSDT", domain.DirectionBuy, 2, 100, "momentum", at)
	realized, closed := b.applyFill("BTCUSDT", domain.DirectionSell, 2, 110, "momentum", at)

	if math.Abs(realized-20) > 1e-9 {
		t.Fatalf("expected realized PnL 20, got %g", realized)
	}
	if closed == nil {
		t.Fatal("expected the position to close")
	}
	if closed.RealizedPnL != 20 || closed.Size != 0 {
		t.Fatalf("unexpected closed snapshot: %+v", closed)
	}
	if _, ok := b.get("BTCUSDT"); ok {
		t.Fatal("closed position must leave the book")
	}
}

func TestBookPartialReduceKeepsPosition(t *testing.T) {
	b := newBook()
	at := time.Now().UTC()

	b.applyFill("ETHUSDT", domain.DirectionSell, 4, 50, "meanrev", at)
	realized, closed := b.applyFill("ETHUSDT", domain.DirectionBuy, 1, 45, "meanrev", at)

	if math.Abs(realized-5) > 1e-9 {
		t.Fatalf("short reduced at a lower price should realize 5, got %g", realized)
	}
	if closed != nil {
		t.Fatal("partial reduce must not close the position")
	}
	pos, _ := b.get("ETHUSDT")
	if pos.Size != 3 || pos.Side != domain.DirectionSell {
		t.Fatalf("unexpected remaining position: %+v", pos)
	}
}

func TestBookSetMarkUpdatesUnrealized(t *testing.T) {
	b := newBook()
	at := time.Now().UTC()

	b.applyFill("BTCUSDT", domain.DirectionBuy, 2, 100, "momentum", at)
	b.setMark("BTCUSDT", 95, at)

	pos, _ := b.get("BTCUSDT")
	if math.Abs(pos.UnrealizedPnL-(-10)) > 1e-9 {
		t.Fatalf("expected unrealized -10, got %g", pos.UnrealizedPnL)
	}
}
