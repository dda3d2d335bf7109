package execution

import (
	"sort"
	"sync"
	"time"

	"steady-hand/internal/domain"
)

// book is the engine's in-memory position ledger. Position size is always the
// signed sum of fills per symbol; nothing outside the engine mutates it.
type book struct {
	mu        sync.Mutex
	positions map[string]*domain.Position
}

func newBook() *book {
	return &book{positions: make(map[string]*domain.Position)}
}

// applyFill folds a fill into the ledger. Same-direction fills move the
// weighted average entry; opposing fills realize PnL and shrink the position.
// A position reduced to zero is returned as closed and removed from the book.
func (b *book) applyFill(symbol string, side domain.Direction, qty, price float64, strategy string, at time.Time) (realized float64, closed *domain.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.positions[symbol]
	if !ok {
		b.positions[symbol] = &domain.Position{
			Symbol:     symbol,
			Side:       side,
			Size:       qty,
			EntryPrice: price,
			MarkPrice:  price,
			Strategy:   strategy,
			OpenedAt:   at,
			UpdatedAt:  at,
		}
		return 0, nil
	}

	if pos.Side == side {
		total := pos.Size + qty
		pos.EntryPrice = (pos.EntryPrice*pos.Size + price*qty) / total
		pos.Size = total
		pos.MarkPrice = price
		pos.UpdatedAt = at
		return 0, nil
	}

	reduce := qty
	if reduce > pos.Size {
		reduce = pos.Size
	}
	if pos.Side == domain.DirectionBuy {
		realized = (price - pos.EntryPrice) * reduce
	} else {
		realized = (pos.EntryPrice - price) * reduce
	}
	pos.RealizedPnL += realized
	pos.Size -= reduce
	pos.MarkPrice = price
	pos.UpdatedAt = at

	if pos.Size <= 1e-12 {
		snapshot := *pos
		snapshot.Size = 0
		snapshot.UnrealizedPnL = 0
		delete(b.positions, symbol)
		return realized, &snapshot
	}
	return realized, nil
}

func (b *book) get(symbol string) (domain.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// list returns a sorted snapshot of open positions.
func (b *book) list() []domain.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Position, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// setMark updates the mark price and unrealized PnL for one symbol.
func (b *book) setMark(symbol string, mark float64, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[symbol]
	if !ok {
		return
	}
	pos.MarkPrice = mark
	if pos.Side == domain.DirectionBuy {
		pos.UnrealizedPnL = (mark - pos.EntryPrice) * pos.Size
	} else {
		pos.UnrealizedPnL = (pos.EntryPrice - mark) * pos.Size
	}
	pos.UpdatedAt = at
}

// replace overwrites the ledger with exchange-reported positions.
func (b *book) replace(positions []domain.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions = make(map[string]*domain.Position, len(positions))
	for _, p := range positions {
		pos := p
		b.positions[p.Symbol] = &pos
	}
}
