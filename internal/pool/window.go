package pool

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/outcomeamm/market-engine/internal/model"
)

// tradeLog is a fixed-capacity ring of the most recent trades. The oldest
// entry is overwritten once the ring is full.
type tradeLog struct {
	entries []model.Trade
	next    int
	size    int
}

func newTradeLog(capacity int) *tradeLog {
	return &tradeLog{entries: make([]model.Trade, capacity)}
}

func (l *tradeLog) push(t model.Trade) {
	if len(l.entries) == 0 {
		return
	}
	l.entries[l.next] = t
	l.next = (l.next + 1) % len(l.entries)
	if l.size < len(l.entries) {
		l.size++
	}
}

// snapshot returns the retained trades oldest first.
func (l *tradeLog) snapshot() []model.Trade {
	out := make([]model.Trade, 0, l.size)
	start := (l.next - l.size + len(l.entries)) % max(len(l.entries), 1)
	for i := 0; i < l.size; i++ {
		out = append(out, l.entries[(start+i)%len(l.entries)])
	}
	return out
}

// volumeWindow keeps rolling traded notional in fixed-width time buckets.
type volumeWindow struct {
	width   time.Duration
	buckets []volumeBucket
}

type volumeBucket struct {
	start  time.Time
	amount decimal.Decimal
}

func newVolumeWindow(span, width time.Duration) *volumeWindow {
	n := int(span / width)
	if n < 1 {
		n = 1
	}
	return &volumeWindow{width: width, buckets: make([]volumeBucket, n)}
}

func (w *volumeWindow) span() time.Duration {
	return w.width * time.Duration(len(w.buckets))
}

func (w *volumeWindow) add(at time.Time, amount decimal.Decimal) {
	start := at.Truncate(w.width)
	idx := int((start.UnixNano() / int64(w.width)) % int64(len(w.buckets)))
	b := &w.buckets[idx]
	if !b.start.Equal(start) {
		b.start = start
		b.amount = decimal.Zero
	}
	b.amount = b.amount.Add(amount)
}

// total sums the buckets that still overlap (now - span, now].
func (w *volumeWindow) total(now time.Time) decimal.Decimal {
	cutoff := now.Truncate(w.width).Add(-w.span())
	sum := decimal.Zero
	for _, b := range w.buckets {
		if b.start.After(cutoff) && !b.start.After(now) {
			sum = sum.Add(b.amount)
		}
	}
	return sum
}
