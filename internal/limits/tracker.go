package limits

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const dayLayout = "2006-01-02"

// Decision is the outcome of a limit check.
type Decision struct {
	Allowed bool
	Reason  string
}

// LimitError reports a reached daily or per-symbol cap.
type LimitError struct {
	Reason string
}

func (e *LimitError) Error() string { return e.Reason }

// TodayStats is the operator view of today's counters.
type TodayStats struct {
	Day          string         `json:"day"`
	TotalTrades  int            `json:"total_trades"`
	MaxTrades    int            `json:"max_trades"`
	SymbolTrades map[string]int `json:"symbol_trades"`
	MaxPerSymbol int            `json:"max_per_symbol"`
}

// Tracker enforces the daily and per-symbol trade caps. Check and Reserve see in-flight
// reservations, so two concurrent requests cannot both take the last slot.
type Tracker struct {
	store        Store
	logger       *zap.Logger
	maxPerDay    int
	maxPerSymbol int
	now          func() time.Time

	mu      sync.Mutex
	pending map[string]map[string]int // day → symbol → open reservations
}

// NewTracker creates a tracker over store.
func NewTracker(store Store, maxPerDay, maxPerSymbol int, logger *zap.Logger) *Tracker {
	return &Tracker{
		store:        store,
		logger:       logger,
		maxPerDay:    maxPerDay,
		maxPerSymbol: maxPerSymbol,
		now:          time.Now,
		pending:      make(map[string]map[string]int),
	}
}

func (t *Tracker) today() string {
	return t.now().UTC().Format(dayLayout)
}

// Check reports whether a new trade on symbol is allowed today.
func (t *Tracker) Check(ctx context.Context, symbol string) (Decision, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.check(ctx, t.today(), symbol)
}

// check must be called with t.mu held.
func (t *Tracker) check(ctx context.Context, day, symbol string) (Decision, error) {
	stats, err := t.store.Load(ctx, day)
	if err != nil {
		return Decision{}, err
	}

	total := stats.Total
	perSymbol := stats.Symbols[symbol]
	for s, n := range t.pending[day] {
		total += n
		if s == symbol {
			perSymbol += n
		}
	}

	if total >= t.maxPerDay {
		return Decision{Reason: fmt.Sprintf("daily limit reached (%d trades)", t.maxPerDay)}, nil
	}
	if perSymbol >= t.maxPerSymbol {
		return Decision{Reason: fmt.Sprintf("symbol limit reached (%d trades for %s today)", t.maxPerSymbol, symbol)}, nil
	}
	return Decision{Allowed: true, Reason: "OK"}, nil
}

// Reservation holds one trade slot until it is committed or released.
type Reservation struct {
	tracker *Tracker
	day     string
	symbol  string
	done    bool
}

// Reserve checks the limits and holds a slot for symbol. A reached cap returns *LimitError.
func (t *Tracker) Reserve(ctx context.Context, symbol string) (*Reservation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	day := t.today()
	decision, err := t.check(ctx, day, symbol)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, &LimitError{Reason: decision.Reason}
	}

	if t.pending[day] == nil {
		t.pending[day] = make(map[string]int)
	}
	t.pending[day][symbol]++
	return &Reservation{tracker: t, day: day, symbol: symbol}, nil
}

// Commit turns the reservation into a recorded trade on the day it was taken.
func (r *Reservation) Commit(ctx context.Context) error {
	t := r.tracker
	t.mu.Lock()
	defer t.mu.Unlock()

	if r.done {
		return nil
	}
	r.done = true
	t.unreserve(r.day, r.symbol)
	return t.record(ctx, r.day, r.symbol)
}

// Release gives the slot back without recording a trade.
func (r *Reservation) Release() {
	t := r.tracker
	t.mu.Lock()
	defer t.mu.Unlock()

	if r.done {
		return
	}
	r.done = true
	t.unreserve(r.day, r.symbol)
}

func (t *Tracker) unreserve(day, symbol string) {
	byDay := t.pending[day]
	byDay[symbol]--
	if byDay[symbol] <= 0 {
		delete(byDay, symbol)
	}
	if len(byDay) == 0 {
		delete(t.pending, day)
	}
}

// Record counts a trade on symbol for today without a prior reservation.
func (t *Tracker) Record(ctx context.Context, symbol string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.record(ctx, t.today(), symbol)
}

func (t *Tracker) record(ctx context.Context, day, symbol string) error {
	if err := t.store.Increment(ctx, day, symbol); err != nil {
		return err
	}

	// Only today and yesterday are kept.
	cutoff := t.now().UTC().AddDate(0, 0, -1).Format(dayLayout)
	if err := t.store.PruneBefore(ctx, cutoff); err != nil {
		t.logger.Warn("Failed to prune old trade counters", zap.String("before", cutoff), zap.Error(err))
	}
	return nil
}

// Today returns the counters of the current UTC day.
func (t *Tracker) Today(ctx context.Context) (TodayStats, error) {
	day := t.today()
	stats, err := t.store.Load(ctx, day)
	if err != nil {
		return TodayStats{}, err
	}
	return TodayStats{
		Day:          day,
		TotalTrades:  stats.Total,
		MaxTrades:    t.maxPerDay,
		SymbolTrades: stats.Symbols,
		MaxPerSymbol: t.maxPerSymbol,
	}, nil
}
