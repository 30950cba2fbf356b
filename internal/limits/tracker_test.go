package limits

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"futures-trade-assistant/internal/models"
)

func newTracker(store Store, at time.Time) (*Tracker, *time.Time) {
	now := at
	tr := NewTracker(store, 4, 2, zap.NewNop())
	tr.now = func() time.Time { return now }
	return tr, &now
}

func TestTracker_SymbolLimit(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(NewMemoryStore(), time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))

	require.NoError(t, tr.Record(ctx, "BTCUSDT"))
	require.NoError(t, tr.Record(ctx, "BTCUSDT"))

	decision, err := tr.Check(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "symbol limit reached (2 trades for BTCUSDT today)", decision.Reason)

	decision, err = tr.Check(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestTracker_DailyLimitResetsOnNewDay(t *testing.T) {
	ctx := context.Background()
	tr, now := newTracker(NewMemoryStore(), time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC))

	for _, symbol := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT"} {
		require.NoError(t, tr.Record(ctx, symbol))
	}

	decision, err := tr.Check(ctx, "XRPUSDT")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "daily limit reached (4 trades)", decision.Reason)

	*now = now.Add(2 * time.Hour)

	decision, err = tr.Check(ctx, "XRPUSDT")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	stats, err := tr.Today(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-02", stats.Day)
	assert.Zero(t, stats.TotalTrades)
	assert.Empty(t, stats.SymbolTrades)
}

func TestTracker_ReservationHoldsSlot(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(NewMemoryStore(), time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))

	first, err := tr.Reserve(ctx, "BTCUSDT")
	require.NoError(t, err)
	second, err := tr.Reserve(ctx, "BTCUSDT")
	require.NoError(t, err)

	_, err = tr.Reserve(ctx, "BTCUSDT")
	var limitErr *LimitError
	assert.ErrorAs(t, err, &limitErr)

	second.Release()
	require.NoError(t, first.Commit(ctx))
	require.NoError(t, first.Commit(ctx), "commit is idempotent")

	stats, err := tr.Today(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalTrades)
	assert.Equal(t, map[string]int{"BTCUSDT": 1}, stats.SymbolTrades)
	assert.Empty(t, tr.pending)
}

func TestTracker_ConcurrentReservations(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(NewMemoryStore(), time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))

	var granted int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := tr.Reserve(ctx, "BTCUSDT")
			if err != nil {
				return
			}
			atomic.AddInt32(&granted, 1)
			_ = r.Commit(ctx)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), granted)
	stats, err := tr.Today(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.SymbolTrades["BTCUSDT"])
}

func TestTracker_PrunesOlderThanYesterday(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tr, now := newTracker(store, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))

	require.NoError(t, tr.Record(ctx, "BTCUSDT"))
	*now = now.AddDate(0, 0, 1)
	require.NoError(t, tr.Record(ctx, "BTCUSDT"))
	assert.Len(t, store.days, 2)

	*now = now.AddDate(0, 0, 1)
	require.NoError(t, tr.Record(ctx, "ETHUSDT"))
	assert.Len(t, store.days, 2)
	assert.NotContains(t, store.days, "2024-05-01")
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.DailyTradeStat{}))
	return db
}

func TestGormStore(t *testing.T) {
	ctx := context.Background()
	store := NewGormStore(openTestDB(t))

	require.NoError(t, store.Increment(ctx, "2024-05-01", "BTCUSDT"))
	require.NoError(t, store.Increment(ctx, "2024-05-01", "BTCUSDT"))
	require.NoError(t, store.Increment(ctx, "2024-05-01", "ETHUSDT"))
	require.NoError(t, store.Increment(ctx, "2024-05-02", "BTCUSDT"))

	stats, err := store.Load(ctx, "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, map[string]int{"BTCUSDT": 2, "ETHUSDT": 1}, stats.Symbols)

	require.NoError(t, store.PruneBefore(ctx, "2024-05-02"))

	stats, err = store.Load(ctx, "2024-05-01")
	require.NoError(t, err)
	assert.Zero(t, stats.Total)

	stats, err = store.Load(ctx, "2024-05-02")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
}

func TestTracker_WithGormStore(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(NewGormStore(openTestDB(t)), time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))

	r, err := tr.Reserve(ctx, "SOLUSDT")
	require.NoError(t, err)
	require.NoError(t, r.Commit(ctx))
	require.NoError(t, tr.Record(ctx, "SOLUSDT"))

	decision, err := tr.Check(ctx, "SOLUSDT")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}
