package limits

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"futures-trade-assistant/internal/models"
)

// DailyStats are the trade counts of one UTC day.
type DailyStats struct {
	Day     string
	Total   int
	Symbols map[string]int
}

// Store keeps the (day, symbol) → count mapping.
type Store interface {
	Load(ctx context.Context, day string) (DailyStats, error)
	Increment(ctx context.Context, day, symbol string) error
	// PruneBefore drops every day strictly before day.
	PruneBefore(ctx context.Context, day string) error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu   sync.Mutex
	days map[string]map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{days: make(map[string]map[string]int)}
}

func (s *MemoryStore) Load(_ context.Context, day string) (DailyStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := DailyStats{Day: day, Symbols: make(map[string]int)}
	for symbol, n := range s.days[day] {
		stats.Symbols[symbol] = n
		stats.Total += n
	}
	return stats, nil
}

func (s *MemoryStore) Increment(_ context.Context, day, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.days[day] == nil {
		s.days[day] = make(map[string]int)
	}
	s.days[day][symbol]++
	return nil
}

func (s *MemoryStore) PruneBefore(_ context.Context, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for d := range s.days {
		if d < day {
			delete(s.days, d)
		}
	}
	return nil
}

// GormStore keeps counters in the daily_trade_stats table.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Load(ctx context.Context, day string) (DailyStats, error) {
	var rows []models.DailyTradeStat
	if err := s.db.WithContext(ctx).Where("day = ?", day).Find(&rows).Error; err != nil {
		return DailyStats{}, fmt.Errorf("failed to load trade stats for %s: %w", day, err)
	}

	stats := DailyStats{Day: day, Symbols: make(map[string]int, len(rows))}
	for _, row := range rows {
		stats.Symbols[row.Symbol] = row.Trades
		stats.Total += row.Trades
	}
	return stats, nil
}

func (s *GormStore) Increment(ctx context.Context, day, symbol string) error {
	row := models.DailyTradeStat{Day: day, Symbol: symbol, Trades: 1}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "day"}, {Name: "symbol"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"trades":     gorm.Expr("daily_trade_stats.trades + 1"),
			"updated_at": time.Now(),
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to record trade for %s on %s: %w", symbol, day, err)
	}
	return nil
}

func (s *GormStore) PruneBefore(ctx context.Context, day string) error {
	err := s.db.WithContext(ctx).Unscoped().Where("day < ?", day).Delete(&models.DailyTradeStat{}).Error
	if err != nil {
		return fmt.Errorf("failed to prune trade stats before %s: %w", day, err)
	}
	return nil
}
