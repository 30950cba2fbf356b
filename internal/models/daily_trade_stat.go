package models

import "gorm.io/gorm"

// DailyTradeStat counts the trades opened for one symbol on one UTC day.
type DailyTradeStat struct {
	gorm.Model
	Day    string `gorm:"size:10;not null;uniqueIndex:idx_day_symbol" json:"day"` // 2006-01-02
	Symbol string `gorm:"size:32;not null;uniqueIndex:idx_day_symbol" json:"symbol"`
	Trades int    `gorm:"not null;default:0" json:"trades"`
}
