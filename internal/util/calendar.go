package util

import (
	"time"

	"alphafactory/internal/domain"
)

// TradingCalendar knows when a market's daily session closes. Exchange
// holidays are not modelled; weekends are.
type TradingCalendar struct {
	market domain.Market
	loc    *time.Location
	close  time.Duration // session close, offset from local midnight
}

// NewTradingCalendar creates a TradingCalendar for the given market.
func NewTradingCalendar(market domain.Market) *TradingCalendar {
	switch market {
	case domain.MarketCN:
		return &TradingCalendar{market: market, loc: loadZone("Asia/Shanghai", 8), close: 15 * time.Hour}
	default:
		return &TradingCalendar{market: market, loc: loadZone("America/New_York", -5), close: 16 * time.Hour}
	}
}

func loadZone(name string, fallbackHours int) *time.Location {
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	return time.FixedZone(name, fallbackHours*3600)
}

// IsTradingDay reports whether t falls on a weekday in the market's zone.
func (tc *TradingCalendar) IsTradingDay(t time.Time) bool {
	switch t.In(tc.loc).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

// LastSession returns the date (UTC midnight) of the most recent session
// that had closed by now.
func (tc *TradingCalendar) LastSession(now time.Time) time.Time {
	local := now.In(tc.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tc.loc)
	if local.Before(day.Add(tc.close)) || !tc.IsTradingDay(day) {
		day = day.AddDate(0, 0, -1)
	}
	for !tc.IsTradingDay(day) {
		day = day.AddDate(0, 0, -1)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
}
