package util

import (
	"time"

	"strategylab/internal/domain"
)

// TradingCalendar knows the weekly session schedule of a market. Exchange
// holidays are not modelled; a holiday simply yields no bar.
type TradingCalendar struct {
	market    domain.Market
	loc       *time.Location
	closeHour int
	closeMin  int
}

// NewTradingCalendar creates a TradingCalendar for the given market. Unknown
// markets use the US schedule.
func NewTradingCalendar(market domain.Market) *TradingCalendar {
	switch market {
	case domain.MarketIN:
		return &TradingCalendar{
			market:    market,
			loc:       loadZone("Asia/Kolkata", 5*3600+1800),
			closeHour: 15,
			closeMin:  30,
		}
	default:
		return &TradingCalendar{
			market:    market,
			loc:       loadZone("America/New_York", -5*3600),
			closeHour: 16,
		}
	}
}

func loadZone(name string, fallbackOffset int) *time.Location {
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	return time.FixedZone(name, fallbackOffset)
}

// Market returns the calendar's market.
func (tc *TradingCalendar) Market() domain.Market { return tc.market }

// IsTradingDay reports whether t falls on a weekday in the market's zone.
func (tc *TradingCalendar) IsTradingDay(t time.Time) bool {
	switch t.In(tc.loc).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

// SessionClose returns the closing time of the session on t's local date.
func (tc *TradingCalendar) SessionClose(t time.Time) time.Time {
	l := t.In(tc.loc)
	return time.Date(l.Year(), l.Month(), l.Day(), tc.closeHour, tc.closeMin, 0, 0, tc.loc)
}

// LastCompletedSession returns the date, as UTC midnight, of the most recent
// trading day whose session had closed by now. Daily bars for later dates
// are not final yet.
func (tc *TradingCalendar) LastCompletedSession(now time.Time) time.Time {
	d := now.In(tc.loc)
	if now.Before(tc.SessionClose(d)) {
		d = d.AddDate(0, 0, -1)
	}
	for !tc.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}
