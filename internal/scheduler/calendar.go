package scheduler

import (
	"log"
	"time"

	"github.com/scmhub/calendar"
)

// DefaultMIC is the Shanghai Stock Exchange market identifier.
const DefaultMIC = "xshg"

// TradingCalendar answers whether the exchange is open on a given day.
// Without an exchange calendar it treats Monday to Friday as trading days.
type TradingCalendar struct {
	Calendar *calendar.Calendar
	Timezone *time.Location
}

// NewTradingCalendar loads the exchange calendar for mic (ISO 10383).
func NewTradingCalendar(mic string, loc *time.Location) *TradingCalendar {
	if mic == "" {
		mic = DefaultMIC
	}
	tc := &TradingCalendar{Timezone: loc}
	if cal := calendar.GetCalendar(mic); cal != nil {
		tc.Calendar = cal
		if loc == nil {
			tc.Timezone = cal.Loc
		}
	} else {
		log.Printf("[WARN] no exchange calendar for MIC %q, falling back to Mon-Fri", mic)
	}
	return tc
}

// IsTradingDay reports whether date is a business day on the exchange.
func (tc *TradingCalendar) IsTradingDay(date time.Time) bool {
	if tc.Timezone != nil {
		date = date.In(tc.Timezone)
	}
	if tc.Calendar == nil {
		wd := date.Weekday()
		return wd != time.Saturday && wd != time.Sunday
	}
	return tc.Calendar.IsBusinessDay(date)
}
