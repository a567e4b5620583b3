// Package features derives rule and model attributes from a raw transaction.
package features

import (
	"math"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Thresholds used by the derived attributes.
const (
	DefaultHighAmountThreshold = 10000.0
	HighValueThreshold         = 100000.0
	VeryHighValueThreshold     = 500000.0
)

// Options tunes enrichment.
type Options struct {
	// HighAmountThreshold drives is_high_amount. Zero selects the default.
	HighAmountThreshold float64
}

// Accepted timestamp layouts. Layouts without a zone are read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// uncommonPaymentModes are anonymized payment-mode codes rarely seen in legitimate traffic.
var uncommonPaymentModes = map[int]bool{4: true, 5: true, 9: true}

// Enrich builds the enriched view of tx with default options.
func Enrich(tx *domain.Transaction) *domain.EnrichedTransaction {
	return Options{}.Enrich(tx)
}

// Enrich builds the enriched view of tx. It never fails: unparseable input
// falls back to neutral defaults.
func (o Options) Enrich(tx *domain.Transaction) *domain.EnrichedTransaction {
	highAmount := o.HighAmountThreshold
	if highAmount <= 0 {
		highAmount = DefaultHighAmountThreshold
	}

	e := &domain.EnrichedTransaction{Transaction: *tx}
	amount := tx.Amount

	e.HasMobile = tx.PayerMobile != "" || tx.PayerMobileAnonymous != ""
	e.HasEmail = tx.PayerEmail != "" || tx.PayerEmailAnonymous != ""

	if t, ok := ParseTime(tx.Date); ok {
		e.HourOfDay = t.Hour()
		e.DayOfWeek = mondayFirst(t.Weekday())
		e.IsWeekend = e.DayOfWeek >= 5
		e.IsNight = e.HourOfDay >= 22 || e.HourOfDay <= 6
		e.ModelNight = e.HourOfDay < 5 || e.HourOfDay >= 23
		e.IsBusinessHours = e.HourOfDay >= 9 && e.HourOfDay <= 17 && !e.IsWeekend
	} else {
		e.HourOfDay = 12
		e.DayOfWeek = 0
		e.IsBusinessHours = true
	}

	e.IsRoundAmount = IsRound(amount)
	e.ModelRoundAmount = isMultiple(amount, 1000, 5000, 10000)
	e.IsHighAmount = amount > highAmount
	if amount > 0 {
		e.LogAmount = math.Log1p(amount)
	}
	e.IsHighValue = amount > HighValueThreshold
	e.IsVeryHighValue = amount > VeryHighValueThreshold

	e.IsUPI = tx.PaymentModeCode == domain.PaymentModeUPI
	e.UncommonPaymentMode = uncommonPaymentModes[tx.PaymentModeCode]
	e.UPINoMobile = e.IsUPI && !e.HasMobile
	e.HighValueNight = e.IsHighValue && e.ModelNight

	switch strings.ToLower(strings.TrimSpace(tx.Channel)) {
	case "w", "web":
		e.ChannelWeb = true
	case "m", "mobile":
		e.ChannelMobile = true
	}

	return e
}

// ParseTime parses a transaction timestamp in any accepted layout.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// IsRound reports whether amount is a positive multiple of 100, 500 or 1000.
func IsRound(amount float64) bool {
	return isMultiple(amount, 100, 500, 1000)
}

func isMultiple(amount float64, of ...float64) bool {
	if amount <= 0 || math.IsInf(amount, 0) || math.IsNaN(amount) {
		return false
	}
	for _, m := range of {
		if math.Mod(amount, m) == 0 {
			return true
		}
	}
	return false
}

func mondayFirst(d time.Weekday) int {
	return (int(d) + 6) % 7
}
