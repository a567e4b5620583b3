package features

import (
	"math"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestEnrichTime(t *testing.T) {
	tests := []struct {
		name     string
		date     string
		hour     int
		day      int
		weekend  bool
		night    bool
		business bool
		model    bool
	}{
		{"rfc3339 zulu", "2023-01-07T23:15:00Z", 23, 5, true, true, false, true},
		{"fractional", "2023-01-09T03:10:00.123Z", 3, 0, false, true, false, true},
		{"naive iso", "2023-01-10T14:00:00", 14, 1, false, false, true, false},
		{"space separated", "2023-01-08 06:59:59", 6, 6, true, true, false, false},
		{"hour 5 is model day", "2023-01-11T05:00:00Z", 5, 2, false, true, false, false},
		{"hour 7 is day", "2023-01-11T07:00:00Z", 7, 2, false, false, false, false},
		{"hour 22 is night", "2023-01-11T22:00:00Z", 22, 2, false, true, false, false},
		{"garbage", "not a date", 12, 0, false, false, true, false},
		{"empty", "", 12, 0, false, false, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Enrich(&domain.Transaction{ID: "T", Date: tt.date})
			if e.HourOfDay != tt.hour {
				t.Errorf("HourOfDay = %d, want %d", e.HourOfDay, tt.hour)
			}
			if e.DayOfWeek != tt.day {
				t.Errorf("DayOfWeek = %d, want %d", e.DayOfWeek, tt.day)
			}
			if e.IsWeekend != tt.weekend {
				t.Errorf("IsWeekend = %v, want %v", e.IsWeekend, tt.weekend)
			}
			if e.IsNight != tt.night {
				t.Errorf("IsNight = %v, want %v", e.IsNight, tt.night)
			}
			if e.IsBusinessHours != tt.business {
				t.Errorf("IsBusinessHours = %v, want %v", e.IsBusinessHours, tt.business)
			}
			if e.ModelNight != tt.model {
				t.Errorf("ModelNight = %v, want %v", e.ModelNight, tt.model)
			}
		})
	}
}

func TestEnrichAmount(t *testing.T) {
	tests := []struct {
		amount    float64
		round      bool
		modelRound bool
		high       bool
		highValue  bool
		veryHigh   bool
	}{
		{0, false, false, false, false, false},
		{99.5, false, false, false, false, false},
		{100, true, false, false, false, false},
		{10000, true, true, false, false, false},
		{10001, false, false, true, false, false},
		{20100, true, false, true, false, false},
		{150000, true, true, true, true, false},
		{600000, true, true, true, true, true},
	}

	for _, tt := range tests {
		e := Enrich(&domain.Transaction{ID: "T", Amount: tt.amount})
		if e.IsRoundAmount != tt.round {
			t.Errorf("amount %v: IsRoundAmount = %v, want %v", tt.amount, e.IsRoundAmount, tt.round)
		}
		if e.ModelRoundAmount != tt.modelRound {
			t.Errorf("amount %v: ModelRoundAmount = %v, want %v", tt.amount, e.ModelRoundAmount, tt.modelRound)
		}
		if e.IsHighAmount != tt.high {
			t.Errorf("amount %v: IsHighAmount = %v, want %v", tt.amount, e.IsHighAmount, tt.high)
		}
		if e.IsHighValue != tt.highValue {
			t.Errorf("amount %v: IsHighValue = %v, want %v", tt.amount, e.IsHighValue, tt.highValue)
		}
		if e.IsVeryHighValue != tt.veryHigh {
			t.Errorf("amount %v: IsVeryHighValue = %v, want %v", tt.amount, e.IsVeryHighValue, tt.veryHigh)
		}
	}

	e := Enrich(&domain.Transaction{ID: "T", Amount: 1000})
	if math.Abs(e.LogAmount-math.Log1p(1000)) > 1e-12 {
		t.Errorf("LogAmount = %v", e.LogAmount)
	}
}

func TestEnrichHighAmountOption(t *testing.T) {
	e := Options{HighAmountThreshold: 500}.Enrich(&domain.Transaction{ID: "T", Amount: 600})
	if !e.IsHighAmount {
		t.Error("600 should be high with threshold 500")
	}
}

func TestEnrichContactAndMode(t *testing.T) {
	t.Run("anonymized mobile counts", func(t *testing.T) {
		e := Enrich(&domain.Transaction{ID: "T", PayerMobileAnonymous: "xx91"})
		if !e.HasMobile {
			t.Error("expected HasMobile")
		}
	})

	t.Run("upi without mobile", func(t *testing.T) {
		e := Enrich(&domain.Transaction{ID: "T", PaymentModeCode: 11})
		if !e.IsUPI || !e.UPINoMobile {
			t.Errorf("IsUPI=%v UPINoMobile=%v", e.IsUPI, e.UPINoMobile)
		}
	})

	t.Run("uncommon mode", func(t *testing.T) {
		for _, code := range []int{4, 5, 9} {
			if !Enrich(&domain.Transaction{ID: "T", PaymentModeCode: code}).UncommonPaymentMode {
				t.Errorf("code %d should be uncommon", code)
			}
		}
		if Enrich(&domain.Transaction{ID: "T", PaymentModeCode: 1}).UncommonPaymentMode {
			t.Error("code 1 should be common")
		}
	})

	t.Run("channel", func(t *testing.T) {
		if !Enrich(&domain.Transaction{ID: "T", Channel: "W"}).ChannelWeb {
			t.Error("W should map to web")
		}
		if !Enrich(&domain.Transaction{ID: "T", Channel: "mobile"}).ChannelMobile {
			t.Error("mobile should map to mobile")
		}
	})
}

func TestEnrichDoesNotMutateInput(t *testing.T) {
	tx := &domain.Transaction{ID: "T", Amount: 500, Date: "2023-01-01T00:00:00Z"}
	before := *tx
	e := Enrich(tx)
	e.Amount = 1
	if *tx != before {
		t.Errorf("input mutated: %+v", tx)
	}
}
