package model

import "github.com/opensource-finance/kestrel/internal/domain"

// RiskScore combines known fraud indicators into a score in [0,1].
func RiskScore(e *domain.EnrichedTransaction) float64 {
	amount := e.Amount
	score := 0.0

	switch {
	case amount > 500000:
		score += 0.4
	case amount > 100000:
		score += 0.3
	case amount > 50000:
		score += 0.2
	case amount > 10000:
		score += 0.1
	}

	if e.ModelNight {
		score += 0.2
		if amount > 20000 {
			score += 0.1
		}
	}

	if !e.HasMobile {
		score += 0.2
	}
	if e.ModelRoundAmount && amount > 10000 {
		score += 0.2
	}
	if e.UncommonPaymentMode {
		score += 0.2
	}
	if e.UPINoMobile {
		score += 0.4
	}
	if e.HighValueNight {
		score += 0.3
	}

	return domain.Clamp01(score)
}
