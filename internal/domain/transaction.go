package domain

// Transaction represents an incoming payment transaction to be evaluated.
// It is never mutated once it enters the detection pipeline.
type Transaction struct {
	ID   string `json:"transaction_id" validate:"required,max=255"`
	Date string `json:"transaction_date"`

	// Financial details
	Amount          float64 `json:"transaction_amount" validate:"gte=0"`
	Channel         string  `json:"transaction_channel,omitempty"`
	PaymentMode     string  `json:"transaction_payment_mode,omitempty"`
	PaymentModeCode int     `json:"transaction_payment_mode_anonymous,omitempty"`
	GatewayBank     string  `json:"payment_gateway_bank,omitempty"`
	GatewayBankCode int     `json:"payment_gateway_bank_anonymous,omitempty"`

	// Payer contact and fingerprint data
	PayerEmail           string `json:"payer_email,omitempty"`
	PayerEmailAnonymous  string `json:"payer_email_anonymous,omitempty"`
	PayerMobile          string `json:"payer_mobile,omitempty"`
	PayerMobileAnonymous string `json:"payer_mobile_anonymous,omitempty"`
	PayerDevice          string `json:"payer_device,omitempty"`
	PayerBrowser         string `json:"payer_browser,omitempty"`
	PayerBrowserCode     int    `json:"payer_browser_anonymous,omitempty"`

	PayeeID string `json:"payee_id,omitempty"`
}

// PaymentModeUPI is the anonymized payment-mode code of the instant payment method.
const PaymentModeUPI = 11

// EnrichedTransaction is a Transaction plus attributes derived for rule and
// model evaluation. A fresh value is built for every evaluation.
type EnrichedTransaction struct {
	Transaction

	HasMobile     bool `json:"has_mobile"`
	HasEmail      bool `json:"has_email"`
	HourOfDay     int  `json:"hour_of_day"`
	DayOfWeek     int  `json:"day_of_week"` // Monday = 0
	IsWeekend     bool `json:"is_weekend"`
	IsNight       bool `json:"is_night"`
	IsRoundAmount bool `json:"is_round_amount"`
	IsHighAmount  bool `json:"is_high_amount"`

	// Model-facing attributes. ModelNight and ModelRoundAmount follow the
	// definitions the forest was trained on and differ from IsNight and
	// IsRoundAmount.
	ModelNight          bool    `json:"model_is_night"`
	ModelRoundAmount    bool    `json:"model_is_round_amount"`
	LogAmount           float64 `json:"log_amount"`
	IsHighValue         bool    `json:"is_high_value"`
	IsVeryHighValue     bool    `json:"is_very_high_value"`
	IsBusinessHours     bool    `json:"is_business_hours"`
	IsUPI               bool    `json:"is_upi"`
	UncommonPaymentMode bool    `json:"uncommon_payment_mode"`
	UPINoMobile         bool    `json:"upi_no_mobile"`
	HighValueNight      bool    `json:"high_value_night"`
	ChannelWeb          bool    `json:"channel_web"`
	ChannelMobile       bool    `json:"channel_mobile"`
}

// Attributes returns the attribute map rule conditions are evaluated against.
// Flags are exposed as 0/1 so stored conditions can compare them to numbers.
// The map is freshly allocated on every call.
func (e *EnrichedTransaction) Attributes() map[string]any {
	return map[string]any{
		"transaction_id":                     e.ID,
		"transaction_date":                   e.Date,
		"transaction_amount":                 e.Amount,
		"transaction_channel":                e.Channel,
		"transaction_payment_mode":           e.PaymentMode,
		"transaction_payment_mode_anonymous": float64(e.PaymentModeCode),
		"payment_gateway_bank":               e.GatewayBank,
		"payment_gateway_bank_anonymous":     float64(e.GatewayBankCode),
		"payer_email":                        e.PayerEmail,
		"payer_email_anonymous":              e.PayerEmailAnonymous,
		"payer_mobile":                       e.PayerMobile,
		"payer_mobile_anonymous":             e.PayerMobileAnonymous,
		"payer_device":                       e.PayerDevice,
		"payer_browser":                      e.PayerBrowser,
		"payer_browser_anonymous":            float64(e.PayerBrowserCode),
		"payee_id":                           e.PayeeID,

		"has_mobile":      flag(e.HasMobile),
		"has_email":       flag(e.HasEmail),
		"hour_of_day":     float64(e.HourOfDay),
		"hour":            float64(e.HourOfDay),
		"day_of_week":     float64(e.DayOfWeek),
		"is_weekend":      flag(e.IsWeekend),
		"is_night":        flag(e.IsNight),
		"is_round_amount": flag(e.IsRoundAmount),
		"is_high_amount":  flag(e.IsHighAmount),

		"log_amount":            e.LogAmount,
		"is_high_value":         flag(e.IsHighValue),
		"is_very_high_value":    flag(e.IsVeryHighValue),
		"is_business_hours":     flag(e.IsBusinessHours),
		"is_upi":                flag(e.IsUPI),
		"uncommon_payment_mode": flag(e.UncommonPaymentMode),
		"upi_no_mobile":         flag(e.UPINoMobile),
		"high_value_night":      flag(e.HighValueNight),
		"channel_web":           flag(e.ChannelWeb),
		"channel_mobile":        flag(e.ChannelMobile),
	}
}

// ModelAttributes is Attributes with is_night and is_round_amount replaced
// by their model-facing definitions. The anomaly forest and the model checks
// read this map.
func (e *EnrichedTransaction) ModelAttributes() map[string]any {
	attrs := e.Attributes()
	attrs["is_night"] = flag(e.ModelNight)
	attrs["is_round_amount"] = flag(e.ModelRoundAmount)
	return attrs
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
