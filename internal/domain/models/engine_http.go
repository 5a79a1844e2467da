package models

// Requests for the engine HTTP endpoints.

type SymbolRequest struct {
	Symbol string `param:"symbol" json:"symbol" validate:"required,symbol"`
}

type SignalRequest struct {
	Symbol string `param:"symbol" validate:"required,symbol"`
}

type CreateSimulationRequest struct {
	UserID            string        `json:"userId" validate:"required,max=64"`
	Symbol            string        `json:"symbol" validate:"required,symbol"`
	InitialInvestment float64       `json:"initialInvestment" validate:"gt=0"`
	Settings          SettingsInput `json:"settings"`
}

// SettingsInput carries caller-supplied simulation settings. Nil fields take
// their defaults; an explicit zero is kept.
type SettingsInput struct {
	BuyPercentage        *float64 `json:"buyPercentage"`
	SellPercentage       *float64 `json:"sellPercentage"`
	MinConfidence        *float64 `json:"minConfidence"`
	StopLossEnabled      bool     `json:"stopLossEnabled"`
	StopLossPercentage   *float64 `json:"stopLossPercentage"`
	TakeProfitEnabled    bool     `json:"takeProfitEnabled"`
	TakeProfitPercentage *float64 `json:"takeProfitPercentage"`
}

// Apply overlays the set fields onto base.
func (in SettingsInput) Apply(base SimulationSettings) SimulationSettings {
	set := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&base.BuyPercentage, in.BuyPercentage)
	set(&base.SellPercentage, in.SellPercentage)
	set(&base.MinConfidence, in.MinConfidence)
	set(&base.StopLossPercentage, in.StopLossPercentage)
	set(&base.TakeProfitPercentage, in.TakeProfitPercentage)
	base.StopLossEnabled = in.StopLossEnabled
	base.TakeProfitEnabled = in.TakeProfitEnabled
	return base
}

type SimulationRequest struct {
	ID string `param:"id" validate:"required,uuid"`
}

type ListTradesRequest struct {
	ID    string `param:"id" validate:"required,uuid"`
	Limit int    `query:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type ListSimulationsRequest struct {
	UserID string `query:"userId" validate:"required,max=64"`
}

type SummariesRequest struct {
	Symbol   string `param:"symbol" validate:"required,symbol"`
	Category string `query:"category" default:"day" validate:"oneof=hour day week month 24h 7d 30d all"`
	Limit    int    `query:"limit" default:"30" validate:"gte=1,lte=500"`
}

type TicksRequest struct {
	Symbol string `param:"symbol" validate:"required,symbol"`
	From   string `query:"from"`
	To     string `query:"to"`
	Limit  int    `query:"limit" default:"1000" validate:"gte=1,lte=10000"`
}
