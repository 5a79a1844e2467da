package strategy

import (
	"fmt"

	"SignalDesk/internal/domain/models"
	domsvc "SignalDesk/internal/domain/service"
	"SignalDesk/internal/services/indicators"
)

// Config holds the tunables shared by the strategy set.
type Config struct {
	KellyMin       float64
	KellyMax       float64
	SampleInterval string
	VolatileLimit  float64
}

func DefaultConfig() Config {
	return Config{KellyMin: 0.01, KellyMax: 0.25, SampleInterval: "10s", VolatileLimit: 3}
}

// params bound the point tally of one strategy.
type params struct {
	minHistory  int
	minEvidence int
	maxPoints   int
}

// tally accumulates rule points and the reasons behind them.
type tally struct {
	buy, sell int
	reasons   []string
}

func (t *tally) Buy(points int, format string, args ...interface{}) {
	t.buy += points
	t.reasons = append(t.reasons, fmt.Sprintf(format, args...))
}

func (t *tally) Sell(points int, format string, args ...interface{}) {
	t.sell += points
	t.reasons = append(t.reasons, fmt.Sprintf(format, args...))
}

// decide applies the shared evidence rule to a tally.
func decide(algo string, p params, t *tally) models.StrategySignal {
	reasons := t.reasons
	if reasons == nil {
		reasons = []string{}
	}
	out := models.StrategySignal{
		Algorithm:  algo,
		Signal:     models.SignalHold,
		Reasons:    reasons,
		BuyPoints:  t.buy,
		SellPoints: t.sell,
	}

	diff := t.buy - t.sell
	switch {
	case diff > 0 && t.buy >= p.minEvidence:
		out.Signal = models.SignalBuy
	case diff < 0 && t.sell >= p.minEvidence:
		out.Signal = models.SignalSell
	}

	if out.Signal == models.SignalHold {
		weaker := t.buy
		if t.sell < weaker {
			weaker = t.sell
		}
		out.Confidence = indicators.Clamp(float64(weaker)/float64(p.maxPoints)*100, 0, 40)
		return out
	}
	if diff < 0 {
		diff = -diff
	}
	out.Confidence = indicators.Clamp(50+float64(diff)/float64(p.maxPoints)*50, 0, 95)
	return out
}

// insufficient reports whether in is too short for a strategy needing min points.
func insufficient(in domsvc.StrategyInput, min int) bool {
	return len(in.History) < min || in.Indicators == nil
}

func closes(in domsvc.StrategyInput) []float64 {
	out := make([]float64, len(in.History))
	for i, p := range in.History {
		out[i] = p.Price
	}
	return out
}

// Registry is the fixed, ordered strategy set.
type Registry struct {
	order  []domsvc.Strategy
	byName map[string]domsvc.Strategy
}

// NewRegistry builds the five built-in strategies in evaluation order.
func NewRegistry(cfg Config) *Registry {
	if cfg.KellyMax <= 0 {
		cfg.KellyMax = 0.25
	}
	if cfg.KellyMin <= 0 || cfg.KellyMin > cfg.KellyMax {
		cfg.KellyMin = 0.01
	}
	if cfg.SampleInterval == "" {
		cfg.SampleInterval = "10s"
	}
	if cfg.VolatileLimit <= 0 {
		cfg.VolatileLimit = 3
	}
	return NewRegistryOf(
		Technical{},
		Momentum{},
		MeanReversion{},
		VolatilityRegime{cfg: cfg},
		ProfitMaximization{cfg: cfg},
	)
}

// NewRegistryOf builds a registry from arbitrary strategies.
func NewRegistryOf(strategies ...domsvc.Strategy) *Registry {
	r := &Registry{byName: make(map[string]domsvc.Strategy, len(strategies))}
	for _, s := range strategies {
		if _, dup := r.byName[s.Name()]; dup {
			continue
		}
		r.order = append(r.order, s)
		r.byName[s.Name()] = s
	}
	return r
}

func (r *Registry) All() []domsvc.Strategy { return append([]domsvc.Strategy(nil), r.order...) }

func (r *Registry) Get(name string) (domsvc.Strategy, bool) {
	s, ok := r.byName[name]
	return s, ok
}

func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	for i, s := range r.order {
		out[i] = s.Name()
	}
	return out
}

// MaxMinHistory is the longest lookback any strategy needs.
func (r *Registry) MaxMinHistory() int {
	m := 0
	for _, s := range r.order {
		if s.MinHistory() > m {
			m = s.MinHistory()
		}
	}
	return m
}
