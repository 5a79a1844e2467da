package selector

import (
	"fmt"
	"math"
	"sort"
	"time"

	"SignalDesk/internal/domain/models"
	domsvc "SignalDesk/internal/domain/service"
	"SignalDesk/pkg/clock"
	"SignalDesk/pkg/logger"
)

// Config holds the weighting constants.
type Config struct {
	ProfitMaxMultiplier float64
	RiskRewardHigh      float64
	RiskRewardHighBonus float64
	RiskRewardLow       float64
	RiskRewardLowBonus  float64
	AgreementBonus      float64
	MaxConfidence       float64
}

func DefaultConfig() Config {
	return Config{
		ProfitMaxMultiplier: 1.2,
		RiskRewardHigh:      3,
		RiskRewardHighBonus: 1.15,
		RiskRewardLow:       2,
		RiskRewardLowBonus:  1.05,
		AgreementBonus:      5,
		MaxConfidence:       95,
	}
}

// Scorer supplies the live performance score of an algorithm on a symbol.
type Scorer interface {
	Score(algorithm, symbol string) float64
}

// Selector ranks strategy signals by confidence weighted with live
// performance and picks the best one.
type Selector struct {
	cfg    Config
	scorer Scorer
	clock  clock.Clock
	logger *logger.Logger
}

type Option func(*Selector)

func WithClock(c clock.Clock) Option { return func(s *Selector) { s.clock = c } }

func WithLogger(l *logger.Logger) Option { return func(s *Selector) { s.logger = l } }

func New(cfg Config, scorer Scorer, opts ...Option) *Selector {
	s := &Selector{cfg: cfg, scorer: scorer, clock: clock.New(), logger: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select never panics. A failure while ranking falls back to the first
// signal; an empty input yields a hold.
func (s *Selector) Select(symbol string, signals []models.StrategySignal) (res models.SelectionResult) {
	symbol = models.NormalizeSymbol(symbol)
	now := s.clock.Now()

	if len(signals) == 0 {
		return models.SelectionResult{
			Symbol:     symbol,
			Signal:     models.SignalHold,
			Reasons:    []string{"no signals"},
			AllSignals: []models.AlgorithmScore{},
			Timestamp:  now,
		}
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("selector panic", logger.String("symbol", symbol), logger.Any("panic", r))
			res = fallback(symbol, signals[0], now)
		}
	}()

	scores := make([]models.AlgorithmScore, len(signals))
	for i, sig := range signals {
		perf := s.performance(sig.Algorithm, symbol)
		scores[i] = models.AlgorithmScore{
			Algorithm:        sig.Algorithm,
			Signal:           sig.Signal,
			Confidence:       sig.Confidence,
			PerformanceScore: perf,
			WeightedScore:    s.weighted(sig, perf),
		}
	}

	order := make([]int, len(signals))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]].WeightedScore > scores[order[b]].WeightedScore
	})

	best := signals[order[0]]
	ranked := make([]models.AlgorithmScore, len(order))
	for i, idx := range order {
		ranked[i] = scores[idx]
	}

	res = models.SelectionResult{
		Symbol:            symbol,
		SelectedAlgorithm: best.Algorithm,
		Signal:            best.Signal,
		Confidence:        best.Confidence,
		Reasons:           append([]string(nil), best.Reasons...),
		AllSignals:        ranked,
		Agreement:         1,
		Metrics:           best.Metrics,
		Timestamp:         now,
	}
	if res.Reasons == nil {
		res.Reasons = []string{}
	}

	if best.Signal == models.SignalHold {
		return res
	}

	var sumW, sumWC float64
	agree := 0
	for _, sc := range scores {
		if sc.Signal != best.Signal {
			continue
		}
		agree++
		w := math.Max(sc.PerformanceScore, 1)
		sumW += w
		sumWC += w * sc.Confidence
	}
	res.Agreement = agree
	if agree >= 2 && sumW > 0 {
		conf := sumWC/sumW + s.cfg.AgreementBonus*float64(agree-1)
		res.Confidence = math.Min(conf, s.cfg.MaxConfidence)
		res.Reasons = append(res.Reasons, fmt.Sprintf("%d algorithms agree on %s", agree, best.Signal))
	}
	return res
}

func (s *Selector) performance(algo, symbol string) float64 {
	if s.scorer == nil {
		return 50
	}
	return s.scorer.Score(algo, symbol)
}

func (s *Selector) weighted(sig models.StrategySignal, perf float64) float64 {
	w := sig.Confidence / 100 * perf / 100 * 100
	if sig.Algorithm == models.AlgoProfitMaximization {
		w *= s.cfg.ProfitMaxMultiplier
	}
	if rr := sig.Metrics.RiskReward; rr != nil {
		switch {
		case *rr >= s.cfg.RiskRewardHigh:
			w *= s.cfg.RiskRewardHighBonus
		case *rr >= s.cfg.RiskRewardLow:
			w *= s.cfg.RiskRewardLowBonus
		}
	}
	return w
}

func fallback(symbol string, sig models.StrategySignal, now time.Time) models.SelectionResult {
	reasons := append([]string(nil), sig.Reasons...)
	return models.SelectionResult{
		Symbol:            symbol,
		SelectedAlgorithm: sig.Algorithm,
		Signal:            sig.Signal,
		Confidence:        sig.Confidence,
		Reasons:           append(reasons, "selection fallback"),
		AllSignals: []models.AlgorithmScore{{
			Algorithm:  sig.Algorithm,
			Signal:     sig.Signal,
			Confidence: sig.Confidence,
		}},
		Agreement: 1,
		Metrics:   sig.Metrics,
		Timestamp: now,
	}
}

var _ domsvc.AlgorithmSelector = (*Selector)(nil)
