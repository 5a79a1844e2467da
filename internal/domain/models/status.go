package models

import "time"

// SymbolStatus is the per-symbol part of EngineStatus.
type SymbolStatus struct {
	Symbol         string     `json:"symbol"`
	HistoryLength  int        `json:"historyLength"`
	LastPrice      *float64   `json:"lastPrice,omitempty"`
	LastTickAt     *time.Time `json:"lastTickAt,omitempty"`
	LastPersistAt  *time.Time `json:"lastPersistAt,omitempty"`
	LastDecisionAt *time.Time `json:"lastDecisionAt,omitempty"`
}

// EngineStatus is returned by getStatus.
type EngineStatus struct {
	Running           bool           `json:"running"`
	StartedAt         *time.Time     `json:"startedAt,omitempty"`
	Symbols           []SymbolStatus `json:"symbols"`
	StreamConnections int            `json:"streamConnections"`
	Algorithms        []string       `json:"algorithms"`
}
