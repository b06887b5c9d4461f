// Package indicator computes technical indicator series over a bar series.
// Indicators are registered by name and resolved lazily; an Engine memoizes
// every (name, params) instance for the lifetime of one evaluation.
package indicator

import (
	"tradewise-engine/internal/models"
)

// Engine resolves indicators over one immutable bar series. It is not safe
// for concurrent use; each backtest or trigger check owns its own Engine.
type Engine struct {
	closes []float64
	cache  map[string]*Series
}

// NewEngine 为一个K线序列创建指标引擎
func NewEngine(series *models.BarSeries) *Engine {
	return NewEngineFromCloses(series.Closes())
}

// NewEngineFromCloses creates an Engine over raw close prices.
func NewEngineFromCloses(closes []float64) *Engine {
	return &Engine{closes: closes, cache: make(map[string]*Series)}
}

// Len returns the number of bars the engine covers.
func (e *Engine) Len() int { return len(e.closes) }

// Resolve returns the named indicator series, computing it at most once.
func (e *Engine) Resolve(name string, params map[string]any) (*Series, error) {
	key := CanonicalKey(name, params)
	if s, ok := e.cache[key]; ok {
		return s, nil
	}
	calc, err := Lookup(name, params)
	if err != nil {
		return nil, err
	}
	s := &Series{key: key, values: calc.Compute(e.closes), start: calc.Warmup()}
	e.cache[key] = s
	return s, nil
}

// Cached returns the number of memoized series.
func (e *Engine) Cached() int { return len(e.cache) }
