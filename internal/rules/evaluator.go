package rules

import (
	"fmt"

	"tradewise-engine/internal/indicator"
	"tradewise-engine/internal/models"

	"github.com/shopspring/decimal"
)

// operand is an indicator reference resolved against an Engine at bind time.
type operand struct {
	name   string
	params map[string]any
	warmup int
}

// conditionSpec is a validated condition that has not yet seen a bar series.
type conditionSpec struct {
	label    string
	a        operand
	op       models.Operator
	bType    models.OperandType
	literal  decimal.Decimal
	b        operand
	warmup   int
	crossing bool
}

// Evaluator evaluates one condition against a bound bar series.
type Evaluator struct {
	spec conditionSpec
	a    *indicator.Series
	b    *indicator.Series
}

// NewEvaluator compiles a single condition and binds it to engine.
func NewEvaluator(engine *indicator.Engine, c models.Condition) (*Evaluator, error) {
	spec, err := compileCondition("condition", normalizeCondition(c))
	if err != nil {
		return nil, err
	}
	return bindCondition(engine, spec)
}

func bindCondition(engine *indicator.Engine, spec conditionSpec) (*Evaluator, error) {
	a, err := engine.Resolve(spec.a.name, spec.a.params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", spec.label, err)
	}
	ev := &Evaluator{spec: spec, a: a}
	if spec.bType == models.OperandIndicator {
		if ev.b, err = engine.Resolve(spec.b.name, spec.b.params); err != nil {
			return nil, fmt.Errorf("%s: %w", spec.label, err)
		}
	}
	return ev, nil
}

// Warmup is the first index at which the condition can be known.
func (ev *Evaluator) Warmup() int { return ev.spec.warmup }

// Evaluate returns whether the condition holds at index i. known is false when
// either side is undefined at i, or at i-1 for crossing operators.
func (ev *Evaluator) Evaluate(i int) (matched, known bool) {
	a, b, ok := ev.sides(i)
	if !ok {
		return false, false
	}
	switch ev.spec.op {
	case models.GreaterThan:
		return a.GreaterThan(b), true
	case models.LessThan:
		return a.LessThan(b), true
	}

	prevA, prevB, ok := ev.sides(i - 1)
	if !ok {
		return false, false
	}
	switch ev.spec.op {
	case models.CrossesAbove:
		return prevA.LessThanOrEqual(prevB) && a.GreaterThan(b), true
	case models.CrossesBelow:
		return prevA.GreaterThanOrEqual(prevB) && a.LessThan(b), true
	}
	return false, false
}

// Holds treats an unknown result as false.
func (ev *Evaluator) Holds(i int) bool {
	matched, known := ev.Evaluate(i)
	return known && matched
}

func (ev *Evaluator) sides(i int) (a, b decimal.Decimal, ok bool) {
	av, ok := ev.a.Value(i)
	if !ok {
		return a, b, false
	}
	a = decimal.NewFromFloat(av)
	if ev.spec.bType == models.OperandValue {
		return a, ev.spec.literal, true
	}
	bv, ok := ev.b.Value(i)
	if !ok {
		return a, b, false
	}
	return a, decimal.NewFromFloat(bv), true
}
