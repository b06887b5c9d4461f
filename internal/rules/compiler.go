// Package rules compiles a declarative strategy into entry and exit predicates
// over a bar series.
//
// Conditions inside a rule are AND-ed, rules with the same action are OR-ed. A
// rule without conditions never fires. Rules are kept in priority-descending
// order, ties broken by declaration order, so evaluation is deterministic.
package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"tradewise-engine/internal/indicator"
	"tradewise-engine/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

type ruleSpec struct {
	index      int
	action     models.Action
	priority   int
	conditions []conditionSpec
}

// Program is a compiled strategy, reusable across bar series.
type Program struct {
	strategy models.Strategy
	entry    []ruleSpec
	exit     []ruleSpec
	warmup   int
}

// Predicates are a Program bound to one bar series.
type Predicates struct {
	Entry  func(i int) bool
	Exit   func(i int) bool
	Warmup int
}

// Compile validates and normalizes a strategy. Problems are reported as
// *models.ConfigurationError.
func Compile(s *models.Strategy) (*Program, error) {
	if s == nil {
		return nil, &models.ConfigurationError{Component: "strategy", Reason: "nil strategy"}
	}
	norm := normalizeStrategy(s)
	if err := validate.Struct(&norm); err != nil {
		return nil, translateValidation(err)
	}

	p := &Program{strategy: norm}
	for i, r := range norm.Rules {
		rs := ruleSpec{index: i, action: r.Action, priority: r.Priority}
		for j, c := range r.Conditions {
			label := fmt.Sprintf("rules[%d].conditions[%d]", i, j)
			cs, err := compileCondition(label, c)
			if err != nil {
				return nil, err
			}
			if cs.warmup > p.warmup {
				p.warmup = cs.warmup
			}
			rs.conditions = append(rs.conditions, cs)
		}
		if r.Action == models.Buy {
			p.entry = append(p.entry, rs)
		} else {
			p.exit = append(p.exit, rs)
		}
	}
	sortRules(p.entry)
	sortRules(p.exit)
	return p, nil
}

// Strategy returns the normalized strategy the program was compiled from.
func (p *Program) Strategy() models.Strategy { return p.strategy }

// Warmup is the first bar index at which every referenced indicator is
// defined, including the previous bar needed by crossing operators.
func (p *Program) Warmup() int { return p.warmup }

// HasEntry reports whether any BUY rule exists.
func (p *Program) HasEntry() bool { return len(p.entry) > 0 }

// HasExit reports whether any SELL rule exists.
func (p *Program) HasExit() bool { return len(p.exit) > 0 }

// Bind resolves every referenced indicator over series once and returns the
// entry and exit predicates.
func (p *Program) Bind(series *models.BarSeries) (*Predicates, error) {
	return p.BindEngine(indicator.NewEngine(series))
}

// BindEngine is Bind over an existing engine, sharing its memo cache.
func (p *Program) BindEngine(engine *indicator.Engine) (*Predicates, error) {
	entry, err := bindRules(engine, p.entry)
	if err != nil {
		return nil, err
	}
	exit, err := bindRules(engine, p.exit)
	if err != nil {
		return nil, err
	}
	return &Predicates{Entry: anyRule(entry), Exit: anyRule(exit), Warmup: p.warmup}, nil
}

func bindRules(engine *indicator.Engine, specs []ruleSpec) ([][]*Evaluator, error) {
	out := make([][]*Evaluator, 0, len(specs))
	for _, rs := range specs {
		group := make([]*Evaluator, 0, len(rs.conditions))
		for _, cs := range rs.conditions {
			ev, err := bindCondition(engine, cs)
			if err != nil {
				return nil, err
			}
			group = append(group, ev)
		}
		out = append(out, group)
	}
	return out, nil
}

func anyRule(groups [][]*Evaluator) func(int) bool {
	return func(i int) bool {
		for _, g := range groups {
			if allHold(g, i) {
				return true
			}
		}
		return false
	}
}

func allHold(group []*Evaluator, i int) bool {
	if len(group) == 0 {
		return false
	}
	for _, ev := range group {
		if !ev.Holds(i) {
			return false
		}
	}
	return true
}

func sortRules(rs []ruleSpec) {
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].priority > rs[j].priority })
}

func compileCondition(label string, c models.Condition) (conditionSpec, error) {
	cs := conditionSpec{label: label, op: c.Operator, bType: c.IndicatorBType, crossing: c.Operator.IsCrossing()}

	wa, err := indicator.Warmup(c.IndicatorA, c.IndicatorAParams)
	if err != nil {
		return cs, fmt.Errorf("%s: %w", label, err)
	}
	cs.a = operand{name: c.IndicatorA, params: c.IndicatorAParams, warmup: wa}
	cs.warmup = wa

	switch c.IndicatorBType {
	case models.OperandValue:
		if cs.crossing {
			return cs, &models.ConfigurationError{Component: label, Field: "operator",
				Reason: fmt.Sprintf("%s is not supported against a VALUE operand", c.Operator)}
		}
		if cs.literal, err = decimal.NewFromString(strings.TrimSpace(c.IndicatorBValue)); err != nil {
			return cs, &models.ConfigurationError{Component: label, Field: "indicator_b_value",
				Reason: fmt.Sprintf("invalid numeric literal %q", c.IndicatorBValue)}
		}
	case models.OperandIndicator:
		wb, err := indicator.Warmup(c.IndicatorBValue, c.IndicatorBParams)
		if err != nil {
			return cs, fmt.Errorf("%s: %w", label, err)
		}
		cs.b = operand{name: c.IndicatorBValue, params: c.IndicatorBParams, warmup: wb}
		if wb > cs.warmup {
			cs.warmup = wb
		}
	default:
		return cs, &models.ConfigurationError{Component: label, Field: "indicator_b_type",
			Reason: fmt.Sprintf("unsupported operand type %q", c.IndicatorBType)}
	}
	if cs.crossing {
		cs.warmup++
	}
	return cs, nil
}

func normalizeStrategy(s *models.Strategy) models.Strategy {
	out := *s
	out.Rules = make([]models.Rule, len(s.Rules))
	for i, r := range s.Rules {
		r.Action = models.Action(upper(string(r.Action)))
		conds := make([]models.Condition, len(r.Conditions))
		for j, c := range r.Conditions {
			conds[j] = normalizeCondition(c)
		}
		r.Conditions = conds
		out.Rules[i] = r
	}
	return out
}

func normalizeCondition(c models.Condition) models.Condition {
	c.IndicatorA = upper(c.IndicatorA)
	c.Operator = models.Operator(upper(string(c.Operator)))
	c.IndicatorBType = models.OperandType(upper(string(c.IndicatorBType)))
	c.IndicatorBValue = strings.TrimSpace(c.IndicatorBValue)
	if c.IndicatorBType == models.OperandIndicator {
		c.IndicatorBValue = strings.ToUpper(c.IndicatorBValue)
	}
	return c
}

func upper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func translateValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &models.ConfigurationError{Component: "strategy", Reason: err.Error()}
	}
	fe := verrs[0]
	reason := fmt.Sprintf("failed %q validation", fe.Tag())
	if fe.Param() != "" {
		reason = fmt.Sprintf("failed %q validation (%s)", fe.Tag(), fe.Param())
	}
	return &models.ConfigurationError{Component: fe.Namespace(), Field: fe.Field(), Reason: reason}
}
