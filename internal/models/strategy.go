package models

import "time"

// Action 定义了规则的交易方向
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
)

// Operator is the comparison applied by a condition.
type Operator string

const (
	GreaterThan  Operator = "GREATER_THAN"
	LessThan     Operator = "LESS_THAN"
	CrossesAbove Operator = "CROSSES_ABOVE"
	CrossesBelow Operator = "CROSSES_BELOW"
)

// IsCrossing reports whether the operator needs the previous bar as well.
func (o Operator) IsCrossing() bool {
	return o == CrossesAbove || o == CrossesBelow
}

// OperandType says how IndicatorBValue is interpreted.
type OperandType string

const (
	OperandValue     OperandType = "VALUE"
	OperandIndicator OperandType = "INDICATOR"
)

// Strategy 是用户定义的交易策略，拥有其全部规则
type Strategy struct {
	ID          string    `json:"id" yaml:"id"`
	OwnerID     string    `json:"owner_id" yaml:"owner_id"`
	Name        string    `json:"name" yaml:"name" validate:"required"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at,omitempty"`
	Rules       []Rule    `json:"rules" yaml:"rules" validate:"dive"`
}

// Rule is an AND-group of conditions bound to an action. Priority and
// AllocationPercent are carried as metadata; simulation is all-in/all-out.
type Rule struct {
	Action            Action      `json:"action" yaml:"action" validate:"required,oneof=BUY SELL"`
	AllocationPercent float64     `json:"allocation_percent" yaml:"allocation_percent" validate:"gte=0,lte=100"`
	Priority          int         `json:"priority" yaml:"priority"`
	Conditions        []Condition `json:"conditions" yaml:"conditions" validate:"dive"`
}

// Condition compares indicator A against a literal value or indicator B.
type Condition struct {
	IndicatorA       string         `json:"indicator_a" yaml:"indicator_a" validate:"required"`
	IndicatorAParams map[string]any `json:"indicator_a_params,omitempty" yaml:"indicator_a_params,omitempty"`
	Operator         Operator       `json:"operator" yaml:"operator" validate:"required,oneof=GREATER_THAN LESS_THAN CROSSES_ABOVE CROSSES_BELOW"`
	IndicatorBType   OperandType    `json:"indicator_b_type" yaml:"indicator_b_type" validate:"required,oneof=VALUE INDICATOR"`
	IndicatorBValue  string         `json:"indicator_b_value" yaml:"indicator_b_value" validate:"required"`
	IndicatorBParams map[string]any `json:"indicator_b_params,omitempty" yaml:"indicator_b_params,omitempty"`
}

// Subscription 对应一个被激活的 (用户, 策略, 交易对) 实时监控
type Subscription struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	StrategyID string `json:"strategy_id"`
	Symbol     string `json:"symbol"`
	Active     bool   `json:"active"`
}
