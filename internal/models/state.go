package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionState is the FLAT/LONG state shared by the simulation runner and the
// live monitor.
type PositionState string

const (
	Flat PositionState = "FLAT"
	Long PositionState = "LONG"
)

// SubscriptionState 定义了每个订阅需要持久化的运行时状态
type SubscriptionState struct {
	SubscriptionID string          `json:"subscription_id"`
	Position       PositionState   `json:"position"`        // 当前持仓状态 FLAT/LONG
	EntryPrice     decimal.Decimal `json:"entry_price"`     // 最近一次入场触发价格
	HasTick        bool            `json:"has_tick"`        // 是否已应用过 tick
	LastTickTime   time.Time       `json:"last_tick_time"`  // 最后一次被应用的 tick 时间
	PrevEntry      bool            `json:"prev_entry"`      // 上一次评估时入场条件的结果
	PrevExit       bool            `json:"prev_exit"`       // 上一次评估时出场条件的结果
	Window         []Bar           `json:"window"`          // 滚动K线窗口
	LastUpdateTime time.Time       `json:"last_update_time"`
}
