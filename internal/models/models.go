package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config 结构体定义了引擎的所有配置参数
type Config struct {
	DBPath          string        `json:"db_path"`          // 策略与订阅的 badger 数据库目录
	NotificationsDB string        `json:"notifications_db"` // 通知记录的 sqlite 文件路径
	DataDir         string        `json:"data_dir"`         // K线CSV缓存目录
	InitialCash     float64       `json:"initial_cash"`     // 回测初始资金
	StreamURL       string        `json:"stream_url"`       // 行情 WebSocket 基础地址
	MetricsAddr     string        `json:"metrics_addr,omitempty"`
	Monitor         MonitorConfig `json:"monitor"`
	LogConfig       LogConfig     `json:"log"`
}

// MonitorConfig 定义了实时监控相关的配置
type MonitorConfig struct {
	WindowSize       int `json:"window_size"`        // 每个订阅滚动窗口的最小长度
	TickQueueSize    int `json:"tick_queue_size"`    // 每个交易对的 tick 缓冲队列
	NotifyQueueSize  int `json:"notify_queue_size"`  // 通知发送队列
	PingIntervalSec  int `json:"ping_interval_sec"`  // WebSocket Ping 间隔(秒)
	PongTimeoutSec   int `json:"pong_timeout_sec"`   // WebSocket Pong 超时(秒)
	ReconnectWaitSec int `json:"reconnect_wait_sec"` // 断线重连等待(秒)
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// Bar 是一根K线 (OHLCV)
type Bar struct {
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// BarSeries is an ordered, read-only sequence of bars for one symbol.
// Index 0 is the earliest bar.
type BarSeries struct {
	Symbol string `json:"symbol"`
	Bars   []Bar  `json:"bars"`
}

// Len returns the number of bars in the series.
func (s *BarSeries) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Bars)
}

// Closes returns the close prices as float64 for indicator math.
func (s *BarSeries) Closes() []float64 {
	out := make([]float64, s.Len())
	for i, b := range s.Bars {
		out[i] = b.Close.InexactFloat64()
	}
	return out
}

// Close returns the close price at index i.
func (s *BarSeries) Close(i int) decimal.Decimal {
	return s.Bars[i].Close
}

// Position is one round trip recorded by the simulation runner.
// ExitIndex is -1 while the position is still open.
type Position struct {
	EntryIndex int             `json:"entry_index"`
	ExitIndex  int             `json:"exit_index"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	EntryTime  time.Time       `json:"entry_time"`
	ExitTime   time.Time       `json:"exit_time"`
}

// IsClosed reports whether the position has an exit.
func (p Position) IsClosed() bool {
	return p.ExitIndex >= 0
}

// IsWin reports whether a closed position exited above its entry.
func (p Position) IsWin() bool {
	return p.IsClosed() && p.ExitPrice.GreaterThan(p.EntryPrice)
}

// TradeRecord 记录一次模拟的全部已平仓位和期末未平仓位
type TradeRecord struct {
	Closed []Position `json:"closed"`
	Open   *Position  `json:"open,omitempty"`
}

// Report 是回测结果报告
type Report struct {
	StrategyName       string          `json:"strategy_name"`
	Symbol             string          `json:"symbol"`
	TotalTrades        int             `json:"total_trades"`
	TotalProfitLoss    decimal.Decimal `json:"total_profit_loss"`
	TotalReturnPercent decimal.Decimal `json:"total_return_percent"`
	WinRatePercent     decimal.Decimal `json:"win_rate_percent"`
	MaxDrawdownPercent decimal.Decimal `json:"max_drawdown_percent"`

	InitialCash decimal.Decimal `json:"initial_cash"`
	FinalEquity decimal.Decimal `json:"final_equity"`
	StartTime   time.Time       `json:"start_time"`
	EndTime     time.Time       `json:"end_time"`
	Bars        int             `json:"bars"`
	Warmup      int             `json:"warmup"`
	Record      TradeRecord     `json:"record"`
	Warnings    []string        `json:"warnings,omitempty"`
}

// Tick 是一条实时成交价格
type Tick struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// TriggerEvent is emitted by the live monitor when a subscription's entry or
// exit predicate turns true.
type TriggerEvent struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscription_id"`
	UserID         string          `json:"user_id"`
	StrategyID     string          `json:"strategy_id"`
	StrategyName   string          `json:"strategy_name"`
	Symbol         string          `json:"symbol"`
	Action         Action          `json:"action"`
	Message        string          `json:"message"`
	Price          decimal.Decimal `json:"price"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Notification is a persisted trigger message addressed to a user.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	EventID   string    `json:"event_id"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// TradeEvent 定义了来自 WebSocket 的聚合成交事件
type TradeEvent struct {
	EventType string `json:"e"` // Event type
	EventTime int64  `json:"E"` // Event time
	Symbol    string `json:"s"` // Symbol
	TradeID   int64  `json:"a"` // Aggregate trade ID
	Price     string `json:"p"` // Price
	Quantity  string `json:"q"` // Quantity
	TradeTime int64  `json:"T"` // Trade time
	IsMaker   bool   `json:"m"` // Is the buyer the market maker?
}

// StreamEnvelope wraps events delivered on a combined stream.
type StreamEnvelope struct {
	Stream string     `json:"stream"`
	Data   TradeEvent `json:"data"`
}
