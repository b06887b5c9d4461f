// Package feed streams live aggregate-trade prices from a Binance-compatible
// websocket endpoint.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tradewise-engine/internal/metrics"
	"tradewise-engine/internal/models"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultPongWait      = 60 * time.Second
	defaultReconnectWait = 5 * time.Second
)

// Stream maintains one combined aggTrade connection for a set of symbols and
// reconnects until its context is cancelled.
type Stream struct {
	baseURL       string
	symbols       []string
	pongWait      time.Duration
	pingPeriod    time.Duration
	reconnectWait time.Duration
	dialer        *websocket.Dialer
	logger        *zap.Logger

	ticks chan models.Tick
}

// NewStream creates a Stream. Zero durations in cfg fall back to defaults.
func NewStream(baseURL string, symbols []string, cfg models.MonitorConfig, logger *zap.Logger) *Stream {
	pongWait := time.Duration(cfg.PongTimeoutSec) * time.Second
	if pongWait <= 0 {
		pongWait = defaultPongWait
	}
	pingPeriod := time.Duration(cfg.PingIntervalSec) * time.Second
	if pingPeriod <= 0 || pingPeriod >= pongWait {
		pingPeriod = (pongWait * 9) / 10 // Must be less than pongWait
	}
	reconnectWait := time.Duration(cfg.ReconnectWaitSec) * time.Second
	if reconnectWait <= 0 {
		reconnectWait = defaultReconnectWait
	}
	queue := cfg.TickQueueSize
	if queue <= 0 {
		queue = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stream{
		baseURL:       strings.TrimRight(baseURL, "/"),
		symbols:       symbols,
		pongWait:      pongWait,
		pingPeriod:    pingPeriod,
		reconnectWait: reconnectWait,
		dialer:        websocket.DefaultDialer,
		logger:        logger,
		ticks:         make(chan models.Tick, queue),
	}
}

// Ticks returns the channel parsed ticks are delivered on. It is closed when
// Run returns.
func (s *Stream) Ticks() <-chan models.Tick { return s.ticks }

// URL returns the combined stream endpoint for the configured symbols.
func (s *Stream) URL() string {
	streams := make([]string, len(s.symbols))
	for i, sym := range s.symbols {
		streams[i] = strings.ToLower(sym) + "@aggTrade"
	}
	return fmt.Sprintf("%s/stream?streams=%s", s.baseURL, strings.Join(streams, "/"))
}

// Run keeps the connection alive until ctx is cancelled.
func (s *Stream) Run(ctx context.Context) error {
	defer close(s.ticks)
	if len(s.symbols) == 0 {
		return errors.New("no symbols to stream")
	}
	for {
		conn, _, err := s.dialer.DialContext(ctx, s.URL(), nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Sugar().Warnf("WebSocket连接失败: %v。%s后重试...", err, s.reconnectWait)
		} else {
			s.logger.Sugar().Infof("WebSocket连接成功: %s", s.URL())
			if err := s.readLoop(ctx, conn); err != nil && ctx.Err() == nil {
				s.logger.Sugar().Warnf("WebSocket处理时发生错误: %v", err)
			}
			conn.Close()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.reconnectWait):
			metrics.StreamReconnects.Inc()
			s.logger.Sugar().Info("WebSocket连接已断开，准备重连...")
		}
	}
}

// readLoop handles one established connection with a ping/pong heartbeat.
func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	defer wg.Wait()
	defer close(done)

	go func() {
		defer wg.Done()
		pingTicker := time.NewTicker(s.pingPeriod)
		defer pingTicker.Stop()
		for {
			select {
			case <-pingTicker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					s.logger.Sugar().Warnf("发送Ping失败: %v", err)
					return
				}
			case <-ctx.Done():
				// 优雅关闭, unblocks ReadMessage
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("读取消息失败: %w", err)
		}
		tick, err := ParseTrade(message)
		if err != nil {
			s.logger.Sugar().Debugf("解析价格信息失败: %v", err)
			continue
		}
		select {
		case s.ticks <- tick:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ParseTrade decodes an aggTrade payload, either raw or wrapped in a combined
// stream envelope.
func ParseTrade(message []byte) (models.Tick, error) {
	var env models.StreamEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return models.Tick{}, err
	}
	ev := env.Data
	if env.Stream == "" {
		if err := json.Unmarshal(message, &ev); err != nil {
			return models.Tick{}, err
		}
	}
	if ev.EventType != "" && ev.EventType != "aggTrade" {
		return models.Tick{}, fmt.Errorf("unexpected event type %q", ev.EventType)
	}
	if ev.Symbol == "" {
		return models.Tick{}, errors.New("missing symbol")
	}
	price, err := decimal.NewFromString(ev.Price)
	if err != nil {
		return models.Tick{}, fmt.Errorf("转换价格失败: %w", err)
	}
	if !price.IsPositive() {
		return models.Tick{}, fmt.Errorf("invalid price %s", price)
	}
	ts := ev.TradeTime
	if ts == 0 {
		ts = ev.EventTime
	}
	return models.Tick{
		Symbol:    strings.ToUpper(ev.Symbol),
		Price:     price,
		Timestamp: time.UnixMilli(ts).UTC(),
	}, nil
}
