package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tradewise-engine/internal/models"

	"gopkg.in/yaml.v3"
)

const (
	defaultDataDir   = "data"
	defaultStreamURL = "wss://stream.binance.com:9443"
	defaultCash      = 10000
)

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中，未设置的字段使用默认值
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	config := &models.Config{}
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}

	applyDefaults(config)
	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

func applyDefaults(c *models.Config) {
	if c.DataDir == "" {
		c.DataDir = defaultDataDir
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "strategies")
	}
	if c.NotificationsDB == "" {
		c.NotificationsDB = filepath.Join(c.DataDir, "notifications.db")
	}
	if c.StreamURL == "" {
		c.StreamURL = defaultStreamURL
	}
	if c.InitialCash == 0 {
		c.InitialCash = defaultCash
	}
	if c.LogConfig.Output == "" {
		c.LogConfig.Output = "console"
	}
}

// Validate returns the first configuration problem found.
func Validate(c *models.Config) error {
	switch {
	case c.InitialCash < 0:
		return &models.ConfigurationError{Component: "config", Field: "initial_cash", Reason: "must be positive"}
	case c.Monitor.WindowSize < 0:
		return &models.ConfigurationError{Component: "config", Field: "monitor.window_size", Reason: "must not be negative"}
	case c.Monitor.TickQueueSize < 0 || c.Monitor.NotifyQueueSize < 0:
		return &models.ConfigurationError{Component: "config", Field: "monitor", Reason: "queue sizes must not be negative"}
	case c.Monitor.PingIntervalSec > 0 && c.Monitor.PongTimeoutSec > 0 && c.Monitor.PingIntervalSec >= c.Monitor.PongTimeoutSec:
		return &models.ConfigurationError{Component: "config", Field: "monitor.ping_interval_sec", Reason: "must be less than pong_timeout_sec"}
	}
	switch strings.ToLower(c.LogConfig.Output) {
	case "console", "file", "both":
	default:
		return &models.ConfigurationError{Component: "config", Field: "log.output", Reason: fmt.Sprintf("unknown output %q", c.LogConfig.Output)}
	}
	if strings.ToLower(c.LogConfig.Output) != "console" && c.LogConfig.File == "" {
		return &models.ConfigurationError{Component: "config", Field: "log.file", Reason: "required when logging to a file"}
	}
	return nil
}

// LoadStrategy 读取策略定义文件, 按扩展名选择 YAML (.yaml/.yml) 或 JSON
func LoadStrategy(path string) (*models.Strategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseStrategy(data, filepath.Ext(path))
}

// ParseStrategy decodes a strategy document. ext selects the format.
func ParseStrategy(data []byte, ext string) (*models.Strategy, error) {
	s := &models.Strategy{}
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("解析YAML策略失败: %w", err)
		}
	case ".json", "":
		if err := json.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("解析JSON策略失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的策略文件格式: %s", ext)
	}
	return s, nil
}
