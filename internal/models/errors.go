package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a strategy or subscription does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAccessDenied is returned when the requester does not own the strategy.
	ErrAccessDenied = errors.New("access denied")
)

// ConfigurationError 描述了一个无法被回测或监控的策略配置问题
type ConfigurationError struct {
	Component string // e.g. "SMA", "condition[0]"
	Field     string // e.g. "period", "operator"
	Reason    string
}

// Error 方法使得 ConfigurationError 实现了 error 接口
func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s: %s", e.Component, e.Reason)
	}
	return fmt.Sprintf("configuration error: %s.%s: %s", e.Component, e.Field, e.Reason)
}

// IsConfigurationError reports whether err wraps a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
