package indicator

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"tradewise-engine/internal/models"
)

// Calculator computes one configured indicator over a close-price slice.
type Calculator interface {
	// Warmup is the first index at which Compute yields a defined value.
	Warmup() int
	// Compute returns one value per close; positions before Warmup are NaN.
	Compute(closes []float64) []float64
}

// Factory builds a Calculator from a condition's parameter map.
type Factory func(params map[string]any) (Calculator, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register 注册一个指标工厂, 名称不区分大小写
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToUpper(name)] = f
}

// Names returns the registered indicator names in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Lookup builds the calculator registered under name.
func Lookup(name string, params map[string]any) (Calculator, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	registryMu.RLock()
	f, ok := registry[upper]
	registryMu.RUnlock()
	if !ok {
		return nil, &models.ConfigurationError{Component: name, Reason: "unknown indicator"}
	}
	return f(params)
}

// Warmup returns the first defined index of the named indicator without
// computing it.
func Warmup(name string, params map[string]any) (int, error) {
	calc, err := Lookup(name, params)
	if err != nil {
		return 0, err
	}
	return calc.Warmup(), nil
}

// CanonicalKey identifies an indicator instance independently of parameter
// order and numeric representation, e.g. SMA(period=5).
func CanonicalKey(name string, params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(strings.ToUpper(strings.TrimSpace(name)))
	b.WriteByte('(')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strings.ToLower(k))
		b.WriteByte('=')
		if f, err := toFloat(params[k]); err == nil {
			b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
		} else {
			fmt.Fprint(&b, params[k])
		}
	}
	b.WriteByte(')')
	return b.String()
}

// periodParam reads a required positive integer parameter.
func periodParam(indicator string, params map[string]any, field string) (int, error) {
	raw, ok := lookupParam(params, field)
	if !ok {
		return 0, &models.ConfigurationError{Component: indicator, Field: field, Reason: "missing required parameter"}
	}
	f, err := toFloat(raw)
	if err != nil {
		return 0, &models.ConfigurationError{Component: indicator, Field: field, Reason: fmt.Sprintf("not numeric: %v", raw)}
	}
	if f != math.Trunc(f) || f < 1 {
		return 0, &models.ConfigurationError{Component: indicator, Field: field, Reason: fmt.Sprintf("must be a positive integer, got %v", raw)}
	}
	return int(f), nil
}

func lookupParam(params map[string]any, field string) (any, bool) {
	if v, ok := params[field]; ok {
		return v, true
	}
	for k, v := range params {
		if strings.EqualFold(k, field) {
			return v, true
		}
	}
	return nil, false
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("unsupported parameter type %T", v)
	}
}
