package indicator

import (
	"encoding/json"
	"errors"
	"math/rand"
	"testing"

	"tradewise-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolve(t *testing.T, closes []float64, name string, params map[string]any) *Series {
	t.Helper()
	s, err := NewEngineFromCloses(closes).Resolve(name, params)
	require.NoError(t, err)
	return s
}

func assertUndefined(t *testing.T, s *Series, idx ...int) {
	t.Helper()
	for _, i := range idx {
		_, ok := s.Value(i)
		assert.False(t, ok, "index %d should be undefined for %s", i, s.Key())
	}
}

func assertValue(t *testing.T, s *Series, i int, want float64) {
	t.Helper()
	v, ok := s.Value(i)
	require.True(t, ok, "index %d should be defined for %s", i, s.Key())
	assert.InDelta(t, want, v, 1e-9, "index %d of %s", i, s.Key())
}

func TestPrice(t *testing.T) {
	s := resolve(t, []float64{10, 11, 12}, "PRICE", nil)
	assertValue(t, s, 0, 10)
	assertValue(t, s, 2, 12)
	assertUndefined(t, s, -1, 3)
}

func TestSMA(t *testing.T) {
	s := resolve(t, []float64{1, 2, 3, 4, 5}, "SMA", map[string]any{"period": 3})
	assert.Equal(t, 2, s.Start())
	assertUndefined(t, s, 0, 1)
	assertValue(t, s, 2, 2)
	assertValue(t, s, 3, 3)
	assertValue(t, s, 4, 4)
}

func TestEMASeededBySMA(t *testing.T) {
	s := resolve(t, []float64{1, 2, 3, 4, 5}, "EMA", map[string]any{"period": 3})
	assertUndefined(t, s, 0, 1)
	assertValue(t, s, 2, 2)
	// k = 0.5
	assertValue(t, s, 3, 3)
	assertValue(t, s, 4, 4)
}

func TestRSIWilder(t *testing.T) {
	s := resolve(t, []float64{1, 2, 3, 2}, "RSI", map[string]any{"period": 2})
	assertUndefined(t, s, 0, 1)
	assertValue(t, s, 2, 100)
	assertValue(t, s, 3, 50)

	flat := resolve(t, []float64{5, 5, 5, 5}, "RSI", map[string]any{"period": 2})
	assertValue(t, flat, 3, 0)
}

func TestROC(t *testing.T) {
	s := resolve(t, []float64{100, 110, 99}, "ROC", map[string]any{"period": 1})
	assertUndefined(t, s, 0)
	assertValue(t, s, 1, 10)
	assertValue(t, s, 2, -10)
}

func TestROCZeroBaseStaysDefined(t *testing.T) {
	s := resolve(t, []float64{0, 5, 10, 0, 4}, "ROC", map[string]any{"period": 1})
	assertUndefined(t, s, 0)
	assertValue(t, s, 1, 0)
	assertValue(t, s, 2, 100)
	assertValue(t, s, 3, -100)
	assertValue(t, s, 4, 0)
	for i := s.Start(); i < s.Len(); i++ {
		_, ok := s.Value(i)
		assert.True(t, ok, "index %d", i)
	}
}

func TestSeriesShorterThanWarmup(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5}
	for _, name := range []string{"SMA", "EMA", "RSI", "ROC"} {
		s := resolve(t, closes, name, map[string]any{"period": 10})
		assertUndefined(t, s, 0, 1, 2, 3, 4)
	}
}

func TestResolveIsMemoized(t *testing.T) {
	e := NewEngineFromCloses([]float64{1, 2, 3, 4, 5, 6})

	a, err := e.Resolve("SMA", map[string]any{"period": 5})
	require.NoError(t, err)
	b, err := e.Resolve("sma", map[string]any{"period": 5.0})
	require.NoError(t, err)
	c, err := e.Resolve("Sma", map[string]any{"period": json.Number("5")})
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Same(t, a, c)
	assert.Equal(t, 1, e.Cached())

	_, err = e.Resolve("SMA", map[string]any{"period": 3})
	require.NoError(t, err)
	assert.Equal(t, 2, e.Cached())
}

func TestResolveConfigurationErrors(t *testing.T) {
	cases := []struct {
		name      string
		indicator string
		params    map[string]any
		field     string
	}{
		{"unknown indicator", "VWAP", nil, ""},
		{"missing period", "SMA", map[string]any{}, "period"},
		{"non numeric period", "EMA", map[string]any{"period": "abc"}, "period"},
		{"zero period", "RSI", map[string]any{"period": 0}, "period"},
		{"fractional period", "SMA", map[string]any{"period": 2.5}, "period"},
		{"unsupported type", "ROC", map[string]any{"period": []int{1}}, "period"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewEngineFromCloses([]float64{1, 2, 3}).Resolve(tc.indicator, tc.params)
			require.Error(t, err)
			var ce *models.ConfigurationError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tc.indicator, ce.Component)
			assert.Equal(t, tc.field, ce.Field)
		})
	}
}

func TestWarmupMonotonic(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	closes := make([]float64, 200)
	p := 100.0
	for i := range closes {
		p *= 1 + (r.Float64()-0.5)*0.04
		closes[i] = p
	}
	e := NewEngineFromCloses(closes)
	for _, name := range []string{"PRICE", "SMA", "EMA", "RSI", "ROC"} {
		for _, period := range []int{1, 2, 5, 14, 50} {
			s, err := e.Resolve(name, map[string]any{"period": period})
			require.NoError(t, err)

			seen := false
			for i := 0; i < s.Len(); i++ {
				_, ok := s.Value(i)
				if seen {
					assert.True(t, ok, "%s undefined again at %d", s.Key(), i)
				}
				if ok {
					seen = true
					assert.GreaterOrEqual(t, i, s.Start())
				}
			}
			assert.True(t, seen, "%s never defined", s.Key())
		}
	}
}

func TestWarmupWithoutSeries(t *testing.T) {
	w, err := Warmup("rsi", map[string]any{"period": 14})
	require.NoError(t, err)
	assert.Equal(t, 14, w)

	w, err = Warmup("SMA", map[string]any{"period": 20})
	require.NoError(t, err)
	assert.Equal(t, 19, w)

	assert.Equal(t, []string{"EMA", "PRICE", "ROC", "RSI", "SMA"}, Names())
}

func TestCanonicalKey(t *testing.T) {
	assert.Equal(t, "SMA(period=5)", CanonicalKey("sma", map[string]any{"period": 5}))
	assert.Equal(t, "PRICE()", CanonicalKey("price", nil))
	assert.Equal(t,
		CanonicalKey("X", map[string]any{"b": 1, "a": "2"}),
		CanonicalKey("x", map[string]any{"a": 2.0, "b": int64(1)}))
}
