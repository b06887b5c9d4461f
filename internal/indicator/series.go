package indicator

import "math"

// Series is one computed indicator over a bar series. Values before Start are
// undefined.
type Series struct {
	key    string
	values []float64
	start  int
}

func nanSlice(n int) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = math.NaN()
	}
	return values
}

// Key is the canonical (name, params) identity of the series.
func (s *Series) Key() string { return s.key }

// Len returns the number of bar positions covered.
func (s *Series) Len() int { return len(s.values) }

// Start returns the first index at which the series may be defined.
func (s *Series) Start() int { return s.start }

// Value returns the indicator value at index i and whether it is defined.
func (s *Series) Value(i int) (float64, bool) {
	if i < s.start || i < 0 || i >= len(s.values) {
		return 0, false
	}
	v := s.values[i]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

