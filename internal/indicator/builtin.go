package indicator

func init() {
	Register("PRICE", func(map[string]any) (Calculator, error) { return price{}, nil })
	Register("SMA", func(p map[string]any) (Calculator, error) {
		n, err := periodParam("SMA", p, "period")
		if err != nil {
			return nil, err
		}
		return sma{period: n}, nil
	})
	Register("EMA", func(p map[string]any) (Calculator, error) {
		n, err := periodParam("EMA", p, "period")
		if err != nil {
			return nil, err
		}
		return ema{period: n}, nil
	})
	Register("RSI", func(p map[string]any) (Calculator, error) {
		n, err := periodParam("RSI", p, "period")
		if err != nil {
			return nil, err
		}
		return rsi{period: n}, nil
	})
	Register("ROC", func(p map[string]any) (Calculator, error) {
		n, err := periodParam("ROC", p, "period")
		if err != nil {
			return nil, err
		}
		return roc{period: n}, nil
	})
}

// price 即收盘价
type price struct{}

func (price) Warmup() int { return 0 }

func (price) Compute(closes []float64) []float64 {
	out := make([]float64, len(closes))
	copy(out, closes)
	return out
}

// sma 简单移动平均
type sma struct{ period int }

func (s sma) Warmup() int { return s.period - 1 }

func (s sma) Compute(closes []float64) []float64 {
	out := nanSlice(len(closes))
	sum := 0.0
	for i, c := range closes {
		sum += c
		if i >= s.period {
			sum -= closes[i-s.period]
		}
		if i >= s.period-1 {
			out[i] = sum / float64(s.period)
		}
	}
	return out
}

// ema 指数移动平均, 以前 period 根收盘价的 SMA 作为种子
type ema struct{ period int }

func (e ema) Warmup() int { return e.period - 1 }

func (e ema) Compute(closes []float64) []float64 {
	out := nanSlice(len(closes))
	if len(closes) < e.period {
		return out
	}
	seed := 0.0
	for _, c := range closes[:e.period] {
		seed += c
	}
	prev := seed / float64(e.period)
	out[e.period-1] = prev

	k := 2.0 / float64(e.period+1)
	for i := e.period; i < len(closes); i++ {
		prev = (closes[i]-prev)*k + prev
		out[i] = prev
	}
	return out
}

// rsi uses Wilder smoothing seeded by the simple average of the first period
// changes.
type rsi struct{ period int }

func (r rsi) Warmup() int { return r.period }

func (r rsi) Compute(closes []float64) []float64 {
	out := nanSlice(len(closes))
	if len(closes) <= r.period {
		return out
	}
	n := float64(r.period)

	var gain, loss float64
	for i := 1; i <= r.period; i++ {
		g, l := splitChange(closes[i] - closes[i-1])
		gain += g
		loss += l
	}
	avgGain, avgLoss := gain/n, loss/n
	out[r.period] = rsiValue(avgGain, avgLoss)

	for i := r.period + 1; i < len(closes); i++ {
		g, l := splitChange(closes[i] - closes[i-1])
		avgGain = (avgGain*(n-1) + g) / n
		avgLoss = (avgLoss*(n-1) + l) / n
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func splitChange(d float64) (gain, loss float64) {
	if d > 0 {
		return d, 0
	}
	return 0, -d
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 0
		}
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

// roc 变动率: 相对 period 根之前收盘价的百分比变化
// 基准价为 0 时没有可比较的价格, 记为 0, 保证 warm-up 之后的值始终有定义
type roc struct{ period int }

func (r roc) Warmup() int { return r.period }

func (r roc) Compute(closes []float64) []float64 {
	out := nanSlice(len(closes))
	for i := r.period; i < len(closes); i++ {
		base := closes[i-r.period]
		if base == 0 {
			out[i] = 0
			continue
		}
		out[i] = (closes[i] - base) / base * 100
	}
	return out
}
