package indicators

import "math"

// SMA is the mean of the last n values.
func SMA(values []float64, n int) (float64, bool) {
	if n <= 0 || len(values) < n {
		return 0, false
	}
	sum := 0.0
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum / float64(n), true
}

// EMASeries returns the exponential moving average of values, seeded with the
// SMA of the first n values. Element i corresponds to values[i+n-1].
func EMASeries(values []float64, n int) []float64 {
	if n <= 0 || len(values) < n {
		return nil
	}
	k := 2.0 / float64(n+1)
	seed, _ := SMA(values[:n], n)
	out := make([]float64, 0, len(values)-n+1)
	out = append(out, seed)
	prev := seed
	for _, v := range values[n:] {
		prev = v*k + prev*(1-k)
		out = append(out, prev)
	}
	return out
}

// EMA is the last value of EMASeries.
func EMA(values []float64, n int) (float64, bool) {
	s := EMASeries(values, n)
	if len(s) == 0 {
		return 0, false
	}
	return s[len(s)-1], true
}

// RSI uses Wilder smoothing and needs period+1 values.
func RSI(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period+1 {
		return 0, false
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := values[i] - values[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	for i := period + 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
	}

	switch {
	case avgLoss == 0 && avgGain == 0:
		return 50, true
	case avgLoss == 0:
		return 100, true
	case avgGain == 0:
		return 0, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// MACDSeries returns fast EMA minus slow EMA, aligned to the slow EMA.
func MACDSeries(values []float64, fast, slow int) []float64 {
	slowS := EMASeries(values, slow)
	fastS := EMASeries(values, fast)
	if slowS == nil || fastS == nil {
		return nil
	}
	offset := slow - fast
	out := make([]float64, len(slowS))
	for i := range slowS {
		out[i] = fastS[i+offset] - slowS[i]
	}
	return out
}

// StdDev is the population standard deviation of values.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(len(values)))
}

// SampleStdDev uses the n-1 denominator.
func SampleStdDev(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	return StdDev(values) * math.Sqrt(float64(n)/float64(n-1))
}

// SimpleReturns returns v[i]/v[i-1]-1 for each consecutive pair.
func SimpleReturns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, values[i]/values[i-1]-1)
	}
	return out
}

// ROC is the percent change over the last n steps.
func ROC(values []float64, n int) (float64, bool) {
	if n <= 0 || len(values) < n+1 {
		return 0, false
	}
	base := values[len(values)-1-n]
	if base == 0 {
		return 0, false
	}
	return (values[len(values)-1] - base) / base * 100, true
}

// MaxMin returns the extremes of values.
func MaxMin(values []float64) (hi, lo float64) {
	if len(values) == 0 {
		return 0, 0
	}
	hi, lo = values[0], values[0]
	for _, v := range values[1:] {
		hi = math.Max(hi, v)
		lo = math.Min(lo, v)
	}
	return hi, lo
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
