package classify

import "sort"

// P95Index returns min(floor(0.95*n), n-1); n must be positive.
func P95Index(n int) int {
	idx := int(0.95 * float64(n))
	if idx > n-1 {
		idx = n - 1
	}
	return idx
}

// Latency returns the arithmetic mean (reported as "p50") and the p95 of the
// samples. The input is not modified.
func Latency(samples []float64) (mean, p95 float64) {
	n := len(samples)
	if n == 0 {
		return 0, 0
	}
	sorted := make([]float64, n)
	copy(sorted, samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return sum / float64(n), sorted[P95Index(n)]
}

// RequestsPerSecond is total*1000/durationMs, or 0 for a non-positive duration.
func RequestsPerSecond(total int, durationMs int64) float64 {
	if durationMs <= 0 {
		return 0
	}
	return float64(total) * 1000 / float64(durationMs)
}

// Percent returns part/whole*100, or 0 when whole is 0.
func Percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}
