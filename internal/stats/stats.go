// Package stats summarizes round-trip samples. All functions are pure: the
// input slice is never modified.
package stats

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var ErrNoSamples = errors.New("no samples")

// Summary values share the unit of the input.
type Summary struct {
	Count  int
	Mean   float64
	Median float64
	Jitter float64
	Min    float64
	Max    float64
	P95    float64
	P99    float64
}

// SessionStats is a Summary of the non-lost RTTs plus loss accounting.
type SessionStats struct {
	Summary
	LossCount     int
	TotalAttempts int
}

// LossPercent is the lost share of attempts in percent.
func (s SessionStats) LossPercent() float64 {
	if s.TotalAttempts == 0 {
		return 0
	}
	return float64(s.LossCount) * 100 / float64(s.TotalAttempts)
}

// Compute returns the summary of values. Jitter is the population standard
// deviation. Percentiles use the exclusive interpolation method.
func Compute(values []float64) (Summary, error) {
	if len(values) == 0 {
		return Summary{}, ErrNoSamples
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(n)

	var sq float64
	for _, v := range sorted {
		d := v - mean
		sq += d * d
	}

	return Summary{
		Count:  n,
		Mean:   mean,
		Median: median(sorted),
		Jitter: math.Sqrt(sq / float64(n)),
		Min:    sorted[0],
		Max:    sorted[n-1],
		P95:    Percentile(sorted, 95),
		P99:    Percentile(sorted, 99),
	}, nil
}

// ForSession summarizes rtts from a run of totalAttempts pings.
func ForSession(rtts []float64, totalAttempts int) (SessionStats, error) {
	if len(rtts) > totalAttempts {
		return SessionStats{}, fmt.Errorf("%d samples exceed %d attempts", len(rtts), totalAttempts)
	}
	out := SessionStats{
		LossCount:     totalAttempts - len(rtts),
		TotalAttempts: totalAttempts,
	}
	summary, err := Compute(rtts)
	if err != nil {
		return out, err
	}
	out.Summary = summary
	return out, nil
}

// Percentile interpolates the p-th percentile (0..100) of sorted at rank
// p(N+1)/100, clamping to the extremes outside [1, N].
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	r := p * float64(n+1) / 100
	if r < 1 {
		return sorted[0]
	}
	if r >= float64(n) {
		return sorted[n-1]
	}
	k := int(math.Floor(r))
	frac := r - float64(k)
	lo := sorted[k-1]
	return lo + frac*(sorted[k]-lo)
}

func median(sorted []float64) float64 {
	n := len(sorted)
	mid := n / 2
	if n%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
