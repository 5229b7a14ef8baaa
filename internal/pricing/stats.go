package pricing

import (
	"math"
	"time"
)

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev is the population standard deviation.
func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	m := mean(xs)
	var acc float64
	for _, x := range xs {
		d := x - m
		acc += d * d
	}
	return math.Sqrt(acc / float64(len(xs)))
}

// CoefficientOfVariation compares two prices as stddev/mean in percent.
func CoefficientOfVariation(a, b int64) float64 {
	xs := []float64{float64(a), float64(b)}
	return stddev(xs) / mean(xs) * 100
}

// calendarDays counts UTC date boundaries between earlier and later.
func calendarDays(later, earlier time.Time) int {
	ly, lm, ld := later.UTC().Date()
	ey, em, ed := earlier.UTC().Date()
	l := time.Date(ly, lm, ld, 0, 0, 0, 0, time.UTC)
	e := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	return int(math.Round(l.Sub(e).Hours() / 24))
}

// roundHalfUp rounds positive halves upward.
func roundHalfUp(x float64) float64 {
	return math.Floor(x + 0.5)
}
