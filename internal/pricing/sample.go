package pricing

import (
	"math"
	"sort"
	"time"

	"itemprice/internal/models"
)

// FilterRecent returns the reports inside the narrowest recency window that
// still holds RecencyMinSample reports, or all reports when none does.
func FilterRecent(reports []models.PriceReport, s Settings, now time.Time) []models.PriceReport {
	for _, days := range s.RecencyWindows {
		var out []models.PriceReport
		for _, r := range reports {
			if calendarDays(now, r.SubmittedAt) <= days {
				out = append(out, r)
			}
		}
		if len(out) >= s.RecencyMinSample {
			return out
		}
	}
	return reports
}

// DedupeOwners keeps the cheapest report of each owner, drops reports without
// an owner, and caps the result to the max cheapest reports.
func DedupeOwners(reports []models.PriceReport, max int) []models.PriceReport {
	sorted := make([]models.PriceReport, len(reports))
	copy(sorted, reports)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Price < sorted[j].Price })

	owners := make(map[string]bool, len(sorted))
	out := make([]models.PriceReport, 0, len(sorted))
	for _, r := range sorted {
		if r.Owner == "" || owners[r.Owner] {
			continue
		}
		owners[r.Owner] = true
		out = append(out, r)
		if len(out) == max {
			break
		}
	}
	return out
}

// TrimOutliers iteratively keeps values within [mean-2σ, mean+σ] while the
// sample keeps shrinking and more than five values remain. It never returns an
// empty sample for non-empty input.
func TrimOutliers(prices []float64) ([]float64, float64) {
	switch len(prices) {
	case 0:
		return nil, math.NaN()
	case 1:
		return prices, prices[0]
	}

	prev := prices
	out := withinBand(prev)
	for len(out) > 5 && len(out) < len(prev) {
		prev = out
		out = withinBand(prev)
	}
	if len(out) == 0 {
		out = prev
	}
	return out, mean(out)
}

func withinBand(xs []float64) []float64 {
	m := mean(xs)
	sd := stddev(xs)
	lo, hi := m-2*sd, m+sd
	out := make([]float64, 0, len(xs))
	for _, x := range xs {
		if x >= lo && x <= hi {
			out = append(out, x)
		}
	}
	return out
}

// RoundPrice maps a raw mean to a display price. Below 5 it rounds to the unit,
// otherwise to a multiple of 5, coarsened by the magnitude of that rounded value.
func RoundPrice(m float64) int64 {
	if m < 5 {
		return int64(roundHalfUp(m))
	}
	rounded := roundHalfUp(m/5) * 5
	var step float64
	switch {
	case rounded > 100_000_000:
		step = 5_000_000
	case rounded > 10_000_000:
		step = 500_000
	case rounded > 1_000_000:
		step = 50_000
	case rounded > 100_000:
		step = 500
	case rounded > 10_000:
		step = 50
	default:
		return int64(rounded)
	}
	return int64(roundHalfUp(m/step) * step)
}
