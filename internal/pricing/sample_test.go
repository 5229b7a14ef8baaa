package pricing

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"itemprice/internal/models"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(d int) time.Time {
	return testNow.AddDate(0, 0, -d)
}

func reportsAt(n, age int) []models.PriceReport {
	out := make([]models.PriceReport, n)
	for i := range out {
		out[i] = models.PriceReport{SubmittedAt: daysAgo(age)}
	}
	return out
}

func TestFilterRecentWidensUntilSampleIsLargeEnough(t *testing.T) {
	s := DefaultSettings(false)
	var reports []models.PriceReport
	reports = append(reports, reportsAt(3, 2)...)
	reports = append(reports, reportsAt(4, 10)...)
	reports = append(reports, reportsAt(2, 25)...)

	got := FilterRecent(reports, s, testNow)
	if len(got) != 7 {
		t.Fatalf("expected the 15 day window (7 reports), got %d", len(got))
	}
}

func TestFilterRecentFallsBackToAll(t *testing.T) {
	s := DefaultSettings(false)
	reports := append(reportsAt(2, 1), reportsAt(2, 40)...)
	if got := FilterRecent(reports, s, testNow); len(got) != 4 {
		t.Fatalf("expected every report, got %d", len(got))
	}
}

func TestFilterRecentHeightenedUsesShortWindow(t *testing.T) {
	s := DefaultSettings(true)
	reports := append(reportsAt(7, 1), reportsAt(5, 5)...)
	if got := FilterRecent(reports, s, testNow); len(got) != 7 {
		t.Fatalf("expected the 3 day window, got %d", len(got))
	}
}

func TestDedupeOwners(t *testing.T) {
	reports := []models.PriceReport{
		{ID: 1, Owner: "a", Price: 300},
		{ID: 2, Owner: "a", Price: 100},
		{ID: 3, Owner: "b", Price: 200},
		{ID: 4, Owner: "", Price: 50},
		{ID: 5, Owner: "c", Price: 150},
	}

	got := DedupeOwners(reports, 30)
	want := []uint{2, 5, 3}
	if len(got) != len(want) {
		t.Fatalf("expected %d reports, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: expected report %d, got %d", i, id, got[i].ID)
		}
	}

	if capped := DedupeOwners(reports, 2); len(capped) != 2 || capped[1].Price != 150 {
		t.Fatalf("cap should keep the two cheapest owners, got %+v", capped)
	}
	if reports[0].ID != 1 {
		t.Fatalf("input was reordered")
	}
}

func TestTrimOutliersDropsSpike(t *testing.T) {
	prices := []float64{10000, 10000, 10000, 10000, 10000, 10000, 10000, 10000, 10000, 50000}
	out, m := TrimOutliers(prices)
	if len(out) != 9 {
		t.Fatalf("expected the spike to be removed, %d values left", len(out))
	}
	if m != 10000 {
		t.Fatalf("expected mean 10000, got %v", m)
	}
}

func TestTrimOutliersSmallSamples(t *testing.T) {
	out, m := TrimOutliers([]float64{42})
	if len(out) != 1 || m != 42 {
		t.Fatalf("single value should be returned unchanged, got %v %v", out, m)
	}
	if _, m := TrimOutliers(nil); !math.IsNaN(m) {
		t.Fatalf("empty input should give NaN, got %v", m)
	}
	out, m = TrimOutliers([]float64{1, 100})
	if len(out) != 2 || m != 50.5 {
		t.Fatalf("two values should both survive, got %v %v", out, m)
	}
}

func TestTrimOutliersNeverEmpty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		n := 1 + rng.Intn(40)
		prices := make([]float64, n)
		lo, hi := math.Inf(1), math.Inf(-1)
		for j := range prices {
			prices[j] = float64(1 + rng.Intn(1_000_000))
			lo = math.Min(lo, prices[j])
			hi = math.Max(hi, prices[j])
		}
		out, m := TrimOutliers(prices)
		if len(out) == 0 {
			t.Fatalf("empty result for %v", prices)
		}
		if m < lo || m > hi {
			t.Fatalf("mean %v outside [%v, %v]", m, lo, hi)
		}
	}
}

func TestRoundPrice(t *testing.T) {
	tests := []struct {
		in   float64
		want int64
	}{
		{3.4, 3},
		{4.5, 5},
		{1234, 1235},
		{10002, 10000},
		{12345, 12350},
		{150260, 150500},
		{2345678, 2350000},
		{12300000, 12500000},
		{234000000, 235000000},
	}
	for _, tt := range tests {
		if got := RoundPrice(tt.in); got != tt.want {
			t.Errorf("RoundPrice(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRoundPriceIsIdempotent(t *testing.T) {
	for x := 0.3; x < 5e8; x = x*1.07 + 1.3 {
		once := RoundPrice(x)
		if twice := RoundPrice(float64(once)); twice != once {
			t.Fatalf("RoundPrice(%v) = %d but RoundPrice(%d) = %d", x, once, once, twice)
		}
	}
}
