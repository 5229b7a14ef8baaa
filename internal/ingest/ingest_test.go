package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"itemprice/internal/models"
)

type memWriter struct {
	hashes  map[string]bool
	reports []models.PriceReport
}

func (w *memWriter) InsertReports(ctx context.Context, reports []models.PriceReport) (int64, error) {
	if w.hashes == nil {
		w.hashes = map[string]bool{}
	}
	var n int64
	for _, r := range reports {
		if w.hashes[r.Hash] {
			continue
		}
		w.hashes[r.Hash] = true
		w.reports = append(w.reports, r)
		n++
	}
	return n, nil
}

var fixedNow = time.Date(2026, 4, 2, 9, 15, 0, 0, time.UTC)

func decodeSubmission(t *testing.T, body string) Submission {
	t.Helper()
	var sub Submission
	if err := json.Unmarshal([]byte(body), &sub); err != nil {
		t.Fatalf("decode submission: %v", err)
	}
	return sub
}

func TestSubmitDropsMalformedEntries(t *testing.T) {
	sub := decodeSubmission(t, `{
		"lang": "en",
		"itemPrices": [
			{"name": "Blue Grundo Plushie", "img": "//images.neopets.com/items/plu_blue.gif", "owner": "alice", "value": "2500", "type": "usershop", "item_id": 42},
			{"name": "  ", "value": 100},
			{"name": "Codestone", "value": "lots"},
			{"name": "Codestone", "value": 0},
			{"name": "Codestone", "value": null},
			{"name": "Faerie Paint Brush", "value": 310000.4, "type": "bazaar", "stock": "3"}
		]
	}`)

	w := &memWriter{}
	svc := NewService(w)
	svc.now = func() time.Time { return fixedNow }

	n, err := svc.Submit(context.Background(), sub, "10.0.0.1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if n != 2 || len(w.reports) != 2 {
		t.Fatalf("expected 2 stored reports, got %d", n)
	}

	plushie := w.reports[0]
	if plushie.Price != 2500 || plushie.ItemID == nil || *plushie.ItemID != 42 {
		t.Fatalf("unexpected plushie report %+v", plushie)
	}
	if plushie.Image != "https://images.neopets.com/items/plu_blue.gif" || plushie.ImageID != "plu_blue" {
		t.Fatalf("image not normalised: %q %q", plushie.Image, plushie.ImageID)
	}
	if plushie.Language != "en" || plushie.IPAddress != "10.0.0.1" || !plushie.SubmittedAt.Equal(fixedNow) {
		t.Fatalf("submission metadata not copied: %+v", plushie)
	}

	brush := w.reports[1]
	if brush.SourceType != models.SourceOther {
		t.Fatalf("unknown type should map to other, got %q", brush.SourceType)
	}
	if brush.Price != 310000 || brush.Stock == nil || *brush.Stock != 3 {
		t.Fatalf("unexpected brush report %+v", brush)
	}
}

func TestSubmitCollapsesResubmissions(t *testing.T) {
	body := `{"itemPrices": [{"name": "Codestone", "value": 900, "owner": "bob", "type": "shop"}]}`
	w := &memWriter{}
	svc := NewService(w)
	svc.now = func() time.Time { return fixedNow }

	for i := 0; i < 2; i++ {
		if _, err := svc.Submit(context.Background(), decodeSubmission(t, body), "10.0.0.1"); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	if len(w.reports) != 1 {
		t.Fatalf("same-day resubmission should collapse, got %d", len(w.reports))
	}

	svc.now = func() time.Time { return fixedNow.AddDate(0, 0, 1) }
	if _, err := svc.Submit(context.Background(), decodeSubmission(t, body), "10.0.0.1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(w.reports) != 2 {
		t.Fatalf("next-day resubmission should be kept, got %d", len(w.reports))
	}
}

func TestContentHashIgnoresSubmitterAndStock(t *testing.T) {
	stock := 4
	a := models.PriceReport{Name: "Codestone", Price: 900, IPAddress: "1.1.1.1"}
	b := models.PriceReport{Name: "Codestone", Price: 900, IPAddress: "2.2.2.2", Stock: &stock}
	if ContentHash(a, fixedNow) != ContentHash(b, fixedNow) {
		t.Fatalf("ip and stock must not affect the hash")
	}
	b.Price = 901
	if ContentHash(a, fixedNow) == ContentHash(b, fixedNow) {
		t.Fatalf("price must affect the hash")
	}
}

func TestContentHashNeoIDSkipsDateSalt(t *testing.T) {
	neo := int64(123456)
	r := models.PriceReport{Name: "Codestone", Price: 900, NeoID: &neo}
	if ContentHash(r, fixedNow) != ContentHash(r, fixedNow.AddDate(0, 0, 3)) {
		t.Fatalf("reports with a neo id should hash the same on any day")
	}
	r.NeoID = nil
	if ContentHash(r, fixedNow) == ContentHash(r, fixedNow.AddDate(0, 0, 3)) {
		t.Fatalf("reports without a neo id should be salted by day")
	}
}

func TestNormalizeImage(t *testing.T) {
	tests := map[string]string{
		"//images.neopets.com/items/a.gif":       "https://images.neopets.com/items/a.gif",
		"http://images.neopets.com/items/a.gif":  "https://images.neopets.com/items/a.gif",
		"https://images.neopets.com/items/a.gif": "https://images.neopets.com/items/a.gif",
		"":                                       "",
	}
	for in, want := range tests {
		if got := NormalizeImage(in); got != want {
			t.Errorf("NormalizeImage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestImageID(t *testing.T) {
	if got := ImageID("https://images.neopets.com/items/toy_plushie_blue.gif"); got != "toy_plushie_blue" {
		t.Fatalf("unexpected image id %q", got)
	}
	if got := ImageID("https://images.neopets.com/items/photo.png"); got != "" {
		t.Fatalf("non-gif images have no id, got %q", got)
	}
}

func TestNumber(t *testing.T) {
	var v struct {
		A, B, C, D Number
	}
	if err := json.Unmarshal([]byte(`{"A": 12.5, "B": " 40 ", "C": null, "D": "n/a"}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !v.A.Valid || v.A.Value != 12.5 {
		t.Fatalf("A: %+v", v.A)
	}
	if !v.B.Valid || v.B.Value != 40 {
		t.Fatalf("B: %+v", v.B)
	}
	if v.C.Valid || v.D.Valid {
		t.Fatalf("null and text should be invalid: %+v %+v", v.C, v.D)
	}
}
