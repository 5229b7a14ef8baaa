package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"itemprice/internal/metrics"
	"itemprice/internal/models"
)

var (
	schemePattern  = regexp.MustCompile(`^[^/\s]*//`)
	imageIDPattern = regexp.MustCompile(`([^./]+)\.gif`)
)

// Number accepts a JSON number, a numeric string or null.
type Number struct {
	Value float64
	Valid bool
}

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*n = Number{}
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			*n = Number{}
			return nil
		}
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		*n = Number{}
		return nil
	}
	*n = Number{Value: v, Valid: true}
	return nil
}

func (n Number) int64Ptr() *int64 {
	if !n.Valid {
		return nil
	}
	v := int64(math.Round(n.Value))
	return &v
}

// ReportInput is one entry of a submission as sent by the collectors.
type ReportInput struct {
	Name      string      `json:"name"`
	Img       string      `json:"img"`
	Owner     string      `json:"owner"`
	Stock     Number      `json:"stock"`
	Value     Number      `json:"value"`
	OtherInfo interface{} `json:"otherInfo"`
	Type      string      `json:"type"`
	ItemID    Number      `json:"item_id"`
	NeoID     Number      `json:"neo_id"`
}

// Submission is the body of a report upload.
type Submission struct {
	ItemPrices []ReportInput `json:"itemPrices"`
	Lang       string        `json:"lang"`
}

// ReportWriter appends reports, ignoring content-hash duplicates.
type ReportWriter interface {
	InsertReports(ctx context.Context, reports []models.PriceReport) (int64, error)
}

// Service turns raw submissions into queued price reports.
type Service struct {
	store ReportWriter
	now   func() time.Time
}

func NewService(store ReportWriter) *Service {
	return &Service{store: store, now: time.Now}
}

// Submit queues every well-formed entry and returns how many were stored.
// Entries without a name or a positive price are dropped silently.
func (s *Service) Submit(ctx context.Context, sub Submission, ip string) (int64, error) {
	now := s.now()
	reports := make([]models.PriceReport, 0, len(sub.ItemPrices))
	malformed := 0
	for _, in := range sub.ItemPrices {
		r, ok := buildReport(in, sub.Lang, ip, now)
		if !ok {
			malformed++
			continue
		}
		reports = append(reports, r)
	}
	metrics.ReportsIngested.WithLabelValues("malformed").Add(float64(malformed))

	accepted, err := s.store.InsertReports(ctx, reports)
	if err != nil {
		return 0, eris.Wrap(err, "queue reports")
	}
	metrics.ReportsIngested.WithLabelValues("queued").Add(float64(accepted))
	if dup := int64(len(reports)) - accepted; dup > 0 {
		metrics.ReportsIngested.WithLabelValues("duplicate").Add(float64(dup))
	}
	return accepted, nil
}

func buildReport(in ReportInput, lang, ip string, now time.Time) (models.PriceReport, bool) {
	name := strings.TrimSpace(in.Name)
	if name == "" || !in.Value.Valid {
		return models.PriceReport{}, false
	}
	price := int64(math.Round(in.Value.Value))
	if price <= 0 {
		return models.PriceReport{}, false
	}

	img := NormalizeImage(in.Img)
	r := models.PriceReport{
		Name:        name,
		ItemID:      in.ItemID.int64Ptr(),
		Image:       img,
		ImageID:     ImageID(img),
		Owner:       in.Owner,
		SourceType:  normalizeSource(in.Type),
		Price:       price,
		OtherInfo:   otherInfoString(in.OtherInfo),
		Language:    lang,
		IPAddress:   ip,
		NeoID:       in.NeoID.int64Ptr(),
		SubmittedAt: now,
	}
	if in.Stock.Valid {
		stock := int(math.Round(in.Stock.Value))
		r.Stock = &stock
	}
	r.Hash = ContentHash(r, now)
	return r, true
}

// NormalizeImage forces an https scheme on image urls.
func NormalizeImage(img string) string {
	img = strings.TrimSpace(img)
	if img == "" {
		return ""
	}
	return schemePattern.ReplaceAllString(img, "https://")
}

// ImageID is the file name of a .gif image url without its extension.
func ImageID(img string) string {
	m := imageIDPattern.FindStringSubmatch(img)
	if m == nil {
		return ""
	}
	return m[1]
}

func normalizeSource(t string) string {
	switch t = strings.ToLower(strings.TrimSpace(t)); t {
	case models.SourceShop, models.SourceAuction, models.SourceTrade,
		models.SourceUserShop, models.SourceRestock, models.SourceOther:
		return t
	default:
		return models.SourceOther
	}
}

func otherInfoString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(raw)
	}
}

// hashFields are the report fields covered by the content hash. Submitter IP
// and stock are left out so the same listing seen twice collapses to one row.
type hashFields struct {
	Name      string `json:"name"`
	ItemID    *int64 `json:"item_id"`
	Image     string `json:"image"`
	ImageID   string `json:"image_id"`
	Owner     string `json:"owner"`
	Type      string `json:"type"`
	Price     int64  `json:"price"`
	OtherInfo string `json:"other_info"`
	Language  string `json:"language"`
	NeoID     *int64 `json:"neo_id"`
	DateSalt  string `json:"date_salt,omitempty"`
}

// ContentHash fingerprints a report. Reports without a neo id are salted with
// the UTC day so identical resubmissions collapse only within that day.
func ContentHash(r models.PriceReport, now time.Time) string {
	f := hashFields{
		Name:      r.Name,
		ItemID:    r.ItemID,
		Image:     r.Image,
		ImageID:   r.ImageID,
		Owner:     r.Owner,
		Type:      r.SourceType,
		Price:     r.Price,
		OtherInfo: r.OtherInfo,
		Language:  r.Language,
		NeoID:     r.NeoID,
	}
	if r.NeoID == nil {
		f.DateSalt = now.UTC().Format("2006-01-02")
	}
	raw, _ := json.Marshal(f)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
