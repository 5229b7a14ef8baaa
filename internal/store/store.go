package store

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"itemprice/internal/models"
	"itemprice/internal/pricing"
)

// ErrPriceNotFound is returned when a referenced price row does not exist.
var ErrPriceNotFound = errors.New("price not found")

// Store is the gorm-backed persistence for reports, markers, catalog and prices.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

var _ pricing.Store = (*Store)(nil)

// eligibleSQL groups pending reports by name. Names priced within the minimum
// update interval are skipped unless the name is shared by several items.
const eligibleSQL = `
SELECT name, COUNT(*) AS count, MIN(submitted_at) AS oldest_at, MAX(submitted_at) AS latest_at
FROM price_reports
WHERE
	type NOT IN ? AND
	processed = 0 AND
	submitted_at >= ? AND
	name NOT IN (SELECT name FROM processing_markers WHERE created_at >= ?) AND
	NOT EXISTS (
		SELECT 1 FROM trusted_prices tp
		WHERE tp.name = price_reports.name
			AND tp.added_at >= ?
			AND tp.name NOT IN (
				SELECT name FROM trusted_prices GROUP BY name HAVING COUNT(DISTINCT item_internal_id) > 1
			)
	)
GROUP BY name
HAVING count >= ? OR (count >= ? AND oldest_at <= ?)`

func eligibleArgs(sel pricing.Selection) []interface{} {
	excluded := sel.ExcludedSources
	if len(excluded) == 0 {
		excluded = []string{""}
	}
	return []interface{}{
		excluded,
		sel.Since,
		sel.MarkersSince,
		sel.RecentPriceSince,
		sel.MinCount,
		sel.StaleMinCount,
		sel.StaleBefore,
	}
}

type groupRow struct {
	Name     string
	Count    int
	OldestAt time.Time
	LatestAt time.Time
}

func (s *Store) EligibleGroups(ctx context.Context, sel pricing.Selection) ([]pricing.GroupSummary, error) {
	query := eligibleSQL + "\nORDER BY latest_at ASC, name ASC"
	args := eligibleArgs(sel)
	if sel.Limit > 0 {
		query += "\nLIMIT ? OFFSET ?"
		args = append(args, sel.Limit, sel.Offset)
	}

	var rows []groupRow
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, eris.Wrap(err, "query eligible groups")
	}
	out := make([]pricing.GroupSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, pricing.GroupSummary{Name: r.Name, Count: r.Count, OldestAt: r.OldestAt, LatestAt: r.LatestAt})
	}
	return out, nil
}

func (s *Store) QueueStats(ctx context.Context, sel pricing.Selection) (pricing.QueueStats, error) {
	var row struct {
		Groups  int
		Largest int
	}
	query := "SELECT COUNT(*) AS `groups`, COALESCE(MAX(q.count), 0) AS largest FROM (" + eligibleSQL + ") q"
	if err := s.db.WithContext(ctx).Raw(query, eligibleArgs(sel)...).Scan(&row).Error; err != nil {
		return pricing.QueueStats{}, eris.Wrap(err, "query queue stats")
	}
	return pricing.QueueStats{Groups: row.Groups, LargestGroup: row.Largest}, nil
}

func (s *Store) PendingReports(ctx context.Context, names []string, excluded []string, since time.Time) ([]models.PriceReport, error) {
	if len(names) == 0 {
		return nil, nil
	}
	q := s.db.WithContext(ctx).
		Where("processed = ?", false).
		Where("name IN ?", names).
		Where("submitted_at >= ?", since)
	if len(excluded) > 0 {
		q = q.Where("type NOT IN ?", excluded)
	}

	var reports []models.PriceReport
	if err := q.Order("submitted_at DESC, id DESC").Find(&reports).Error; err != nil {
		return nil, eris.Wrap(err, "load pending reports")
	}
	return reports, nil
}

// FindItem matches by external item id first, then by the exact (name, image id)
// pair. BINARY keeps the pair comparison case-sensitive under MySQL collations.
func (s *Store) FindItem(ctx context.Context, itemID *int64, name, imageID string) (*models.CatalogItem, error) {
	db := s.db.WithContext(ctx)
	var items []models.CatalogItem

	if itemID != nil {
		if err := db.Where("item_id = ?", *itemID).Limit(1).Find(&items).Error; err != nil {
			return nil, eris.Wrapf(err, "find item by id %d", *itemID)
		}
		if len(items) > 0 {
			return &items[0], nil
		}
	}
	if imageID == "" || name == "" {
		return nil, nil
	}
	if err := db.Where("BINARY name = ? AND BINARY image_id = ?", name, imageID).
		Order("id ASC").Limit(1).Find(&items).Error; err != nil {
		return nil, eris.Wrapf(err, "find item %q", name)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (s *Store) LatestPrice(ctx context.Context, itemInternalID uint) (*models.TrustedPrice, error) {
	var prices []models.TrustedPrice
	err := s.db.WithContext(ctx).
		Where("item_internal_id = ?", itemInternalID).
		Order("added_at DESC, id DESC").
		Limit(1).
		Find(&prices).Error
	if err != nil {
		return nil, eris.Wrapf(err, "latest price for item %d", itemInternalID)
	}
	if len(prices) == 0 {
		return nil, nil
	}
	return &prices[0], nil
}

func (s *Store) PriceByID(ctx context.Context, id uint) (*models.TrustedPrice, error) {
	var price models.TrustedPrice
	err := s.db.WithContext(ctx).First(&price, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, eris.Wrapf(ErrPriceNotFound, "price %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "load price %d", id)
	}
	return &price, nil
}

func (s *Store) PriceHistory(ctx context.Context, itemInternalID uint) ([]models.TrustedPrice, error) {
	var prices []models.TrustedPrice
	err := s.db.WithContext(ctx).
		Where("item_internal_id = ?", itemInternalID).
		Order("added_at DESC, id DESC").
		Find(&prices).Error
	if err != nil {
		return nil, eris.Wrapf(err, "price history for item %d", itemInternalID)
	}
	return prices, nil
}

func (s *Store) CommitPrices(ctx context.Context, prices []models.TrustedPrice, processedIDs []uint) (pricing.CommitResult, error) {
	var res pricing.CommitResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(prices) > 0 {
			created := tx.Omit(clause.Associations).CreateInBatches(&prices, 200)
			if created.Error != nil {
				return eris.Wrap(created.Error, "insert trusted prices")
			}
			res.Inserted = created.RowsAffected
		}
		if len(processedIDs) > 0 {
			updated := tx.Model(&models.PriceReport{}).
				Where("id IN ?", processedIDs).
				Update("processed", true)
			if updated.Error != nil {
				return eris.Wrap(updated.Error, "flag reports processed")
			}
			res.Processed = updated.RowsAffected
		}
		return nil
	})
	if err != nil {
		return pricing.CommitResult{}, err
	}
	return res, nil
}

func (s *Store) MarkAttempted(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	markers := make([]models.ProcessingMarker, 0, len(names))
	for _, n := range names {
		markers = append(markers, models.ProcessingMarker{Name: n})
	}
	if err := s.db.WithContext(ctx).CreateInBatches(&markers, 500).Error; err != nil {
		return eris.Wrap(err, "insert processing markers")
	}
	return nil
}

func (s *Store) ClearMarkers(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&models.ProcessingMarker{})
	if res.Error != nil {
		return 0, eris.Wrap(res.Error, "delete processing markers")
	}
	return res.RowsAffected, nil
}

// InsertReports appends reports, silently skipping content-hash duplicates.
func (s *Store) InsertReports(ctx context.Context, reports []models.PriceReport) (int64, error) {
	if len(reports) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&reports, 500)
	if res.Error != nil {
		return 0, eris.Wrap(res.Error, "insert price reports")
	}
	return res.RowsAffected, nil
}
