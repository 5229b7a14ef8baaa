package pricing

import (
	"context"
	"time"

	"itemprice/internal/models"
)

// Selection narrows the pending report names eligible for a batch run.
type Selection struct {
	Since            time.Time // oldest report considered
	StaleBefore      time.Time // a small group qualifies once its oldest report predates this
	MarkersSince     time.Time // markers newer than this block a name
	RecentPriceSince time.Time // names priced after this are skipped
	MinCount         int
	StaleMinCount    int
	ExcludedSources  []string
	Limit            int
	Offset           int
}

// GroupSummary is one eligible report name.
type GroupSummary struct {
	Name     string
	Count    int
	OldestAt time.Time
	LatestAt time.Time
}

// QueueStats summarises the eligible backlog.
type QueueStats struct {
	Groups       int
	LargestGroup int
}

// CommitResult counts rows written by CommitPrices.
type CommitResult struct {
	Inserted  int64
	Processed int64
}

// Store is the persistence the orchestrator needs.
type Store interface {
	PriceReader

	EligibleGroups(ctx context.Context, sel Selection) ([]GroupSummary, error)
	QueueStats(ctx context.Context, sel Selection) (QueueStats, error)
	PendingReports(ctx context.Context, names []string, excluded []string, since time.Time) ([]models.PriceReport, error)

	// FindItem returns nil when no catalog item matches.
	FindItem(ctx context.Context, itemID *int64, name, imageID string) (*models.CatalogItem, error)

	// CommitPrices inserts prices and flags report ids processed in one transaction.
	CommitPrices(ctx context.Context, prices []models.TrustedPrice, processedIDs []uint) (CommitResult, error)
	MarkAttempted(ctx context.Context, names []string) error
	ClearMarkers(ctx context.Context) (int64, error)

	PriceHistory(ctx context.Context, itemInternalID uint) ([]models.TrustedPrice, error)
}

// Publisher receives prices right after they are committed.
type Publisher interface {
	Publish(prices []models.TrustedPrice)
}
