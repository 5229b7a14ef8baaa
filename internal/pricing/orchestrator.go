package pricing

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"itemprice/internal/metrics"
	"itemprice/internal/models"
)

// ErrNaNPrice marks a group whose sample produced no finite price.
var ErrNaNPrice = eris.New("NaN price")

const (
	defaultReportLimit = 1000
	maxReportLimit     = 10000
	defaultGroupLimit  = 1000
)

// BatchParams bounds one run. Zero values fall back to defaults.
type BatchParams struct {
	Limit      int `json:"limit"`
	GroupLimit int `json:"groupByLimit"`
	Page       int `json:"page"`
}

func (p BatchParams) normalize() BatchParams {
	if p.Limit <= 0 {
		p.Limit = defaultReportLimit
	}
	if p.Limit > maxReportLimit {
		p.Limit = maxReportLimit
	}
	if p.GroupLimit <= 0 {
		p.GroupLimit = defaultGroupLimit
	}
	if p.Page < 0 {
		p.Page = 0
	}
	return p
}

// BatchResult is what a run reports back to the operator.
type BatchResult struct {
	RunID          string         `json:"runId"`
	PriceUpdate    int64          `json:"priceUpdate"`
	PriceProcessed int64          `json:"priceProcessed"`
	ManualCheck    bool           `json:"manualCheck"`
	Groups         int            `json:"groups"`
	Outcomes       map[string]int `json:"outcomes"`
}

// Outcome is the tagged result of evaluating one group.
type Outcome struct {
	Kind         OutcomeKind
	Group        string
	Reason       string
	Err          error
	Price        *models.TrustedPrice
	ProcessedIDs []uint
}

// Orchestrator drives one batch run from selection to commit.
type Orchestrator struct {
	store     Store
	settings  Settings
	detector  *Detector
	publisher Publisher
}

func NewOrchestrator(store Store, settings Settings) *Orchestrator {
	return &Orchestrator{
		store:    store,
		settings: settings,
		detector: NewDetector(settings, store),
	}
}

// WithPublisher sets where committed prices are announced.
func (o *Orchestrator) WithPublisher(p Publisher) *Orchestrator {
	o.publisher = p
	return o
}

func (o *Orchestrator) Settings() Settings {
	return o.settings
}

func (o *Orchestrator) selection(now time.Time) Selection {
	s := o.settings
	return Selection{
		Since:            now.AddDate(0, 0, -s.MaxLookbackDays),
		StaleBefore:      now.AddDate(0, 0, -s.MaxStaleDays),
		MarkersSince:     now.Add(-s.MarkerTTL),
		RecentPriceSince: now.AddDate(0, 0, -s.MinUpdateDays),
		MinCount:         s.SelectMinCount,
		StaleMinCount:    s.SelectStaleMinCount,
		ExcludedSources:  s.ExcludedSources,
	}
}

// QueueDepth reports the eligible backlog without processing anything.
func (o *Orchestrator) QueueDepth(ctx context.Context) (QueueStats, error) {
	stats, err := o.store.QueueStats(ctx, o.selection(o.settings.now()))
	if err != nil {
		return QueueStats{}, eris.Wrap(err, "queue stats")
	}
	metrics.QueueGroups.Set(float64(stats.Groups))
	return stats, nil
}

// ResetHistory clears every processing marker so all names become eligible again.
func (o *Orchestrator) ResetHistory(ctx context.Context) (int64, error) {
	n, err := o.store.ClearMarkers(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "clear processing markers")
	}
	zap.L().Info("processing markers cleared", zap.Int64("deleted", n))
	return n, nil
}

// admit picks names oldest-first until the report budget would be exceeded.
// The first name is always admitted so an oversized group cannot starve.
func admit(groups []GroupSummary, limit int) []string {
	var names []string
	total := 0
	for _, g := range groups {
		if len(names) > 0 && total+g.Count > limit {
			break
		}
		names = append(names, g.Name)
		total += g.Count
	}
	return names
}

// RunBatch selects eligible groups, evaluates them in parallel and commits
// accepted prices. An unexpected error stops evaluation; groups decided before
// it are still committed and the error is returned alongside the result.
func (o *Orchestrator) RunBatch(ctx context.Context, params BatchParams) (*BatchResult, error) {
	params = params.normalize()
	start := time.Now()
	now := o.settings.now()
	result := &BatchResult{RunID: uuid.NewString(), Outcomes: map[string]int{}}
	log := zap.L().With(zap.String("run_id", result.RunID))

	sel := o.selection(now)
	sel.Limit = params.GroupLimit
	sel.Offset = params.GroupLimit * params.Page
	summaries, err := o.store.EligibleGroups(ctx, sel)
	if err != nil {
		metrics.BatchRuns.WithLabelValues("error").Inc()
		return nil, eris.Wrap(err, "select eligible groups")
	}

	names := admit(summaries, params.Limit)
	if len(names) == 0 {
		metrics.BatchRuns.WithLabelValues("empty").Inc()
		log.Debug("no eligible groups")
		return result, nil
	}

	reports, err := o.store.PendingReports(ctx, names, o.settings.ExcludedSources, sel.Since)
	if err != nil {
		metrics.BatchRuns.WithLabelValues("error").Inc()
		return nil, eris.Wrap(err, "load pending reports")
	}

	groups := BuildGroups(reports)
	result.Groups = len(groups)
	log.Info("batch started", zap.Int("names", len(names)), zap.Int("reports", len(reports)), zap.Int("groups", len(groups)))

	outcomes := make([]*Outcome, len(groups))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(o.settings.workers())
	for i := range groups {
		i := i
		eg.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			out, err := o.evaluate(gctx, groups[i], now)
			if err != nil {
				return eris.Wrapf(err, "evaluate group %q", groups[i].Anchor.Name)
			}
			outcomes[i] = &out
			return nil
		})
	}
	evalErr := eg.Wait()

	decided := make([]Outcome, 0, len(outcomes))
	for _, out := range outcomes {
		if out != nil {
			decided = append(decided, *out)
		}
	}
	decided = supersede(decided)

	var prices []models.TrustedPrice
	var processed []uint
	seenID := make(map[uint]bool)
	for _, out := range decided {
		result.Outcomes[out.Kind.String()]++
		metrics.GroupOutcomes.WithLabelValues(out.Kind.String()).Inc()
		o.logOutcome(log, out)

		switch out.Kind {
		case OutcomeAccepted, OutcomeFlagged:
			prices = append(prices, *out.Price)
			for _, id := range out.ProcessedIDs {
				if !seenID[id] {
					seenID[id] = true
					processed = append(processed, id)
				}
			}
			if out.Price.ManualCheck != nil {
				result.ManualCheck = true
			}
		case OutcomeComputationError:
			result.ManualCheck = true
		}
	}

	if len(prices) > 0 || len(processed) > 0 {
		committed, err := o.store.CommitPrices(ctx, prices, processed)
		if err != nil {
			metrics.BatchRuns.WithLabelValues("error").Inc()
			return nil, eris.Wrap(err, "commit prices")
		}
		result.PriceUpdate = committed.Inserted
		result.PriceProcessed = committed.Processed
		if o.publisher != nil {
			o.publisher.Publish(prices)
		}
	}

	attempted := names
	if evalErr != nil {
		attempted = settledNames(groups, outcomes)
	}
	if err := o.store.MarkAttempted(ctx, attempted); err != nil {
		log.Warn("failed to write processing markers", zap.Error(err))
	}

	metrics.BatchDuration.Observe(time.Since(start).Seconds())
	if evalErr != nil {
		metrics.BatchRuns.WithLabelValues("aborted").Inc()
		log.Error("batch aborted", zap.Error(evalErr), zap.Int("committed", len(prices)))
		return result, evalErr
	}
	metrics.BatchRuns.WithLabelValues("ok").Inc()
	log.Info("batch finished",
		zap.Int64("price_update", result.PriceUpdate),
		zap.Int64("price_processed", result.PriceProcessed),
		zap.Bool("manual_check", result.ManualCheck),
		zap.Duration("took", time.Since(start)))
	return result, nil
}

func (o *Orchestrator) logOutcome(log *zap.Logger, out Outcome) {
	switch out.Kind {
	case OutcomeRejected:
		log.Debug("group rejected", zap.String("group", out.Group), zap.String("reason", out.Reason))
	case OutcomeComputationError:
		log.Warn("group computation failed", zap.String("group", out.Group), zap.Error(out.Err))
	default:
		log.Debug("group priced",
			zap.String("group", out.Group),
			zap.String("outcome", out.Kind.String()),
			zap.Int64("price", out.Price.Price))
	}
}

// supersede keeps a single price per catalog item, the one with the latest
// AddedAt, so a run never commits rows out of time order.
func supersede(outcomes []Outcome) []Outcome {
	best := make(map[uint]int)
	for i, out := range outcomes {
		if out.Price == nil {
			continue
		}
		j, ok := best[out.Price.ItemInternalID]
		if !ok || out.Price.AddedAt.After(outcomes[j].Price.AddedAt) {
			best[out.Price.ItemInternalID] = i
		}
	}
	for i, out := range outcomes {
		if out.Price == nil {
			continue
		}
		if best[out.Price.ItemInternalID] != i {
			outcomes[i] = Outcome{Kind: OutcomeRejected, Group: out.Group, Reason: "superseded in run"}
		}
	}
	return outcomes
}

// settledNames returns the names whose groups were all decided. A name with a
// failed or unstarted group stays unmarked so that group can be retried.
func settledNames(groups []Group, outcomes []*Outcome) []string {
	pending := make(map[string]bool)
	for i, g := range groups {
		if outcomes[i] == nil {
			pending[g.Anchor.Name] = true
		}
	}
	seen := make(map[string]bool)
	var names []string
	for i, g := range groups {
		name := g.Anchor.Name
		if outcomes[i] == nil || pending[name] || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// estimate is the price computed from a group's sample.
type estimate struct {
	price     int64
	usedIDs   []uint
	latestAt  time.Time
	processed []uint
}

// sample runs recency, owner and outlier filtering. A non-empty reason means
// the group is rejected.
func (o *Orchestrator) sample(g Group, now time.Time) (estimate, string, error) {
	s := o.settings
	recent := FilterRecent(g.Members, s, now)
	picked := DedupeOwners(recent, s.MaxOwners)
	if len(picked) == 0 {
		return estimate{}, "no attributable reports", nil
	}

	oldest := recent[0].SubmittedAt
	for _, r := range recent {
		if r.SubmittedAt.Before(oldest) {
			oldest = r.SubmittedAt
		}
	}

	var est estimate
	userShop := 0
	prices := make([]float64, 0, len(picked))
	for _, r := range picked {
		if r.SubmittedAt.After(est.latestAt) {
			est.latestAt = r.SubmittedAt
		}
		if r.SourceType == models.SourceUserShop {
			userShop++
		}
		est.usedIDs = append(est.usedIDs, r.ID)
		prices = append(prices, float64(r.Price))
	}

	if float64(userShop) >= float64(len(picked))*s.UserShopRatio {
		return estimate{}, "usershop dominated", nil
	}
	if len(picked) < s.MinSample &&
		calendarDays(now, est.latestAt) < s.MaxStaleDays &&
		calendarDays(est.latestAt, oldest) < 2*s.MaxStaleDays {
		return estimate{}, "thin recent sample", nil
	}

	_, m := TrimOutliers(prices)
	if math.IsNaN(m) || math.IsInf(m, 0) {
		return estimate{}, "", ErrNaNPrice
	}
	est.price = RoundPrice(m)

	for _, r := range g.Members {
		if !r.SubmittedAt.After(est.latestAt) {
			est.processed = append(est.processed, r.ID)
		}
	}
	sort.Slice(est.processed, func(i, j int) bool { return est.processed[i] < est.processed[j] })
	return est, "", nil
}

// evaluate decides one group. Only unexpected failures are returned as errors.
func (o *Orchestrator) evaluate(ctx context.Context, g Group, now time.Time) (Outcome, error) {
	anchor := g.Anchor
	out := Outcome{Kind: OutcomeRejected, Group: anchor.Name}

	if len(g.Members) < o.settings.MinGroupSize {
		out.Reason = "too few reports"
		return out, nil
	}
	if !Resolvable(anchor) {
		out.Reason = "unresolvable identity"
		return out, nil
	}

	est, reason, err := o.sample(g, now)
	if err != nil {
		out.Kind = OutcomeComputationError
		out.Err = err
		return out, nil
	}
	if reason != "" {
		out.Reason = reason
		return out, nil
	}

	item, err := o.store.FindItem(ctx, anchor.ItemID, anchor.Name, anchor.ImageID)
	if err != nil {
		return Outcome{}, eris.Wrap(err, "catalog lookup")
	}
	if item == nil {
		out.Reason = "unknown item"
		return out, nil
	}

	decision, err := o.detector.Decide(ctx, item.ID, Candidate{
		Price:     est.price,
		ReportIDs: est.usedIDs,
		LatestAt:  est.latestAt,
	})
	if err != nil {
		return Outcome{}, err
	}
	if decision.Kind == OutcomeRejected {
		out.Reason = decision.Reason
		return out, nil
	}

	price := &models.TrustedPrice{
		ItemInternalID:   item.ID,
		Name:             anchor.Name,
		ItemID:           anchor.ItemID,
		ImageID:          anchor.ImageID,
		Price:            est.price,
		AddedAt:          est.latestAt,
		NoInflationRefID: decision.NoInflationRefID,
		UsedReportIDs:    models.EncodeReportIDs(est.usedIDs),
	}
	if decision.ManualCheck != "" {
		mc := decision.ManualCheck
		price.ManualCheck = &mc
	}

	out.Kind = decision.Kind
	out.Price = price
	out.ProcessedIDs = est.processed
	return out, nil
}

// CurrentPrice returns the newest trusted price of an item, or nil.
func (o *Orchestrator) CurrentPrice(ctx context.Context, itemInternalID uint) (*models.TrustedPrice, error) {
	p, err := o.store.LatestPrice(ctx, itemInternalID)
	if err != nil {
		return nil, eris.Wrapf(err, "current price for item %d", itemInternalID)
	}
	return p, nil
}

// PriceHistory returns every trusted price of an item, newest first.
func (o *Orchestrator) PriceHistory(ctx context.Context, itemInternalID uint) ([]models.TrustedPrice, error) {
	h, err := o.store.PriceHistory(ctx, itemInternalID)
	if err != nil {
		return nil, eris.Wrapf(err, "price history for item %d", itemInternalID)
	}
	return h, nil
}

// FindItem resolves catalog identity for the read paths.
func (o *Orchestrator) FindItem(ctx context.Context, itemID *int64, name, imageID string) (*models.CatalogItem, error) {
	item, err := o.store.FindItem(ctx, itemID, name, imageID)
	if err != nil {
		return nil, eris.Wrap(err, "catalog lookup")
	}
	return item, nil
}
