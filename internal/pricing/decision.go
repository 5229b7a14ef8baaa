package pricing

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"itemprice/internal/models"
)

// ManualCheckInflation is stored on price rows that opened an inflation episode.
const ManualCheckInflation = "inflation"

// OutcomeKind tags the result of evaluating one group.
type OutcomeKind int

const (
	OutcomeRejected OutcomeKind = iota
	OutcomeAccepted
	OutcomeFlagged
	OutcomeComputationError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeFlagged:
		return "flagged"
	case OutcomeComputationError:
		return "computation_error"
	default:
		return "rejected"
	}
}

// Candidate is a freshly computed price waiting for a decision.
type Candidate struct {
	Price     int64
	ReportIDs []uint
	LatestAt  time.Time
}

// Decision is the verdict of the inflation detector for one candidate.
type Decision struct {
	Kind             OutcomeKind
	Reason           string
	ManualCheck      string
	NoInflationRefID *uint
}

func reject(reason string) Decision {
	return Decision{Kind: OutcomeRejected, Reason: reason}
}

// PriceReader reads committed price history.
type PriceReader interface {
	// LatestPrice returns the newest price of an item, or nil when it has none.
	LatestPrice(ctx context.Context, itemInternalID uint) (*models.TrustedPrice, error)
	PriceByID(ctx context.Context, id uint) (*models.TrustedPrice, error)
}

// Detector decides whether a candidate price becomes a trusted price.
type Detector struct {
	settings Settings
	prices   PriceReader
}

func NewDetector(settings Settings, prices PriceReader) *Detector {
	return &Detector{settings: settings, prices: prices}
}

// Decide evaluates c against the item's latest committed price.
func (d *Detector) Decide(ctx context.Context, itemInternalID uint, c Candidate) (Decision, error) {
	prior, err := d.prices.LatestPrice(ctx, itemInternalID)
	if err != nil {
		return Decision{}, eris.Wrapf(err, "latest price for item %d", itemInternalID)
	}
	return d.Evaluate(ctx, c, prior)
}

// Evaluate runs the decision state machine with an explicit prior, which may be nil.
func (d *Detector) Evaluate(ctx context.Context, c Candidate, prior *models.TrustedPrice) (Decision, error) {
	s := d.settings
	if prior == nil {
		return Decision{Kind: OutcomeAccepted}, nil
	}
	if !c.LatestAt.After(prior.AddedAt) {
		return reject("not newer than current price"), nil
	}

	days := calendarDays(c.LatestAt, prior.AddedAt)
	if days < s.MinUpdateDays {
		return reject("updated too recently"), nil
	}

	variation := CoefficientOfVariation(prior.Price, c.Price)
	if (variation <= s.ReconfirmVariation || c.Price < s.ReconfirmMinPrice) && days <= s.ReconfirmDays {
		return reject("no significant change"), nil
	}

	if prior.NoInflationRefID == nil {
		if c.Price > s.InflationFloor && prior.Price < c.Price &&
			(variation >= s.InflationVariation ||
				(c.Price >= s.InflationHighPrice && variation >= s.InflationHighVariation)) {
			ref := prior.ID
			return Decision{
				Kind:             OutcomeFlagged,
				ManualCheck:      ManualCheckInflation,
				NoInflationRefID: &ref,
			}, nil
		}
		return Decision{Kind: OutcomeAccepted}, nil
	}

	normal, err := d.prices.PriceByID(ctx, *prior.NoInflationRefID)
	if err != nil {
		return Decision{}, eris.Wrapf(err, "last normal price %d", *prior.NoInflationRefID)
	}
	ref := *prior.NoInflationRefID
	decision := Decision{Kind: OutcomeAccepted, NoInflationRefID: &ref}
	if d.inflationOver(c, variation, normal) {
		decision.NoInflationRefID = nil
	}
	return decision, nil
}

// inflationOver reports whether an inflation episode ends with candidate c.
// variation is measured against the inflated prior, normal is the last
// price recorded before the episode.
func (d *Detector) inflationOver(c Candidate, variation float64, normal *models.TrustedPrice) bool {
	s := d.settings
	daysInflated := calendarDays(c.LatestAt, normal.AddedAt)
	normalVariation := CoefficientOfVariation(normal.Price, c.Price)

	switch {
	case c.Price <= s.InflationFloor:
		return true
	case daysInflated >= s.DeflationDays && variation < s.DeflationVariation:
		return true
	case c.Price > s.InflationFloor && normalVariation < s.InflationVariation:
		return true
	case c.Price >= s.InflationHighPrice && normalVariation < s.InflationHighVariation:
		return true
	case normal.Price >= c.Price:
		return true
	}
	return false
}
