// Package lots provides tax-lot selection for sale sizing.
package lots

import (
	"fmt"
	"sort"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
)

// flatEpsilon bounds the unrealized value below which a long-term lot is
// treated as flat rather than a gain.
const flatEpsilon = 1e-6

// Request describes one lot-selection call. RiskByLot and AvoidWash are
// only consulted by the tax-minimizing strategy; the date-ordered
// strategies ignore them for ordering but still annotate picks.
type Request struct {
	SaleDate  time.Time
	Lots      []domain.Lot
	Quantity  float64
	Price     float64
	Strategy  domain.LotStrategy
	RiskByLot map[string]domain.RiskLevel
	AvoidWash bool
}

// Selector chooses which tax lots to sell to satisfy a quantity need.
type Selector struct {
	log zerolog.Logger
}

// NewSelector creates a new lot selector
func NewSelector(log zerolog.Logger) *Selector {
	return &Selector{
		log: log.With().Str("component", "lot_selector").Logger(),
	}
}

// strategyFunc is the shared contract all selection strategies implement.
type strategyFunc func(req Request) domain.Selection

// Select dispatches to the requested strategy. An unknown strategy is a
// caller defect and returns an error; everything else is best-effort.
func (s *Selector) Select(req Request) (domain.Selection, error) {
	var fn strategyFunc
	switch req.Strategy {
	case domain.StrategyTaxMin, "":
		fn = selectTaxMinimizing
	case domain.StrategyFIFO:
		fn = selectFIFO
	case domain.StrategyLIFO:
		fn = selectLIFO
	default:
		return domain.Selection{}, fmt.Errorf("unknown lot selection strategy: %q", req.Strategy)
	}

	sel := fn(req)
	if sel.Partial() {
		s.log.Debug().
			Float64("requested", sel.Requested).
			Float64("filled", sel.Filled).
			Str("strategy", string(req.Strategy)).
			Msg("Lot selection under-filled request")
	}
	return sel, nil
}

// selectTaxMinimizing orders eligible lots to realize losses first, then
// the smallest long-term gains, then long-term flat lots, then short-term
// lots by smallest gain. Loss allocations carrying definite wash risk are
// skipped (not substituted) when avoidance is requested, so the request
// may be under-filled.
func selectTaxMinimizing(req Request) domain.Selection {
	eligible := eligibleLots(req.Lots)

	var losses, ltGains, ltFlat, shortTerm []domain.Lot
	for _, lot := range eligible {
		u := lotUnrealized(lot, req.Price)
		term := domain.ClassifyTerm(lot.AcquiredAt, req.SaleDate)
		switch {
		case u < 0:
			losses = append(losses, lot)
		case term == domain.TermLong && u < flatEpsilon:
			ltFlat = append(ltFlat, lot)
		case term == domain.TermLong:
			ltGains = append(ltGains, lot)
		default:
			shortTerm = append(shortTerm, lot)
		}
	}

	// Most negative first: maximize loss realized per lot before moving on.
	sortByUnrealized(losses, req.Price)
	// Smallest gain first.
	sortByUnrealized(ltGains, req.Price)
	sortByUnrealized(shortTerm, req.Price)

	ordered := make([]domain.Lot, 0, len(eligible))
	ordered = append(ordered, losses...)
	ordered = append(ordered, ltGains...)
	ordered = append(ordered, ltFlat...)
	ordered = append(ordered, shortTerm...)

	return consume(ordered, req, true)
}

// selectFIFO consumes lots strictly by acquisition date ascending.
func selectFIFO(req Request) domain.Selection {
	ordered := eligibleLots(req.Lots)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].AcquiredAt.Before(ordered[j].AcquiredAt)
	})
	return consume(ordered, req, false)
}

// selectLIFO consumes lots strictly by acquisition date descending.
func selectLIFO(req Request) domain.Selection {
	ordered := eligibleLots(req.Lots)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].AcquiredAt.After(ordered[j].AcquiredAt)
	})
	return consume(ordered, req, false)
}

// consume allocates quantity greedily from the ordered lots. When
// honorWashSkip is set, loss allocations with definite wash risk are
// skipped under avoidance.
func consume(ordered []domain.Lot, req Request, honorWashSkip bool) domain.Selection {
	sel := domain.Selection{Requested: req.Quantity}
	if req.Quantity <= 0 {
		return sel
	}

	remaining := req.Quantity
	for _, lot := range ordered {
		if remaining <= 0 {
			break
		}

		perShareGain := req.Price - lot.BasisPerShare()
		risk := req.RiskByLot[lot.ID]
		if honorWashSkip && req.AvoidWash && perShareGain < 0 && risk == domain.RiskDefinite {
			continue
		}

		alloc := lot.Quantity
		if alloc > remaining {
			alloc = remaining
		}

		basis := lot.BasisPerShare() * alloc
		sel.Picks = append(sel.Picks, domain.SelectedLot{
			LotID:      lot.ID,
			AcquiredAt: lot.AcquiredAt,
			Term:       domain.ClassifyTerm(lot.AcquiredAt, req.SaleDate),
			Quantity:   alloc,
			Basis:      basis,
			Unrealized: req.Price*alloc - basis,
			WashRisk:   risk,
		})
		remaining -= alloc
	}

	sel.Filled = req.Quantity - remaining
	return sel
}

// eligibleLots filters out closed (zero-quantity) lots.
func eligibleLots(in []domain.Lot) []domain.Lot {
	out := make([]domain.Lot, 0, len(in))
	for _, lot := range in {
		if lot.Quantity > 0 {
			out = append(out, lot)
		}
	}
	return out
}

// lotUnrealized returns the full-lot unrealized value at the sale price.
// Sign is determined solely by price minus basis per share, so partial
// allocations keep the same sign.
func lotUnrealized(lot domain.Lot, price float64) float64 {
	return (price - lot.BasisPerShare()) * lot.Quantity
}

// sortByUnrealized orders lots ascending by unrealized value at the sale
// price, keeping input order on ties for deterministic output.
func sortByUnrealized(lotsToSort []domain.Lot, price float64) {
	sort.SliceStable(lotsToSort, func(i, j int) bool {
		return lotUnrealized(lotsToSort[i], price) < lotUnrealized(lotsToSort[j], price)
	})
}
