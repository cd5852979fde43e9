// Package washsale classifies wash-sale risk for proposed loss sales.
package washsale

import (
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
)

// DefaultWindowDays is the standard wash-sale window: 30 days before
// through 30 days after the sale date.
const DefaultWindowDays = 30

// Assessment is the classification outcome: the ordinal risk plus the buy
// events that triggered it.
type Assessment struct {
	Risk    domain.RiskLevel  `json:"risk"`
	Matches []domain.BuyEvent `json:"matches"`
}

// Classifier scores a candidate loss sale against surrounding buy
// activity, both executed (via the history provider) and proposed in the
// same plan. It must be re-invoked once the full plan's proposed buys are
// known: an early pure-sell pass cannot see same-plan reinvestment.
type Classifier struct {
	history    domain.TransactionHistory
	securities domain.SecurityLookup
	log        zerolog.Logger
}

// NewClassifier creates a new wash-sale risk classifier
func NewClassifier(history domain.TransactionHistory, securities domain.SecurityLookup, log zerolog.Logger) *Classifier {
	return &Classifier{
		history:    history,
		securities: securities,
		log:        log.With().Str("component", "washsale_classifier").Logger(),
	}
}

// Classify returns the wash-sale risk for selling ticker at a loss on
// saleDate. An identical-ticker buy inside the window (executed or
// proposed) is definite risk; a same-asset-class buy in a different
// ticker is possible risk. Missing history or reference data degrades to
// a best-effort answer, never an error.
func (c *Classifier) Classify(taxpayer, ticker string, saleDate time.Time, windowDays int, proposed []domain.BuyEvent) Assessment {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	from := saleDate.AddDate(0, 0, -windowDays)
	to := saleDate.AddDate(0, 0, windowDays)

	events := make([]domain.BuyEvent, 0, len(proposed))
	if c.history != nil {
		executed, err := c.history.BuysInWindow(taxpayer, from, to)
		if err != nil {
			c.log.Warn().Err(err).
				Str("taxpayer", taxpayer).
				Str("ticker", ticker).
				Msg("Failed to load buy history, classifying from proposed buys only")
		} else {
			events = append(events, executed...)
		}
	}
	for _, buy := range proposed {
		if buy.Taxpayer == "" || buy.Taxpayer == taxpayer {
			events = append(events, buy)
		}
	}

	var sec *domain.Security
	if c.securities != nil {
		found, err := c.securities.ByTicker(ticker)
		if err != nil {
			c.log.Warn().Err(err).Str("ticker", ticker).Msg("Security lookup failed, identical-ticker matching only")
		} else {
			sec = found
		}
	}

	assessment := Assessment{Risk: domain.RiskNone}
	for _, event := range events {
		if event.ExecutedAt.Before(from) || event.ExecutedAt.After(to) {
			continue
		}

		if event.Ticker == ticker {
			assessment.Risk = domain.RiskDefinite
			assessment.Matches = append(assessment.Matches, event)
			continue
		}

		// Ticker-distinct buys only matter when they are plausible
		// substitutes: same asset class as the sold security.
		if sec == nil {
			continue
		}
		if c.sameAssetClass(sec.AssetClass, event.Ticker) {
			if assessment.Risk < domain.RiskPossible {
				assessment.Risk = domain.RiskPossible
			}
			assessment.Matches = append(assessment.Matches, event)
		}
	}

	return assessment
}

// sameAssetClass reports whether the bought ticker shares the sold
// security's asset class.
func (c *Classifier) sameAssetClass(assetClass, boughtTicker string) bool {
	if c.securities == nil || assetClass == "" {
		return false
	}
	bought, err := c.securities.ByTicker(boughtTicker)
	if err != nil || bought == nil {
		return false
	}
	return bought.AssetClass == assetClass
}
