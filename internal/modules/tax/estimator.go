// Package tax estimates incremental federal tax under a flat-rate model.
//
// The model is an approximation by design: flat ordinary and capital-gains
// rates, an optional flat state rate and an optional net-investment-income
// surtax. No brackets, phase-outs or AMT.
package tax

import "github.com/aristath/helmsman/internal/domain"

// Input is the income delta being priced.
type Input struct {
	ShortTermGain         float64 `json:"short_term_gain"`
	LongTermGain          float64 `json:"long_term_gain"`
	OrdinaryIncome        float64 `json:"ordinary_income"`
	QualifiedDividends    float64 `json:"qualified_dividends"`
	NonQualifiedDividends float64 `json:"non_qualified_dividends"`
	Interest              float64 `json:"interest"`
}

// investmentIncome is the NIIT base: all investment-sourced components.
func (in Input) investmentIncome() float64 {
	return in.ShortTermGain + in.LongTermGain + in.QualifiedDividends +
		in.NonQualifiedDividends + in.Interest
}

// EstimateDelta returns the estimated incremental tax for the input under
// the given rate assumptions. The function is pure and linear in each
// income component.
func EstimateDelta(in Input, rates domain.RateAssumptions) float64 {
	ordinaryBase := in.ShortTermGain + in.OrdinaryIncome + in.NonQualifiedDividends + in.Interest
	ltcgBase := in.LongTermGain + in.QualifiedDividends

	total := rates.Ordinary*ordinaryBase + rates.LTCG*ltcgBase

	if rates.State > 0 {
		total += rates.State * (ordinaryBase + ltcgBase)
	}

	if rates.NIIT > 0 {
		if invest := in.investmentIncome(); invest > 0 {
			total += rates.NIIT * invest
		}
	}

	return total
}

// EstimateGains prices a realized short/long-term gain pair with no other
// income components. This is the planner's common case.
func EstimateGains(shortTerm, longTerm float64, rates domain.RateAssumptions) float64 {
	return EstimateDelta(Input{ShortTermGain: shortTerm, LongTermGain: longTerm}, rates)
}
