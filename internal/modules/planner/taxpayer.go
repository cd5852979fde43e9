package planner

import (
	"fmt"
	"sort"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/lots"
)

// valueEpsilon is the residual below which a sell need is considered
// satisfied.
const valueEpsilon = 1e-9

// taxpayerRun carries the mutable state of one taxpayer's planning pass.
// Runs are independent of each other; the service merges them afterwards.
type taxpayerRun struct {
	policy *domain.Policy
	snap   *domain.Snapshot
	req    Request

	taxpayer    string
	totalValue  float64
	cash        float64
	startValues map[string]float64 // bucket code -> starting value
	values      map[string]float64 // bucket code -> value after planned sells/buys
	tickerStart map[string]float64 // ticker -> starting market value
	sold        map[string]float64 // ticker -> planned sell value
	bought      map[string]float64 // ticker -> planned buy value

	trades        []domain.TradeRecommendation
	picks         map[string][]domain.SelectedLot
	substitutes   map[string][]string
	warnings      []string
	shortTermGain float64
	longTermGain  float64
	seq           int
}

// newTaxpayerRun aggregates a snapshot into bucket totals. Holdings with
// no bucket assignment land in the unassigned sentinel so drift reporting
// can surface them.
func newTaxpayerRun(policy *domain.Policy, snap *domain.Snapshot, req Request) *taxpayerRun {
	run := &taxpayerRun{
		policy:      policy,
		snap:        snap,
		req:         req,
		taxpayer:    snap.Taxpayer,
		cash:        snap.Cash,
		startValues: map[string]float64{},
		tickerStart: map[string]float64{},
		sold:        map[string]float64{},
		bought:      map[string]float64{},
		picks:       map[string][]domain.SelectedLot{},
		substitutes: map[string][]string{},
	}

	run.startValues[domain.BucketCash] = snap.Cash
	for _, h := range snap.Holdings {
		code := h.BucketCode
		if code == "" || (policy.Bucket(code) == nil && code != domain.BucketUnassigned) {
			code = domain.BucketUnassigned
		}
		run.startValues[code] += h.MarketValue
		run.tickerStart[h.Ticker] += h.MarketValue
	}

	run.totalValue = snap.TotalValue()
	run.values = make(map[string]float64, len(run.startValues))
	for code, v := range run.startValues {
		run.values[code] = v
	}
	return run
}

// planTaxpayer executes the per-taxpayer state machine: targets, sells,
// buys, wash re-classification, then the concentration check. share is
// the taxpayer's fraction of total planned value, used to apportion
// plan-level goal amounts.
func (s *Service) planTaxpayer(run *taxpayerRun, share float64) {
	if run.req.Goal.Type == domain.GoalHarvestLosses {
		s.harvest(run, share)
	} else {
		targets := run.bucketTargets(share)
		s.sell(run, targets)
		s.buy(run, targets)
	}

	s.reclassifyWithProposedBuys(run)
	s.checkConcentration(run)
}

// bucketTargets computes per-bucket value targets from policy fractions,
// then applies goal-specific adjustments.
func (run *taxpayerRun) bucketTargets(share float64) map[string]float64 {
	targets := make(map[string]float64, len(run.policy.Buckets))
	for _, bucket := range run.policy.Buckets {
		targets[bucket.Code] = bucket.Target * run.totalValue
	}

	switch run.req.Goal.Type {
	case domain.GoalRaiseCash:
		targets[domain.BucketCash] += run.req.Goal.RaiseAmount * share
	case domain.GoalReduceAlpha:
		// Cap the risk bucket at its policy maximum; anything above it
		// becomes a sell need, anything below is left alone.
		code := run.req.Goal.TargetBucket()
		if bucket := run.policy.Bucket(code); bucket != nil {
			limit := bucket.Max * run.totalValue
			if run.values[code] > limit {
				targets[code] = limit
			} else {
				targets[code] = run.values[code]
			}
		}
	}
	return targets
}

// sellNeeds returns the per-bucket sell amounts for the goal, keyed by
// bucket code, already filtered by the minimum trade value.
func (run *taxpayerRun) sellNeeds(targets map[string]float64) map[string]float64 {
	needs := map[string]float64{}

	if run.req.Goal.Type == domain.GoalRaiseCash {
		// Distribute the cash shortfall pro-rata across non-cash buckets
		// by current value.
		shortfall := targets[domain.BucketCash] - run.values[domain.BucketCash]
		if shortfall <= run.req.Config.MinTradeValue {
			return needs
		}
		nonCashTotal := 0.0
		for _, bucket := range run.policy.Buckets {
			if bucket.Code != domain.BucketCash {
				nonCashTotal += run.values[bucket.Code]
			}
		}
		if nonCashTotal <= 0 {
			return needs
		}
		for _, bucket := range run.policy.Buckets {
			if bucket.Code == domain.BucketCash {
				continue
			}
			need := shortfall * run.values[bucket.Code] / nonCashTotal
			if need > run.req.Config.MinTradeValue {
				needs[bucket.Code] = need
			}
		}
		return needs
	}

	for _, bucket := range run.policy.Buckets {
		if bucket.Code == domain.BucketCash {
			continue
		}
		excess := run.values[bucket.Code] - targets[bucket.Code]
		if excess > run.req.Config.MinTradeValue {
			needs[bucket.Code] = excess
		}
	}
	return needs
}

// sell funds bucket deficits by selling down over-target buckets,
// bucket-by-bucket in code order, largest holdings first within a bucket.
func (s *Service) sell(run *taxpayerRun, targets map[string]float64) {
	needs := run.sellNeeds(targets)

	codes := make([]string, 0, len(needs))
	for code := range needs {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		remaining := needs[code]
		for _, holding := range run.holdingsInBucket(code) {
			if remaining <= valueEpsilon {
				break
			}
			value := remaining
			if holding.MarketValue < value {
				value = holding.MarketValue
			}
			sold := s.sellHolding(run, holding, value, sellRationale(run.req.Goal, code))
			remaining -= sold
		}
	}
}

// sellHolding plans a sale of up to targetValue from one holding and
// returns the value actually covered by selected lots.
func (s *Service) sellHolding(run *taxpayerRun, holding domain.Holding, targetValue float64, rationale string) float64 {
	if len(holding.Lots) == 0 {
		run.warn("holding %s/%s has no tax lots; skipped", run.taxpayer, holding.Ticker)
		return 0
	}
	if holding.Price <= 0 {
		run.warn("holding %s/%s has no usable price; skipped", run.taxpayer, holding.Ticker)
		return 0
	}

	quantity := targetValue / holding.Price

	// First pass: classify against executed buy activity only. The plan's
	// own proposed buys are not known yet; reclassifyWithProposedBuys
	// revisits every sale once they are.
	assessment := s.classifier.Classify(run.taxpayer, holding.Ticker, run.req.AsOf, run.req.Config.WashWindowDays, nil)
	riskByLot := make(map[string]domain.RiskLevel, len(holding.Lots))
	for _, l := range holding.Lots {
		riskByLot[l.ID] = assessment.Risk
	}

	sel, err := s.selector.Select(lots.Request{
		Lots:      holding.Lots,
		Quantity:  quantity,
		Price:     holding.Price,
		SaleDate:  run.req.AsOf,
		Strategy:  run.req.Config.Strategy,
		RiskByLot: riskByLot,
		AvoidWash: run.req.Config.AvoidWashSales,
	})
	if err != nil {
		run.warn("lot selection failed for %s/%s: %v", run.taxpayer, holding.Ticker, err)
		return 0
	}
	if sel.Filled <= 0 {
		run.warn("sale of %s for %s blocked entirely by wash-sale avoidance", holding.Ticker, run.taxpayer)
		return 0
	}
	if sel.Partial() {
		run.warn("sale of %s for %s under-filled by wash-sale avoidance (%.2f of %.2f shares)",
			holding.Ticker, run.taxpayer, sel.Filled, sel.Requested)
	}

	value := sel.Filled * holding.Price
	st, lt := sel.RealizedGains()
	run.shortTermGain += st
	run.longTermGain += lt
	run.picks[holding.Ticker] = append(run.picks[holding.Ticker], sel.Picks...)

	run.seq++
	run.trades = append(run.trades, domain.TradeRecommendation{
		ID:         tradeID(run.taxpayer, holding.Account, holding.Ticker, domain.SideSell, run.seq),
		Side:       domain.SideSell,
		Taxpayer:   run.taxpayer,
		Account:    holding.Account,
		Ticker:     holding.Ticker,
		BucketCode: holding.BucketCode,
		Quantity:   sel.Filled,
		Price:      holding.Price,
		Value:      value,
		Rationale:  rationale,
	})

	run.cash += value
	run.values[domain.BucketCash] += value
	run.values[holding.BucketCode] -= value
	run.sold[holding.Ticker] += value
	return value
}

// harvest sells loss positions by most-negative unrealized fraction until
// the cumulative realized loss reaches the taxpayer's share of the target
// or candidates exhaust. Lot selection is forced to tax-minimizing so
// loss lots are consumed first.
func (s *Service) harvest(run *taxpayerRun, share float64) {
	target := run.req.Goal.HarvestTarget * share
	if target <= 0 {
		return
	}

	type candidate struct {
		holding  domain.Holding
		lossFrac float64
		lossQty  float64
	}

	var candidates []candidate
	for _, holding := range run.snap.Holdings {
		if holding.Price <= 0 || holding.MarketValue <= 0 || len(holding.Lots) == 0 {
			continue
		}
		loss, qty := 0.0, 0.0
		for _, l := range holding.Lots {
			if l.Quantity <= 0 {
				continue
			}
			if u := (holding.Price - l.BasisPerShare()) * l.Quantity; u < 0 {
				loss += u
				qty += l.Quantity
			}
		}
		if qty <= 0 {
			continue
		}
		candidates = append(candidates, candidate{
			holding:  holding,
			lossFrac: loss / holding.MarketValue,
			lossQty:  qty,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].lossFrac != candidates[j].lossFrac {
			return candidates[i].lossFrac < candidates[j].lossFrac
		}
		return candidates[i].holding.Ticker < candidates[j].holding.Ticker
	})

	realized := 0.0
	for _, cand := range candidates {
		if realized >= target {
			break
		}

		assessment := s.classifier.Classify(run.taxpayer, cand.holding.Ticker, run.req.AsOf, run.req.Config.WashWindowDays, nil)
		if run.req.Config.AvoidWashSales && assessment.Risk == domain.RiskDefinite {
			run.warn("harvest candidate %s skipped: definite wash-sale risk", cand.holding.Ticker)
			continue
		}
		riskByLot := make(map[string]domain.RiskLevel, len(cand.holding.Lots))
		for _, l := range cand.holding.Lots {
			riskByLot[l.ID] = assessment.Risk
		}

		sel, err := s.selector.Select(lots.Request{
			Lots:      cand.holding.Lots,
			Quantity:  cand.lossQty,
			Price:     cand.holding.Price,
			SaleDate:  run.req.AsOf,
			Strategy:  domain.StrategyTaxMin,
			RiskByLot: riskByLot,
			AvoidWash: run.req.Config.AvoidWashSales,
		})
		if err != nil || sel.Filled <= 0 {
			continue
		}

		value := sel.Filled * cand.holding.Price
		st, lt := sel.RealizedGains()
		run.shortTermGain += st
		run.longTermGain += lt
		realized += -(st + lt)
		run.picks[cand.holding.Ticker] = append(run.picks[cand.holding.Ticker], sel.Picks...)

		run.seq++
		run.trades = append(run.trades, domain.TradeRecommendation{
			ID:         tradeID(run.taxpayer, cand.holding.Account, cand.holding.Ticker, domain.SideSell, run.seq),
			Side:       domain.SideSell,
			Taxpayer:   run.taxpayer,
			Account:    cand.holding.Account,
			Ticker:     cand.holding.Ticker,
			BucketCode: cand.holding.BucketCode,
			Quantity:   sel.Filled,
			Price:      cand.holding.Price,
			Value:      value,
			Rationale:  "Harvest realized loss for tax benefit",
		})

		run.cash += value
		run.values[domain.BucketCash] += value
		run.values[cand.holding.BucketCode] -= value
		run.sold[cand.holding.Ticker] += value
	}

	if realized < target {
		run.warn("loss-harvest target not met for %s: realized %.2f of %.2f", run.taxpayer, realized, target)
	}
}

// buy fills bucket deficits from post-sell cash above the cash target,
// one ticker per deficit bucket.
func (s *Service) buy(run *taxpayerRun, targets map[string]float64) {
	available := run.cash - targets[domain.BucketCash]
	if available <= 0 {
		return
	}

	codes := make([]string, 0, len(run.policy.Buckets))
	for _, bucket := range run.policy.Buckets {
		if bucket.Code != domain.BucketCash {
			codes = append(codes, bucket.Code)
		}
	}
	sort.Strings(codes)

	for _, code := range codes {
		if available <= run.req.Config.MinTradeValue {
			break
		}
		need := targets[code] - run.values[code]
		if need <= run.req.Config.MinTradeValue {
			continue
		}

		sec := s.buyCandidate(run, code)
		if sec == nil {
			continue
		}
		price := run.priceFor(sec)
		if price <= 0 {
			run.warn("no usable price for %s; buy in bucket %s skipped", sec.Ticker, code)
			continue
		}
		account := run.buyAccount(code)
		if account == "" {
			run.warn("no account available for buy of %s in bucket %s", sec.Ticker, code)
			continue
		}

		value := need
		if value > available {
			value = available
		}
		if value < run.req.Config.MinTradeValue {
			continue
		}

		run.seq++
		run.trades = append(run.trades, domain.TradeRecommendation{
			ID:         tradeID(run.taxpayer, account, sec.Ticker, domain.SideBuy, run.seq),
			Side:       domain.SideBuy,
			Taxpayer:   run.taxpayer,
			Account:    account,
			Ticker:     sec.Ticker,
			BucketCode: code,
			Quantity:   value / price,
			Price:      price,
			Value:      value,
			Rationale:  fmt.Sprintf("Fill allocation deficit in bucket %s", code),
		})

		available -= value
		run.cash -= value
		run.values[domain.BucketCash] -= value
		run.values[code] += value
		run.bought[sec.Ticker] += value
	}
}

// buyCandidate picks the ticker to buy for a deficit bucket: the lowest
// expense ratio among active assigned tickers. Without the lower-cost
// preference, an existing holding in the bucket is topped up instead so
// the plan avoids opening new positions.
func (s *Service) buyCandidate(run *taxpayerRun, bucketCode string) *domain.Security {
	secs, err := s.securities.ByBucket(bucketCode)
	if err != nil {
		run.warn("security lookup failed for bucket %s: %v", bucketCode, err)
		return nil
	}

	active := make([]domain.Security, 0, len(secs))
	for _, sec := range secs {
		if sec.Active {
			active = append(active, sec)
		}
	}
	if len(active) == 0 {
		run.warn("no tickers assigned to bucket %s; buy skipped", bucketCode)
		return nil
	}

	sort.SliceStable(active, func(i, j int) bool {
		if active[i].ExpenseRatio != active[j].ExpenseRatio {
			return active[i].ExpenseRatio < active[j].ExpenseRatio
		}
		return active[i].Ticker < active[j].Ticker
	})

	if !run.req.Config.PreferLowerCost {
		if held := run.largestHoldingIn(bucketCode); held != nil {
			for i := range active {
				if active[i].Ticker == held.Ticker {
					return &active[i]
				}
			}
		}
	}
	return &active[0]
}

// reclassifyWithProposedBuys re-runs wash-sale classification for every
// planned sale with the taxpayer's own proposed buys included, then
// applies the override guardrails: disallowed short-term gains and
// definite wash risk on loss picks.
func (s *Service) reclassifyWithProposedBuys(run *taxpayerRun) {
	var proposed []domain.BuyEvent
	for _, trade := range run.trades {
		if trade.Side == domain.SideBuy {
			proposed = append(proposed, domain.BuyEvent{
				Taxpayer:   run.taxpayer,
				Ticker:     trade.Ticker,
				ExecutedAt: run.req.AsOf,
				Quantity:   trade.Quantity,
				Value:      trade.Value,
				Proposed:   true,
			})
		}
	}

	for i := range run.trades {
		trade := &run.trades[i]
		if trade.Side != domain.SideSell {
			continue
		}

		assessment := s.classifier.Classify(run.taxpayer, trade.Ticker, run.req.AsOf, run.req.Config.WashWindowDays, proposed)

		tickerPicks := run.picks[trade.Ticker]
		lossWithDefiniteRisk := false
		saleShortTermGain := 0.0
		for j := range tickerPicks {
			if assessment.Risk > tickerPicks[j].WashRisk {
				tickerPicks[j].WashRisk = assessment.Risk
			}
			if tickerPicks[j].Unrealized < 0 && tickerPicks[j].WashRisk == domain.RiskDefinite {
				lossWithDefiniteRisk = true
			}
			if tickerPicks[j].Term == domain.TermShort {
				saleShortTermGain += tickerPicks[j].Unrealized
			}
		}

		if saleShortTermGain > 0 && !run.req.Config.AllowShortTermGains {
			trade.RequiresOverride = true
			run.warn("sale of %s for %s realizes a disallowed short-term gain of %.2f",
				trade.Ticker, run.taxpayer, saleShortTermGain)
		}

		if lossWithDefiniteRisk {
			trade.RequiresOverride = true
			run.warn("loss sale of %s for %s has definite wash-sale risk", trade.Ticker, run.taxpayer)
			if _, seen := run.substitutes[trade.Ticker]; !seen {
				if subs := s.substituteTickers(trade.Ticker); len(subs) > 0 {
					run.substitutes[trade.Ticker] = subs
				}
			}
		}
	}
}

// substituteTickers suggests replacements for a wash-blocked ticker:
// same asset class, different substitution group, ranked by expense
// ratio, capped at five.
func (s *Service) substituteTickers(ticker string) []string {
	sec, err := s.securities.ByTicker(ticker)
	if err != nil || sec == nil {
		return nil
	}
	peers, err := s.securities.ByAssetClass(sec.AssetClass)
	if err != nil {
		return nil
	}

	var out []domain.Security
	for _, peer := range peers {
		if !peer.Active || peer.Ticker == ticker || peer.SubstitutionGroup == sec.SubstitutionGroup {
			continue
		}
		out = append(out, peer)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ExpenseRatio != out[j].ExpenseRatio {
			return out[i].ExpenseRatio < out[j].ExpenseRatio
		}
		return out[i].Ticker < out[j].Ticker
	})

	const maxSuggestions = 5
	tickers := make([]string, 0, maxSuggestions)
	for _, sub := range out {
		if len(tickers) == maxSuggestions {
			break
		}
		tickers = append(tickers, sub.Ticker)
	}
	return tickers
}

// checkConcentration flags post-trade single-name positions above the
// policy cap: (starting value - sells + buys) over starting total value.
func (s *Service) checkConcentration(run *taxpayerRun) {
	limit := run.policy.Constraints.MaxSingleName
	if limit <= 0 || run.totalValue <= 0 {
		return
	}

	tickers := map[string]bool{}
	for ticker := range run.tickerStart {
		tickers[ticker] = true
	}
	for ticker := range run.bought {
		tickers[ticker] = true
	}

	ordered := make([]string, 0, len(tickers))
	for ticker := range tickers {
		ordered = append(ordered, ticker)
	}
	sort.Strings(ordered)

	for _, ticker := range ordered {
		post := run.tickerStart[ticker] - run.sold[ticker] + run.bought[ticker]
		frac := post / run.totalValue
		if frac <= limit {
			continue
		}
		run.warn("post-trade concentration in %s for %s (%.1f%%) exceeds single-name cap (%.1f%%)",
			ticker, run.taxpayer, frac*100, limit*100)
		for i := range run.trades {
			if run.trades[i].Ticker == ticker {
				run.trades[i].RequiresOverride = true
			}
		}
	}
}

// holdingsInBucket returns the taxpayer's holdings for a bucket, largest
// market value first, ticker ascending on ties.
func (run *taxpayerRun) holdingsInBucket(code string) []domain.Holding {
	var out []domain.Holding
	for _, h := range run.snap.Holdings {
		if h.BucketCode == code {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].MarketValue != out[j].MarketValue {
			return out[i].MarketValue > out[j].MarketValue
		}
		return out[i].Ticker < out[j].Ticker
	})
	return out
}

// largestHoldingIn returns the taxpayer's biggest holding in a bucket.
func (run *taxpayerRun) largestHoldingIn(code string) *domain.Holding {
	holdings := run.holdingsInBucket(code)
	if len(holdings) == 0 {
		return nil
	}
	return &holdings[0]
}

// priceFor resolves a buy price: reference data first, then any existing
// holding in the snapshot.
func (run *taxpayerRun) priceFor(sec *domain.Security) float64 {
	if sec.LastPrice > 0 {
		return sec.LastPrice
	}
	for _, h := range run.snap.Holdings {
		if h.Ticker == sec.Ticker && h.Price > 0 {
			return h.Price
		}
	}
	return 0
}

// buyAccount picks the account for a buy: the bucket's largest existing
// holding, else the taxpayer's first account in ticker order.
func (run *taxpayerRun) buyAccount(bucketCode string) string {
	if held := run.largestHoldingIn(bucketCode); held != nil {
		return held.Account
	}
	accounts := map[string]bool{}
	for _, h := range run.snap.Holdings {
		if h.Account != "" {
			accounts[h.Account] = true
		}
	}
	ordered := make([]string, 0, len(accounts))
	for account := range accounts {
		ordered = append(ordered, account)
	}
	sort.Strings(ordered)
	if len(ordered) > 0 {
		return ordered[0]
	}
	return ""
}

// warn records a human-readable warning on the run.
func (run *taxpayerRun) warn(format string, args ...interface{}) {
	run.warnings = append(run.warnings, fmt.Sprintf(format, args...))
}

// sellRationale describes why a bucket is being sold down.
func sellRationale(goal domain.Goal, bucketCode string) string {
	switch goal.Type {
	case domain.GoalRaiseCash:
		return fmt.Sprintf("Raise cash from bucket %s", bucketCode)
	case domain.GoalReduceAlpha:
		return fmt.Sprintf("Reduce bucket %s to its policy maximum", bucketCode)
	default:
		return fmt.Sprintf("Reduce bucket %s toward its policy target", bucketCode)
	}
}
