package strategy

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/eddiefleurent/threat_level_midnight/internal/models"
	"github.com/eddiefleurent/threat_level_midnight/internal/options"
	"github.com/eddiefleurent/threat_level_midnight/internal/risk"
)

// OptionsStrategy is one stateful options strategy bound to the paper book
// and the risk manager. Evaluate proposes entries; ManagePositions proposes
// exits and rolls. Neither returns an error: failures surface as a single
// ActionNone carrying the reason, so one bad strategy cannot stall a tick.
type OptionsStrategy interface {
	Name() string
	Evaluate(ctx context.Context, underlying string) []models.Action
	ManagePositions(ctx context.Context, underlying string) []models.Action
}

// SpotHoldings exposes spot balances to strategies that care about
// assignment state. The exchange adapter satisfies it.
type SpotHoldings interface {
	GetPositions(ctx context.Context) (map[string]float64, error)
}

// OptionsDeps carries the shared dependencies handed to every options
// strategy. Holdings may be nil; only the wheel uses it.
type OptionsDeps struct {
	Adapter  *options.Adapter
	Risk     *risk.OptionsManager
	Holdings SpotHoldings
}

// OptionsEntry is one registered options strategy.
type OptionsEntry struct {
	Description string
	New         func(deps OptionsDeps) OptionsStrategy
}

var optionsRegistry = map[string]OptionsEntry{
	"momentum_options": {
		"Momentum options: ROC crossovers drive directional calls/puts (30-45 DTE)",
		func(d OptionsDeps) OptionsStrategy { return NewMomentumOptions(d, MomentumOptionsParams{}) },
	},
	"vol_mean_reversion": {
		"Vol mean reversion: sell strangles at high IV rank, buy straddles at low",
		func(d OptionsDeps) OptionsStrategy { return NewVolMeanReversion(d, VolMeanReversionParams{}) },
	},
	"protective_puts": {
		"Protective puts: OTM put hedges against the monthly hedge budget",
		func(d OptionsDeps) OptionsStrategy { return NewProtectivePuts(d, ProtectivePutsParams{}) },
	},
	"covered_calls": {
		"Covered calls: sell OTM calls for income, roll near ITM or expiry",
		func(d OptionsDeps) OptionsStrategy { return NewCoveredCalls(d, CoveredCallsParams{}) },
	},
	"wheel": {
		"Wheel: cash-secured puts, then covered calls after assignment",
		func(d OptionsDeps) OptionsStrategy { return NewWheel(d, WheelParams{}) },
	},
	"butterfly": {
		"Butterfly: range-bound call butterfly at moderate IV rank",
		func(d OptionsDeps) OptionsStrategy { return NewButterfly(d, ButterflyParams{}) },
	},
}

// OptionsStrategies lists the registered options strategy names, sorted.
func OptionsStrategies() []string {
	names := make([]string, 0, len(optionsRegistry))
	for name := range optionsRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetOptions looks up a registered options strategy by name.
func GetOptions(name string) (OptionsEntry, error) {
	e, ok := optionsRegistry[name]
	if !ok {
		return OptionsEntry{}, fmt.Errorf("unknown options strategy %q, available: %v", name, OptionsStrategies())
	}
	return e, nil
}

func none(format string, args ...any) []models.Action {
	return []models.Action{{Type: models.ActionNone, Reason: fmt.Sprintf(format, args...)}}
}

// priceReturns converts closes into simple percentage returns.
func priceReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		out = append(out, (closes[i]-closes[i-1])/closes[i-1])
	}
	return out
}

// ComputeIVRank ranks the most recent realized vol against its rolling
// windows: (current − min) / (max − min) · 100. With too little history for
// rolling windows it falls back to a ratio against the full-period vol.
// Neutral 50 when there are fewer than two returns.
func ComputeIVRank(returns []float64, window int) float64 {
	if len(returns) < 2 {
		return 50
	}
	w := window
	if w > len(returns) {
		w = len(returns)
	}

	hv := func(r []float64) float64 {
		n := float64(len(r))
		if n < 1 {
			return 0
		}
		var mean float64
		for _, x := range r {
			mean += x
		}
		mean /= n
		var variance float64
		for _, x := range r {
			variance += (x - mean) * (x - mean)
		}
		return math.Sqrt(variance/n) * math.Sqrt(365) * 100
	}

	recent := hv(returns[len(returns)-w:])

	if len(returns) >= 2*w {
		lo, hi := math.Inf(1), math.Inf(-1)
		for i := 0; i+w <= len(returns); i++ {
			v := hv(returns[i : i+w])
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if hi > lo {
			return clamp((recent-lo)/(hi-lo)*100, 0, 100)
		}
	}
	full := math.Max(hv(returns), 0.001)
	return clamp(recent/full*50, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }

// ivRank prefers the adapter's recorded IV history and falls back to the
// realized-vol rank from daily candles while the history is still sparse.
func ivRank(ctx context.Context, a *options.Adapter, underlying string) float64 {
	if a.IVSampleCount(underlying) >= 5 {
		if rank, err := a.GetIVRank(ctx, underlying); err == nil {
			return rank
		}
	}
	bars, err := a.GetCandles(ctx, underlying, "1d", 90)
	if err != nil || len(bars) < 30 {
		return 50
	}
	return ComputeIVRank(priceReturns(bars.Closes()), 14)
}

// ─── momentum_options ───

// MomentumOptionsParams tunes the momentum options strategy.
type MomentumOptionsParams struct {
	ROCPeriod       int
	Threshold       float64
	TargetDTE       float64
	ProfitTargetPct float64
	StopLossPct     float64
	PositionSizePct float64
}

func (p *MomentumOptionsParams) norm() {
	if p.ROCPeriod == 0 {
		p.ROCPeriod = 14
	}
	if p.Threshold == 0 {
		p.Threshold = 5.0
	}
	if p.TargetDTE == 0 {
		p.TargetDTE = 37
	}
	if p.ProfitTargetPct == 0 {
		p.ProfitTargetPct = 50
	}
	if p.StopLossPct == 0 {
		p.StopLossPct = 30
	}
	if p.PositionSizePct == 0 {
		p.PositionSizePct = 3
	}
}

// MomentumOptions buys a slightly OTM call or put when 4h ROC crosses its
// threshold, and exits on profit target, stop loss, or approaching expiry.
type MomentumOptions struct {
	deps   OptionsDeps
	params MomentumOptionsParams
}

func NewMomentumOptions(deps OptionsDeps, params MomentumOptionsParams) *MomentumOptions {
	params.norm()
	return &MomentumOptions{deps: deps, params: params}
}

func (s *MomentumOptions) Name() string { return "momentum_options" }

// momentumSignal returns +1/-1 on the bar where ROC crosses the threshold,
// zero otherwise.
func (s *MomentumOptions) momentumSignal(ctx context.Context, underlying string) (int, error) {
	bars, err := s.deps.Adapter.GetCandles(ctx, underlying, "4h", 100)
	if err != nil {
		return 0, err
	}
	closes := bars.Closes()
	n := s.params.ROCPeriod
	if len(closes) < n+2 || len(closes) < 30 {
		return 0, nil
	}
	last := len(closes) - 1
	current := (closes[last] - closes[last-n]) / closes[last-n] * 100
	prev := (closes[last-1] - closes[last-1-n]) / closes[last-1-n] * 100

	switch {
	case current > s.params.Threshold && prev <= s.params.Threshold:
		return 1, nil
	case current < -s.params.Threshold && prev >= -s.params.Threshold:
		return -1, nil
	}
	return 0, nil
}

func (s *MomentumOptions) Evaluate(ctx context.Context, underlying string) []models.Action {
	signal, err := s.momentumSignal(ctx, underlying)
	if err != nil {
		return none("Momentum data fetch failed: %v", err)
	}
	if signal == 0 {
		return none("No momentum signal")
	}
	if existing := s.deps.Adapter.GetPositionsForUnderlying(underlying); len(existing) > 0 {
		return none("Already have %d positions in %s", len(existing), underlying)
	}

	typ, strikePct := models.Call, 1.02
	label := "BUY"
	if signal == -1 {
		typ, strikePct = models.Put, 0.98
		label = "SELL"
	}
	contract, err := s.deps.Adapter.FindOption(ctx, underlying, typ, strikePct, s.params.TargetDTE)
	if err != nil {
		return none("No suitable %ss found: %v", typ, err)
	}
	estCost := contract.Mid() * contract.SpotPrice
	if estCost <= 0 {
		return none("Cannot price contract %s", contract.Symbol)
	}

	budget := s.deps.Adapter.GetPortfolioValue() * s.params.PositionSizePct / 100
	qty := round2(math.Max(budget/estCost, 0.1))

	verdict := s.deps.Risk.CheckCanTrade(s.deps.Adapter, risk.OptionsTradeCheck{
		ProposedPremiumUSD: estCost * qty,
		Side:               models.Buy,
		Underlying:         underlying,
	})
	if !verdict.Allowed {
		return none("Risk blocked: %s", verdict.Reason)
	}

	actionType := models.ActionBuyCall
	if typ == models.Put {
		actionType = models.ActionBuyPut
	}
	return []models.Action{{
		Type:     actionType,
		Contract: contract,
		Quantity: qty,
		Reason: fmt.Sprintf("Momentum %s signal, %s %.0f (%.0f DTE) ~$%.0f",
			label, typ, contract.Strike, contract.DTE(time.Now().UTC()), estCost*qty),
	}}
}

func (s *MomentumOptions) ManagePositions(ctx context.Context, underlying string) []models.Action {
	var actions []models.Action
	now := time.Now().UTC()
	for _, pos := range s.deps.Adapter.GetPositionsForUnderlying(underlying) {
		if pos.Side != models.Buy {
			continue
		}
		pnlPct := pos.PnLPct()
		switch {
		case pnlPct >= s.params.ProfitTargetPct:
			actions = append(actions, models.Action{
				Type:       models.ActionClose,
				PositionID: pos.ID,
				Reason:     fmt.Sprintf("Profit target hit: %.1f%% >= %.0f%%", pnlPct, s.params.ProfitTargetPct),
			})
		case pnlPct <= -s.params.StopLossPct:
			actions = append(actions, models.Action{
				Type:       models.ActionClose,
				PositionID: pos.ID,
				Reason:     fmt.Sprintf("Stop loss hit: %.1f%% <= -%.0f%%", pnlPct, s.params.StopLossPct),
			})
		case pos.DTE(now) < 5:
			actions = append(actions, models.Action{
				Type:       models.ActionClose,
				PositionID: pos.ID,
				Reason:     fmt.Sprintf("Approaching expiry: %.1f DTE", pos.DTE(now)),
			})
		}
	}
	return actions
}

// ─── vol_mean_reversion ───

// VolMeanReversionParams tunes the volatility mean-reversion strategy.
type VolMeanReversionParams struct {
	HighIVThreshold float64
	LowIVThreshold  float64
	TargetDTE       float64
	StrangleOTMPct  float64
	PositionSizePct float64
}

func (p *VolMeanReversionParams) norm() {
	if p.HighIVThreshold == 0 {
		p.HighIVThreshold = 75
	}
	if p.LowIVThreshold == 0 {
		p.LowIVThreshold = 25
	}
	if p.TargetDTE == 0 {
		p.TargetDTE = 30
	}
	if p.StrangleOTMPct == 0 {
		p.StrangleOTMPct = 0.10
	}
	if p.PositionSizePct == 0 {
		p.PositionSizePct = 5
	}
}

// VolMeanReversion sells strangles when IV rank is rich and buys straddles
// when it is cheap, exiting the whole leg group together.
type VolMeanReversion struct {
	deps   OptionsDeps
	params VolMeanReversionParams
}

func NewVolMeanReversion(deps OptionsDeps, params VolMeanReversionParams) *VolMeanReversion {
	params.norm()
	return &VolMeanReversion{deps: deps, params: params}
}

func (s *VolMeanReversion) Name() string { return "vol_mean_reversion" }

func (s *VolMeanReversion) isVolLeg(pos models.OptionPosition) bool {
	return pos.LegGroup != "" &&
		(strings.Contains(pos.LegGroup, "straddle") || strings.Contains(pos.LegGroup, "strangle"))
}

func (s *VolMeanReversion) Evaluate(ctx context.Context, underlying string) []models.Action {
	rank := ivRank(ctx, s.deps.Adapter, underlying)

	for _, pos := range s.deps.Adapter.GetPositionsForUnderlying(underlying) {
		if s.isVolLeg(pos) {
			return none("Already in vol trade for %s (IV rank: %.0f)", underlying, rank)
		}
	}

	budget := s.deps.Adapter.GetPortfolioValue() * s.params.PositionSizePct / 100

	switch {
	case rank > s.params.HighIVThreshold:
		verdict := s.deps.Risk.CheckCanTrade(s.deps.Adapter, risk.OptionsTradeCheck{
			ProposedPremiumUSD: budget,
			Side:               models.Sell,
			Underlying:         underlying,
		})
		if !verdict.Allowed {
			return none("Risk blocked: %s", verdict.Reason)
		}
		return []models.Action{{
			Type:       models.ActionSellStrangle,
			Underlying: underlying,
			TargetDTE:  int(s.params.TargetDTE),
			OTMPct:     s.params.StrangleOTMPct,
			Quantity:   1.0,
			Reason:     fmt.Sprintf("IV rank %.0f%% > %.0f%%, sell strangle", rank, s.params.HighIVThreshold),
		}}

	case rank < s.params.LowIVThreshold:
		verdict := s.deps.Risk.CheckCanTrade(s.deps.Adapter, risk.OptionsTradeCheck{
			ProposedPremiumUSD: budget,
			Side:               models.Buy,
			Underlying:         underlying,
		})
		if !verdict.Allowed {
			return none("Risk blocked: %s", verdict.Reason)
		}
		return []models.Action{{
			Type:       models.ActionBuyStraddle,
			Underlying: underlying,
			TargetDTE:  int(s.params.TargetDTE),
			Quantity:   1.0,
			Reason:     fmt.Sprintf("IV rank %.0f%% < %.0f%%, buy straddle", rank, s.params.LowIVThreshold),
		}}
	}
	return none("IV rank %.0f%%, neutral zone (%.0f-%.0f)", rank, s.params.LowIVThreshold, s.params.HighIVThreshold)
}

func (s *VolMeanReversion) ManagePositions(ctx context.Context, underlying string) []models.Action {
	var actions []models.Action
	seen := map[string]bool{}
	now := time.Now().UTC()

	for _, pos := range s.deps.Adapter.GetPositionsForUnderlying(underlying) {
		if !s.isVolLeg(pos) || seen[pos.LegGroup] {
			continue
		}
		pnlPct := pos.PnLPct()
		var reason string
		switch {
		case pos.Side == models.Sell && pnlPct >= 50:
			reason = fmt.Sprintf("Vol sell profit target: %.1f%%", pnlPct)
		case pos.Side == models.Buy && pnlPct >= 50:
			reason = fmt.Sprintf("Vol buy profit target: %.1f%%", pnlPct)
		case pnlPct <= -30:
			reason = fmt.Sprintf("Vol trade stop loss: %.1f%%", pnlPct)
		case pos.DTE(now) < 7:
			reason = fmt.Sprintf("Vol trade expiry approaching: %.0f DTE", pos.DTE(now))
		default:
			continue
		}
		seen[pos.LegGroup] = true
		actions = append(actions, models.Action{
			Type:     models.ActionCloseGroup,
			LegGroup: pos.LegGroup,
			Reason:   reason,
		})
	}
	return actions
}

// ─── protective_puts ───

// ProtectivePutsParams tunes the protective-put hedge.
type ProtectivePutsParams struct {
	OTMPct         float64
	TargetDTE      float64
	RollDTE        float64
	SpotHoldingUSD float64
}

func (p *ProtectivePutsParams) norm() {
	if p.OTMPct == 0 {
		p.OTMPct = 12
	}
	if p.TargetDTE == 0 {
		p.TargetDTE = 45
	}
	if p.RollDTE == 0 {
		p.RollDTE = 10
	}
	if p.SpotHoldingUSD == 0 {
		p.SpotHoldingUSD = 5000
	}
}

// ProtectivePuts buys OTM puts sized to the hedged spot holding, charged
// against the monthly hedge budget, and rolls them before expiry.
type ProtectivePuts struct {
	deps   OptionsDeps
	params ProtectivePutsParams
}

func NewProtectivePuts(deps OptionsDeps, params ProtectivePutsParams) *ProtectivePuts {
	params.norm()
	return &ProtectivePuts{deps: deps, params: params}
}

func (s *ProtectivePuts) Name() string { return "protective_puts" }

func (s *ProtectivePuts) Evaluate(ctx context.Context, underlying string) []models.Action {
	for _, pos := range s.deps.Adapter.GetPositionsForUnderlying(underlying) {
		if pos.Type == models.Put && pos.Side == models.Buy {
			return none("Already have protective puts for %s", underlying)
		}
	}

	spot, err := s.deps.Adapter.GetSpotPrice(ctx, underlying)
	if err != nil {
		return none("Spot price fetch failed: %v", err)
	}
	contract, err := s.deps.Adapter.FindOption(ctx, underlying, models.Put, 1-s.params.OTMPct/100, s.params.TargetDTE)
	if err != nil {
		return none("No suitable puts found: %v", err)
	}
	estCost := contract.Mid() * contract.SpotPrice
	if estCost <= 0 {
		return none("Cannot price protective put %s", contract.Symbol)
	}

	qty := round4(math.Max(s.params.SpotHoldingUSD/spot, 0.01))
	totalCost := estCost * qty

	pv := s.deps.Adapter.GetPortfolioValue()
	if !s.deps.Risk.CheckHedgeBudget(totalCost, pv) {
		return none("Hedge budget exceeded (+$%.0f)", totalCost)
	}
	verdict := s.deps.Risk.CheckCanTrade(s.deps.Adapter, risk.OptionsTradeCheck{
		ProposedPremiumUSD: totalCost,
		Side:               models.Buy,
		Underlying:         underlying,
	})
	if !verdict.Allowed {
		return none("Risk blocked: %s", verdict.Reason)
	}

	return []models.Action{{
		Type:     models.ActionBuyPut,
		Contract: contract,
		Quantity: qty,
		IsHedge:  true,
		Reason: fmt.Sprintf("Protective put: %.0f strike (%.0f%% OTM) ~$%.0f",
			contract.Strike, s.params.OTMPct, totalCost),
	}}
}

func (s *ProtectivePuts) ManagePositions(ctx context.Context, underlying string) []models.Action {
	var actions []models.Action
	now := time.Now().UTC()
	for _, pos := range s.deps.Adapter.GetPositionsForUnderlying(underlying) {
		if pos.Type == models.Put && pos.Side == models.Buy && pos.DTE(now) < s.params.RollDTE {
			actions = append(actions, models.Action{
				Type:       models.ActionRoll,
				PositionID: pos.ID,
				OTMPct:     s.params.OTMPct,
				TargetDTE:  int(s.params.TargetDTE),
				Reason:     fmt.Sprintf("Rolling protective put: %.0f DTE < %.0f", pos.DTE(now), s.params.RollDTE),
			})
		}
	}
	return actions
}

// ─── covered_calls ───

// CoveredCallsParams tunes the covered-call income strategy.
type CoveredCallsParams struct {
	OTMPct              float64
	TargetDTE           float64
	RollDTE             float64
	ITMRollThresholdPct float64
	SpotHoldingUSD      float64
}

func (p *CoveredCallsParams) norm() {
	if p.OTMPct == 0 {
		p.OTMPct = 12
	}
	if p.TargetDTE == 0 {
		p.TargetDTE = 21
	}
	if p.RollDTE == 0 {
		p.RollDTE = 5
	}
	if p.ITMRollThresholdPct == 0 {
		p.ITMRollThresholdPct = 2
	}
	if p.SpotHoldingUSD == 0 {
		p.SpotHoldingUSD = 5000
	}
}

// CoveredCalls sells OTM calls against a spot holding and rolls when spot
// creeps toward the strike or expiry nears.
type CoveredCalls struct {
	deps   OptionsDeps
	params CoveredCallsParams
}

func NewCoveredCalls(deps OptionsDeps, params CoveredCallsParams) *CoveredCalls {
	params.norm()
	return &CoveredCalls{deps: deps, params: params}
}

func (s *CoveredCalls) Name() string { return "covered_calls" }

func (s *CoveredCalls) Evaluate(ctx context.Context, underlying string) []models.Action {
	for _, pos := range s.deps.Adapter.GetPositionsForUnderlying(underlying) {
		if pos.Type == models.Call && pos.Side == models.Sell {
			return none("Already have covered calls for %s", underlying)
		}
	}

	spot, err := s.deps.Adapter.GetSpotPrice(ctx, underlying)
	if err != nil {
		return none("Spot price fetch failed: %v", err)
	}
	contract, err := s.deps.Adapter.FindOption(ctx, underlying, models.Call, 1+s.params.OTMPct/100, s.params.TargetDTE)
	if err != nil {
		return none("No suitable calls found: %v", err)
	}
	estPremium := contract.Mid() * contract.SpotPrice
	if estPremium <= 0 {
		return none("Cannot price covered call %s", contract.Symbol)
	}

	qty := round4(math.Max(s.params.SpotHoldingUSD/spot, 0.01))
	verdict := s.deps.Risk.CheckCanTrade(s.deps.Adapter, risk.OptionsTradeCheck{
		ProposedPremiumUSD: estPremium * qty,
		Side:               models.Sell,
		Underlying:         underlying,
	})
	if !verdict.Allowed {
		return none("Risk blocked: %s", verdict.Reason)
	}

	dte := contract.DTE(time.Now().UTC())
	monthlyYield := 0.0
	if dte > 0 {
		monthlyYield = (estPremium / spot) * (30 / dte) * 100
	}
	return []models.Action{{
		Type:     models.ActionSellCall,
		Contract: contract,
		Quantity: qty,
		Reason: fmt.Sprintf("Covered call: %.0f strike (%.0f DTE, %.0f%% OTM) ~%.1f%%/month yield",
			contract.Strike, dte, s.params.OTMPct, monthlyYield),
	}}
}

func (s *CoveredCalls) ManagePositions(ctx context.Context, underlying string) []models.Action {
	var actions []models.Action
	now := time.Now().UTC()
	for _, pos := range s.deps.Adapter.GetPositionsForUnderlying(underlying) {
		if pos.Type != models.Call || pos.Side != models.Sell {
			continue
		}
		spot := pos.Spot()
		if spot <= 0 {
			continue
		}
		distancePct := (pos.Strike - spot) / spot * 100
		switch {
		case distancePct < s.params.ITMRollThresholdPct:
			actions = append(actions, models.Action{
				Type:       models.ActionRoll,
				PositionID: pos.ID,
				OTMPct:     s.params.OTMPct,
				TargetDTE:  int(s.params.TargetDTE),
				Reason:     fmt.Sprintf("Roll covered call: spot within %.1f%% of strike", distancePct),
			})
		case pos.DTE(now) < s.params.RollDTE:
			actions = append(actions, models.Action{
				Type:       models.ActionRoll,
				PositionID: pos.ID,
				OTMPct:     s.params.OTMPct,
				TargetDTE:  int(s.params.TargetDTE),
				Reason:     fmt.Sprintf("Roll covered call: %.0f DTE < %.0f", pos.DTE(now), s.params.RollDTE),
			})
		}
	}
	return actions
}

// ─── wheel ───

// WheelParams tunes the wheel's two phases.
type WheelParams struct {
	PutOTMPct      float64
	PutDTE         float64
	CallOTMPct     float64
	CallDTE        float64
	SpotHoldingUSD float64
}

func (p *WheelParams) norm() {
	if p.PutOTMPct == 0 {
		p.PutOTMPct = 6
	}
	if p.PutDTE == 0 {
		p.PutDTE = 37
	}
	if p.CallOTMPct == 0 {
		p.CallOTMPct = 10
	}
	if p.CallDTE == 0 {
		p.CallDTE = 21
	}
	if p.SpotHoldingUSD == 0 {
		p.SpotHoldingUSD = 5000
	}
}

// Wheel runs the full put-assignment cycle: phase 1 sells cash-secured OTM
// puts; once a spot holding exists (assignment), phase 2 sells covered
// calls against it until the holding is called away.
type Wheel struct {
	deps   OptionsDeps
	params WheelParams
}

func NewWheel(deps OptionsDeps, params WheelParams) *Wheel {
	params.norm()
	return &Wheel{deps: deps, params: params}
}

func (s *Wheel) Name() string { return "wheel" }

func (s *Wheel) hasAssignedSpot(ctx context.Context, underlying string) bool {
	if s.deps.Holdings == nil {
		return false
	}
	holdings, err := s.deps.Holdings.GetPositions(ctx)
	if err != nil {
		return false
	}
	return holdings[strings.ToUpper(underlying)] > 0
}

func (s *Wheel) Evaluate(ctx context.Context, underlying string) []models.Action {
	positions := s.deps.Adapter.GetPositionsForUnderlying(underlying)

	if s.hasAssignedSpot(ctx, underlying) {
		// Phase 2: covered call against the assigned spot.
		for _, pos := range positions {
			if pos.Type == models.Call && pos.Side == models.Sell {
				return none("Wheel phase 2 call already active for %s", underlying)
			}
		}
		contract, err := s.deps.Adapter.FindOption(ctx, underlying, models.Call, 1+s.params.CallOTMPct/100, s.params.CallDTE)
		if err != nil {
			return none("No suitable calls found: %v", err)
		}
		return s.sellLeg(ctx, underlying, contract, 2)
	}

	// Phase 1: cash-secured put.
	for _, pos := range positions {
		if pos.Type == models.Put && pos.Side == models.Sell {
			return none("Wheel phase 1 put already active for %s", underlying)
		}
	}
	contract, err := s.deps.Adapter.FindOption(ctx, underlying, models.Put, 1-s.params.PutOTMPct/100, s.params.PutDTE)
	if err != nil {
		return none("No suitable puts found: %v", err)
	}
	return s.sellLeg(ctx, underlying, contract, 1)
}

func (s *Wheel) sellLeg(ctx context.Context, underlying string, contract *models.OptionContract, phase int) []models.Action {
	estPremium := contract.Mid() * contract.SpotPrice
	if estPremium <= 0 {
		return none("Cannot price %s", contract.Symbol)
	}
	qty := round4(math.Max(s.params.SpotHoldingUSD/contract.SpotPrice, 0.01))

	verdict := s.deps.Risk.CheckCanTrade(s.deps.Adapter, risk.OptionsTradeCheck{
		ProposedPremiumUSD: estPremium * qty,
		Side:               models.Sell,
		Underlying:         underlying,
	})
	if !verdict.Allowed {
		return none("Risk blocked: %s", verdict.Reason)
	}

	actionType := models.ActionSellPut
	if contract.Type == models.Call {
		actionType = models.ActionSellCall
	}
	return []models.Action{{
		Type:       actionType,
		Contract:   contract,
		Quantity:   qty,
		WheelPhase: phase,
		Reason: fmt.Sprintf("Wheel phase %d: sell %s %.0f (%.0f DTE)",
			phase, contract.Type, contract.Strike, contract.DTE(time.Now().UTC())),
	}}
}

// The wheel holds legs to expiry; assignment and premium decay do the work.
func (s *Wheel) ManagePositions(context.Context, string) []models.Action { return nil }

// ─── butterfly ───

// ButterflyParams tunes the call butterfly.
type ButterflyParams struct {
	WingPct         float64
	TargetDTE       float64
	LowIVThreshold  float64
	HighIVThreshold float64
	Quantity        float64
}

func (p *ButterflyParams) norm() {
	if p.WingPct == 0 {
		p.WingPct = 5
	}
	if p.TargetDTE == 0 {
		p.TargetDTE = 30
	}
	if p.LowIVThreshold == 0 {
		p.LowIVThreshold = 30
	}
	if p.HighIVThreshold == 0 {
		p.HighIVThreshold = 70
	}
	if p.Quantity == 0 {
		p.Quantity = 1
	}
}

// Butterfly buys a call butterfly (long wings, short 2x body at ATM) when
// IV rank is moderate, profiting from a range-bound underlying.
type Butterfly struct {
	deps   OptionsDeps
	params ButterflyParams
}

func NewButterfly(deps OptionsDeps, params ButterflyParams) *Butterfly {
	params.norm()
	return &Butterfly{deps: deps, params: params}
}

func (s *Butterfly) Name() string { return "butterfly" }

func (s *Butterfly) Evaluate(ctx context.Context, underlying string) []models.Action {
	rank := ivRank(ctx, s.deps.Adapter, underlying)
	if rank < s.params.LowIVThreshold || rank > s.params.HighIVThreshold {
		return none("IV rank %.0f%% outside butterfly range (%.0f-%.0f)",
			rank, s.params.LowIVThreshold, s.params.HighIVThreshold)
	}

	wing := s.params.WingPct / 100
	legs := []struct {
		side      models.OptionSide
		strikePct float64
		qtyMult   float64
	}{
		{models.Buy, 1 - wing, 1},
		{models.Sell, 1.0, 2},
		{models.Buy, 1 + wing, 1},
	}

	var actions []models.Action
	var netDebit float64
	for _, leg := range legs {
		contract, err := s.deps.Adapter.FindOption(ctx, underlying, models.Call, leg.strikePct, s.params.TargetDTE)
		if err != nil {
			return none("Butterfly leg unavailable: %v", err)
		}
		premium := contract.Mid() * contract.SpotPrice * s.params.Quantity * leg.qtyMult
		if leg.side == models.Buy {
			netDebit += premium
		} else {
			netDebit -= premium
		}
		actionType := models.ActionBuyCall
		if leg.side == models.Sell {
			actionType = models.ActionSellCall
		}
		actions = append(actions, models.Action{
			Type:     actionType,
			Contract: contract,
			Quantity: s.params.Quantity * leg.qtyMult,
			Reason:   fmt.Sprintf("Butterfly leg: %s call %.0f (IV rank %.0f%%)", leg.side, contract.Strike, rank),
		})
	}

	verdict := s.deps.Risk.CheckCanTrade(s.deps.Adapter, risk.OptionsTradeCheck{
		ProposedPremiumUSD: math.Max(netDebit, 0),
		Side:               models.Buy,
		Underlying:         underlying,
	})
	if !verdict.Allowed {
		return none("Risk blocked: %s", verdict.Reason)
	}
	return actions
}

// Butterfly risk is capped at the net debit; legs run to expiry.
func (s *Butterfly) ManagePositions(context.Context, string) []models.Action { return nil }
