package strategy

import (
	"fmt"
	"math"
	"strings"

	"github.com/eddiefleurent/threat_level_midnight/internal/models"
)

const (
	// MaxPositionsPerStrategy caps the open option legs one strategy may
	// hold on a single underlying.
	MaxPositionsPerStrategy = 4

	// MinScoreThreshold rejects proposed entries scoring below it.
	MinScoreThreshold = 0.3
)

// ScoreTrade rates a proposed entry against the existing option positions,
// from 0.0 (skip) to 1.0+ (take it). It rewards strike and expiry
// diversification and delta balancing, and penalizes stacking near-identical
// exposure. Actions without a concrete contract (multi-leg intents) are not
// scored here.
func ScoreTrade(action models.Action, existing []models.OptionPosition, spot float64) (float64, string) {
	if len(existing) == 0 {
		return 1.0, "first position"
	}
	c := action.Contract
	if c == nil {
		return 1.0, "multi-leg structure"
	}

	score := 0.5
	var reasons []string

	// Strike distance to the nearest same-type position.
	minDist := math.Inf(1)
	for _, p := range existing {
		if p.Type != c.Type {
			continue
		}
		if spot > 0 {
			minDist = math.Min(minDist, math.Abs(c.Strike-p.Strike)/spot)
		}
	}
	if !math.IsInf(minDist, 1) {
		switch {
		case minDist > 0.10:
			score += 0.4
			reasons = append(reasons, fmt.Sprintf("strike distance %.1f%%", minDist*100))
		case minDist > 0.05:
			score += 0.2
			reasons = append(reasons, fmt.Sprintf("moderate strike distance %.1f%%", minDist*100))
		default:
			score -= 0.3
			reasons = append(reasons, fmt.Sprintf("overlapping strikes %.1f%%", minDist*100))
		}
	}

	// Expiry spread.
	sameExpiry := false
	for _, p := range existing {
		if p.Expiry.Equal(c.Expiry) {
			sameExpiry = true
			break
		}
	}
	if !sameExpiry {
		score += 0.3
		reasons = append(reasons, "different expiry")
	} else {
		score -= 0.1
		reasons = append(reasons, "same expiry")
	}

	// Delta concentration: penalize pushing net delta further from zero.
	var netDelta float64
	for _, p := range existing {
		netDelta += p.Greeks.Delta
	}
	newNetDelta := netDelta + c.Greeks.Delta
	if math.Abs(newNetDelta) > math.Abs(netDelta) && math.Abs(newNetDelta) > 0.5 {
		score -= 0.3
		reasons = append(reasons, fmt.Sprintf("delta concentration %+.2f", newNetDelta))
	} else if math.Abs(newNetDelta) < math.Abs(netDelta) {
		score += 0.2
		reasons = append(reasons, fmt.Sprintf("delta balancing %+.2f", newNetDelta))
	}

	// Premium efficiency for sells.
	if action.Type == models.ActionSellCall || action.Type == models.ActionSellPut {
		var sum float64
		var n int
		for _, p := range existing {
			if p.Side == models.Sell {
				sum += p.EntryPriceUSD
				n++
			}
		}
		if n > 0 {
			avg := sum / float64(n)
			if c.Mid()*c.SpotPrice > avg*1.1 {
				score += 0.1
				reasons = append(reasons, "better premium")
			}
		}
	}

	reason := "default"
	if len(reasons) > 0 {
		reason = strings.Join(reasons, "; ")
	}
	return math.Round(score*100) / 100, reason
}
