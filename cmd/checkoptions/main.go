// Command checkoptions performs one stateless options-strategy evaluation
// and emits a single JSON record on stdout. An external driver owns
// scheduling and persistence; existing positions arrive as JSON on stdin
// (preferred) or as the third argument.
//
// Usage: checkoptions <strategy> <underlying> [positions_json]
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/eddiefleurent/threat_level_midnight/internal/broker"
	"github.com/eddiefleurent/threat_level_midnight/internal/models"
	"github.com/eddiefleurent/threat_level_midnight/internal/options"
	"github.com/eddiefleurent/threat_level_midnight/internal/risk"
	"github.com/eddiefleurent/threat_level_midnight/internal/strategy"
)

// checkResult is the single JSON record emitted on stdout.
type checkResult struct {
	Strategy   string          `json:"strategy"`
	Underlying string          `json:"underlying"`
	Signal     int             `json:"signal"`
	SpotPrice  float64         `json:"spot_price"`
	Actions    []models.Action `json:"actions"`
	IVRank     float64         `json:"iv_rank"`
	Timestamp  string          `json:"timestamp"`
	SkipReason string          `json:"skip_reason,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// positionRecord is one incoming position. Spot holdings are tagged with
// position_type "spot" and carry only quantity.
type positionRecord struct {
	models.OptionPosition
	PositionType string `json:"position_type,omitempty"`
}

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "usage: %s <strategy> <underlying> [positions_json]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "strategies: %v\n", strategy.OptionsStrategies())
		os.Exit(1)
	}
	stratName, underlying := os.Args[1], os.Args[2]

	result := run(stratName, underlying)
	line, err := json.Marshal(result)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encoding result: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(line))
	if result.Error != "" {
		os.Exit(1)
	}
}

func run(stratName, underlying string) checkResult {
	result := checkResult{
		Strategy:   stratName,
		Underlying: underlying,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Actions:    []models.Action{},
	}

	entry, err := strategy.GetOptions(stratName)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	optionPositions, spotHoldings, err := readPositions()
	if err != nil {
		result.Error = fmt.Sprintf("parsing positions: %v", err)
		return result
	}

	if len(optionPositions) >= strategy.MaxPositionsPerStrategy {
		result.SkipReason = fmt.Sprintf("Max positions reached (%d/%d)",
			len(optionPositions), strategy.MaxPositionsPerStrategy)
		return result
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	logger := log.New(os.Stderr, "[CHECK] ", log.LstdFlags)
	market := broker.NewOptionsBreaker(broker.NewDeribitClient(false))
	adapter := options.NewAdapter(market, 100_000, logger)
	adapter.Restore(options.Snapshot{Cash: 100_000, Positions: optionPositions})

	spot, err := adapter.GetSpotPrice(ctx, underlying)
	if err != nil {
		result.Error = fmt.Sprintf("fetching spot: %v", err)
		return result
	}
	result.SpotPrice = spot

	if rank, err := adapter.GetIVRank(ctx, underlying); err == nil {
		result.IVRank = rank
	} else {
		result.IVRank = 50
	}

	deps := strategy.OptionsDeps{
		Adapter:  adapter,
		Risk:     risk.NewOptionsManager(risk.OptionsConfig{}),
		Holdings: spotHoldings,
	}
	strat := entry.New(deps)

	existing := adapter.GetPositionsForUnderlying(underlying)
	for _, action := range strat.Evaluate(ctx, underlying) {
		if action.Type == models.ActionNone {
			result.SkipReason = action.Reason
			continue
		}
		score, reason := strategy.ScoreTrade(action, existing, spot)
		if score < strategy.MinScoreThreshold {
			fmt.Fprintf(os.Stderr, "rejected %s (score %.2f): %s\n", action.Type, score, reason)
			continue
		}
		result.Actions = append(result.Actions, action)
	}

	result.Signal = signalFor(result.Actions)
	return result
}

// readPositions reads the position book from stdin when it is piped,
// otherwise from argv. Missing input means an empty book.
func readPositions() (map[string]models.OptionPosition, *staticHoldings, error) {
	var raw []byte
	if stat, err := os.Stdin.Stat(); err == nil && stat.Mode()&os.ModeCharDevice == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, nil, err
		}
		raw = data
	}
	if len(raw) == 0 && len(os.Args) > 3 {
		raw = []byte(os.Args[3])
	}

	positions := map[string]models.OptionPosition{}
	holdings := &staticHoldings{balances: map[string]float64{}}
	if len(raw) == 0 {
		return positions, holdings, nil
	}

	var records []positionRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, nil, err
	}
	for i, rec := range records {
		if rec.PositionType == "spot" {
			holdings.balances[rec.Underlying] += rec.Quantity
			continue
		}
		pos := rec.OptionPosition
		if pos.ID == "" {
			pos.ID = fmt.Sprintf("pos_%d", i)
		}
		if err := pos.Validate(); err != nil {
			return nil, nil, err
		}
		positions[pos.ID] = pos
	}
	return positions, holdings, nil
}

// staticHoldings serves the spot balances parsed from the input record.
type staticHoldings struct {
	balances map[string]float64
}

func (h *staticHoldings) GetPositions(context.Context) (map[string]float64, error) {
	out := make(map[string]float64, len(h.balances))
	for k, v := range h.balances {
		out[k] = v
	}
	return out, nil
}

func signalFor(actions []models.Action) int {
	for _, a := range actions {
		switch a.Type {
		case models.ActionBuyCall, models.ActionBuyStraddle:
			return 1
		case models.ActionBuyPut, models.ActionSellCall, models.ActionSellStrangle:
			return -1
		case models.ActionSellPut:
			return 1
		}
	}
	return 0
}
