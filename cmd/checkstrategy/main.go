// Command checkstrategy performs one stateless spot-strategy evaluation
// against live candles and emits a single JSON record on stdout.
//
// Usage: checkstrategy <strategy> <symbol> <timeframe> [<symbol_b>]
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/eddiefleurent/threat_level_midnight/internal/broker"
	"github.com/eddiefleurent/threat_level_midnight/internal/strategy"
)

const candleLimit = 200

// checkResult is the single JSON record emitted on stdout.
type checkResult struct {
	Strategy  string             `json:"strategy"`
	Symbol    string             `json:"symbol"`
	Timeframe string             `json:"timeframe"`
	Signal    int                `json:"signal"`
	Price     float64            `json:"price"`
	Candles   int                `json:"candles"`
	Latest    map[string]float64 `json:"indicators,omitempty"`
	Timestamp string             `json:"timestamp"`
	Warning   string             `json:"warning,omitempty"`
	Error     string             `json:"error,omitempty"`
}

func main() {
	if len(os.Args) < 4 {
		fmt.Fprintf(os.Stderr, "usage: %s <strategy> <symbol> <timeframe> [<symbol_b>]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "strategies: %v\n", strategy.SpotStrategies())
		os.Exit(1)
	}

	result := run(os.Args[1], os.Args[2], os.Args[3], optionalArg(4))
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

func optionalArg(i int) string {
	if len(os.Args) > i {
		return os.Args[i]
	}
	return ""
}

func run(stratName, symbol, timeframe, symbolB string) checkResult {
	result := checkResult{
		Strategy:  stratName,
		Symbol:    symbol,
		Timeframe: timeframe,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	market := broker.NewSpotBreaker(broker.NewKrakenClient())
	bars, err := market.GetOHLCV(ctx, symbol, timeframe, 0, candleLimit)
	if err != nil {
		result.Error = fmt.Sprintf("fetching candles: %v", err)
		return result
	}
	if len(bars) == 0 {
		result.Error = "no candles returned"
		return result
	}
	result.Candles = len(bars)
	result.Price = bars.Last().Close

	var res *strategy.SpotResult
	if stratName == "pairs_spread" && symbolB != "" {
		barsB, err := market.GetOHLCV(ctx, symbolB, timeframe, 0, candleLimit)
		if err != nil {
			result.Error = fmt.Sprintf("fetching %s candles: %v", symbolB, err)
			return result
		}
		res = strategy.PairsSpread(bars, barsB.Closes(), strategy.PairsSpreadParams{})
	} else {
		res, err = strategy.ApplySpot(stratName, bars)
		if err != nil {
			result.Error = err.Error()
			return result
		}
	}

	result.Signal = res.LastSignal()
	result.Warning = res.Warning
	result.Latest = latestIndicators(res)
	return result
}

// latestIndicators extracts the final defined value of each indicator
// column for the record.
func latestIndicators(res *strategy.SpotResult) map[string]float64 {
	out := map[string]float64{}
	for name, col := range res.Indicators {
		for i := len(col) - 1; i >= 0; i-- {
			if col[i] == col[i] { // skip NaN
				out[name] = col[i]
				break
			}
		}
	}
	return out
}
