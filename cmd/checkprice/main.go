// Command checkprice fetches current tickers for one or more symbols and
// emits a single JSON record on stdout.
//
// Usage: checkprice <symbol> [<symbol>...]
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/eddiefleurent/threat_level_midnight/internal/broker"
)

type priceRecord struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Last   float64 `json:"last"`
	Error  string  `json:"error,omitempty"`
}

type priceResult struct {
	Prices    []priceRecord `json:"prices"`
	Timestamp string        `json:"timestamp"`
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <symbol> [<symbol>...]\n", os.Args[0])
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	market := broker.NewSpotBreaker(broker.NewKrakenClient())
	result := priceResult{Timestamp: time.Now().UTC().Format(time.RFC3339)}

	hardFail := true
	for _, symbol := range os.Args[1:] {
		rec := priceRecord{Symbol: symbol}
		ticker, err := market.GetTicker(ctx, symbol)
		if err != nil {
			rec.Error = err.Error()
		} else {
			rec.Bid, rec.Ask, rec.Last = ticker.Bid, ticker.Ask, ticker.Last
			hardFail = false
		}
		result.Prices = append(result.Prices, rec)
	}

	line, err := json.Marshal(result)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encoding result: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(line))
	if hardFail {
		os.Exit(1)
	}
}
