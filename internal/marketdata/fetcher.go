// Package marketdata fetches candle history from a venue in pages and
// caches it in SQLite, so indicator-hungry strategies never refetch what
// they already have.
package marketdata

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/eddiefleurent/threat_level_midnight/internal/models"
	"github.com/eddiefleurent/threat_level_midnight/internal/storage"
)

// pageSize is the per-request candle cap most venues enforce.
const pageSize = 500

// CandleSource is the venue-side slice of the fetcher's needs.
type CandleSource interface {
	GetOHLCV(ctx context.Context, symbol, timeframe string, since int64, limit int) (models.Series, error)
}

// Fetcher paginates candle history and writes through to the cache. The DB
// may be nil for cache-less operation.
type Fetcher struct {
	source   CandleSource
	db       *storage.DB
	exchange string
	logger   *log.Logger
}

// NewFetcher builds a fetcher; exchange names the cache namespace.
func NewFetcher(source CandleSource, db *storage.DB, exchange string, logger *log.Logger) *Fetcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Fetcher{source: source, db: db, exchange: exchange, logger: logger}
}

// timeframeMillis maps timeframe names to bar duration.
var timeframeMillis = map[string]int64{
	"1m":  60_000,
	"5m":  300_000,
	"15m": 900_000,
	"30m": 1_800_000,
	"1h":  3_600_000,
	"4h":  14_400_000,
	"1d":  86_400_000,
	"1w":  604_800_000,
}

// FetchRange pulls every candle in [since, until] in pageSize chunks,
// deduplicated and sorted. until of zero means now.
func (f *Fetcher) FetchRange(ctx context.Context, symbol, timeframe string, since, until int64) (models.Series, error) {
	step, ok := timeframeMillis[timeframe]
	if !ok {
		return nil, fmt.Errorf("unsupported timeframe %q", timeframe)
	}
	if until <= 0 {
		until = time.Now().UnixMilli()
	}

	seen := map[int64]models.Bar{}
	cursor := since
	for cursor < until {
		page, err := f.source.GetOHLCV(ctx, symbol, timeframe, cursor, pageSize)
		if err != nil {
			return nil, fmt.Errorf("fetching %s %s page at %d: %w", symbol, timeframe, cursor, err)
		}
		if len(page) == 0 {
			break
		}
		var newest int64
		for _, b := range page {
			if b.Timestamp >= since && b.Timestamp <= until {
				seen[b.Timestamp] = b
			}
			if b.Timestamp > newest {
				newest = b.Timestamp
			}
		}
		// Stalled pagination means the venue has nothing newer.
		if newest < cursor+step {
			break
		}
		cursor = newest + step
	}

	bars := make(models.Series, 0, len(seen))
	for _, b := range seen {
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp < bars[j].Timestamp })

	if f.db != nil && len(bars) > 0 {
		if err := f.db.StoreOHLCV(f.exchange, symbol, timeframe, bars); err != nil {
			f.logger.Printf("caching %s %s candles failed: %v", symbol, timeframe, err)
		}
	}
	return bars, nil
}

// FetchLatest returns the most recent limit candles, straight from the
// venue, cached on the way through.
func (f *Fetcher) FetchLatest(ctx context.Context, symbol, timeframe string, limit int) (models.Series, error) {
	bars, err := f.source.GetOHLCV(ctx, symbol, timeframe, 0, limit)
	if err != nil {
		return nil, err
	}
	if f.db != nil && len(bars) > 0 {
		if err := f.db.StoreOHLCV(f.exchange, symbol, timeframe, bars); err != nil {
			f.logger.Printf("caching %s %s candles failed: %v", symbol, timeframe, err)
		}
	}
	return bars, nil
}

// LoadCached serves candles from the cache, topping up from the venue when
// the cache is stale or empty. With no DB it falls back to a plain fetch.
func (f *Fetcher) LoadCached(ctx context.Context, symbol, timeframe string, since int64) (models.Series, error) {
	if f.db == nil {
		return f.FetchRange(ctx, symbol, timeframe, since, 0)
	}
	step, ok := timeframeMillis[timeframe]
	if !ok {
		return nil, fmt.Errorf("unsupported timeframe %q", timeframe)
	}

	latest, err := f.db.LatestTimestamp(f.exchange, symbol, timeframe)
	if err != nil {
		return nil, err
	}
	now := time.Now().UnixMilli()
	if latest == 0 {
		return f.FetchRange(ctx, symbol, timeframe, since, 0)
	}
	if now-latest > step {
		if _, err := f.FetchRange(ctx, symbol, timeframe, latest+step, 0); err != nil {
			f.logger.Printf("cache top-up for %s %s failed: %v", symbol, timeframe, err)
		}
	}
	return f.db.LoadOHLCV(f.exchange, symbol, timeframe, since, 0)
}
