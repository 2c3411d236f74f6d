package marketdata

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/threat_level_midnight/internal/models"
	"github.com/eddiefleurent/threat_level_midnight/internal/storage"
)

// pagedSource serves a fixed hourly history, honoring since and limit the
// way a venue would.
type pagedSource struct {
	bars  models.Series
	calls int
	err   error
}

func (s *pagedSource) GetOHLCV(_ context.Context, _, _ string, since int64, limit int) (models.Series, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	var out models.Series
	for _, b := range s.bars {
		if b.Timestamp >= since {
			out = append(out, b)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func hourlyBars(start int64, n int) models.Series {
	bars := make(models.Series, n)
	for i := range bars {
		ts := start + int64(i)*3_600_000
		bars[i] = models.Bar{Timestamp: ts, Open: 100, High: 101, Low: 99, Close: 100, Volume: 1}
	}
	return bars
}

func newTestFetcher(t *testing.T, source CandleSource, withDB bool) (*Fetcher, *storage.DB) {
	t.Helper()
	var db *storage.DB
	if withDB {
		var err error
		db, err = storage.OpenDB(filepath.Join(t.TempDir(), "cache.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
	}
	return NewFetcher(source, db, "kraken", log.New(io.Discard, "", 0)), db
}

func TestFetchRangePaginatesAndDedupes(t *testing.T) {
	start := int64(1_700_000_000_000)
	source := &pagedSource{bars: hourlyBars(start, 1200)}
	f, _ := newTestFetcher(t, source, false)

	until := start + 1199*3_600_000
	bars, err := f.FetchRange(context.Background(), "BTC/USD", "1h", start, until)
	require.NoError(t, err)
	assert.Len(t, bars, 1200)
	assert.GreaterOrEqual(t, source.calls, 3, "1200 bars need multiple 500-bar pages")

	for i := 1; i < len(bars); i++ {
		assert.Greater(t, bars[i].Timestamp, bars[i-1].Timestamp, "sorted, no duplicates")
	}
}

func TestFetchRangeStopsOnStalledPagination(t *testing.T) {
	start := int64(1_700_000_000_000)
	// Fewer bars than one page: the second request would return the same
	// tail forever if the stall check were missing.
	source := &pagedSource{bars: hourlyBars(start, 50)}
	f, _ := newTestFetcher(t, source, false)

	bars, err := f.FetchRange(context.Background(), "BTC/USD", "1h", start, time.Now().UnixMilli())
	require.NoError(t, err)
	assert.Len(t, bars, 50)
	assert.LessOrEqual(t, source.calls, 2)
}

func TestFetchRangeUnsupportedTimeframe(t *testing.T) {
	f, _ := newTestFetcher(t, &pagedSource{}, false)
	_, err := f.FetchRange(context.Background(), "BTC/USD", "7m", 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported timeframe")
}

func TestFetchRangePropagatesSourceError(t *testing.T) {
	source := &pagedSource{err: fmt.Errorf("venue down")}
	f, _ := newTestFetcher(t, source, false)
	_, err := f.FetchRange(context.Background(), "BTC/USD", "1h", 1, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "venue down")
}

func TestFetchLatestCachesThrough(t *testing.T) {
	start := int64(1_700_000_000_000)
	source := &pagedSource{bars: hourlyBars(start, 20)}
	f, db := newTestFetcher(t, source, true)

	bars, err := f.FetchLatest(context.Background(), "BTC/USD", "1h", 20)
	require.NoError(t, err)
	assert.Len(t, bars, 20)

	cached, err := db.LoadOHLCV("kraken", "BTC/USD", "1h", 0, 0)
	require.NoError(t, err)
	assert.Len(t, cached, 20)
}

func TestLoadCachedTopsUp(t *testing.T) {
	// History ends two hours ago, so the cache is stale after the first
	// load and the second call tops up from the venue.
	now := time.Now().UnixMilli()
	start := now - 49*3_600_000
	source := &pagedSource{bars: hourlyBars(start, 48)}
	f, db := newTestFetcher(t, source, true)

	bars, err := f.LoadCached(context.Background(), "BTC/USD", "1h", start)
	require.NoError(t, err)
	assert.Len(t, bars, 48)

	// A fresh bar appears at the venue.
	source.bars = append(source.bars, models.Bar{
		Timestamp: start + 48*3_600_000, Open: 100, High: 101, Low: 99, Close: 100, Volume: 1,
	})
	bars, err = f.LoadCached(context.Background(), "BTC/USD", "1h", start)
	require.NoError(t, err)
	assert.Len(t, bars, 49)

	cached, err := db.LoadOHLCV("kraken", "BTC/USD", "1h", 0, 0)
	require.NoError(t, err)
	assert.Len(t, cached, 49)
}

func TestLoadCachedWithoutDB(t *testing.T) {
	start := int64(1_700_000_000_000)
	source := &pagedSource{bars: hourlyBars(start, 10)}
	f, _ := newTestFetcher(t, source, false)

	bars, err := f.LoadCached(context.Background(), "BTC/USD", "1h", start)
	require.NoError(t, err)
	assert.Len(t, bars, 10)
}
