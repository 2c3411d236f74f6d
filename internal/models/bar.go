// Package models defines the core domain types shared across the bot:
// OHLCV bars, option contracts and positions, orders, and strategy actions.
package models

import (
	"fmt"
	"time"
)

// Bar is a single OHLCV candle. Timestamp is Unix milliseconds, UTC.
type Bar struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Time returns the bar's open time.
func (b Bar) Time() time.Time {
	return time.UnixMilli(b.Timestamp).UTC()
}

// Validate checks the per-bar invariants: low <= open,close <= high and
// non-negative volume.
func (b Bar) Validate() error {
	if b.Low > b.High {
		return fmt.Errorf("bar %d: low %.8f > high %.8f", b.Timestamp, b.Low, b.High)
	}
	if b.Open < b.Low || b.Open > b.High {
		return fmt.Errorf("bar %d: open %.8f outside [low, high]", b.Timestamp, b.Open)
	}
	if b.Close < b.Low || b.Close > b.High {
		return fmt.Errorf("bar %d: close %.8f outside [low, high]", b.Timestamp, b.Close)
	}
	if b.Volume < 0 {
		return fmt.Errorf("bar %d: negative volume %.8f", b.Timestamp, b.Volume)
	}
	return nil
}

// Series is an ordered sequence of bars with strictly increasing timestamps.
type Series []Bar

// Validate checks every bar plus the strictly-increasing timestamp invariant.
func (s Series) Validate() error {
	for i, b := range s {
		if err := b.Validate(); err != nil {
			return err
		}
		if i > 0 && b.Timestamp <= s[i-1].Timestamp {
			return fmt.Errorf("bar %d: timestamp %d not after %d", i, b.Timestamp, s[i-1].Timestamp)
		}
	}
	return nil
}

// Closes extracts the close column.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Close
	}
	return out
}

// Volumes extracts the volume column.
func (s Series) Volumes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Volume
	}
	return out
}

// Last returns the final bar, or a zero bar if the series is empty.
func (s Series) Last() Bar {
	if len(s) == 0 {
		return Bar{}
	}
	return s[len(s)-1]
}
