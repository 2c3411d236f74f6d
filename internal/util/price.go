// Package util holds the price and quantity rounding helpers shared by the
// execution paths.
package util

import "math"

// RoundToTick snaps a price to the nearest multiple of tick. A non-positive
// tick returns the price unchanged.
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return math.Round(price/tick) * tick
}

// FloorToStep truncates a quantity down to a multiple of step, so an order
// never exceeds the size the risk check approved. A non-positive step
// returns the quantity unchanged.
func FloorToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	return math.Floor(qty/step) * step
}
