package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eddiefleurent/threat_level_midnight/internal/models"
)

func TestSignalFor(t *testing.T) {
	cases := []struct {
		name    string
		actions []models.Action
		want    int
	}{
		{"empty", nil, 0},
		{"buy call", []models.Action{{Type: models.ActionBuyCall}}, 1},
		{"buy straddle", []models.Action{{Type: models.ActionBuyStraddle}}, 1},
		{"sell put collects premium on strength", []models.Action{{Type: models.ActionSellPut}}, 1},
		{"buy put", []models.Action{{Type: models.ActionBuyPut}}, -1},
		{"sell strangle", []models.Action{{Type: models.ActionSellStrangle}}, -1},
		{"close only", []models.Action{{Type: models.ActionClose}}, 0},
		{"first directional wins", []models.Action{
			{Type: models.ActionClose},
			{Type: models.ActionBuyPut},
			{Type: models.ActionBuyCall},
		}, -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, signalFor(tc.actions))
		})
	}
}
