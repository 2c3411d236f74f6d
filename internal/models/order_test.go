package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderTransitions(t *testing.T) {
	now := time.Now()

	o := &Order{ID: "order_1", Status: OrderPending}
	require.NoError(t, o.Transition(OrderOpen, now))
	require.NoError(t, o.Transition(OrderFilled, now))
	assert.True(t, o.IsTerminal())

	o = &Order{ID: "order_2", Status: OrderPending}
	require.NoError(t, o.Transition(OrderFailed, now))
	assert.True(t, o.IsTerminal())

	o = &Order{ID: "order_3", Status: OrderOpen}
	require.NoError(t, o.Transition(OrderCancelled, now))
	assert.True(t, o.IsTerminal())
}

func TestOrderRejectsInvalidTransitions(t *testing.T) {
	now := time.Now()

	o := &Order{ID: "order_1", Status: OrderPending}
	err := o.Transition(OrderCancelled, now)
	require.Error(t, err, "pending cannot cancel directly")
	assert.Equal(t, OrderPending, o.Status, "failed transition leaves state untouched")

	o = &Order{ID: "order_2", Status: OrderFilled}
	err = o.Transition(OrderCancelled, now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminal")
}

func TestTransitionStampsUpdatedAt(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	o := &Order{ID: "order_1", Status: OrderPending}
	require.NoError(t, o.Transition(OrderFilled, now))
	assert.Equal(t, now, o.UpdatedAt)
}
