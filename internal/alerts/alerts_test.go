package alerts

import (
	"bytes"
	"fmt"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chanEmitter captures emitted alerts for synchronization.
type chanEmitter struct {
	ch   chan Alert
	fail bool
}

func (e *chanEmitter) Emit(a Alert) error {
	if e.fail {
		return fmt.Errorf("emitter down")
	}
	e.ch <- a
	return nil
}

func TestSendRecordsHistory(t *testing.T) {
	s := NewSink(true, log.New(bytes.NewBuffer(nil), "", 0))
	s.Send("First", "hello", LevelInfo)
	s.Send("Second", "world", LevelWarning)

	recent := s.Recent(10)
	require.Len(t, recent, 2)
	assert.Equal(t, "First", recent[0].Title)
	assert.Equal(t, "Second", recent[1].Title)
	assert.Equal(t, LevelWarning, recent[1].Level)
}

func TestHistoryTrimsAtCap(t *testing.T) {
	s := NewSink(true, log.New(bytes.NewBuffer(nil), "", 0))
	for i := 0; i < maxHistory+25; i++ {
		s.Send(fmt.Sprintf("alert %d", i), "", LevelInfo)
	}
	recent := s.Recent(0)
	require.Len(t, recent, maxHistory)
	assert.Equal(t, "alert 25", recent[0].Title, "oldest entries dropped")
}

func TestQuietSuppressesStdout(t *testing.T) {
	var buf bytes.Buffer
	s := NewSink(true, log.New(&buf, "", 0))
	s.Send("Silent", "nothing printed", LevelInfo)
	assert.Empty(t, buf.String())

	loud := NewSink(false, log.New(&buf, "", 0))
	loud.Send("Loud", "printed", LevelInfo)
	assert.Contains(t, buf.String(), "Loud")
	assert.Contains(t, buf.String(), "printed")
}

func TestTradeAlertFormatting(t *testing.T) {
	var buf bytes.Buffer
	s := NewSink(false, log.New(&buf, "", 0))

	s.TradeAlert("BTC/USDT", "buy", 0.01, 50025, nil)
	assert.Contains(t, buf.String(), "🟢 BUY BTC/USDT: 0.010000 @ $50025.00")

	pnl := -12.5
	s.TradeAlert("BTC/USDT", "sell", 0.01, 49000, &pnl)
	assert.Contains(t, buf.String(), "🔴 SELL")
	assert.Contains(t, buf.String(), "PnL: $-12.50")
}

func TestCircuitBreakerAlertLevel(t *testing.T) {
	s := NewSink(true, log.New(bytes.NewBuffer(nil), "", 0))
	s.CircuitBreakerAlert("3 consecutive losses")

	recent := s.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, LevelCritical, recent[0].Level)
	assert.Contains(t, recent[0].Title, "CIRCUIT BREAKER")
}

func TestEmitterFanOut(t *testing.T) {
	em := &chanEmitter{ch: make(chan Alert, 1)}
	s := NewSink(true, log.New(bytes.NewBuffer(nil), "", 0), em)
	s.Send("Routed", "to the emitter", LevelTrade)

	select {
	case a := <-em.ch:
		assert.Equal(t, "Routed", a.Title)
	case <-time.After(2 * time.Second):
		t.Fatal("emitter never received the alert")
	}
}

func TestFailingEmitterDoesNotBlock(t *testing.T) {
	em := &chanEmitter{fail: true}
	s := NewSink(true, log.New(bytes.NewBuffer(nil), "", 0), em)
	s.Send("Still recorded", "", LevelInfo)
	assert.Len(t, s.Recent(0), 1)
}

func TestFormatHistory(t *testing.T) {
	s := NewSink(true, log.New(bytes.NewBuffer(nil), "", 0))
	assert.Equal(t, "No alerts.", s.FormatHistory(5))

	s.Send("Something happened", "details", LevelError)
	out := s.FormatHistory(5)
	assert.Contains(t, out, "RECENT ALERTS (last 1)")
	assert.Contains(t, out, "Something happened")
	assert.Contains(t, out, "details")
}
