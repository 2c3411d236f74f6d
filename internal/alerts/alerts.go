// Package alerts routes operational events (trades, risk trips, reports)
// to stdout and optional external emitters, keeping a bounded in-memory
// history for the dashboard.
package alerts

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// Level classifies an alert.
type Level string

const (
	LevelInfo     Level = "info"
	LevelTrade    Level = "trade"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

var levelIcons = map[Level]string{
	LevelInfo:     "ℹ️",
	LevelTrade:    "💰",
	LevelWarning:  "⚠️",
	LevelError:    "❌",
	LevelCritical: "🚨",
}

func icon(l Level) string {
	if i, ok := levelIcons[l]; ok {
		return i
	}
	return "📢"
}

// Alert is one recorded event.
type Alert struct {
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
}

// Emitter delivers an alert to an external channel. Emitters run off the
// caller's path; a slow or failing emitter never blocks trading.
type Emitter interface {
	Emit(a Alert) error
}

const maxHistory = 500

// Sink collects alerts, prints them unless quiet, and fans out to emitters.
type Sink struct {
	quiet    bool
	logger   *log.Logger
	emitters []Emitter

	mu      sync.Mutex
	history []Alert
}

// NewSink builds a sink. logger may be nil for the default logger.
func NewSink(quiet bool, logger *log.Logger, emitters ...Emitter) *Sink {
	if logger == nil {
		logger = log.Default()
	}
	return &Sink{quiet: quiet, logger: logger, emitters: emitters}
}

// Send records and dispatches an alert.
func (s *Sink) Send(title, message string, level Level) {
	a := Alert{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Title:     title,
		Message:   message,
	}

	s.mu.Lock()
	s.history = append(s.history, a)
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
	s.mu.Unlock()

	if !s.quiet {
		s.logger.Printf("%s %s", icon(level), title)
		for _, line := range strings.Split(message, "\n") {
			if line != "" {
				s.logger.Printf("  %s", line)
			}
		}
	}

	for _, e := range s.emitters {
		e := e
		go func() {
			if err := e.Emit(a); err != nil {
				s.logger.Printf("alert emit failed: %v", err)
			}
		}()
	}
}

// TradeAlert is the shortcut for fills.
func (s *Sink) TradeAlert(symbol, side string, quantity, price float64, pnl *float64) {
	dot := "🟢"
	if strings.EqualFold(side, "sell") {
		dot = "🔴"
	}
	msg := fmt.Sprintf("%s %s %s: %.6f @ $%.2f", dot, strings.ToUpper(side), symbol, quantity, price)
	if pnl != nil {
		msg += fmt.Sprintf(" | PnL: $%+.2f", *pnl)
	}
	s.Send("Trade: "+symbol, msg, LevelTrade)
}

// RiskAlert is the shortcut for risk denials.
func (s *Sink) RiskAlert(reason string) {
	s.Send("Risk Alert", reason, LevelWarning)
}

// CircuitBreakerAlert fires when a breaker trips.
func (s *Sink) CircuitBreakerAlert(reason string) {
	s.Send("🚨 CIRCUIT BREAKER", reason, LevelCritical)
}

// DailyReportAlert delivers the end-of-day summary.
func (s *Sink) DailyReportAlert(report string) {
	s.Send("📊 Daily Report", report, LevelInfo)
}

// Recent returns the last n alerts, newest last.
func (s *Sink) Recent(n int) []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.history) {
		n = len(s.history)
	}
	out := make([]Alert, n)
	copy(out, s.history[len(s.history)-n:])
	return out
}

// FormatHistory renders the recent alerts as a text block.
func (s *Sink) FormatHistory(n int) string {
	recent := s.Recent(n)
	if len(recent) == 0 {
		return "No alerts."
	}
	rule := strings.Repeat("─", 60)
	lines := []string{rule, fmt.Sprintf("  RECENT ALERTS (last %d)", len(recent)), rule}
	for _, a := range recent {
		lines = append(lines, fmt.Sprintf("  [%s] %s %s",
			a.Timestamp.Format("2006-01-02T15:04:05"), icon(a.Level), a.Title))
		if a.Message != "" {
			msg := a.Message
			if len(msg) > 100 {
				msg = msg[:100]
			}
			lines = append(lines, "    "+msg)
		}
	}
	return strings.Join(lines, "\n")
}
