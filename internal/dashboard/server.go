// Package dashboard serves a small JSON API over the running bot: portfolio
// value, open positions, trade history, recent alerts and Prometheus metrics.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/threat_level_midnight/internal/alerts"
	"github.com/eddiefleurent/threat_level_midnight/internal/models"
	"github.com/eddiefleurent/threat_level_midnight/internal/options"
	"github.com/eddiefleurent/threat_level_midnight/internal/risk"
)

// Book is the options-side view the dashboard reads. *options.Adapter
// satisfies it.
type Book interface {
	GetCash() float64
	GetPortfolioValue() float64
	GetPortfolioGreeks() models.Greeks
	GetPositions() map[string]models.OptionPosition
	GetTradeHistory() []options.TradeRecord
}

var _ Book = (*options.Adapter)(nil)

type Server struct {
	router    *chi.Mux
	server    *http.Server
	book      Book
	riskMgr   *risk.OptionsManager
	sink      *alerts.Sink
	logger    *logrus.Logger
	addr      string
	authToken string
	startedAt time.Time
}

type Config struct {
	Listen    string
	AuthToken string
}

// PortfolioView is the /api/portfolio payload.
type PortfolioView struct {
	Value         float64       `json:"value"`
	Cash          float64       `json:"cash"`
	OpenPositions int           `json:"open_positions"`
	Greeks        models.Greeks `json:"greeks"`
	DailyPnL      float64       `json:"daily_pnl"`
	PeakValue     float64       `json:"peak_value"`
	BreakerActive bool          `json:"breaker_active"`
	Timestamp     time.Time     `json:"timestamp"`
}

func NewServer(cfg Config, book Book, riskMgr *risk.OptionsManager, sink *alerts.Sink, logger *logrus.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		book:      book,
		riskMgr:   riskMgr,
		sink:      sink,
		logger:    logger,
		addr:      cfg.Listen,
		authToken: cfg.AuthToken,
		startedAt: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/portfolio", s.handlePortfolio)
	s.router.Get("/api/positions", s.handlePositions)
	s.router.Get("/api/trades", s.handleTrades)
	s.router.Get("/api/alerts", s.handleAlerts)
	s.router.Handle("/metrics", promhttp.Handler())
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health and metrics stay open for probes and scrapers.
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Infof("Starting dashboard server on %s", s.addr)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":         "healthy",
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"timestamp":      time.Now().Unix(),
	})
}

func (s *Server) handlePortfolio(w http.ResponseWriter, _ *http.Request) {
	view := PortfolioView{
		Value:         s.book.GetPortfolioValue(),
		Cash:          s.book.GetCash(),
		OpenPositions: len(s.book.GetPositions()),
		Greeks:        s.book.GetPortfolioGreeks(),
		Timestamp:     time.Now().UTC(),
	}
	if s.riskMgr != nil {
		state := s.riskMgr.State()
		view.DailyPnL = state.DailyPnL
		view.PeakValue = state.PeakPortfolioValue
		view.BreakerActive = state.CircuitBreakActive && time.Now().Before(state.CircuitBreakUntil)
	}
	s.writeJSON(w, view)
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	positions := s.book.GetPositions()
	out := make([]models.OptionPosition, 0, len(positions))
	for _, p := range positions {
		out = append(out, p)
	}
	s.writeJSON(w, out)
}

func (s *Server) handleTrades(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.book.GetTradeHistory())
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	n := 50
	if v := r.URL.Query().Get("n"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 500 {
			n = parsed
		}
	}
	if s.sink == nil {
		s.writeJSON(w, []alerts.Alert{})
		return
	}
	s.writeJSON(w, s.sink.Recent(n))
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
