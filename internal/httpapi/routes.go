package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tictactoe-backend/internal/metrics"
	"github.com/DoyleJ11/tictactoe-backend/internal/store"
	"github.com/DoyleJ11/tictactoe-backend/internal/transport"
)

type Deps struct {
	Store      store.Store
	Dispatcher transport.Dispatcher
	Hub        *transport.Hub
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	WS         transport.Options
	Logger     *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("module", "http"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz(d.Store, logger))
	r.Get("/stats", Stats(d.Store, logger))
	r.Get("/rooms/{roomID}", GetRoom(d.Store, logger))
	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/ws", transport.Handler(d.Dispatcher, d.Hub, d.Metrics, d.WS, d.Logger))
	return r
}
