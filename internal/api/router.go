package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/config"
	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/queue"
	ws "github.com/pavan-kumar-miq/tableau-ppt-export/internal/websocket"
)

// RouterConfig holds the dependencies of the HTTP router. Populated in
// main.go after all components are initialized.
type RouterConfig struct {
	Queue    *queue.Queue
	Registry *config.Registry
	Worker   WorkerInfo
	Hub      *ws.Hub
	Metrics  prometheus.Gatherer
	Logger   *zap.Logger
}

// NewRouter builds the fully configured Chi router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	jobs := NewJobHandler(cfg.Queue, cfg.Registry, cfg.Worker, cfg.Logger)
	health := NewHealthHandler(cfg.Queue, cfg.Logger)
	events := NewEventsHandler(cfg.Hub, cfg.Logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", jobs.Submit)
			r.Get("/queue/stats", jobs.Stats)
			r.Post("/queue/cleanup", jobs.Cleanup)
			r.Get("/events", events.Stream)
			r.Get("/{jobID}", jobs.Get)
			r.Post("/{jobID}/retry", jobs.Retry)
		})
	})

	r.Get("/health", health.Health)
	r.Get("/health/live", health.Live)
	r.Get("/health/ready", health.Ready)

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Metrics, promhttp.HandlerOpts{}))
	}

	return r
}
