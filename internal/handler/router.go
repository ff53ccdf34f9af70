package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/troikatech/chatwidget/internal/handler/embed"
	"github.com/troikatech/chatwidget/internal/handler/widget"
	"github.com/troikatech/chatwidget/internal/metrics"
	middlewarePkg "github.com/troikatech/chatwidget/internal/middleware"
	widgetservice "github.com/troikatech/chatwidget/internal/service/widget"
	"github.com/troikatech/chatwidget/pkg/utils"
)

// Dependencies groups what the HTTP layer needs from the rest of the service.
type Dependencies struct {
	Gateway      widgetservice.Gateway
	AssetBaseURL string
	Widget       widget.Settings
	Metrics      *metrics.Metrics

	// Gatherer backs /metrics; the route is omitted when nil.
	Gatherer prometheus.Gatherer
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	var configs embed.ConfigSource
	if deps.Gateway != nil {
		configs = deps.Gateway
	}
	embedHandler := embed.New(configs, deps.AssetBaseURL, deps.Metrics)
	wsHandler := widget.NewWebSocketHandler(deps.Gateway, deps.Widget, deps.Metrics)

	r.Route("/api", func(api chi.Router) {
		embedHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	})

	return r
}
