// Package httpapi assembles the chi router of the API server.
package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"genflow/internal/http/handlers"
	"genflow/internal/infra"
	"genflow/internal/metrics"
	"genflow/internal/middleware"
)

// Options configures the router.
type Options struct {
	Logger          *infra.Logger
	Metrics         *metrics.Recorder
	RateLimitPerMin int
	CORSOrigins     []string
	Country         middleware.CountryLookup
}

func NewRouter(app *handlers.App, opts Options) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP, middleware.RequestID(opts.Logger), middleware.AccessLog(opts.Country), chimw.Recoverer)
	if len(opts.CORSOrigins) > 0 {
		r.Use(middleware.CORS(opts.CORSOrigins))
	}

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/cache/stats", app.CacheStats)
	if opts.Metrics != nil {
		r.Method(stdhttp.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Route("/v1/tasks", func(r chi.Router) {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
		r.Post("/", app.CreateTask)
		r.Post("/query", app.QueryTasks)
		r.Get("/{id}", app.GetTask)
		r.Delete("/{id}", app.DeleteTask)
		r.Get("/{id}/archive", app.TaskArchive)
	})

	return r
}
