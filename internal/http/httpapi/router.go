package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/lokeshdeshmukh/face-swap-ai/internal/http/handlers"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/infra"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/infra/geoip"
	"github.com/lokeshdeshmukh/face-swap-ai/internal/middleware"
)

// Options carries the cross-cutting pieces wired in front of the handlers.
type Options struct {
	Logger      infra.Logger
	CORSOrigins []string
	GeoIP       geoip.CountryResolver

	// RateLimit caps client-facing mutating requests per IP per minute.
	// Zero disables the limiter. Compute callbacks are exempt; they are
	// authenticated by signature and must not be dropped.
	RateLimit int
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger, opts.GeoIP),
	)
	if len(opts.CORSOrigins) > 0 {
		r.Use(middleware.CORS(opts.CORSOrigins))
	}

	limited := func(next http.Handler) http.Handler { return next }
	if opts.RateLimit > 0 {
		limited = middleware.RateLimit(opts.RateLimit, time.Minute)
	}

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.With(limited).Post("/", app.CreateJob)
		r.Get("/{id}", app.GetJob)
		r.With(limited).Post("/{id}/retry", app.RetryJob)
		r.Get("/{id}/output", app.JobOutput)
		r.Get("/{id}/bundle", app.JobBundle)
	})

	r.Post("/v1/callbacks/compute", app.ComputeCallback)
	r.Get("/v1/assets/{token}", app.DownloadAsset)

	return r
}
