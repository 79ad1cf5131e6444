package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"genorch/internal/http/handlers"
	"genorch/internal/middleware"
)

// Options configures the middleware stack.
type Options struct {
	JWTSecret       string
	AllowedOrigins  []string
	DefaultLocale   string
	CountryLookup   middleware.CountryLookup
	RateLimitPerMin int
	Logger          zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.Recoverer, middleware.Logger(opts.Logger))
	if len(opts.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(opts.AllowedOrigins))
	}
	if opts.RateLimitPerMin > 0 {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
	}
	r.Use(middleware.I18N(opts.DefaultLocale, opts.CountryLookup))

	// Health
	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/generations", func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))
		r.Post("/", app.SubmitGeneration)
		r.Get("/{job_id}", app.GenerationStatus)
		r.Post("/{job_id}/cancel", app.CancelGeneration)
	})

	return r
}
