// Package api exposes tracking, lookup and status over HTTP.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterOptions struct {
	AllowedOrigins []string
	// RequestTimeout bounds every route except bulk import.
	RequestTimeout time.Duration
}

func NewRouter(h *Handlers, opts RouterOptions, logger *slog.Logger) http.Handler {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:*", "https://localhost:*"}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 2 * time.Minute
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger.With("component", "http")))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)

	timeout := middleware.Timeout(opts.RequestTimeout)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(timeout).Post("/lookup", h.Lookup)
		r.With(timeout).Get("/scheduler", h.SchedulerState)
		r.With(timeout).Get("/platforms", h.Platforms)

		r.Route("/users/{telegramID}", func(r chi.Router) {
			r.With(timeout).Post("/products", h.TrackProduct)
			r.With(timeout).Get("/products", h.ListProducts)
			r.With(timeout).Delete("/products/{productID}", h.UntrackProduct)
			r.With(timeout).Get("/products/{productID}/history", h.ProductHistory)
			r.With(timeout).Get("/stats", h.UserStats)

			// Imports pace themselves line by line and outlive the request timeout.
			r.Post("/import", h.Import)
		})
	})

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}
