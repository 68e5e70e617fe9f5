// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package api exposes the gateway's HTTP surface: the manifest relay
// endpoint, pool introspection and the operational endpoints.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/ace2g/internal/pool"
	"github.com/ManuGH/ace2g/internal/quality"
	"github.com/ManuGH/ace2g/internal/relay"
)

// Server holds the handler dependencies.
type Server struct {
	pool    *pool.Pool
	relay   *relay.Relay
	quality *quality.Tracker

	rateLimitRPS int
}

// New returns a server. rateLimitRPS bounds per-client requests on the stream
// endpoint; zero disables the limiter.
func New(p *pool.Pool, r *relay.Relay, q *quality.Tracker, rateLimitRPS int) *Server {
	return &Server{pool: p, relay: r, quality: q, rateLimitRPS: rateLimitRPS}
}

// Router assembles the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/ace", func(r chi.Router) {
		stream := r.With()
		if s.rateLimitRPS > 0 {
			stream = r.With(httprate.LimitByIP(s.rateLimitRPS, time.Second))
		}
		stream.Get("/getstream/{contentID}", s.handleStream)

		r.Get("/status", s.handleStatus)
		r.Delete("/stream/{contentID}", s.handleRemove)
		r.Get("/quality/{contentID}", s.handleQuality)
	})

	return r
}
