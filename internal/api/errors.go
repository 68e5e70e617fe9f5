// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/ace2g/internal/contentid"
	"github.com/ManuGH/ace2g/internal/log"
	"github.com/ManuGH/ace2g/internal/pool"
	"github.com/ManuGH/ace2g/internal/relay"
)

// retryAfterSeconds is suggested to clients hitting an exhausted pool; one
// maintenance tick later a slot may have been reclaimed.
const retryAfterSeconds = "10"

type errorBody struct {
	Error   string `json:"error"`
	Excerpt string `json:"excerpt,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := log.WithComponent("api")
		logger.Warn().
			Err(err).
			Str("event", "api.encode_failed").
			Msg("response encoding failed")
	}
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var malformed *relay.MalformedError

	switch {
	case errors.Is(err, contentid.ErrInvalid):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid content id"})
	case errors.Is(err, pool.ErrExhausted):
		w.Header().Set("Retry-After", retryAfterSeconds)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "all pool slots are locked in"})
	case errors.As(err, &malformed):
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:   "upstream returned a malformed manifest",
			Excerpt: malformed.Excerpt,
		})
	case errors.Is(err, relay.ErrUpstream):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "upstream manifest fetch failed"})
	default:
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().
			Err(err).
			Str("event", "api.internal_error").
			Str("path", r.URL.Path).
			Msg("unhandled error")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
