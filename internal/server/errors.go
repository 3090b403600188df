package server

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/newsletter/internal/newsletter"
	"github.com/wolfeidau/newsletter/internal/store"
)

// writeError maps publish failures onto status codes. Internal details are
// logged, never returned to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := zerolog.Ctx(r.Context())

	switch {
	case errors.Is(err, newsletter.ErrValidation):
		log.Debug().Err(err).Msg("Rejected invalid publish request")
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrTransient):
		log.Warn().Err(err).Msg("Publish failed with a transient error")
		w.Header().Set("Retry-After", retryAfterSeconds)
		http.Error(w, "service temporarily unavailable, retry with the same idempotency key", http.StatusServiceUnavailable)
	default:
		log.Error().Err(err).Msg("Publish failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
