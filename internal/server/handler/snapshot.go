// Package handler contains the HTTP handlers of the read API. Handlers serve
// the cached snapshot documents verbatim; a missing snapshot degrades to the
// documented fallback body, never to an error response.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/varalabs/dexmetrics/internal/domain"
)

// emptyListBody is served while a list snapshot has not been cached yet.
const emptyListBody = `{"data":[]}`

// SnapshotHandler serves the cached aggregates.
type SnapshotHandler struct {
	cache domain.SnapshotCache
	// voteFallback is serialized when the voters snapshot is absent, so the
	// response always carries the documented fields.
	voteFallback domain.VoteSnapshot
	logger       *slog.Logger
}

// NewSnapshotHandler creates a SnapshotHandler.
func NewSnapshotHandler(cache domain.SnapshotCache, voteFallback domain.VoteSnapshot, logger *slog.Logger) *SnapshotHandler {
	return &SnapshotHandler{
		cache:        cache,
		voteFallback: voteFallback,
		logger:       logger,
	}
}

// Assets serves the token registry snapshot.
// GET /api/assets
func (h *SnapshotHandler) Assets(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "assets", h.cache.Assets, []byte(emptyListBody))
}

// Pairs serves the pools snapshot.
// GET /api/pairs
func (h *SnapshotHandler) Pairs(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "pairs", h.cache.Pairs, []byte(emptyListBody))
}

// Voters serves the vote tally snapshot.
// GET /api/voters
func (h *SnapshotHandler) Voters(w http.ResponseWriter, r *http.Request) {
	fallback, err := json.Marshal(h.voteFallback)
	if err != nil {
		fallback = []byte(`{"total_votes":0,"votes_cast":0}`)
	}
	h.serve(w, r, "voters", h.cache.Voters, fallback)
}

func (h *SnapshotHandler) serve(
	w http.ResponseWriter,
	r *http.Request,
	name string,
	read func(context.Context) ([]byte, error),
	fallback []byte,
) {
	data, err := read(r.Context())
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.WarnContext(r.Context(), "snapshot read failed",
				slog.String("snapshot", name),
				slog.String("error", err.Error()),
			)
		}
		data = fallback
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
