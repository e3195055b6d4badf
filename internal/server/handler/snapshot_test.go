package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varalabs/dexmetrics/internal/domain"
)

// stubCache serves fixed snapshot bytes; nil means not cached yet.
type stubCache struct {
	assets, pairs, voters []byte
}

func (s *stubCache) SetAssets(_ context.Context, data []byte) error { s.assets = data; return nil }
func (s *stubCache) Assets(_ context.Context) ([]byte, error) {
	if s.assets == nil {
		return nil, domain.ErrNotFound
	}
	return s.assets, nil
}
func (s *stubCache) SetPairs(_ context.Context, data []byte) error { s.pairs = data; return nil }
func (s *stubCache) Pairs(_ context.Context) ([]byte, error) {
	if s.pairs == nil {
		return nil, domain.ErrNotFound
	}
	return s.pairs, nil
}
func (s *stubCache) SetVoters(_ context.Context, data []byte) error { s.voters = data; return nil }
func (s *stubCache) Voters(_ context.Context) ([]byte, error) {
	if s.voters == nil {
		return nil, domain.ErrNotFound
	}
	return s.voters, nil
}
func (s *stubCache) SetPositionCount(_ context.Context, _ uint64) error { return nil }
func (s *stubCache) PositionCount(_ context.Context) (uint64, error) {
	return 0, domain.ErrNotFound
}

var _ domain.SnapshotCache = (*stubCache)(nil)

func newHandler(cache domain.SnapshotCache) *SnapshotHandler {
	fallback := domain.VoteSnapshot{TotalVotes: 10, VotesCast: 0}
	return NewSnapshotHandler(cache, fallback, slog.New(slog.DiscardHandler))
}

func TestAssetsServesCachedBytesVerbatim(t *testing.T) {
	body := `{"data":[{"address":"0xaa","price":1.5}]}`
	h := newHandler(&stubCache{assets: []byte(body)})

	rec := httptest.NewRecorder()
	h.Assets(rec, httptest.NewRequest(http.MethodGet, "/api/assets", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, body, rec.Body.String())
}

func TestAssetsAndPairsFallBackToEmptyList(t *testing.T) {
	h := newHandler(&stubCache{})

	for _, serve := range []http.HandlerFunc{h.Assets, h.Pairs} {
		rec := httptest.NewRecorder()
		serve(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"data":[]}`, rec.Body.String())
	}
}

func TestVotersFallsBackToConfiguredValues(t *testing.T) {
	h := newHandler(&stubCache{})

	rec := httptest.NewRecorder()
	h.Voters(rec, httptest.NewRequest(http.MethodGet, "/api/voters", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var snapshot domain.VoteSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.InDelta(t, 10, snapshot.TotalVotes, 1e-9)
	assert.Zero(t, snapshot.VotesCast)
}

func TestVotersServesCachedSnapshot(t *testing.T) {
	body := `{"total_votes":42.5,"votes_cast":7}`
	h := newHandler(&stubCache{voters: []byte(body)})

	rec := httptest.NewRecorder()
	h.Voters(rec, httptest.NewRequest(http.MethodGet, "/api/voters", nil))

	assert.Equal(t, body, rec.Body.String())
}
