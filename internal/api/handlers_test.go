package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/position-sentinel/internal/models"
	"github.com/position-sentinel/internal/types"
)

type fakeSummaries struct {
	byKind map[types.ContractKind][]*models.PositionSummary
	err    error
}

func (f *fakeSummaries) List(_ context.Context, kind types.ContractKind, userID string) ([]*models.PositionSummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*models.PositionSummary
	for _, s := range f.byKind[kind] {
		if userID != "" && s.UserID != userID {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

type fakeAlerts struct {
	entries   []*models.AlertLogEntry
	err       error
	lastLimit int
}

func (f *fakeAlerts) Recent(_ context.Context, _ string, limit int) ([]*models.AlertLogEntry, error) {
	f.lastLimit = limit
	return f.entries, f.err
}

func newTestServer(summaries SummaryReader, alerts AlertHistoryReader) *Server {
	return NewServer(&ServerConfig{
		Host:           "127.0.0.1",
		Port:           "0",
		ReadTimeout:    time.Second,
		WriteTimeout:   time.Second,
		RequestsPerSec: 1000,
		Burst:          1000,
	}, summaries, alerts)
}

func doRequest(s *Server, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(&fakeSummaries{}, &fakeAlerts{})
	rec := doRequest(s, http.MethodGet, "/healthz")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestHandleSummaries(t *testing.T) {
	summaries := &fakeSummaries{byKind: map[types.ContractKind][]*models.PositionSummary{
		types.KindLoanPosition: {
			{Kind: types.KindLoanPosition, TokenID: "7", UserID: "user-a", Protocol: "liquity"},
			{Kind: types.KindLoanPosition, TokenID: "8", UserID: "user-b", Protocol: "liquity"},
		},
		types.KindLpPosition: {
			{Kind: types.KindLpPosition, TokenID: "42", UserID: "user-a", Protocol: "uniswap-v3"},
		},
	}}
	s := newTestServer(summaries, &fakeAlerts{})

	rec := doRequest(s, http.MethodGet, "/api/v1/summaries/loans")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Kind      string                    `json:"kind"`
		Count     int                       `json:"count"`
		Summaries []*models.PositionSummary `json:"summaries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "LOAN_POSITION", body.Kind)
	assert.Equal(t, 2, body.Count)

	rec = doRequest(s, http.MethodGet, "/api/v1/summaries/lp?user=user-a")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "42", body.Summaries[0].TokenID)
}

func TestHandleSummaries_UserFilterNoMatches(t *testing.T) {
	s := newTestServer(&fakeSummaries{}, &fakeAlerts{})
	rec := doRequest(s, http.MethodGet, "/api/v1/summaries/loans?user=nobody")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Zero(t, body.Count)
}

func TestHandleSummaries_StoreError(t *testing.T) {
	s := newTestServer(&fakeSummaries{err: errors.New("redis down")}, &fakeAlerts{})
	rec := doRequest(s, http.MethodGet, "/api/v1/summaries/loans")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, ErrCodeInternalError, body.Error.Code)
}

func TestHandleRecentAlerts(t *testing.T) {
	alerts := &fakeAlerts{entries: []*models.AlertLogEntry{
		{ID: "a1", Phase: types.PhaseNew, Tier: types.TierHigh, Message: "out of range"},
	}}
	s := newTestServer(&fakeSummaries{}, alerts)

	rec := doRequest(s, http.MethodGet, "/api/v1/alerts/recent?user=user-a")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultAlertLimit, alerts.lastLimit)

	rec = doRequest(s, http.MethodGet, "/api/v1/alerts/recent?user=user-a&limit=10")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, alerts.lastLimit)
}

func TestHandleRecentAlerts_Validation(t *testing.T) {
	s := newTestServer(&fakeSummaries{}, &fakeAlerts{})

	rec := doRequest(s, http.MethodGet, "/api/v1/alerts/recent")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for _, limit := range []string{"0", "-5", "501", "abc"} {
		rec = doRequest(s, http.MethodGet, "/api/v1/alerts/recent?user=user-a&limit="+limit)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", limit)
	}
}

func TestRateLimit(t *testing.T) {
	s := NewServer(&ServerConfig{
		Host:           "127.0.0.1",
		Port:           "0",
		RequestsPerSec: 1,
		Burst:          2,
	}, &fakeSummaries{}, &fakeAlerts{})

	codes := make(map[int]int)
	for i := 0; i < 5; i++ {
		rec := doRequest(s, http.MethodGet, "/healthz")
		codes[rec.Code]++
	}
	assert.Equal(t, 2, codes[http.StatusOK])
	assert.Equal(t, 3, codes[http.StatusTooManyRequests])
}
