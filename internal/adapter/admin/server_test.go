package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/fundpool-backend/internal/domain"
	"github.com/simaogato/fundpool-backend/internal/metrics"
	"github.com/simaogato/fundpool-backend/internal/usecase/registry"
)

type MockStatusReader struct {
	mock.Mock
}

func (m *MockStatusReader) Status(ctx context.Context, id domain.RequestID) (*registry.StatusView, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*registry.StatusView), args.Error(1)
}

var t0 = time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)

func newTestHandler(status StatusReader, checks map[string]HealthCheck) http.Handler {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.RequestsCreated.Inc()
	return NewHandler(status, checks, reg, nil).Router()
}

func serve(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	healthy := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name     string
		path     string
		checks   map[string]HealthCheck
		wantCode int
		wantBody string
	}{
		{name: "liveness ignores dependencies", path: "/healthz", checks: map[string]HealthCheck{"db": down}, wantCode: http.StatusOK, wantBody: `"ok"`},
		{name: "ready", path: "/readyz", checks: map[string]HealthCheck{"db": healthy, "redis": healthy}, wantCode: http.StatusOK, wantBody: `"redis":"ok"`},
		{name: "not ready", path: "/readyz", checks: map[string]HealthCheck{"db": down, "redis": healthy}, wantCode: http.StatusServiceUnavailable, wantBody: "connection refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(newTestHandler(&MockStatusReader{}, tt.checks), tt.path)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestMetrics(t *testing.T) {
	rec := serve(newTestHandler(&MockStatusReader{}, nil), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fundpool_requests_created_total 1")
}

func TestStatus(t *testing.T) {
	payer := domain.Address{Domain: "arbitrum", Account: "0xpayer"}
	payee := domain.Address{Domain: "base", Account: "0xpayee"}
	id := domain.NewRequestID(payer, payee, 500, t0)
	settledAt := t0.Add(time.Minute)
	confirmedAt := t0.Add(2 * time.Minute)

	view := &registry.StatusView{
		Request: &domain.AggregationRequest{
			ID: id, Payer: payer, Payee: payee, TargetAmount: 500, MinimumThresholdPct: 90,
			TotalCredited: 510, SettledAmount: 500, Status: domain.StatusSettled,
			BudgetState: domain.BudgetConsumed, Deadline: t0.Add(time.Hour), SettledAt: &settledAt,
		},
		View:            domain.ViewSettled,
		ThresholdAmount: 450,
		Contributions: []*domain.ContributionRecord{
			{RequestID: id, SourceDomain: "optimism", Amount: 510, ConfirmationKey: "k1", RecordedAt: t0},
		},
		Settlement: &domain.Settlement{RequestID: id, Phase1CommittedAt: settledAt, Phase1Handle: "h-p1", Phase2State: domain.Phase2Done},
		Legs: []*domain.LegRecord{
			{RequestID: id, Index: 0, Domain: "base", Amount: 500, Mode: domain.ModeDirect, ConfirmedAt: &confirmedAt},
		},
		Refunds: []*domain.Refund{
			{RequestID: id, Kind: domain.RefundExcess, Amount: 10, State: domain.RefundSent, Handle: "h-r"},
		},
	}

	t.Run("found", func(t *testing.T) {
		reader := &MockStatusReader{}
		reader.On("Status", mock.Anything, id).Return(view, nil)

		rec := serve(newTestHandler(reader, nil), "/v1/requests/"+id.String())
		require.Equal(t, http.StatusOK, rec.Code)

		var body statusResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, id.String(), body.ID)
		assert.Equal(t, "base:0xpayee", body.Payee)
		assert.Equal(t, domain.ViewSettled, body.View)
		assert.Equal(t, domain.Amount(510), body.TotalCredited)
		require.NotNil(t, body.Phase1)
		assert.Equal(t, domain.Phase2Done, body.Phase1.Phase2)
		require.Len(t, body.Legs, 1)
		assert.True(t, body.Legs[0].Confirmed)
		require.Len(t, body.Refunds, 1)
		assert.Equal(t, domain.RefundExcess, body.Refunds[0].Kind)
		reader.AssertExpectations(t)
	})

	t.Run("unknown", func(t *testing.T) {
		reader := &MockStatusReader{}
		reader.On("Status", mock.Anything, id).Return(nil, domain.ErrNotFound)

		rec := serve(newTestHandler(reader, nil), "/v1/requests/"+id.String())
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed id", func(t *testing.T) {
		rec := serve(newTestHandler(&MockStatusReader{}, nil), "/v1/requests/not-hex")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.True(t, strings.Contains(rec.Body.String(), "malformed request id"))
	})

	t.Run("store failure is hidden", func(t *testing.T) {
		reader := &MockStatusReader{}
		reader.On("Status", mock.Anything, id).Return(nil, errors.New("pq: connection reset"))

		rec := serve(newTestHandler(reader, nil), "/v1/requests/"+id.String())
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "pq:")
	})
}
