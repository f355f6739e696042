package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/fundpool-backend/internal/domain"
)

func TestConverter_Convert(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    domain.Amount
		wantErr string
	}{
		{name: "converted", status: http.StatusOK, body: `{"amount_out":"1998"}`, want: 1998},
		{name: "fractional output", status: http.StatusOK, body: `{"amount_out":"19.5"}`, wantErr: "whole number"},
		{name: "negative output", status: http.StatusOK, body: `{"amount_out":"-1"}`, wantErr: "out of range"},
		{name: "service error", status: http.StatusBadGateway, body: "pool drained", wantErr: "status 502: pool drained"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/v1/convert", r.URL.Path)

				var req convertRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, convertRequest{Amount: "2000", AssetIn: "SOL", AssetOut: "USDC"}, req)

				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			out, err := NewConverter(srv.URL+"/", time.Second).Convert(context.Background(), 2000, "SOL", "USDC")
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestBalances_BalanceOf(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/domains/solana/accounts/So1%2Fsub/balance", r.URL.EscapedPath())
		_, _ = w.Write([]byte(`{"balance":"750"}`))
	}))
	defer srv.Close()

	bal, err := NewBalances(srv.URL, time.Second).BalanceOf(context.Background(), "solana", "So1/sub")
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(750), bal)
}

func TestBalances_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	_, err := NewBalances(srv.URL, 20*time.Millisecond).BalanceOf(context.Background(), "base", "0x1")
	assert.Error(t, err)
}
