// Package httpclient talks to the conversion and balance services over JSON.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/simaogato/fundpool-backend/internal/domain"
)

const maxErrorBody = 512

type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string, timeout time.Duration) client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// parseAmount reads a whole smallest-unit amount sent as a decimal string.
func parseAmount(s string) (domain.Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("amount %s is not a whole number of units", s)
	}
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(int64(domain.MaxAmount))) {
		return 0, fmt.Errorf("amount %s out of range", s)
	}
	return domain.Amount(d.IntPart()), nil
}

// Converter implements domain.AssetConverter.
type Converter struct {
	client
}

// NewConverter creates a conversion service client.
func NewConverter(baseURL string, timeout time.Duration) *Converter {
	return &Converter{client: newClient(baseURL, timeout)}
}

type convertRequest struct {
	Amount   string `json:"amount"`
	AssetIn  string `json:"asset_in"`
	AssetOut string `json:"asset_out"`
}

type convertResponse struct {
	AmountOut string `json:"amount_out"`
}

// Convert implements domain.AssetConverter.
func (c *Converter) Convert(ctx context.Context, amount domain.Amount, assetIn, assetOut string) (domain.Amount, error) {
	var resp convertResponse
	err := c.do(ctx, http.MethodPost, "/v1/convert", convertRequest{
		Amount:   decimal.NewFromInt(int64(amount)).String(),
		AssetIn:  assetIn,
		AssetOut: assetOut,
	}, &resp)
	if err != nil {
		return 0, err
	}
	return parseAmount(resp.AmountOut)
}

// Balances implements domain.BalanceQuery.
type Balances struct {
	client
}

// NewBalances creates a balance service client.
func NewBalances(baseURL string, timeout time.Duration) *Balances {
	return &Balances{client: newClient(baseURL, timeout)}
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

// BalanceOf implements domain.BalanceQuery.
func (b *Balances) BalanceOf(ctx context.Context, domainName, account string) (domain.Amount, error) {
	var resp balanceResponse
	path := "/v1/domains/" + url.PathEscape(domainName) + "/accounts/" + url.PathEscape(account) + "/balance"
	if err := b.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, err
	}
	return parseAmount(resp.Balance)
}
