package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayeeConfig_Validate(t *testing.T) {
	payee := Address{Domain: "base", Account: "0xpayee"}

	tests := []struct {
		name    string
		cfg     PayeeConfig
		wantErr bool
		errMsg  string
	}{
		{
			name: "single domain should pass",
			cfg: PayeeConfig{
				Payee:   payee,
				Policy:  PolicyEqual,
				Domains: []PayeeDomain{{Domain: "base", Account: "0xpayee"}},
			},
		},
		{
			name: "deficit policy with minimums should pass",
			cfg: PayeeConfig{
				Payee:  payee,
				Policy: PolicyDeficit,
				Domains: []PayeeDomain{
					{Domain: "base", Account: "0xpayee", MinimumBalance: 100},
					{Domain: "arbitrum", Account: "0xpayee", MinimumBalance: 50},
				},
			},
		},
		{
			name:    "no domains should fail",
			cfg:     PayeeConfig{Payee: payee, Policy: PolicyEqual},
			wantErr: true,
			errMsg:  "at least one domain",
		},
		{
			name: "unknown policy should fail",
			cfg: PayeeConfig{
				Payee:   payee,
				Policy:  "RANDOM",
				Domains: []PayeeDomain{{Domain: "base", Account: "0xpayee"}},
			},
			wantErr: true,
			errMsg:  "EQUAL or DEFICIT",
		},
		{
			name: "duplicate domain should fail",
			cfg: PayeeConfig{
				Payee:  payee,
				Policy: PolicyEqual,
				Domains: []PayeeDomain{
					{Domain: "base", Account: "0xpayee"},
					{Domain: "base", Account: "0xother"},
				},
			},
			wantErr: true,
			errMsg:  "listed twice",
		},
		{
			name: "negative minimum should fail",
			cfg: PayeeConfig{
				Payee:   payee,
				Policy:  PolicyDeficit,
				Domains: []PayeeDomain{{Domain: "base", Account: "0xpayee", MinimumBalance: -1}},
			},
			wantErr: true,
			errMsg:  "cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPayeeConfig_AccountOn(t *testing.T) {
	cfg := PayeeConfig{
		Payee:   Address{Domain: "base", Account: "0xpayee"},
		Domains: []PayeeDomain{{Domain: "solana", Account: "SoLpayee"}},
	}

	assert.Equal(t, "SoLpayee", cfg.AccountOn("solana"))
	assert.Equal(t, "0xpayee", cfg.AccountOn("base"))
}
