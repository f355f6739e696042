package planner

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/simaogato/fundpool-backend/internal/domain"
	"github.com/simaogato/fundpool-backend/internal/logger"
)

// DeficitPolicy allocates in proportion to how far each domain's balance sits
// below its configured minimum.
//
// Logic:
//  1. Query every domain's balance; deficit = max(0, minimum - balance)
//  2. With no deficit anywhere, divide equally
//  3. If the amount covers every deficit, fill them and divide the surplus equally
//  4. Otherwise give each domain floor(amount * deficit / totalDeficit) and
//     hand the leftover units to the largest deficits, lowest index on ties
//
// A failed balance query falls back to equal division.
type DeficitPolicy struct {
	Balances domain.BalanceQuery
	Logger   *logger.Logger
}

// Allocate implements Policy.
func (p *DeficitPolicy) Allocate(ctx context.Context, cfg *domain.PayeeConfig, amount domain.Amount) ([]domain.Amount, error) {
	n := len(cfg.Domains)

	deficits := make([]domain.Amount, n)
	var totalDeficit domain.Amount
	for i, d := range cfg.Domains {
		balance, err := p.Balances.BalanceOf(ctx, d.Domain, d.Account)
		if err != nil {
			logger.OrNop(p.Logger).Warn("balance query failed, using equal division",
				"payee", cfg.Payee.String(), "domain", d.Domain, "error", err)
			return EqualSplit(amount, n), nil
		}
		if balance < d.MinimumBalance {
			deficits[i] = d.MinimumBalance - balance
			totalDeficit += deficits[i]
		}
	}

	if totalDeficit == 0 {
		return EqualSplit(amount, n), nil
	}

	if amount >= totalDeficit {
		shares := EqualSplit(amount-totalDeficit, n)
		for i := range shares {
			shares[i] += deficits[i]
		}
		return shares, nil
	}

	return proportional(amount, deficits, totalDeficit), nil
}

func proportional(amount domain.Amount, deficits []domain.Amount, totalDeficit domain.Amount) []domain.Amount {
	shares := make([]domain.Amount, len(deficits))
	total := decimal.NewFromInt(int64(amount))
	denominator := decimal.NewFromInt(int64(totalDeficit))

	var allocated domain.Amount
	for i, deficit := range deficits {
		if deficit == 0 {
			continue
		}
		q, _ := total.Mul(decimal.NewFromInt(int64(deficit))).QuoRem(denominator, 0)
		shares[i] = domain.Amount(q.IntPart())
		allocated += shares[i]
	}

	// Largest deficit first, lowest index on ties
	order := make([]int, 0, len(deficits))
	for i, deficit := range deficits {
		if deficit > 0 {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return deficits[order[a]] > deficits[order[b]]
	})

	// Each floor loses less than one unit, so one pass hands out the residue
	residue := amount - allocated
	for k := 0; residue > 0; k++ {
		shares[order[k%len(order)]]++
		residue--
	}

	return shares
}
