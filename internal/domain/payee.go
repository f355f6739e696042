package domain

import (
	"errors"
	"fmt"
)

// DispatchPolicy selects how a settled amount is spread over a payee's domains.
type DispatchPolicy string

const (
	// PolicyEqual divides evenly, remainder to the lowest-indexed domains.
	PolicyEqual DispatchPolicy = "EQUAL"
	// PolicyDeficit allocates in proportion to each domain's shortfall
	// against its configured minimum balance.
	PolicyDeficit DispatchPolicy = "DEFICIT"
)

// PayeeConfig lists the domains a payee wants its balances kept on.
type PayeeConfig struct {
	Payee   Address
	Policy  DispatchPolicy
	Domains []PayeeDomain // order is significant: index breaks ties
}

// PayeeDomain is one preferred destination of a payee.
type PayeeDomain struct {
	Domain         string
	Account        string
	MinimumBalance Amount // used by PolicyDeficit
}

// Validate ensures the payee configuration can be planned against.
func (p *PayeeConfig) Validate() error {
	if err := p.Payee.Validate(); err != nil {
		return fmt.Errorf("payee: %w", err)
	}
	if len(p.Domains) == 0 {
		return errors.New("payee config must list at least one domain")
	}

	switch p.Policy {
	case PolicyEqual, PolicyDeficit:
	default:
		return errors.New("payee dispatch policy must be EQUAL or DEFICIT")
	}

	seen := make(map[string]bool, len(p.Domains))
	for _, d := range p.Domains {
		if d.Domain == "" || d.Account == "" {
			return errors.New("payee domain entries need a domain and an account")
		}
		if seen[d.Domain] {
			return fmt.Errorf("payee domain %q listed twice", d.Domain)
		}
		seen[d.Domain] = true

		if d.MinimumBalance < 0 {
			return errors.New("payee minimum balance cannot be negative")
		}
	}

	return nil
}

// AccountOn returns the payee's account on the given domain, falling back to
// the payee identity's own account.
func (p *PayeeConfig) AccountOn(domainName string) string {
	for _, d := range p.Domains {
		if d.Domain == domainName {
			return d.Account
		}
	}
	return p.Payee.Account
}
