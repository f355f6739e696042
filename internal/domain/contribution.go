package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ContributionRecord is one confirmed credit toward a request from a source
// domain. Records are append-only and never modified once written.
type ContributionRecord struct {
	ID              uuid.UUID
	RequestID       RequestID
	SourceDomain    string
	Amount          Amount // settlement-asset amount credited
	ConfirmationKey string // unique per transport confirmation
	TransferHandle  string
	Asset           string // asset the contribution arrived in
	OriginalAmount  Amount // amount in Asset before conversion
	RecordedAt      time.Time
}

// Validate ensures the record can be appended to the ledger.
func (c *ContributionRecord) Validate() error {
	if c.RequestID.IsZero() {
		return errors.New("contribution must reference a request")
	}
	if c.SourceDomain == "" {
		return errors.New("contribution source domain cannot be empty")
	}
	if c.ConfirmationKey == "" {
		return errors.New("contribution confirmation key cannot be empty")
	}
	if c.Amount <= 0 {
		return errors.New("contribution amount must be positive")
	}
	if c.Amount > MaxAmount {
		return errors.New("contribution amount exceeds the maximum")
	}
	return nil
}

// SumContributions totals a set of records.
func SumContributions(records []*ContributionRecord) Amount {
	var total Amount
	for _, c := range records {
		total += c.Amount
	}
	return total
}
