// Package fundpoolv1 defines the fundpool.v1 wire contract: messages, the
// AggregationService descriptor and its client. Messages travel as JSON
// through the codec registered in this package.
package fundpoolv1

import (
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Timestamp is a protobuf timestamp that travels as an RFC 3339 string.
type Timestamp struct {
	*timestamppb.Timestamp
}

func NewTimestamp(t time.Time) *Timestamp {
	return &Timestamp{Timestamp: timestamppb.New(t)}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.Timestamp == nil {
		return []byte("null"), nil
	}
	return protojson.Marshal(t.Timestamp)
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	ts := &timestamppb.Timestamp{}
	if err := protojson.Unmarshal(data, ts); err != nil {
		return err
	}
	t.Timestamp = ts
	return nil
}

// Request is the public view of an aggregation request.
type Request struct {
	Id                  string     `json:"id"`
	Payer               string     `json:"payer"`
	Payee               string     `json:"payee"`
	Status              string     `json:"status"`
	View                string     `json:"view"`
	TargetAmount        int64      `json:"target_amount"`
	MinimumThresholdPct int32      `json:"minimum_threshold_pct"`
	ThresholdAmount     int64      `json:"threshold_amount"`
	TotalCredited       int64      `json:"total_credited"`
	SettledAmount       int64      `json:"settled_amount"`
	DestinationDomain   string     `json:"destination_domain"`
	RefundDomain        string     `json:"refund_domain"`
	RefundBudget        int64      `json:"refund_budget"`
	BudgetState         string     `json:"budget_state"`
	Deadline            *Timestamp `json:"deadline"`
	CreatedAt           *Timestamp `json:"created_at"`
	SettledAt           *Timestamp `json:"settled_at,omitempty"`
}

type CreateRequestRequest struct {
	// Id is optional. When set, repeating the call with identical
	// parameters returns the same request.
	Id                  string     `json:"id,omitempty"`
	Payer               string     `json:"payer"`
	Payee               string     `json:"payee"`
	TargetAmount        int64      `json:"target_amount"`
	MinimumThresholdPct int32      `json:"minimum_threshold_pct"`
	DestinationDomain   string     `json:"destination_domain"`
	RefundDomain        string     `json:"refund_domain"`
	Deadline            *Timestamp `json:"deadline"`
	RefundBudget        int64      `json:"refund_budget"`
}

type CreateRequestResponse struct {
	Id string `json:"id"`
}

type GetRequestRequest struct {
	Id string `json:"id"`
}

type GetRequestResponse struct {
	Request *Request `json:"request"`
}

// CreditRequest carries one transport confirmation.
type CreditRequest struct {
	Handle          string `json:"handle"`
	RequestId       string `json:"request_id,omitempty"`
	SourceDomain    string `json:"source_domain"`
	Amount          int64  `json:"amount"`
	Asset           string `json:"asset,omitempty"`
	MinAmountOut    int64  `json:"min_amount_out,omitempty"`
	ConfirmationKey string `json:"confirmation_key,omitempty"`
	Tag             string `json:"tag,omitempty"`
}

type CreditResponse struct {
	// Outcome is one of "applied", "duplicate", "settled" or "outbound".
	Outcome string   `json:"outcome"`
	Request *Request `json:"request,omitempty"`
}

type AcceptPartialRequest struct {
	Id string `json:"id"`
}

type AcceptPartialResponse struct {
	Request *Request `json:"request"`
}

type RequestRefundRequest struct {
	Id string `json:"id"`
}

type RequestRefundResponse struct {
	Request *Request `json:"request"`
}
