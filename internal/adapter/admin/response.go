package admin

import (
	"time"

	"github.com/simaogato/fundpool-backend/internal/domain"
	"github.com/simaogato/fundpool-backend/internal/usecase/registry"
)

type statusResponse struct {
	ID              string                 `json:"id"`
	Payer           string                 `json:"payer"`
	Payee           string                 `json:"payee"`
	Status          domain.Status          `json:"status"`
	View            domain.View            `json:"view"`
	TargetAmount    domain.Amount          `json:"target_amount"`
	ThresholdAmount domain.Amount          `json:"threshold_amount"`
	TotalCredited   domain.Amount          `json:"total_credited"`
	SettledAmount   domain.Amount          `json:"settled_amount"`
	BudgetState     domain.BudgetState     `json:"budget_state"`
	Deadline        time.Time              `json:"deadline"`
	Contributions   []contributionResponse `json:"contributions"`
	Phase1          *phase1Response        `json:"phase1,omitempty"`
	Legs            []legResponse          `json:"legs,omitempty"`
	Refunds         []refundResponse       `json:"refunds,omitempty"`
}

type contributionResponse struct {
	SourceDomain    string        `json:"source_domain"`
	Amount          domain.Amount `json:"amount"`
	ConfirmationKey string        `json:"confirmation_key"`
	RecordedAt      time.Time     `json:"recorded_at"`
}

type phase1Response struct {
	CommittedAt time.Time             `json:"committed_at"`
	Handle      domain.TransferHandle `json:"handle"`
	Phase2      domain.Phase2State    `json:"phase2"`
	Attempts    int                   `json:"phase2_attempts"`
}

type legResponse struct {
	Domain    string                `json:"domain"`
	Amount    domain.Amount         `json:"amount"`
	Mode      domain.TransportMode  `json:"mode"`
	Handle    domain.TransferHandle `json:"handle,omitempty"`
	Confirmed bool                  `json:"confirmed"`
}

type refundResponse struct {
	Kind   domain.RefundKind     `json:"kind"`
	Amount domain.Amount         `json:"amount"`
	State  domain.RefundState    `json:"state"`
	Handle domain.TransferHandle `json:"handle,omitempty"`
}

func toStatusResponse(v *registry.StatusView) statusResponse {
	req := v.Request
	out := statusResponse{
		ID:              req.ID.String(),
		Payer:           req.Payer.String(),
		Payee:           req.Payee.String(),
		Status:          req.Status,
		View:            v.View,
		TargetAmount:    req.TargetAmount,
		ThresholdAmount: v.ThresholdAmount,
		TotalCredited:   req.TotalCredited,
		SettledAmount:   req.SettledAmount,
		BudgetState:     req.BudgetState,
		Deadline:        req.Deadline,
		Contributions:   make([]contributionResponse, 0, len(v.Contributions)),
	}
	for _, c := range v.Contributions {
		out.Contributions = append(out.Contributions, contributionResponse{
			SourceDomain:    c.SourceDomain,
			Amount:          c.Amount,
			ConfirmationKey: c.ConfirmationKey,
			RecordedAt:      c.RecordedAt,
		})
	}
	if st := v.Settlement; st != nil {
		out.Phase1 = &phase1Response{
			CommittedAt: st.Phase1CommittedAt,
			Handle:      st.Phase1Handle,
			Phase2:      st.Phase2State,
			Attempts:    st.Phase2Attempts,
		}
	}
	for _, l := range v.Legs {
		out.Legs = append(out.Legs, legResponse{
			Domain:    l.Domain,
			Amount:    l.Amount,
			Mode:      l.Mode,
			Handle:    l.Handle,
			Confirmed: l.ConfirmedAt != nil,
		})
	}
	for _, r := range v.Refunds {
		out.Refunds = append(out.Refunds, refundResponse{
			Kind:   r.Kind,
			Amount: r.Amount,
			State:  r.State,
			Handle: r.Handle,
		})
	}
	return out
}
