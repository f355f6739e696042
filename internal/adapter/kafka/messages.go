package kafka

import (
	"github.com/simaogato/fundpool-backend/internal/domain"
)

// orderMessage is the wire form of a transfer order.
type orderMessage struct {
	Handle            domain.TransferHandle `json:"handle"`
	Tag               string                `json:"tag"`
	Amount            int64                 `json:"amount"`
	SourceDomain      string                `json:"source_domain"`
	DestinationDomain string                `json:"destination_domain"`
	Sender            string                `json:"sender"`
	Recipient         string                `json:"recipient"`
	Mode              domain.TransportMode  `json:"mode"`
}

// confirmationMessage is the wire form of a transfer confirmation.
type confirmationMessage struct {
	Handle          domain.TransferHandle `json:"handle"`
	RequestID       string                `json:"request_id,omitempty"`
	SourceDomain    string                `json:"source_domain"`
	Amount          int64                 `json:"amount"`
	Asset           string                `json:"asset,omitempty"`
	MinAmountOut    int64                 `json:"min_amount_out,omitempty"`
	ConfirmationKey string                `json:"confirmation_key"`
	Tag             string                `json:"tag,omitempty"`
}

func (m confirmationMessage) toDomain() (domain.Confirmation, error) {
	conf := domain.Confirmation{
		Handle:          m.Handle,
		SourceDomain:    m.SourceDomain,
		Amount:          domain.Amount(m.Amount),
		Asset:           m.Asset,
		MinAmountOut:    domain.Amount(m.MinAmountOut),
		ConfirmationKey: m.ConfirmationKey,
		Tag:             m.Tag,
	}
	if m.RequestID != "" {
		id, err := domain.ParseRequestID(m.RequestID)
		if err != nil {
			return conf, err
		}
		conf.RequestID = id
	}
	return conf, nil
}
