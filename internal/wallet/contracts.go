package wallet

import (
	"github.com/playware/integration-hub/pkg/helpers"
)

// Request is the wallet ingress body from the RGS side.
type Request struct {
	PlayerID    string `json:"playerId"`
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency"`
	RefID       string `json:"refId"`
}

// Response is the wallet ingress response.
type Response struct {
	Status        string  `json:"status"`
	RefID         string  `json:"refId,omitempty"`
	CorrelationID string  `json:"correlationId,omitempty"`
	BalanceCents  *int64  `json:"balanceCents"`
	Reason        *string `json:"reason"`
}

// WebhookPayload is the operator's asynchronous confirmation callback body.
// Amounts arrive in major units (floats); the hub converts to cents at this
// boundary and never lets float drift into the ledger.
type WebhookPayload struct {
	PlayerID      string  `json:"playerId"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Status        string  `json:"status"`
	Event         string  `json:"event"`
	RefID         string  `json:"refId"`
	CorrelationID string  `json:"correlationId"`
	Balance       float64 `json:"balance"`
}

// OperatorPayload is the outbox payload delivered to the operator.
type OperatorPayload struct {
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Reference     string  `json:"reference"`
	CorrelationID string  `json:"correlationId"`
}

// NewOperatorPayload builds the operator-shape payload from a wallet request.
func NewOperatorPayload(req *Request, correlationID string) *OperatorPayload {
	return &OperatorPayload{
		Amount:        helpers.CentsToUnits(req.AmountCents),
		Currency:      req.Currency,
		Reference:     req.RefID,
		CorrelationID: correlationID,
	}
}

// RGSPayload is the normalized outbox payload delivered to the RGS.
// All amounts are integer cents.
type RGSPayload struct {
	PlayerID      string `json:"playerId"`
	AmountCents   int64  `json:"amountCents"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	Event         string `json:"event"`
	RefID         string `json:"refId"`
	CorrelationID string `json:"correlationId"`
	BalanceCents  int64  `json:"balanceCents"`
}

// NewRGSPayload normalizes an operator webhook into the RGS shape, reverse-
// mapping the event verb (withdraw -> debit, deposit -> credit).
func NewRGSPayload(hook *WebhookPayload) (*RGSPayload, error) {
	action, err := ActionFromOperatorVerb(hook.Event)
	if err != nil {
		return nil, err
	}

	return &RGSPayload{
		PlayerID:      hook.PlayerID,
		AmountCents:   helpers.UnitsToCents(hook.Amount),
		Currency:      hook.Currency,
		Status:        hook.Status,
		Event:         string(action),
		RefID:         hook.RefID,
		CorrelationID: hook.CorrelationID,
		BalanceCents:  helpers.UnitsToCents(hook.Balance),
	}, nil
}
