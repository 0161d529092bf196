package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// OperatorTransaction is one entry from the operator's transaction list.
type OperatorTransaction struct {
	Reference     string  `json:"reference"`
	CorrelationID string  `json:"correlationId"`
	Direction     string  `json:"direction"`
	Amount        float64 `json:"amount"`
}

// OperatorClient talks to the downstream operator API.
type OperatorClient struct {
	baseURL string
	client  *Client
}

// NewOperatorClient creates an operator client on top of the retrying
// requester.
func NewOperatorClient(baseURL string, c *Client) *OperatorClient {
	return &OperatorClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  c,
	}
}

// ActionURL builds the wallet action endpoint for an external player id and
// operator verb (withdraw/deposit). Outbox records store this as their
// delivery target.
func (o *OperatorClient) ActionURL(externalPlayerID, verb string) string {
	return fmt.Sprintf("%s/v2/players/%s/%s", o.baseURL, externalPlayerID, verb)
}

// ListTransactions fetches the operator's transaction ledger for
// reconciliation.
func (o *OperatorClient) ListTransactions(ctx context.Context) ([]OperatorTransaction, error) {
	resp, err := o.client.Request(ctx, http.MethodGet, o.baseURL+"/v2/transactions", nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}

	var txns []OperatorTransaction
	if err := json.Unmarshal(resp.Body, &txns); err != nil {
		return nil, fmt.Errorf("failed to decode operator transactions: %w", err)
	}
	return txns, nil
}
