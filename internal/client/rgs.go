package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// RGSWebhook is one webhook record as observed by the RGS side.
type RGSWebhook struct {
	RefID         string `json:"refId"`
	CorrelationID string `json:"correlationId"`
	Event         string `json:"event"`
	AmountCents   int64  `json:"amountCents"`
}

// RGSClient talks to the upstream RGS webhook endpoint.
type RGSClient struct {
	webhookURL string
	client     *Client
}

// NewRGSClient creates an RGS client on top of the retrying requester.
func NewRGSClient(webhookURL string, c *Client) *RGSClient {
	return &RGSClient{webhookURL: webhookURL, client: c}
}

// WebhookURL returns the configured delivery target for RGS outbox records.
func (r *RGSClient) WebhookURL() string {
	return r.webhookURL
}

// ListWebhooks fetches the webhooks the RGS has received, the local truth
// for reconciliation.
func (r *RGSClient) ListWebhooks(ctx context.Context) ([]RGSWebhook, error) {
	resp, err := r.client.Request(ctx, http.MethodGet, r.webhookURL, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}

	var hooks []RGSWebhook
	if err := json.Unmarshal(resp.Body, &hooks); err != nil {
		return nil, fmt.Errorf("failed to decode RGS webhooks: %w", err)
	}
	return hooks, nil
}
