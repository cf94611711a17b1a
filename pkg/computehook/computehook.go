// Package computehook notifies the compute fleet when a tenant shard's
// attached location changes, so compute nodes can route writes to the
// new pageserver. Narrow interface plus an HTTP implementation, grounded
// on the same constructor-plus-method-set shape as pkg/pageclient.
package computehook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/stormctl/pkg/types"
)

// Hook is the narrow interface the reconciler calls after a successful
// location_config RPC to the new attached node.
type Hook interface {
	Notify(ctx context.Context, tenantShardID types.TenantShardId, attachedNode *types.Node, stripeSize uint32) error
}

type notifyPayload struct {
	TenantShardID string `json:"tenant_shard_id"`
	NodeID        string `json:"node_id"`
	PGHost        string `json:"pg_host"`
	PGPort        int    `json:"pg_port"`
	StripeSize    uint32 `json:"stripe_size"`
}

// HTTPHook POSTs the new location to a compute-management endpoint.
type HTTPHook struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPHook returns an HTTPHook posting to endpoint with the given timeout.
func NewHTTPHook(endpoint string, timeout time.Duration) *HTTPHook {
	return &HTTPHook{endpoint: endpoint, httpClient: &http.Client{Timeout: timeout}}
}

func (h *HTTPHook) Notify(ctx context.Context, id types.TenantShardId, node *types.Node, stripeSize uint32) error {
	payload := notifyPayload{TenantShardID: id.String(), StripeSize: stripeSize}
	if node != nil {
		payload.NodeID = string(node.ID)
		payload.PGHost = node.PGHost
		payload.PGPort = node.PGPort
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal compute notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build compute notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify compute hook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("compute hook returned status %d", resp.StatusCode)
}

// NoopHook is used by tests and deployments with no external compute
// fleet to notify.
type NoopHook struct{}

func (NoopHook) Notify(context.Context, types.TenantShardId, *types.Node, uint32) error { return nil }
