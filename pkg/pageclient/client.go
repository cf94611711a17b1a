// Package pageclient is the narrow interface the controller uses to
// call a pageserver's management API, plus an HTTP/JSON implementation.
// See DESIGN.md for why HTTP+JSON rather than gRPC.
package pageclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/stormctl/pkg/types"
)

// Client is the narrow interface the controller requires of a
// pageserver's management API.
type Client interface {
	LocationConfig(ctx context.Context, node *types.Node, tenantShardID types.TenantShardId, cfg types.LocationConfig) error
	ListLocationConfig(ctx context.Context, node *types.Node) (map[string]types.LocationConfig, error)
	HeatmapUpload(ctx context.Context, node *types.Node, tenantShardID types.TenantShardId) error
	SecondaryDownload(ctx context.Context, node *types.Node, tenantShardID types.TenantShardId) error
	ScanRemoteStorage(ctx context.Context, node *types.Node, tenant types.TenantId) (map[types.TenantShardId]types.Generation, error)
	TimeTravelRemoteStorage(ctx context.Context, node *types.Node, tenantShardID types.TenantShardId, timestamp time.Time) error
	TenantDelete(ctx context.Context, node *types.Node, tenantShardID types.TenantShardId) error
	TenantShardSplit(ctx context.Context, node *types.Node, tenantShardID types.TenantShardId, newShardCount types.ShardCount, newStripeSize uint32) ([]types.TenantShardId, error)
	SecondaryStatus(ctx context.Context, node *types.Node, tenantShardID types.TenantShardId) (types.SecondaryProgress, error)
	TopTenantShards(ctx context.Context, node *types.Node) ([]types.TopTenantShardItem, error)
}

// HTTPClient is the production implementation: bounded per-attempt
// timeouts, retry-with-backoff on 503/timeout, and non-2xx responses
// returned as *StatusError carrying the status code and body.
type HTTPClient struct {
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
}

// NewHTTPClient returns an HTTPClient with the given per-attempt timeout,
// retry budget, and initial backoff (doubled on each retry).
func NewHTTPClient(timeout time.Duration, maxRetries int, backoff time.Duration) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

// StatusError wraps a non-2xx pageserver response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("pageserver returned %d: %s", e.StatusCode, e.Body)
}

// retryable reports whether a status code should be retried
// (ResourceUnavailable=503, Timeout=504).
func retryable(status int) bool {
	return status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout
}

func (c *HTTPClient) doJSON(ctx context.Context, method, url string, body any, out any) error {
	var payload []byte
	var err error
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	backoff := c.backoff
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request %s %s: %w", method, url, err)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			defer resp.Body.Close()
			if out != nil {
				if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
					return fmt.Errorf("decode response from %s: %w", url, err)
				}
			}
			return nil
		}

		buf := make([]byte, 512)
		n, _ := resp.Body.Read(buf)
		resp.Body.Close()
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(buf[:n])}
		if retryable(resp.StatusCode) {
			lastErr = statusErr
			continue
		}
		return statusErr
	}
	return fmt.Errorf("exhausted retries against %s: %w", url, lastErr)
}

func (c *HTTPClient) LocationConfig(ctx context.Context, node *types.Node, id types.TenantShardId, cfg types.LocationConfig) error {
	url := fmt.Sprintf("%s/v1/tenant/%s/location_config", node.Address(), id.String())
	return c.doJSON(ctx, http.MethodPut, url, cfg, nil)
}

func (c *HTTPClient) ListLocationConfig(ctx context.Context, node *types.Node) (map[string]types.LocationConfig, error) {
	url := fmt.Sprintf("%s/v1/location_config", node.Address())
	var out map[string]types.LocationConfig
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) HeatmapUpload(ctx context.Context, node *types.Node, id types.TenantShardId) error {
	url := fmt.Sprintf("%s/v1/tenant/%s/heatmap_upload", node.Address(), id.String())
	return c.doJSON(ctx, http.MethodPost, url, nil, nil)
}

func (c *HTTPClient) SecondaryDownload(ctx context.Context, node *types.Node, id types.TenantShardId) error {
	url := fmt.Sprintf("%s/v1/tenant/%s/secondary/download", node.Address(), id.String())
	return c.doJSON(ctx, http.MethodPost, url, nil, nil)
}

func (c *HTTPClient) ScanRemoteStorage(ctx context.Context, node *types.Node, tenant types.TenantId) (map[types.TenantShardId]types.Generation, error) {
	url := fmt.Sprintf("%s/v1/tenant/%s/scan_remote_storage", node.Address(), tenant)
	var raw map[string]uint32
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &raw); err != nil {
		return nil, err
	}
	out := make(map[types.TenantShardId]types.Generation, len(raw))
	for k, v := range raw {
		id, err := types.ParseTenantShardId(k)
		if err != nil {
			return nil, fmt.Errorf("scan_remote_storage: %w", err)
		}
		out[id] = types.NewGeneration(v)
	}
	return out, nil
}

func (c *HTTPClient) TimeTravelRemoteStorage(ctx context.Context, node *types.Node, id types.TenantShardId, timestamp time.Time) error {
	url := fmt.Sprintf("%s/v1/tenant/%s/time_travel_remote_storage?timestamp=%s", node.Address(), id.String(), timestamp.Format(time.RFC3339))
	return c.doJSON(ctx, http.MethodPut, url, nil, nil)
}

func (c *HTTPClient) TenantDelete(ctx context.Context, node *types.Node, id types.TenantShardId) error {
	url := fmt.Sprintf("%s/v1/tenant/%s", node.Address(), id.String())
	return c.doJSON(ctx, http.MethodDelete, url, nil, nil)
}

type tenantShardSplitRequest struct {
	NewShardCount types.ShardCount `json:"new_shard_count"`
	NewStripeSize uint32           `json:"new_stripe_size,omitempty"`
}

type tenantShardSplitResponse struct {
	NewShards []string `json:"new_shards"`
}

func (c *HTTPClient) TenantShardSplit(ctx context.Context, node *types.Node, id types.TenantShardId, newShardCount types.ShardCount, newStripeSize uint32) ([]types.TenantShardId, error) {
	url := fmt.Sprintf("%s/v1/tenant/%s/shard_split", node.Address(), id.String())
	var out tenantShardSplitResponse
	req := tenantShardSplitRequest{NewShardCount: newShardCount, NewStripeSize: newStripeSize}
	if err := c.doJSON(ctx, http.MethodPut, url, req, &out); err != nil {
		return nil, err
	}
	ids := make([]types.TenantShardId, 0, len(out.NewShards))
	for _, raw := range out.NewShards {
		id, err := types.ParseTenantShardId(raw)
		if err != nil {
			return nil, fmt.Errorf("shard_split response: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *HTTPClient) SecondaryStatus(ctx context.Context, node *types.Node, id types.TenantShardId) (types.SecondaryProgress, error) {
	url := fmt.Sprintf("%s/v1/tenant/%s/secondary/status", node.Address(), id.String())
	var out types.SecondaryProgress
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &out); err != nil {
		return types.SecondaryProgress{}, err
	}
	return out, nil
}

type topTenantShardsRequest struct {
	OrderBy string `json:"order_by"`
	Limit   int    `json:"limit"`
}

func (c *HTTPClient) TopTenantShards(ctx context.Context, node *types.Node) ([]types.TopTenantShardItem, error) {
	url := fmt.Sprintf("%s/v1/top_tenant_shards", node.Address())
	var out []types.TopTenantShardItem
	req := topTenantShardsRequest{OrderBy: "max_logical_size", Limit: 10}
	if err := c.doJSON(ctx, http.MethodPost, url, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}
