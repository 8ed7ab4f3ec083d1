// Package rpc talks to the downstream chain node(s) that confirm pool
// solutions, adapting the pool's multi-upstream failover manager to a
// single read-only query instead of full node RPC.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aleo-pool/zkpool/internal/accounting"
	"github.com/aleo-pool/zkpool/internal/util"
)

// endpoint tracks the health of one oracle base URL, mirroring the
// pool's existing upstream health bookkeeping.
type endpoint struct {
	name    string
	baseURL string
	client  *http.Client

	mu        sync.RWMutex
	healthy   bool
	failCount int32
}

// OracleClient implements accounting.Oracle against one or more
// downstream node endpoints, failing over to the next healthy endpoint
// when the active one errors.
type OracleClient struct {
	endpoints []*endpoint
	activeIdx int32

	maxFailures int32
}

var _ accounting.Oracle = (*OracleClient)(nil)

// NewOracleClient builds a client over baseURLs, each expected to serve
// GET {base}/commitment?commitment=<hex>. The first URL is tried first;
// later ones are used only on failover. timeout bounds each HTTP call.
func NewOracleClient(baseURLs []string, timeout time.Duration) (*OracleClient, error) {
	if len(baseURLs) == 0 {
		return nil, fmt.Errorf("rpc: at least one oracle endpoint is required")
	}

	c := &OracleClient{maxFailures: 3}
	for _, raw := range baseURLs {
		if _, err := url.Parse(raw); err != nil {
			return nil, fmt.Errorf("rpc: invalid oracle endpoint %q: %w", raw, err)
		}
		c.endpoints = append(c.endpoints, &endpoint{
			name:    raw,
			baseURL: raw,
			client:  &http.Client{Timeout: timeout},
			healthy: true,
		})
	}
	return c, nil
}

// commitmentResponse mirrors the oracle's wire reply exactly: either a
// bare JSON null (rejected) or an object carrying height/reward
// (accepted). There is no separate "valid" flag on the wire; validity is
// the presence of the object itself.
type commitmentResponse struct {
	Height uint64 `json:"height"`
	Reward uint64 `json:"reward"`
}

// CheckCommitment queries the active endpoint for commitment's status,
// failing over to the next healthy endpoint on error. A nil result
// means the commitment is not a confirmed valid solution.
func (c *OracleClient) CheckCommitment(ctx context.Context, commitment string) (*accounting.OracleResult, error) {
	idx := atomic.LoadInt32(&c.activeIdx)
	if idx < 0 || int(idx) >= len(c.endpoints) {
		idx = 0
	}

	var lastErr error
	tried := make(map[int]bool)
	for i := 0; i < len(c.endpoints); i++ {
		pos := (int(idx) + i) % len(c.endpoints)
		if tried[pos] {
			continue
		}
		tried[pos] = true

		ep := c.endpoints[pos]
		if i > 0 && !ep.isHealthy() {
			continue
		}

		result, err := c.queryEndpoint(ctx, ep, commitment)
		if err == nil {
			ep.recordSuccess()
			if int32(pos) != atomic.LoadInt32(&c.activeIdx) {
				atomic.StoreInt32(&c.activeIdx, int32(pos))
				util.Infof("rpc: oracle failover now using %s", ep.name)
			}
			return result, nil
		}

		lastErr = err
		ep.recordFailure(c.maxFailures)
	}

	return nil, fmt.Errorf("rpc: all oracle endpoints failed, last error: %w", lastErr)
}

func (c *OracleClient) queryEndpoint(ctx context.Context, ep *endpoint, commitment string) (*accounting.OracleResult, error) {
	reqURL := fmt.Sprintf("%s/commitment?commitment=%s", ep.baseURL, url.QueryEscape(commitment))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := ep.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", ep.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d", ep.name, resp.StatusCode)
	}

	var body *commitmentResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", ep.name, err)
	}
	if body == nil {
		return nil, nil
	}
	return &accounting.OracleResult{Height: body.Height, Reward: body.Reward}, nil
}

func (e *endpoint) isHealthy() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.healthy
}

func (e *endpoint) recordSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failCount = 0
	e.healthy = true
}

func (e *endpoint) recordFailure(maxFailures int32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failCount++
	if e.failCount >= maxFailures && e.healthy {
		e.healthy = false
		util.Warnf("rpc: oracle endpoint %s marked unhealthy after %d failures", e.name, e.failCount)
	}
}
