// Package remoteperspective provides a concrete, swappable implementation of
// dispatch.RemoteCaller: an HTTP client that POSTs a CheckRequest to a remote
// perspective's check endpoint and decodes its CheckResponse.
package remoteperspective

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cablabs/mpic-coordinator/internal/mpictypes"
)

// Client calls remote perspectives over HTTP. Each known perspective must
// have an entry in Endpoints mapping its wire code ("arin.us-east-1") to a
// base URL; Client appends "/caa" or "/dcv" depending on check type.
type Client struct {
	Endpoints  map[string]string
	HTTPClient *http.Client
}

// NewClient builds a Client with a sane default timeout. Callers that need a
// different timeout or transport should set HTTPClient directly afterward.
func NewClient(endpoints map[string]string) *Client {
	return &Client{
		Endpoints:  endpoints,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Call implements dispatch.RemoteCaller.
func (c *Client) Call(ctx context.Context, perspectiveCode string, checkType mpictypes.CheckType, req mpictypes.CheckRequest) (mpictypes.CheckResponse, error) {
	base, ok := c.Endpoints[perspectiveCode]
	if !ok {
		return mpictypes.CheckResponse{}, fmt.Errorf("no endpoint configured for perspective %q", perspectiveCode)
	}

	path := "/caa"
	if checkType == mpictypes.CheckTypeDCV {
		path = "/dcv"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return mpictypes.CheckResponse{}, fmt.Errorf("marshal check request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(body))
	if err != nil {
		return mpictypes.CheckResponse{}, fmt.Errorf("build request to %s: %w", perspectiveCode, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return mpictypes.CheckResponse{}, fmt.Errorf("call perspective %s: %w", perspectiveCode, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return mpictypes.CheckResponse{}, fmt.Errorf("perspective %s returned status %d", perspectiveCode, resp.StatusCode)
	}

	var out mpictypes.CheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return mpictypes.CheckResponse{}, fmt.Errorf("decode response from %s: %w", perspectiveCode, err)
	}
	return out, nil
}
