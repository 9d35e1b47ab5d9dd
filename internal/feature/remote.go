package feature

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"leadscore-engine/internal/lead"
)

// RemoteClient fetches feature vectors from the CRM's feature service
// over HTTP. Used when feature derivation lives outside this process.
type RemoteClient struct {
	base string
	rest *resty.Client
}

// NewRemoteClient creates a feature-service client.
func NewRemoteClient(base string, timeout time.Duration) *RemoteClient {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second)
	}
	r.SetRetryCount(2)
	r.SetRetryWaitTime(200 * time.Millisecond)
	return &RemoteClient{base: base, rest: r}
}

type extractReq struct {
	Profile      lead.Profile       `json:"profile"`
	Interactions []lead.Interaction `json:"interactions"`
}

type extractResp struct {
	Features []float64 `json:"features"`
	Error    string    `json:"error,omitempty"`
}

// Extract implements Extractor against the remote service. The service
// must return a vector of exactly Size values in the documented order.
func (c *RemoteClient) Extract(p lead.Profile, interactions []lead.Interaction) (Vector, error) {
	out := &extractResp{}
	resp, err := c.rest.R().
		SetBody(extractReq{Profile: p, Interactions: interactions}).
		SetResult(out).
		Post(c.base + "/v1/features/extract")
	if err != nil {
		return nil, fmt.Errorf("feature service: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("feature service: status %d", resp.StatusCode())
	}
	if out.Error != "" {
		return nil, fmt.Errorf("feature service: %s", out.Error)
	}
	if len(out.Features) != Size {
		return nil, fmt.Errorf("feature service: expected %d features, got %d", Size, len(out.Features))
	}
	return Vector(out.Features), nil
}
