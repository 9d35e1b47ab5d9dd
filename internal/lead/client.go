package lead

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client fetches lead profiles and interaction history from the CRM
// over HTTP.
type Client struct {
	base string
	rest *resty.Client
}

// NewClient creates a CRM client.
func NewClient(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second)
	}
	r.SetRetryCount(2)
	r.SetRetryWaitTime(200 * time.Millisecond)
	return &Client{base: base, rest: r}
}

type leadResp struct {
	Profile      Profile       `json:"profile"`
	Interactions []Interaction `json:"interactions"`
	Error        string        `json:"error,omitempty"`
}

// GetLead resolves a lead id. A 404 from the CRM comes back as
// ErrUnknownLead so callers can classify it.
func (c *Client) GetLead(ctx context.Context, leadID string) (Profile, []Interaction, error) {
	out := &leadResp{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(out).
		Get(c.base + "/v1/leads/" + leadID)
	if err != nil {
		return Profile{}, nil, fmt.Errorf("crm: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return Profile{}, nil, fmt.Errorf("%w: %s", ErrUnknownLead, leadID)
	}
	if resp.IsError() {
		return Profile{}, nil, fmt.Errorf("crm: status %d", resp.StatusCode())
	}
	if out.Error != "" {
		return Profile{}, nil, fmt.Errorf("crm: %s", out.Error)
	}
	if out.Profile.ID == "" {
		return Profile{}, nil, fmt.Errorf("crm: lead %s returned without an id", leadID)
	}
	return out.Profile, out.Interactions, nil
}
