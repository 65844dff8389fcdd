// Package scanner is the runtime of the scanner CLI: it resolves scanned
// text, submits it to the ingestion endpoint and parks submissions that
// could not be confirmed in the offline queue.
package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/okian/timebank/internal/adapters/mq/queue"
)

const (
	defaultTimeout = 10 * time.Second
	maxReplyBody   = 64 << 10
)

// Response is the decoded reply of POST /api/scan.
type Response struct {
	Status     int    `json:"-"`
	OK         bool   `json:"ok"`
	Duplicated bool   `json:"duplicated"`
	ActivityID string `json:"activityId"`
	Error      string `json:"error"`
}

// Client talks to the ingestion endpoint.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) {
		if d > 0 {
			cl.http.Timeout = d
		}
	}
}

// NewClient creates a client for baseURL authenticating with token.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		http:    &http.Client{Timeout: defaultTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type scanBody struct {
	BoothID       string `json:"b,omitempty"`
	Code          string `json:"code,omitempty"`
	ClientEventID string `json:"client_event_id"`
}

// Post submits it once. Transport failures and timeouts are returned as
// errors; any HTTP reply is returned as a Response.
func (c *Client) Post(ctx context.Context, it queue.Item) (Response, error) {
	payload, err := json.Marshal(scanBody{BoothID: it.BoothID, Code: it.Code, ClientEventID: it.ClientEventID})
	if err != nil {
		return Response{}, fmt.Errorf("marshal scan: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/scan", bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("post scan: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBody))
	if err != nil {
		return Response{}, fmt.Errorf("read reply: %w", err)
	}
	out := Response{Status: resp.StatusCode}
	if err := json.Unmarshal(body, &out); err != nil && resp.StatusCode < http.StatusInternalServerError {
		return out, fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode)
	}
	return out, nil
}

// Submit implements queue.Submitter.
func (c *Client) Submit(ctx context.Context, it queue.Item) (queue.Outcome, error) {
	resp, err := c.Post(ctx, it)
	if err != nil {
		return queue.OutcomeTransient, err
	}
	return Classify(resp), nil
}

// Classify maps a reply to a queue outcome. Validation, unknown and inactive
// booth replies are reported as rejected; the queue still keeps them.
func Classify(resp Response) queue.Outcome {
	switch {
	case resp.Status >= 200 && resp.Status < 300 && resp.OK:
		return queue.OutcomeAccepted
	case resp.Status >= http.StatusInternalServerError,
		resp.Status == http.StatusTooManyRequests,
		resp.Status == http.StatusUnauthorized:
		return queue.OutcomeTransient
	case resp.Status >= http.StatusBadRequest:
		return queue.OutcomeRejected
	default:
		return queue.OutcomeTransient
	}
}

// ShouldQueue reports whether a direct submission belongs in the offline
// queue: only transport failures, timeouts and server errors qualify.
func ShouldQueue(resp Response, err error) bool {
	if err != nil {
		return !errors.Is(err, ErrBadResponse)
	}
	return resp.Status >= http.StatusInternalServerError
}

// Healthy probes GET /healthz.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", http.NoBody)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxReplyBody))
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
