// Package client provides the broker HTTP client used by workers and bots.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"

	"github.com/codeready-toolchain/conveyor/pkg/models"
)

// Terminal POST retry schedule: three attempts, waiting 0.5s and then 1.0s
// between them.
const (
	terminalPostAttempts = 3
	terminalPostInitial  = 500 * time.Millisecond
)

// BrokerStatusError is a non-2xx broker response. 4xx responses are
// authoritative decisions and are never retried.
type BrokerStatusError struct {
	StatusCode int
	Body       string
}

func (e *BrokerStatusError) Error() string {
	return fmt.Sprintf("broker returned %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *BrokerStatusError) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

// Client talks to the broker API.
type Client struct {
	rest *resty.Client
}

// New creates a bot-facing client authenticated with the bot token.
func New(baseURL, botToken string) *Client {
	return &Client{rest: newRest(baseURL).SetHeader("X-Bot-Token", botToken)}
}

// NewWorker creates a worker-facing client that presents the worker token,
// identity and capability set on every request.
func NewWorker(baseURL, workerToken, workerID string, caps []string) *Client {
	rest := newRest(baseURL).SetHeader("X-Worker-Token", workerToken)
	if workerID != "" {
		rest.SetHeader("X-Worker-Id", workerID)
	}
	if len(caps) > 0 {
		raw, _ := json.Marshal(caps)
		rest.SetHeader("X-Worker-Caps", string(raw))
	}
	return &Client{rest: rest}
}

func newRest(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json")
}

type claimResponse struct {
	Job *models.Job `json:"job"`
}

type createResponse struct {
	ID     string        `json:"id"`
	Status models.Status `json:"status"`
}

// CreateJob submits a new job and returns its id.
func (c *Client) CreateJob(ctx context.Context, command, payload string, requires *string) (string, error) {
	body := map[string]any{"command": command, "payload": payload, "requires": requires}
	var out createResponse
	resp, err := c.rest.R().SetContext(ctx).SetBody(body).SetResult(&out).Post("/jobs")
	if err != nil {
		return "", fmt.Errorf("create request failed: %w", err)
	}
	if resp.IsError() {
		return "", &BrokerStatusError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return out.ID, nil
}

// GetJob fetches a full job record.
func (c *Client) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	resp, err := c.rest.R().SetContext(ctx).SetResult(&job).Get("/jobs/" + id)
	if err != nil {
		return nil, fmt.Errorf("get request failed: %w", err)
	}
	if resp.IsError() {
		return nil, &BrokerStatusError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return &job, nil
}

// NextJob claims the next matching job; nil means the queue had nothing for
// this worker.
func (c *Client) NextJob(ctx context.Context) (*models.Job, error) {
	var out claimResponse
	resp, err := c.rest.R().SetContext(ctx).SetResult(&out).Get("/jobs/next")
	if err != nil {
		return nil, fmt.Errorf("claim request failed: %w", err)
	}
	if resp.IsError() {
		return nil, &BrokerStatusError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return out.Job, nil
}

// PostResult posts a terminal success with the retry schedule.
func (c *Client) PostResult(ctx context.Context, jobID, result string) error {
	return c.postTerminal(ctx, "/jobs/"+jobID+"/result", map[string]string{"result": result})
}

// PostFail posts a terminal failure with the retry schedule.
func (c *Client) PostFail(ctx context.Context, jobID, errMsg string) error {
	return c.postTerminal(ctx, "/jobs/"+jobID+"/fail", map[string]string{"error": errMsg})
}

// postTerminal retries on 5xx and transport errors; a 4xx is the broker's
// authoritative decision and aborts immediately. If every attempt fails the
// lease will expire and the job is requeued.
func (c *Client) postTerminal(ctx context.Context, path string, body map[string]string) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = terminalPostInitial
	policy.RandomizationFactor = 0
	policy.Multiplier = 2
	policy.MaxElapsedTime = 0

	operation := func() error {
		resp, err := c.rest.R().SetContext(ctx).SetBody(body).Post(path)
		if err != nil {
			return fmt.Errorf("terminal post failed: %w", err)
		}
		if resp.IsError() {
			statusErr := &BrokerStatusError{StatusCode: resp.StatusCode(), Body: resp.String()}
			if !statusErr.Retryable() {
				return backoff.Permanent(statusErr)
			}
			return statusErr
		}
		return nil
	}

	return backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, terminalPostAttempts-1), ctx))
}
