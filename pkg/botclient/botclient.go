// Package botclient implements the chat front-end's contract to the broker:
// create a job, then poll until it settles or the wait budget runs out.
package botclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/codeready-toolchain/conveyor/pkg/client"
	"github.com/codeready-toolchain/conveyor/pkg/models"
)

// ErrAwaitTimeout is returned when the job does not settle within the wait
// budget; the job itself keeps running.
var ErrAwaitTimeout = errors.New("timed out waiting for job result")

// DefaultAwaitTimeout mirrors JOB_POLL_TIMEOUT_SEC.
const DefaultAwaitTimeout = 120 * time.Second

// Bot submits jobs on behalf of chat users and waits for their outcome.
type Bot struct {
	broker       *client.Client
	awaitTimeout time.Duration
}

// New creates a bot client. awaitTimeout <= 0 selects the default.
func New(brokerURL, botToken string, awaitTimeout time.Duration) *Bot {
	if awaitTimeout <= 0 {
		awaitTimeout = DefaultAwaitTimeout
	}
	return &Bot{
		broker:       client.New(brokerURL, botToken),
		awaitTimeout: awaitTimeout,
	}
}

// Submit creates a job and returns its id without waiting.
func (b *Bot) Submit(ctx context.Context, command, payload string, requires *string) (string, error) {
	return b.broker.CreateJob(ctx, command, payload, requires)
}

// Status fetches the job record for display.
func (b *Bot) Status(ctx context.Context, jobID string) (*models.Job, error) {
	return b.broker.GetJob(ctx, jobID)
}

// Await polls the job with exponential backoff (0.5s, 1s, then 2s capped)
// until it reaches a terminal state or the wait budget elapses.
func (b *Bot) Await(ctx context.Context, jobID string) (*models.Job, error) {
	waitCtx, cancel := context.WithTimeout(ctx, b.awaitTimeout)
	defer cancel()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.RandomizationFactor = 0
	policy.Multiplier = 2
	policy.MaxInterval = 2 * time.Second
	policy.MaxElapsedTime = 0

	var settled *models.Job
	operation := func() error {
		job, err := b.broker.GetJob(waitCtx, jobID)
		if err != nil {
			var statusErr *client.BrokerStatusError
			if errors.As(err, &statusErr) && !statusErr.Retryable() {
				return backoff.Permanent(err)
			}
			return err
		}
		if !job.Status.Terminal() {
			return fmt.Errorf("job %s still %s", jobID, job.Status)
		}
		settled = job
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(policy, waitCtx))
	if settled != nil {
		return settled, nil
	}
	if waitCtx.Err() != nil && ctx.Err() == nil {
		return nil, ErrAwaitTimeout
	}
	return nil, err
}

// Submit-and-await convenience used by chat command handlers.
func (b *Bot) Run(ctx context.Context, command, payload string, requires *string) (*models.Job, error) {
	id, err := b.Submit(ctx, command, payload, requires)
	if err != nil {
		return nil, err
	}
	return b.Await(ctx, id)
}
