package jobqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
)

// ReleaseMaxRetries bounds release retries; with the default base the last
// attempt runs roughly a day after the first failure.
const ReleaseMaxRetries = 10

// Releaser finalizes a captured gateway transaction.
type Releaser interface {
	Release(ctx context.Context, token string) error
}

// RegisterReleaseHandler wires release jobs to r.
func (q *Queue) RegisterReleaseHandler(r Releaser) {
	q.Handle(JobTypeGatewayRelease, func(ctx context.Context, job *Job) error {
		payload, err := ReleaseJobPayloadFromMap(job.Payload)
		if err != nil {
			return fmt.Errorf("invalid release payload: %w", err)
		}
		if payload.Token == "" {
			return errors.New("release payload without token")
		}
		if err := r.Release(ctx, payload.Token); err != nil {
			return err
		}
		log.Infof("[JobQueue] Released gateway transaction token=%s order=%s on attempt %d",
			payload.Token, payload.CorrelationID, job.RetryCount+1)
		return nil
	})
}

// EnqueueRelease schedules a release retry.
func (q *Queue) EnqueueRelease(ctx context.Context, token, correlationID string) error {
	_, err := q.EnqueueJob(ctx, JobTypeGatewayRelease, ReleaseJobPayload{
		Token:         token,
		CorrelationID: correlationID,
	}.ToMap(), ReleaseMaxRetries)
	return err
}
