package jobqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_IsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		job       *Job
		retryable bool
	}{
		{"Failed job with retries remaining", &Job{Status: JobStatusFailed, RetryCount: 1, MaxRetries: 3}, true},
		{"Failed job with no retries remaining", &Job{Status: JobStatusFailed, RetryCount: 3, MaxRetries: 3}, false},
		{"Completed job", &Job{Status: JobStatusCompleted, RetryCount: 1, MaxRetries: 3}, false},
		{"Pending job", &Job{Status: JobStatusPending, MaxRetries: 3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.job.IsRetryable())
		})
	}
}

func TestJob_Lifecycle(t *testing.T) {
	job := &Job{Status: JobStatusPending, MaxRetries: 3}

	before := time.Now()
	job.MarkAsProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	require.NotNil(t, job.ProcessedAt)
	assert.False(t, job.ProcessedAt.Before(before))

	job.MarkAsFailed("gateway unavailable")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "gateway unavailable", job.ErrorMsg)
	assert.Equal(t, 1, job.RetryCount)
	assert.True(t, job.IsRetryable())

	job.MarkAsRetrying()
	assert.Equal(t, JobStatusRetrying, job.Status)

	job.MarkAsCompleted()
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Empty(t, job.ErrorMsg)
	assert.NotNil(t, job.CompletedAt)
}

func TestJob_RetryDelay(t *testing.T) {
	base := time.Minute
	assert.Equal(t, time.Minute, (&Job{RetryCount: 1}).RetryDelay(base))
	assert.Equal(t, 2*time.Minute, (&Job{RetryCount: 2}).RetryDelay(base))
	assert.Equal(t, 8*time.Minute, (&Job{RetryCount: 4}).RetryDelay(base))
	assert.Equal(t, time.Hour, (&Job{RetryCount: 20}).RetryDelay(base))
}

func TestReleaseJobPayloadFromMap(t *testing.T) {
	payload := ReleaseJobPayload{Token: "T123", CorrelationID: "listing-1"}

	got, err := ReleaseJobPayloadFromMap(payload.ToMap())
	require.NoError(t, err)
	assert.Equal(t, payload, *got)

	_, err = ReleaseJobPayloadFromMap(map[string]interface{}{"token": 42})
	assert.Error(t, err)
}
