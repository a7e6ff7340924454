package bootstrap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSweepSettings(t *testing.T) {
	t.Setenv("SWEEP_MIN_AGE_MINUTES", "")
	t.Setenv("SWEEP_BATCH_SIZE", "")
	assert.Equal(t, 30*time.Minute, SweepMinAge())
	assert.Equal(t, 200, SweepLimit())

	t.Setenv("SWEEP_MIN_AGE_MINUTES", "90")
	t.Setenv("SWEEP_BATCH_SIZE", "25")
	assert.Equal(t, 90*time.Minute, SweepMinAge())
	assert.Equal(t, 25, SweepLimit())
}
