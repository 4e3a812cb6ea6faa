package retry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tether/internal/retry"
)

func TestBackoff_NonDecreasingUpToMax(t *testing.T) {
	p := retry.Policy{Min: 10 * time.Millisecond, Max: 80 * time.Millisecond, Factor: 2, MaxAttempts: 6}
	b := p.Backoff()

	var prev time.Duration
	for i := 0; i < p.Attempts(); i++ {
		d := b.Duration()
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, p.Max)
		prev = d
	}
	assert.Equal(t, p.Max, prev)

	b.Reset()
	assert.Equal(t, p.Min, b.Duration())
}

func TestPolicy_Defaults(t *testing.T) {
	var p retry.Policy
	assert.Equal(t, retry.DefaultPolicy().MaxAttempts, p.Attempts())
	assert.Equal(t, retry.DefaultPolicy().Min, p.Backoff().Duration())
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, retry.Sleep(ctx, time.Hour), context.Canceled)
}
