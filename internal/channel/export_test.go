package channel

import (
	"context"
	"time"
)

// SetWait replaces the backoff sleep for tests.
func SetWait(c *Channel, fn func(ctx context.Context, d time.Duration) error) { c.wait = fn }
