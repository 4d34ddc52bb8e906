package input

import (
	"context"
	"fmt"
	"time"
)

// Source is a kill feed source. Next blocks up to the source's poll window
// and returns the raw payload of one delivery, or (nil, nil) when the window
// passed quietly.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// RateLimitError signals the feed asked the poller to back off. The poller
// treats it as scheduling information, not a failure.
type RateLimitError struct {
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("feed rate limited, retry after %s", e.RetryAfter)
}
