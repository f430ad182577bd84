package telegram

import (
	"context"
	"time"
)

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// HandlerFunc receives inbound text messages in arrival order.
type HandlerFunc func(ctx context.Context, msg Message)

// Poll long-polls getUpdates and dispatches every text message to handle
// until ctx is cancelled. Transport errors are logged and retried with
// exponential backoff.
func (c *Client) Poll(ctx context.Context, handle HandlerFunc) error {
	var offset int64
	backoff := minBackoff

	c.logger.Info().Msg("polling for updates")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		updates, err := c.GetUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("getUpdates failed")
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = minBackoff

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if u.Message == nil || u.Message.Text == "" {
				continue
			}
			handle(ctx, *u.Message)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
