package meeting

import (
	"context"
	"time"
)

// runTimer emits a Tick with the session's elapsed time while it is recording.
func (c *Controller) runTimer(ctx context.Context, s *session) {
	ticker := time.NewTicker(c.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(s)
		}
	}
}

func (c *Controller) tick(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != s || s.state != StateRecording {
		return
	}
	c.notifier.Tick(s.id, s.elapsed(c.clock()))
}
