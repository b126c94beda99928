package storage

import (
	"context"
	"log"
	"time"
)

// RunJanitor periodically deletes terminal status rows older than ttl.
// It blocks until ctx is canceled. A ttl of zero means keep forever and
// the caller should not start the janitor at all.
func (s *Storage) RunJanitor(ctx context.Context, ttl, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.DeleteTerminalBefore(ctx, time.Now().UTC().Add(-ttl))
			if err != nil {
				log.Printf("[janitor] cleanup failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[janitor] removed %d expired status records", n)
			}
		}
	}
}
