package contxt

import (
	"context"
	"time"
)

// NewContext returns a background context bounded by timeout, used by cron
// jobs that have no request context of their own.
func NewContext(timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ctx
}
