package scan

import "context"

// Loop is a single goroutine that owns world access. It stands in for the
// game's main thread when the engine runs as a standalone daemon.
type Loop struct {
	jobs chan func()
}

func NewLoop(buffer int) *Loop {
	if buffer < 0 {
		buffer = 0
	}
	return &Loop{jobs: make(chan func(), buffer)}
}

// Run executes queued functions until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.jobs:
			fn()
		}
	}
}

// Do queues fn and waits for it. A cancelled wait does not unqueue fn.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case l.jobs <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
