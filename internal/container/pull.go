package container

import (
	"context"
	"sync"
	"time"

	"github.com/chaotic-cx/chaotic-manager-sub000/logger"
)

const pullRefreshInterval = 2 * time.Hour

// pullScheduler arms a recurring background pull so a long-lived builder
// picks up new builder_image tags without a restart. It's embedded by both
// engine implementations rather than duplicated.
type pullScheduler struct {
	mu        sync.Mutex
	pullOnce  func(ctx context.Context, name string) error
	logger    logger.Logger
	lastImage string
	cancel    context.CancelFunc
}

func newPullScheduler(l logger.Logger, pullOnce func(ctx context.Context, name string) error) *pullScheduler {
	return &pullScheduler{logger: l, pullOnce: pullOnce}
}

func (p *pullScheduler) schedule(ctx context.Context, name string) {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	if name == "" {
		name = p.lastImage
	}
	p.lastImage = name
	timerCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	if err := p.pullOnce(ctx, name); err != nil {
		p.logger.Warn("scheduled pull of %s failed: %v", name, err)
	}

	go p.loop(timerCtx, name)
}

func (p *pullScheduler) loop(ctx context.Context, name string) {
	ticker := time.NewTicker(pullRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.pullOnce(ctx, name); err != nil {
				p.logger.Warn("scheduled pull of %s failed: %v", name, err)
			}
		}
	}
}
