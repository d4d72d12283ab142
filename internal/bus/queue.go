package bus

import "context"

const buildQueueKey = "build-queue"

// SaveBuildQueue persists the raw JSON envelope for the build queue.
func (b *Bus) SaveBuildQueue(ctx context.Context, payload []byte) error {
	return b.Set(ctx, buildQueueKey, string(payload), 0)
}

// LoadBuildQueue reads the raw JSON envelope, reporting false when absent.
func (b *Bus) LoadBuildQueue(ctx context.Context) ([]byte, bool, error) {
	val, ok, err := b.Get(ctx, buildQueueKey)
	if err != nil || !ok {
		return nil, ok, err
	}
	return []byte(val), true, nil
}
