package bus

import (
	"context"
	"fmt"
	"time"
)

const logTTL = 7 * 24 * time.Hour

// logTag prefixes every log payload published on a build's channel so
// subscribers can tell it apart from the "END" sentinel on the same
// channel without a second round trip.
const logTag = "LOG"

func logKey(pkgbase string, ts int64) string {
	return fmt.Sprintf("build-logs:%s:%d", pkgbase, ts)
}

func logChannel(pkgbase string, ts int64) string {
	return fmt.Sprintf("build-logs.%s.%d", pkgbase, ts)
}

func defaultKey(pkgbase string) string {
	return fmt.Sprintf("build-logs:%s:default", pkgbase)
}

// AppendLog appends bytes to the stored log prefix and publishes the same
// bytes (tagged) on the log channel in a single pipelined round trip. That
// pipelining is what guarantees a subscriber who subscribes before reading
// the stored prefix can never observe a gap: the append that produced the
// bytes it's about to read and the publish of those same bytes are atomic
// from the bus's point of view relative to any other writer, since this
// sink is the only writer for a given (pkgbase, ts).
func (b *Bus) AppendLog(ctx context.Context, pkgbase string, ts int64, data []byte) error {
	key := logKey(pkgbase, ts)
	channel := logChannel(pkgbase, ts)

	pipe := b.client.Pipeline()
	pipe.Append(ctx, key, string(data))
	pipe.Publish(ctx, channel, append([]byte(logTag), data...))
	pipe.Expire(ctx, key, logTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// SetDefault marks ts as the current default build timestamp for pkgbase.
func (b *Bus) SetDefault(ctx context.Context, pkgbase string, ts int64) error {
	return b.Set(ctx, defaultKey(pkgbase), fmt.Sprintf("%d", ts), logTTL)
}

// DefaultTimestamp resolves the default build timestamp for pkgbase.
func (b *Bus) DefaultTimestamp(ctx context.Context, pkgbase string) (int64, bool, error) {
	val, ok, err := b.Get(ctx, defaultKey(pkgbase))
	if err != nil || !ok {
		return 0, ok, err
	}
	var ts int64
	if _, err := fmt.Sscanf(val, "%d", &ts); err != nil {
		return 0, false, err
	}
	return ts, true, nil
}

// EndLog publishes the "END" sentinel, signaling subscribers that no more
// log bytes will arrive for this build.
func (b *Bus) EndLog(ctx context.Context, pkgbase string, ts int64) error {
	return b.Publish(ctx, logChannel(pkgbase, ts), []byte("END"))
}

// LogPrefix returns the bytes stored so far for (pkgbase, ts).
func (b *Bus) LogPrefix(ctx context.Context, pkgbase string, ts int64) (string, bool, error) {
	return b.Get(ctx, logKey(pkgbase, ts))
}

// SubscribeLog subscribes to a build's log channel. Callers must subscribe
// before calling LogPrefix to preserve the gap-free read guarantee. The
// returned PubSub delivers raw payloads: either "LOG"-prefixed log bytes or
// the literal "END" sentinel — see SplitLogMessage/IsEnd below.
func (b *Bus) SubscribeLog(ctx context.Context, pkgbase string, ts int64) PubSub {
	return b.Subscribe(ctx, logChannel(pkgbase, ts))
}

// SplitLogMessage strips the log tag from a channel payload, reporting
// whether the payload was a log chunk (as opposed to the END sentinel).
func SplitLogMessage(payload string) (chunk string, isLog bool) {
	if len(payload) >= len(logTag) && payload[:len(logTag)] == logTag {
		return payload[len(logTag):], true
	}
	return "", false
}

// IsEnd reports whether a channel payload is the END sentinel.
func IsEnd(payload string) bool {
	return payload == "END"
}
