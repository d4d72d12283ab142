package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewFromClient(client)
}

// TestLogStreamGapFree verifies the subscribe-then-read-prefix protocol: a
// subscriber that subscribes before reading the stored prefix sees every
// chunk exactly once, in order, regardless of how much was already
// appended before it subscribed (spec.md testable property 4).
func TestLogStreamGapFree(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()
	const pkgbase, ts = "foo", int64(1000)

	require.NoError(t, b.AppendLog(ctx, pkgbase, ts, []byte("line one\n")))

	sub := b.SubscribeLog(ctx, pkgbase, ts)
	defer sub.Close()
	// Let the subscription register with miniredis before publishing more.
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	prefix, ok, err := b.LogPrefix(ctx, pkgbase, ts)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "line one\n", prefix)

	require.NoError(t, b.AppendLog(ctx, pkgbase, ts, []byte("line two\n")))
	require.NoError(t, b.EndLog(ctx, pkgbase, ts))

	var got []string
	ch := sub.Channel()
	for i := 0; i < 2; i++ {
		select {
		case msg := <-ch:
			if IsEnd(msg.Payload) {
				break
			}
			chunk, isLog := SplitLogMessage(msg.Payload)
			require.True(t, isLog)
			got = append(got, chunk)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for log message")
		}
	}
	require.Equal(t, []string{"line two\n"}, got)
}

func TestDefaultTimestampRoundTrip(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	_, ok, err := b.DefaultTimestamp(ctx, "nope")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, b.SetDefault(ctx, "foo", 42))
	ts, ok, err := b.DefaultTimestamp(ctx, "foo")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(42), ts)
}

func TestSplitLogMessageAndIsEnd(t *testing.T) {
	chunk, isLog := SplitLogMessage("LOGhello")
	require.True(t, isLog)
	require.Equal(t, "hello", chunk)

	_, isLog = SplitLogMessage("nope")
	require.False(t, isLog)

	require.True(t, IsEnd("END"))
	require.False(t, IsEnd("LOGEND"))
}
