package messaging_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/denismitr/voltha/messaging"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type inbox struct {
	mu   sync.Mutex
	msgs []*messaging.Message
}

func (in *inbox) handle(ctx context.Context, msg *messaging.Message) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.msgs = append(in.msgs, msg)
}

func (in *inbox) len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.msgs)
}

func (in *inbox) at(i int) *messaging.Message {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.msgs[i]
}

// echo answers every request on topic with its rpc name and first argument
func echo(t *testing.T, bus *messaging.Bus, topic string) {
	t.Helper()

	unsubscribe, err := bus.Subscribe(topic, func(ctx context.Context, msg *messaging.Message) {
		req, err := msg.DecodeRequest()
		if err != nil {
			return
		}

		var value string
		if len(req.Args) > 0 {
			_ = req.Args[0].Decode(&value)
		}

		resp, err := messaging.NewResponse(msg, value != "fail", map[string]string{"rpc": req.Rpc, "value": value})
		if err != nil {
			return
		}
		_ = bus.Send(ctx, req.ReplyToTopic, resp)
	})
	require.NoError(t, err)
	t.Cleanup(unsubscribe)
}

func TestBus(t *testing.T) {
	ctx := context.Background()

	t.Run("it delivers messages to topic subscribers", func(t *testing.T) {
		bus := messaging.NewBus("adapter", zaptest.NewLogger(t))
		defer bus.Close()

		first, second := &inbox{}, &inbox{}
		_, err := bus.Subscribe("events", first.handle)
		require.NoError(t, err)
		_, err = bus.Subscribe("events", second.handle)
		require.NoError(t, err)

		msg, err := messaging.NewEvent(messaging.DeviceDiscoveredType, "adapter", "events", map[string]string{"id": "onu-1"})
		require.NoError(t, err)
		require.NoError(t, bus.Send(ctx, "events", msg))

		assert.Eventually(t, func() bool { return first.len() == 1 && second.len() == 1 }, time.Second, 5*time.Millisecond)
		got := first.at(0)
		assert.Equal(t, msg.Header.ID, got.Header.ID)
		assert.Equal(t, messaging.DeviceDiscoveredType, got.Header.Type)
		assert.JSONEq(t, `{"id":"onu-1"}`, string(got.Body))
	})

	t.Run("it keeps the order of a topic", func(t *testing.T) {
		bus := messaging.NewBus("adapter", nil)
		defer bus.Close()

		in := &inbox{}
		_, err := bus.Subscribe("heartbeat", in.handle)
		require.NoError(t, err)

		var ids []string
		for i := 0; i < 20; i++ {
			msg, err := messaging.NewEvent(messaging.HeartbeatType, "adapter", "heartbeat", i)
			require.NoError(t, err)
			ids = append(ids, msg.Header.ID)
			require.NoError(t, bus.Send(ctx, "heartbeat", msg))
		}

		assert.Eventually(t, func() bool { return in.len() == 20 }, time.Second, 5*time.Millisecond)
		for i, id := range ids {
			assert.Equal(t, id, in.at(i).Header.ID)
		}
	})

	t.Run("it drops messages nobody listens to", func(t *testing.T) {
		bus := messaging.NewBus("adapter", nil)
		defer bus.Close()

		msg, err := messaging.NewEvent(messaging.HeartbeatType, "adapter", "nowhere", nil)
		require.NoError(t, err)
		require.NoError(t, bus.Send(ctx, "nowhere", msg))

		assert.Equal(t, int64(1), bus.Stats().Dropped)
	})

	t.Run("it stops delivering after unsubscribe", func(t *testing.T) {
		bus := messaging.NewBus("adapter", nil)
		defer bus.Close()

		in := &inbox{}
		unsubscribe, err := bus.Subscribe("events", in.handle)
		require.NoError(t, err)
		unsubscribe()
		unsubscribe()

		msg, err := messaging.NewEvent(messaging.HeartbeatType, "adapter", "events", nil)
		require.NoError(t, err)
		require.NoError(t, bus.Send(ctx, "events", msg))

		assert.Eventually(t, func() bool { return bus.Stats().Dropped == 1 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, 0, in.len())
	})

	t.Run("it correlates requests and responses", func(t *testing.T) {
		bus := messaging.NewBus("adapter", nil)
		defer bus.Close()
		echo(t, bus, "core")

		arg, err := messaging.NewArg("device_id", "onu-1")
		require.NoError(t, err)

		resp, err := bus.Request(ctx, "core", "GetDevice", arg)
		require.NoError(t, err)
		assert.True(t, resp.Success)

		var result map[string]string
		require.NoError(t, resp.Decode(&result))
		assert.Equal(t, map[string]string{"rpc": "GetDevice", "value": "onu-1"}, result)

		arg, err = messaging.NewArg("device_id", "fail")
		require.NoError(t, err)
		resp, err = bus.Request(ctx, "core", "GetDevice", arg)
		require.NoError(t, err)
		assert.False(t, resp.Success)

		stats := bus.Stats()
		assert.Equal(t, int64(2), stats.Requests)
		assert.Equal(t, int64(2), stats.Responses)
	})

	t.Run("it serves concurrent requests", func(t *testing.T) {
		bus := messaging.NewBus("adapter", nil)
		defer bus.Close()
		echo(t, bus, "core")

		var wg sync.WaitGroup
		errs := make(chan error, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				arg, _ := messaging.NewArg("n", string(rune('a'+i)))
				resp, err := bus.Request(ctx, "core", "Ping", arg)
				if err == nil && !resp.Success {
					err = errors.New("unsuccessful")
				}
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			assert.NoError(t, err)
		}
	})

	t.Run("it times out unanswered requests", func(t *testing.T) {
		bus := messaging.NewBus("adapter", nil)
		defer bus.Close()

		in := &inbox{}
		_, err := bus.Subscribe("core", in.handle)
		require.NoError(t, err)

		tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		_, err = bus.Request(tctx, "core", "GetDevice")
		assert.True(t, errors.Is(err, messaging.ErrTimeout))
		assert.Equal(t, int64(1), bus.Stats().Timeouts)
	})

	t.Run("it refuses work once closed", func(t *testing.T) {
		bus := messaging.NewBus("adapter", nil)
		_, err := bus.Subscribe("events", (&inbox{}).handle)
		require.NoError(t, err)

		bus.Close()
		bus.Close()

		_, err = bus.Subscribe("events", (&inbox{}).handle)
		assert.True(t, errors.Is(err, messaging.ErrClosed))

		_, err = bus.Request(ctx, "core", "GetDevice")
		assert.True(t, errors.Is(err, messaging.ErrClosed))
	})
}

func TestMessages(t *testing.T) {
	t.Run("it answers to the reply topic with the request id", func(t *testing.T) {
		req, err := messaging.NewRequest("adapter", "core", "GetPorts")
		require.NoError(t, err)

		resp, err := messaging.NewResponse(req, true, nil)
		require.NoError(t, err)

		assert.Equal(t, req.Header.ID, resp.Header.ID)
		assert.Equal(t, messaging.ResponseType, resp.Header.Type)
		assert.Equal(t, "adapter", resp.Header.ToTopic)
		assert.Equal(t, "core", resp.Header.FromTopic)
	})

	t.Run("it reports missing arguments", func(t *testing.T) {
		var s string
		err := messaging.Arg{Key: "device"}.Decode(&s)
		assert.True(t, errors.Is(err, messaging.ErrMissingArg))

		assert.True(t, messaging.Arg{Key: "device", Value: []byte("null")}.IsEmpty())
		assert.False(t, messaging.Arg{Key: "device", Value: []byte(`"x"`)}.IsEmpty())
	})

	t.Run("it decodes only requests", func(t *testing.T) {
		msg, err := messaging.NewEvent(messaging.HeartbeatType, "a", "b", nil)
		require.NoError(t, err)

		_, err = msg.DecodeRequest()
		assert.True(t, errors.Is(err, messaging.ErrInvalidHeader))
	})
}
