package omci_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/denismitr/voltha/eventbus"
	"github.com/denismitr/voltha/omci"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestEntityClass(t *testing.T) {
	t.Run("it computes attribute masks with the first attribute as msb", func(t *testing.T) {
		ec, ok := omci.Lookup(omci.OntGClassID)
		require.True(t, ok)

		mask, err := ec.Mask("vendor_id", "serial_number")
		require.NoError(t, err)
		assert.Equal(t, uint16(0xA000), mask)
	})

	t.Run("it rejects unknown attributes", func(t *testing.T) {
		ec, _ := omci.Lookup(omci.AniGClassID)
		_, err := ec.Mask("bogus")
		assert.True(t, errors.Is(err, omci.ErrUnknownAttribute))
	})

	t.Run("it names classes", func(t *testing.T) {
		assert.Equal(t, "AniG", omci.AniGClassID.String())
		assert.Equal(t, "ClassID(9999)", omci.ClassID(9999).String())
		assert.False(t, omci.ClassID(0x10000).Valid())
	})
}

func TestFrame(t *testing.T) {
	t.Run("it builds get requests", func(t *testing.T) {
		f, err := omci.NewFrame(omci.SoftwareImageClassID, 1)
		require.NoError(t, err)

		req, err := f.Get("is_active", "version")
		require.NoError(t, err)
		assert.Equal(t, omci.Get, req.MessageType)
		assert.Equal(t, 1, req.EntityID)
		assert.Equal(t, uint16(0xA000), req.AttributeMask)
		assert.Contains(t, req.Attributes, "version")
	})

	t.Run("it validates entity ids and classes", func(t *testing.T) {
		_, err := omci.NewFrame(omci.AniGClassID, 0x10000)
		assert.True(t, errors.Is(err, omci.ErrInvalidEntityID))

		_, err = omci.NewFrame(omci.ClassID(4242), 0)
		assert.True(t, errors.Is(err, omci.ErrUnknownClass))
	})

	t.Run("it encodes the get all alarms next command number", func(t *testing.T) {
		req := omci.GetAllAlarmsNextRequest(0x0102)
		assert.Equal(t, []byte{0x01, 0x02}, req.Data)
	})
}

func TestAlarmBitmap(t *testing.T) {
	t.Run("it maps alarm n to bit 223-n", func(t *testing.T) {
		b := omci.NewAlarmBitmap(223)
		assert.Equal(t, "1", b.String())

		b = omci.NewAlarmBitmap(222, 223)
		assert.Equal(t, "3", b.String())
		assert.Equal(t, []int{222, 223}, b.Alarms())
	})

	t.Run("it parses what it renders", func(t *testing.T) {
		b := omci.NewAlarmBitmap(0, 5, 100)
		parsed, err := omci.ParseAlarmBitmap(b.String())
		require.NoError(t, err)
		assert.Equal(t, b, parsed)
		assert.True(t, parsed.IsSet(0))
		assert.False(t, parsed.IsSet(1))
	})

	t.Run("it rejects garbage and overflow", func(t *testing.T) {
		_, err := omci.ParseAlarmBitmap("abc")
		assert.True(t, errors.Is(err, omci.ErrInvalidAlarmBitmap))

		_, err = omci.ParseAlarmBitmap(strings.Repeat("9", 70))
		assert.True(t, errors.Is(err, omci.ErrInvalidAlarmBitmap))
	})
}

func TestCC(t *testing.T) {
	t.Run("it counts frames and publishes responses", func(t *testing.T) {
		bus := eventbus.New(nil)
		var published []interface{}
		bus.Subscribe(eventbus.RxTopic("onu-1", "Get"), func(_ string, msg interface{}) {
			published = append(published, msg)
		})

		cc := omci.NewCC("onu-1", omci.TransportFunc(func(ctx context.Context, req omci.Request) (*omci.Response, error) {
			return &omci.Response{MessageType: req.MessageType, ClassID: req.ClassID, Success: omci.Success}, nil
		}), bus, zaptest.NewLogger(t))

		resp, err := cc.Send(context.Background(), omci.Request{MessageType: omci.Get, ClassID: omci.AniGClassID})
		require.NoError(t, err)
		assert.Equal(t, omci.Success, resp.Success)

		stats := cc.Stats()
		assert.Equal(t, int64(1), stats.TxFrames)
		assert.Equal(t, int64(1), stats.RxFrames)
		assert.Equal(t, int64(0), stats.LpTxQueueLen)
		assert.Equal(t, int64(1), stats.MaxLpTxQueue)
		assert.Len(t, published, 1)
	})

	t.Run("it counts timeouts and consecutive errors", func(t *testing.T) {
		cc := omci.NewCC("onu-1", omci.TransportFunc(func(ctx context.Context, req omci.Request) (*omci.Response, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}), nil, nil)
		cc.SetTimeout(10 * time.Millisecond)

		for i := 0; i < 2; i++ {
			_, err := cc.Send(context.Background(), omci.MibResetRequest())
			require.Error(t, err)
			assert.True(t, errors.Is(err, context.DeadlineExceeded))
		}

		stats := cc.Stats()
		assert.Equal(t, int64(2), stats.RxTimeouts)
		assert.Equal(t, int64(2), stats.ConsecutiveErrors)
		assert.Equal(t, int64(0), stats.RxFrames)
	})

	t.Run("it publishes autonomous alarm notifications", func(t *testing.T) {
		bus := eventbus.New(nil)
		var got omci.Notification
		bus.Subscribe(eventbus.RxTopic("onu-2", "AlarmNotification"), func(_ string, msg interface{}) {
			got = msg.(omci.Notification)
		})

		cc := omci.NewCC("onu-2", nil, bus, nil)
		cc.Receive(omci.Notification{ClassID: omci.AniGClassID, EntityID: 257, Sequence: 1})

		assert.Equal(t, 257, got.EntityID)
		assert.Equal(t, int64(1), cc.Stats().RxOnuFrames)
	})
}
