package omci

import (
	"context"
	"sync"
	"time"

	"github.com/denismitr/voltha/eventbus"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const DefaultTimeout = 3 * time.Second

// Channel is the request/response path to a single ONU
type Channel interface {
	Send(ctx context.Context, req Request) (*Response, error)
	Stats() ChannelStats
}

// Transport carries decoded requests to the ONU and returns its answer
type Transport interface {
	RoundTrip(ctx context.Context, req Request) (*Response, error)
}

type TransportFunc func(ctx context.Context, req Request) (*Response, error)

func (fn TransportFunc) RoundTrip(ctx context.Context, req Request) (*Response, error) {
	return fn(ctx, req)
}

// ChannelStats are the counters and gauges of an OMCI communication channel
type ChannelStats struct {
	TxFrames          int64
	TxErrors          int64
	RxFrames          int64
	RxUnknownTid      int64
	RxOnuFrames       int64
	RxUnknownMe       int64
	RxTimeouts        int64
	RxLate            int64
	ConsecutiveErrors int64
	ReplyMin          time.Duration
	ReplyMax          time.Duration
	ReplyAverage      time.Duration
	HpTxQueueLen      int64
	LpTxQueueLen      int64
	MaxHpTxQueue      int64
	MaxLpTxQueue      int64
}

// CC is a Channel that keeps statistics and publishes responses and
// autonomous ONU messages on the event bus
type CC struct {
	deviceID  string
	transport Transport
	bus       *eventbus.Bus
	timeout   time.Duration
	lg        *zap.Logger

	mu         sync.Mutex
	stats      ChannelStats
	replyTotal time.Duration
}

var _ Channel = (*CC)(nil)

func NewCC(deviceID string, transport Transport, bus *eventbus.Bus, lg *zap.Logger) *CC {
	if lg == nil {
		lg = zap.NewNop()
	}

	return &CC{
		deviceID:  deviceID,
		transport: transport,
		bus:       bus,
		timeout:   DefaultTimeout,
		lg:        lg.With(zap.String("device_id", deviceID)),
	}
}

func (cc *CC) SetTimeout(d time.Duration) {
	cc.timeout = d
}

func (cc *CC) Send(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, cc.timeout)
	defer cancel()

	cc.mu.Lock()
	cc.stats.TxFrames++
	cc.stats.LpTxQueueLen++
	if cc.stats.LpTxQueueLen > cc.stats.MaxLpTxQueue {
		cc.stats.MaxLpTxQueue = cc.stats.LpTxQueueLen
	}
	cc.mu.Unlock()

	start := time.Now()
	resp, err := cc.transport.RoundTrip(ctx, req)
	elapsed := time.Since(start)

	cc.mu.Lock()
	cc.stats.LpTxQueueLen--
	if err != nil {
		cc.stats.ConsecutiveErrors++
		if errors.Is(err, context.DeadlineExceeded) {
			cc.stats.RxTimeouts++
		} else {
			cc.stats.TxErrors++
		}
		cc.mu.Unlock()

		cc.lg.Warn("omci request failed",
			zap.Stringer("message_type", req.MessageType),
			zap.Int("class_id", int(req.ClassID)),
			zap.Int("entity_id", req.EntityID),
			zap.Error(err))
		return nil, errors.Wrapf(err, "%s %s/%d", req.MessageType, req.ClassID, req.EntityID)
	}

	cc.stats.RxFrames++
	cc.stats.ConsecutiveErrors = 0
	if resp.Success == UnknownEntity {
		cc.stats.RxUnknownMe++
	}
	cc.recordReplyUnderLock(elapsed)
	cc.mu.Unlock()

	if cc.bus != nil {
		cc.bus.Publish(eventbus.RxTopic(cc.deviceID, req.MessageType.String()), resp)
	}

	return resp, nil
}

func (cc *CC) recordReplyUnderLock(d time.Duration) {
	if cc.stats.ReplyMin == 0 || d < cc.stats.ReplyMin {
		cc.stats.ReplyMin = d
	}
	if d > cc.stats.ReplyMax {
		cc.stats.ReplyMax = d
	}
	cc.replyTotal += d
	cc.stats.ReplyAverage = cc.replyTotal / time.Duration(cc.stats.RxFrames)
}

// Receive handles an autonomous message sent by the ONU
func (cc *CC) Receive(n Notification) {
	cc.mu.Lock()
	cc.stats.RxOnuFrames++
	cc.mu.Unlock()

	if cc.bus != nil {
		cc.bus.Publish(eventbus.RxTopic(cc.deviceID, AlarmNotification.String()), n)
	}
}

// ReceiveTestResult handles the Test Result message an ONU sends once a
// requested test has run
func (cc *CC) ReceiveTestResult(resp *Response) {
	cc.mu.Lock()
	cc.stats.RxOnuFrames++
	cc.mu.Unlock()

	if cc.bus != nil {
		cc.bus.Publish(eventbus.RxTopic(cc.deviceID, TestResult.String()), resp)
	}
}

func (cc *CC) Stats() ChannelStats {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	return cc.stats
}
