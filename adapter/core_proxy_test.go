package adapter_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/denismitr/voltha/adapter"
	"github.com/denismitr/voltha/events"
	"github.com/denismitr/voltha/messaging"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newCoreProxy(t *testing.T) (*adapter.CoreProxy, *messaging.Bus, *fakeCore) {
	t.Helper()

	bus := messaging.NewBus("adapter", zaptest.NewLogger(t))
	t.Cleanup(bus.Close)

	core := newFakeCore(t, bus, "core")
	return adapter.NewCoreProxy(bus, "core", "events", "adapter", zaptest.NewLogger(t)), bus, core
}

func deviceEvent(deviceID, name string, category events.EventCategory) *events.Event {
	return &events.Event{
		Header: &events.EventHeader{
			ID:          "voltha.openomci_onu." + deviceID + "." + name,
			Category:    category,
			SubCategory: events.SubCategoryOnu,
			Type:        events.DeviceEventType,
		},
		DeviceEvent: &events.DeviceEvent{
			ResourceID:      deviceID,
			DeviceEventName: name + "_RAISE_EVENT",
		},
	}
}

func TestCoreProxy_Register(t *testing.T) {
	ctx := context.Background()
	info := adapter.AdapterInfo{ID: "openomci_onu", Vendor: "voltha", Version: "2.0"}
	types := []adapter.DeviceType{{ID: "brcm_openomci_onu", Adapter: "openomci_onu"}}

	t.Run("it registers a single instance by default", func(t *testing.T) {
		cp, _, core := newCoreProxy(t)
		core.set("Register", adapter.CoreInstance{InstanceID: "core-1", Health: "HEALTHY"})

		instance, err := cp.Register(ctx, info, types, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, "core-1", instance.InstanceID)

		var sent adapter.AdapterInfo
		require.NoError(t, json.Unmarshal([]byte(core.last("Register")["adapter"]), &sent))
		assert.Equal(t, int32(1), sent.CurrentReplica)
		assert.Equal(t, int32(1), sent.TotalReplicas)
		assert.JSONEq(t, `[{"id":"brcm_openomci_onu","adapter":"openomci_onu","accepts_bulk_flow_update":false,"accepts_add_remove_flow_updates":false}]`,
			core.last("Register")["deviceTypes"])
	})

	tt := []struct {
		name             string
		current, total   int32
		expectedInReason string
	}{
		{"it requires replicas when the current one is set", 1, 0, "totalReplicas can't be 0, since you're here you have at least one"},
		{"it requires the current replica when replicas are set", 0, 2, "currentReplica can't be 0, it has to start from 1"},
		{"it rejects a current replica above the total", 3, 2, "currentReplica (3) can't be greater than totalReplicas (2)"},
	}

	for _, tc := range tt {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			cp, _, core := newCoreProxy(t)

			_, err := cp.Register(ctx, info, types, tc.current, tc.total)
			assert.True(t, errors.Is(err, adapter.ErrInvalidReplicaConfig))
			assert.Contains(t, err.Error(), tc.expectedInReason)
			assert.Empty(t, core.rpcs())
		})
	}
}

func TestCoreProxy_Requests(t *testing.T) {
	ctx := context.Background()

	t.Run("it routes device requests to the owning core", func(t *testing.T) {
		cp, bus, core := newCoreProxy(t)
		other := newFakeCore(t, bus, "core-2")
		other.set("GetDevice", adapter.Device{ID: "onu-1", SerialNumber: "BRCM12345678"})

		assert.Equal(t, "core", cp.CoreTopic("onu-1"))
		cp.UpdateCoreReference("onu-1", "core-2")
		assert.Equal(t, "core-2", cp.CoreTopic("onu-1"))

		d, err := cp.GetDevice(ctx, "onu-1")
		require.NoError(t, err)
		assert.Equal(t, "BRCM12345678", d.SerialNumber)
		assert.Empty(t, core.rpcs())

		cp.DeleteCoreReference("onu-1")
		_, err = cp.GetDevice(ctx, "onu-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"GetDevice"}, core.rpcs())
	})

	t.Run("it sends -1 for unset statuses", func(t *testing.T) {
		cp, _, core := newCoreProxy(t)

		require.NoError(t, cp.DeviceStateUpdate(ctx, "onu-1", adapter.Oper(adapter.OperActive), nil))
		args := core.last("DeviceStateUpdate")
		assert.Equal(t, `"onu-1"`, args["device_id"])
		assert.Equal(t, "4", args["oper_status"])
		assert.Equal(t, "-1", args["connect_status"])

		require.NoError(t, cp.ChildrenStateUpdate(ctx, "olt-1", nil, adapter.Connect(adapter.ConnectReachable)))
		args = core.last("ChildrenStateUpdate")
		assert.Equal(t, "-1", args["oper_status"])
		assert.Equal(t, "2", args["connect_status"])

		require.NoError(t, cp.PortsStateUpdate(ctx, "olt-1", 0, nil))
		assert.Equal(t, "-1", core.last("PortsStateUpdate")["oper_status"])
	})

	t.Run("it passes lookup filters along", func(t *testing.T) {
		cp, _, core := newCoreProxy(t)
		core.set("GetChildDevice", adapter.Device{ID: "onu-7"})

		d, err := cp.GetChildDevice(ctx, "olt-1", map[string]interface{}{"serial_number": "BRCM00000007", "onu_id": 7})
		require.NoError(t, err)
		assert.Equal(t, "onu-7", d.ID)

		args := core.last("GetChildDevice")
		assert.Equal(t, `"olt-1"`, args["device_id"])
		assert.Equal(t, `"BRCM00000007"`, args["serial_number"])
		assert.Equal(t, "7", args["onu_id"])
	})

	t.Run("it reports failed core requests", func(t *testing.T) {
		cp, _, core := newCoreProxy(t)
		core.fail("DeviceUpdate")

		err := cp.DeviceUpdate(ctx, &adapter.Device{ID: "onu-1"})
		assert.True(t, errors.Is(err, adapter.ErrCoreRequestFailed))
		assert.Contains(t, err.Error(), "core failure")
	})

	t.Run("it times out without a core", func(t *testing.T) {
		bus := messaging.NewBus("adapter", nil)
		defer bus.Close()
		_ = subscribe(t, bus, "core")

		cp := adapter.NewCoreProxy(bus, "core", "events", "adapter", nil)
		tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		err := cp.DeleteAllPorts(tctx, "onu-1")
		assert.True(t, errors.Is(err, messaging.ErrTimeout))
	})
}

func TestCoreProxy_Events(t *testing.T) {
	ctx := context.Background()

	t.Run("it submits events to the event topic", func(t *testing.T) {
		cp, bus, _ := newCoreProxy(t)
		in := subscribe(t, bus, "events")

		require.NoError(t, cp.SubmitEvent(ctx, deviceEvent("onu-1", "ONU_LOSS_OF_SIGNAL", events.CategoryCommunication)))

		assert.Eventually(t, func() bool { return in.len() == 1 }, time.Second, 5*time.Millisecond)
		msg := in.at(0)
		assert.Equal(t, adapter.EventMessageType, msg.Header.Type)

		var ev events.Event
		require.NoError(t, json.Unmarshal(msg.Body, &ev))
		assert.Equal(t, "ONU_LOSS_OF_SIGNAL_RAISE_EVENT", ev.DeviceEvent.DeviceEventName)
	})

	t.Run("it filters events ignoring case", func(t *testing.T) {
		cp, _, _ := newCoreProxy(t)
		cp.SetEventFilters([]adapter.EventFilter{{
			ID:     "los",
			Enable: true,
			Rules: []adapter.EventFilterRule{
				{Key: adapter.RuleCategory, Value: "communication"},
				{Key: adapter.RuleDeviceEvent, Value: "onu_loss_of_signal_raise_event"},
			},
		}})

		assert.True(t, cp.FilterAlarm("onu-1", deviceEvent("onu-1", "ONU_LOSS_OF_SIGNAL", events.CategoryCommunication)))
		assert.False(t, cp.FilterAlarm("onu-1", deviceEvent("onu-1", "ONU_LOSS_OF_SIGNAL", events.CategoryEquipment)))
		assert.False(t, cp.FilterAlarm("onu-1", deviceEvent("onu-1", "ONU_LOSS_OF_BURST", events.CategoryCommunication)))
	})

	t.Run("it ignores disabled filters and filters of other devices", func(t *testing.T) {
		cp, _, _ := newCoreProxy(t)
		rules := []adapter.EventFilterRule{{Key: adapter.RuleResourceID, Value: "ONU-1"}}
		cp.SetEventFilters([]adapter.EventFilter{
			{ID: "off", Enable: false, Rules: rules},
			{ID: "other", Enable: true, DeviceID: "onu-2", Rules: rules},
		})

		assert.False(t, cp.FilterAlarm("onu-1", deviceEvent("onu-1", "ONU_LOSS_OF_SIGNAL", events.CategoryCommunication)))

		cp.SetEventFilters([]adapter.EventFilter{{ID: "mine", Enable: true, DeviceID: "onu-1", Rules: rules}})
		assert.True(t, cp.FilterAlarm("onu-1", deviceEvent("onu-1", "ONU_LOSS_OF_SIGNAL", events.CategoryCommunication)))
	})

	t.Run("it drops suppressed events", func(t *testing.T) {
		cp, bus, _ := newCoreProxy(t)
		in := subscribe(t, bus, "events")
		cp.SetEventFilters([]adapter.EventFilter{{
			ID:     "los",
			Enable: true,
			Rules:  []adapter.EventFilterRule{{Key: adapter.RuleDeviceEvent, Value: "ONU_LOSS_OF_SIGNAL_RAISE_EVENT"}},
		}})

		require.NoError(t, cp.SubmitEvent(ctx, deviceEvent("onu-1", "ONU_LOSS_OF_SIGNAL", events.CategoryCommunication)))
		require.NoError(t, cp.SubmitEvent(ctx, deviceEvent("onu-1", "ONU_LOSS_OF_BURST", events.CategoryCommunication)))

		assert.Eventually(t, func() bool { return in.len() == 1 }, time.Second, 5*time.Millisecond)

		var ev events.Event
		require.NoError(t, json.Unmarshal(in.at(0).Body, &ev))
		assert.Equal(t, "ONU_LOSS_OF_BURST_RAISE_EVENT", ev.DeviceEvent.DeviceEventName)
	})
}
