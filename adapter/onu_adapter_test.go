package adapter_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/denismitr/voltha/adapter"
	"github.com/denismitr/voltha/eventbus"
	"github.com/denismitr/voltha/events"
	"github.com/denismitr/voltha/events/kpi"
	"github.com/denismitr/voltha/kvstore"
	"github.com/denismitr/voltha/messaging"
	"github.com/denismitr/voltha/omci"
	"github.com/denismitr/voltha/omci/agent"
	"github.com/denismitr/voltha/omci/alarmsync"
	"github.com/denismitr/voltha/omci/database"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeOnu accepts every OMCI request
type fakeOnu struct {
	mu    sync.Mutex
	types []omci.MessageType
}

func (o *fakeOnu) RoundTrip(ctx context.Context, req omci.Request) (*omci.Response, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.types = append(o.types, req.MessageType)
	return &omci.Response{MessageType: req.MessageType, ClassID: req.ClassID, EntityID: req.EntityID}, nil
}

func (o *fakeOnu) count(mt omci.MessageType) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := 0
	for _, t := range o.types {
		if t == mt {
			n++
		}
	}
	return n
}

type onuFixture struct {
	bus     *messaging.Bus
	core    *fakeCore
	events  *inbox
	mib     *database.MibDbVolatile
	agent   *agent.Agent
	adapter *adapter.OnuAdapter
	facade  *adapter.RequestFacade
	onu     *fakeOnu
}

func newOnuFixture(t *testing.T) *onuFixture {
	t.Helper()
	ctx := context.Background()

	kv, closer, err := kvstore.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = closer() })

	lg := zaptest.NewLogger(t)
	bus := messaging.NewBus("adapter", lg)
	t.Cleanup(bus.Close)

	f := &onuFixture{
		bus:    bus,
		core:   newFakeCore(t, bus, "core"),
		events: subscribe(t, bus, "events"),
		mib:    database.NewMibDbVolatile(lg),
		onu:    &fakeOnu{},
	}

	omciBus := eventbus.New(lg)
	f.agent, err = agent.NewAgent(agent.Options{
		MibDb:     f.mib,
		AlarmDb:   database.NewAlarmDbExternal(kvstore.NewStore(kv, database.AlarmPath), lg),
		Bus:       omciBus,
		AlarmSync: alarmsync.Config{AuditDelay: 0},
		Logger:    lg,
	})
	require.NoError(t, err)
	require.NoError(t, f.agent.Start(ctx))
	t.Cleanup(func() { _ = f.agent.Stop(context.Background()) })

	proxy := adapter.NewCoreProxy(bus, "core", "events", "adapter", lg)
	f.adapter, err = adapter.NewOnuAdapter(adapter.OnuAdapterOptions{
		Name:  "brcm_openomci_onu",
		Agent: f.agent,
		Core:  proxy,
		Channels: func(ctx context.Context, d *adapter.Device) (omci.Channel, error) {
			return omci.NewCC(d.ID, f.onu, omciBus, lg), nil
		},
		Exporter: kpi.NewPrometheusExporter("voltha"),
		Logger:   lg,
	})
	require.NoError(t, err)
	t.Cleanup(f.adapter.Close)

	f.facade = adapter.NewRequestFacade(f.adapter, proxy, bus, lg, adapter.WithRetryDelay(time.Millisecond), adapter.WithMaxRetries(2))
	require.NoError(t, f.facade.Start())
	t.Cleanup(f.facade.Stop)

	return f
}

func (f *onuFixture) adopt(t *testing.T, d adapter.Device) {
	t.Helper()
	resp := request(t, f.bus, "adapter", "AdoptDevice", "device", d, adapter.ArgFromTopic, "core")
	require.True(t, resp.Success)
}

func TestOnuAdapter(t *testing.T) {
	ctx := context.Background()
	onu := adapter.Device{ID: "onu-1", ParentID: "olt-1", SerialNumber: "BRCM12345678", Vendor: "BRCM", Model: "G-240W"}

	t.Run("it requires its collaborators", func(t *testing.T) {
		_, err := adapter.NewOnuAdapter(adapter.OnuAdapterOptions{})
		assert.True(t, errors.Is(err, adapter.ErrInvalidParameters))
	})

	t.Run("it adopts devices into the agent", func(t *testing.T) {
		f := newOnuFixture(t)
		f.adopt(t, onu)
		f.adopt(t, onu)

		d, err := f.agent.GetDevice("onu-1")
		require.NoError(t, err)
		assert.True(t, d.Active())

		assert.Equal(t, []string{"DevicePMConfigUpdate", "DeviceStateUpdate"}, f.core.rpcs())

		state := f.core.last("DeviceStateUpdate")
		assert.Equal(t, "4", state["oper_status"])
		assert.Equal(t, "2", state["connect_status"])

		var configs kpi.PmConfigs
		require.NoError(t, json.Unmarshal([]byte(f.core.last("DevicePMConfigUpdate")["device_pm_config"]), &configs))
		assert.True(t, configs.Grouped)
		require.Len(t, configs.Groups, 3)
		assert.Equal(t, kpi.OmciCCGroupName, configs.Groups[0].GroupName)
		assert.Equal(t, "true", f.core.last("DevicePMConfigUpdate")["init"])
	})

	t.Run("it describes the switch from the mib", func(t *testing.T) {
		f := newOnuFixture(t)
		f.adopt(t, onu)

		for _, id := range []int{257, 258} {
			_, err := f.mib.Set(ctx, "onu-1", omci.PptpEthernetUniClassID, id, omci.Attributes{"administrative_state": 0})
			require.NoError(t, err)
		}

		resp := request(t, f.bus, "adapter", "GetOfpDeviceInfo", "device", onu)
		require.True(t, resp.Success)

		var caps adapter.SwitchCapability
		require.NoError(t, resp.Decode(&caps))
		assert.Equal(t, adapter.SwitchCapability{
			Manufacturer: "BRCM",
			Hardware:     "G-240W",
			Software:     "brcm_openomci_onu",
			SerialNumber: "BRCM12345678",
			PortCount:    2,
		}, caps)
	})

	t.Run("it runs omci tests", func(t *testing.T) {
		f := newOnuFixture(t)
		f.adopt(t, onu)

		_, err := f.mib.Set(ctx, "onu-1", omci.AniGClassID, 32769, omci.Attributes{"total_tcont_number": 8})
		require.NoError(t, err)

		resp := request(t, f.bus, "adapter", "StartOmciTest", "device", onu, "omcitestrequest", adapter.OmciTestRequest{ID: "onu-1", UUID: "test-1"})
		require.True(t, resp.Success)

		var result adapter.TestResponse
		require.NoError(t, resp.Decode(&result))
		assert.Equal(t, adapter.TestSuccess, result.Result)
		assert.Equal(t, 1, f.onu.count(omci.Test))
	})

	t.Run("it raises simulated alarms unless suppressed", func(t *testing.T) {
		f := newOnuFixture(t)
		f.adopt(t, onu)

		simulate := func(indicator string) {
			resp := request(t, f.bus, "adapter", "SimulateAlarm", "device", onu, "request", events.SimulateEventRequest{
				Indicator:       indicator,
				Operation:       events.RaiseOperation,
				OnuDeviceID:     1,
				OnuSerialNumber: "BRCM12345678",
			})
			require.True(t, resp.Success)
		}

		simulate("onu_los")
		assert.Eventually(t, func() bool { return f.events.len() == 1 }, time.Second, 5*time.Millisecond)

		filter := adapter.EventFilter{
			ID:     "los",
			Enable: true,
			Rules:  []adapter.EventFilterRule{{Key: adapter.RuleDeviceEvent, Value: "onu_loss_of_signal_raise_event"}},
		}
		require.True(t, request(t, f.bus, "adapter", "SuppressEvent", "filter", filter).Success)

		simulate("onu_los")
		simulate("onu_lob")
		assert.Eventually(t, func() bool { return f.events.len() == 2 }, time.Second, 5*time.Millisecond)

		var ev events.Event
		require.NoError(t, json.Unmarshal(f.events.at(1).Body, &ev))
		assert.Equal(t, "ONU_LOSS_OF_BURST_RAISE_EVENT", ev.DeviceEvent.DeviceEventName)
		assert.Equal(t, "onu-1", ev.DeviceEvent.ResourceID)

		require.True(t, request(t, f.bus, "adapter", "UnsuppressEvent", "filter", filter).Success)
		simulate("onu_los")
		assert.Eventually(t, func() bool { return f.events.len() == 3 }, time.Second, 5*time.Millisecond)

		resp := request(t, f.bus, "adapter", "SimulateAlarm", "device", onu, "request", events.SimulateEventRequest{Indicator: "bogus"})
		assert.False(t, resp.Success)
	})

	t.Run("it applies pm configs", func(t *testing.T) {
		f := newOnuFixture(t)
		f.adopt(t, onu)

		resp := request(t, f.bus, "adapter", "UpdatePmConfig", "device", onu, "pm_configs", kpi.PmConfigs{ID: "onu-1", Grouped: false})
		assert.False(t, resp.Success)
		assert.Equal(t, adapter.ErrorCodeInternal, errorOf(t, resp).Code)

		resp = request(t, f.bus, "adapter", "UpdatePmConfig", "device", onu, "pm_configs", kpi.PmConfigs{
			ID:      "onu-1",
			Grouped: true,
			Groups:  []*kpi.PmGroupConfig{{GroupName: kpi.OmciCCGroupName, Enabled: true}},
		})
		assert.True(t, resp.Success)
	})

	t.Run("it activates devices on onu indications", func(t *testing.T) {
		f := newOnuFixture(t)

		msg := adapter.InterAdapterMessage{Header: adapter.InterAdapterHeader{ID: "m-1", Type: adapter.OnuIndRequest, ToDeviceID: "onu-1"}}
		resp := request(t, f.bus, "adapter", "ProcessInterAdapterMessage", "msg", msg)
		assert.False(t, resp.Success)
		assert.Empty(t, f.core.rpcs())

		f.adopt(t, onu)
		resp = request(t, f.bus, "adapter", "ProcessInterAdapterMessage", "msg", msg)
		assert.True(t, resp.Success)
		assert.Equal(t, []string{"DevicePMConfigUpdate", "DeviceStateUpdate", "DeviceStateUpdate"}, f.core.rpcs())
	})

	t.Run("it reports ports to the core", func(t *testing.T) {
		f := newOnuFixture(t)
		f.adopt(t, onu)

		port := adapter.Port{PortNo: 16, Label: "uni-16", Type: adapter.PortEthernetUni}
		require.True(t, request(t, f.bus, "adapter", "DisablePort", "device_id", "onu-1", "port", port).Success)

		args := f.core.last("PortStateUpdate")
		assert.Equal(t, "16", args["port_no"])
		assert.Equal(t, "2", args["port_type"])
		assert.Equal(t, "0", args["oper_status"])
	})

	t.Run("it leaves unsupported operations to other adapters", func(t *testing.T) {
		f := newOnuFixture(t)
		f.adopt(t, onu)

		for _, rpc := range []string{"RebootDevice", "UpdateFlowsBulk", "AbandonDevice"} {
			resp := request(t, f.bus, "adapter", rpc, "device", onu)
			assert.Equal(t, adapter.ErrorCodeUnsupported, errorOf(t, resp).Code, rpc)
		}
	})

	t.Run("it deletes devices with their data", func(t *testing.T) {
		f := newOnuFixture(t)
		f.adopt(t, onu)

		require.True(t, request(t, f.bus, "adapter", "DeleteDevice", "device", onu).Success)

		_, err := f.agent.GetDevice("onu-1")
		assert.True(t, errors.Is(err, agent.ErrUnknownDevice))
		_, err = f.mib.Query(ctx, "onu-1")
		assert.True(t, errors.Is(err, database.ErrDeviceNotFound))

		resp := request(t, f.bus, "adapter", "DisableDevice", "device", onu)
		assert.False(t, resp.Success)
	})
}
