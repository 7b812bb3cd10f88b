package agent

import (
	"context"
	"sync"

	"github.com/denismitr/voltha/eventbus"
	"github.com/denismitr/voltha/events"
	"github.com/denismitr/voltha/omci"
	"github.com/denismitr/voltha/omci/alarmsync"
	"github.com/denismitr/voltha/omci/database"
	"github.com/denismitr/voltha/omci/tasks"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type DeviceOption func(d *OnuDevice)

// WithAlarmHandler routes the alarms found by the alarm synchronizer to h
func WithAlarmHandler(h alarmsync.Handler) DeviceOption {
	return func(d *OnuDevice) {
		d.handler = h
	}
}

// OnuDevice is the OMCI state the agent keeps for a single ONU
type OnuDevice struct {
	deviceID  string
	channel   omci.Channel
	mib       database.MibDb
	templates tasks.TemplateStore
	handler   alarmsync.Handler
	bus       *eventbus.Bus
	lg        *zap.Logger

	alarmSync *alarmsync.Synchronizer
	runner    *tasks.TaskRunner

	mu      sync.Mutex
	started bool
	test    *tasks.OmciTestRequest
}

func (a *Agent) newDevice(deviceID string, channel omci.Channel, opts ...DeviceOption) *OnuDevice {
	d := &OnuDevice{
		deviceID:  deviceID,
		channel:   channel,
		mib:       a.opts.MibDb,
		templates: a.opts.Templates,
		bus:       a.opts.Bus,
		lg:        a.lg.With(zap.String("device_id", deviceID)),
	}

	for _, opt := range opts {
		opt(d)
	}

	d.runner = tasks.NewTaskRunner(deviceID, a.lg)
	d.alarmSync = alarmsync.New(deviceID, channel, a.opts.AlarmDb, a.opts.Bus, d.handler, a.opts.AlarmSync, a.lg)

	return d
}

func (d *OnuDevice) DeviceID() string                   { return d.deviceID }
func (d *OnuDevice) Channel() omci.Channel              { return d.channel }
func (d *OnuDevice) TaskRunner() *tasks.TaskRunner      { return d.runner }
func (d *OnuDevice) AlarmSync() *alarmsync.Synchronizer { return d.alarmSync }

func (d *OnuDevice) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

func (d *OnuDevice) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return nil
	}

	d.runner.Start()
	if err := d.alarmSync.Start(ctx); err != nil {
		d.runner.Stop()
		return errors.Wrapf(err, "could not start alarm sync of %s", d.deviceID)
	}

	d.started = true
	d.lg.Debug("onu device started")
	return nil
}

func (d *OnuDevice) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return
	}

	if d.test != nil {
		d.test.Close()
		d.test = nil
	}

	d.alarmSync.Stop()
	d.runner.Stop()
	d.started = false
	d.lg.Debug("onu device stopped")
}

// Query reads attributes of an ME instance from the MIB database, every
// attribute when none is named
func (d *OnuDevice) Query(ctx context.Context, classID omci.ClassID, entityID int, attrs ...string) (omci.Attributes, error) {
	return d.mib.QueryAttributes(ctx, d.deviceID, classID, entityID, attrs...)
}

// LoadTemplate resets the ONU MIB and installs the stored template of its
// model. It reports false when no template matched.
func (d *OnuDevice) LoadTemplate(ctx context.Context) (bool, error) {
	if d.templates == nil {
		return false, nil
	}

	task := tasks.NewMibTemplateTask(d.deviceID, d.channel, d.templates, d.lg)
	if err := d.await(ctx, task); err != nil {
		return false, err
	}

	classes := task.Result()
	if classes == nil {
		return false, nil
	}

	if err := d.mib.LoadFromTemplate(ctx, d.deviceID, classes); err != nil {
		return false, err
	}

	d.lg.Info("mib loaded from template", zap.Int("classes", len(classes)))
	return true, nil
}

// StartOmciTest queues a self test of the ONU, the result is published as
// a KPI event through mgr when the ONU reports it
func (d *OnuDevice) StartOmciTest(ctx context.Context, mgr *events.AdapterEvents, cfg tasks.TestRequestConfig) (string, error) {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return "", errors.Wrapf(ErrDeviceNotStarted, "%s", d.deviceID)
	}

	if d.test != nil {
		d.test.Close()
	}

	cfg.DeviceID = d.deviceID
	test := tasks.NewOmciTestRequest(cfg, d.channel, d.mib, d.bus, mgr, d.lg)
	d.test = test
	d.mu.Unlock()

	if err := d.await(ctx, test); err != nil {
		return "", err
	}

	return test.UUID(), nil
}

func (d *OnuDevice) await(ctx context.Context, t tasks.Task) error {
	if !d.runner.Active() {
		return errors.Wrapf(ErrDeviceNotStarted, "%s", d.deviceID)
	}

	done := d.runner.Queue(t)

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if !d.runner.Cancel(t) {
			t.Stop()
			<-done
		}
		return ctx.Err()
	}
}
