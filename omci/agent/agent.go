package agent

import (
	"context"
	"sort"
	"sync"

	"github.com/denismitr/voltha/eventbus"
	"github.com/denismitr/voltha/omci"
	"github.com/denismitr/voltha/omci/alarmsync"
	"github.com/denismitr/voltha/omci/database"
	"github.com/denismitr/voltha/omci/tasks"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrUnknownDevice    = errors.New("unknown onu device")
	ErrDeviceNotStarted = errors.New("onu device not started")
	ErrMissingDatabase  = errors.New("mib and alarm databases are required")
)

// AlarmDb is the alarm table storage shared by every device
type AlarmDb interface {
	alarmsync.AlarmStore
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

var _ AlarmDb = (*database.AlarmDbExternal)(nil)

type Options struct {
	MibDb   database.MibDb
	AlarmDb AlarmDb
	// Templates is optional, without it no MIB template is ever loaded
	Templates tasks.TemplateStore
	Bus       *eventbus.Bus
	AlarmSync alarmsync.Config
	Logger    *zap.Logger
}

// Event is advertised on the agent topics "started" and "stopped"
type Event struct {
	DeviceIDs []string
}

// Agent owns the OMCI state of every ONU handled by an adapter
type Agent struct {
	opts Options
	lg   *zap.Logger

	mu      sync.RWMutex
	devices map[string]*OnuDevice
	started bool
}

func NewAgent(opts Options) (*Agent, error) {
	if opts.MibDb == nil || opts.AlarmDb == nil {
		return nil, ErrMissingDatabase
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	if opts.Bus == nil {
		opts.Bus = eventbus.New(opts.Logger)
	}

	if opts.AlarmSync == (alarmsync.Config{}) {
		opts.AlarmSync = alarmsync.DefaultConfig()
	}

	return &Agent{
		opts:    opts,
		lg:      opts.Logger.With(zap.String("component", "omci-agent")),
		devices: make(map[string]*OnuDevice),
	}, nil
}

// Bus is the event bus channels of the agent's devices publish on
func (a *Agent) Bus() *eventbus.Bus { return a.opts.Bus }

func (a *Agent) MibDb() database.MibDb { return a.opts.MibDb }

func (a *Agent) Active() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.started
}

func (a *Agent) advertise(event string, info interface{}) {
	a.opts.Bus.Publish(eventbus.AgentTopic(event), info)
}

func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return nil
	}

	a.lg.Debug("starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.opts.MibDb.Start(gctx) })
	g.Go(func() error { return a.opts.AlarmDb.Start(gctx) })
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "could not start omci databases")
	}

	g, gctx = errgroup.WithContext(ctx)
	for _, d := range a.devices {
		d := d
		g.Go(func() error {
			if err := a.addToMib(gctx, d.deviceID); err != nil {
				return err
			}
			return d.Start(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	a.started = true
	a.advertise("started", Event{DeviceIDs: a.deviceIDsLocked()})
	a.lg.Info("omci agent started", zap.Int("devices", len(a.devices)))

	return nil
}

// Stop halts every device, then the databases
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return nil
	}

	for _, d := range a.devices {
		d.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.opts.MibDb.Stop(gctx) })
	g.Go(func() error { return a.opts.AlarmDb.Stop(gctx) })
	err := g.Wait()

	a.started = false
	a.advertise("stopped", Event{DeviceIDs: a.deviceIDsLocked()})
	a.lg.Info("omci agent stopped")

	return err
}

func (a *Agent) addToMib(ctx context.Context, deviceID string) error {
	err := a.opts.MibDb.Add(ctx, deviceID, false)
	if err != nil && !errors.Is(err, database.ErrDeviceExists) {
		return errors.Wrapf(err, "could not add %s to the mib database", deviceID)
	}
	return nil
}

// AddDevice registers an ONU with the agent, returning the existing device
// when it is already known. Devices added to a running agent are started.
func (a *Agent) AddDevice(ctx context.Context, deviceID string, channel omci.Channel, opts ...DeviceOption) (*OnuDevice, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if d, ok := a.devices[deviceID]; ok {
		return d, nil
	}

	if deviceID == "" {
		return nil, errors.Wrap(database.ErrInvalidArgument, "device id is required")
	}

	d := a.newDevice(deviceID, channel, opts...)

	if a.started {
		if err := a.addToMib(ctx, deviceID); err != nil {
			return nil, err
		}

		if err := d.Start(ctx); err != nil {
			return nil, err
		}
	}

	a.devices[deviceID] = d
	a.lg.Debug("device added", zap.String("device_id", deviceID))

	return d, nil
}

// RemoveDevice stops the device, cleanup also drops its MIB and alarm data
func (a *Agent) RemoveDevice(ctx context.Context, deviceID string, cleanup bool) error {
	a.mu.Lock()
	d, ok := a.devices[deviceID]
	delete(a.devices, deviceID)
	started := a.started
	a.mu.Unlock()

	if !ok {
		return nil
	}

	d.Stop()
	a.lg.Debug("device removed", zap.String("device_id", deviceID), zap.Bool("cleanup", cleanup))

	if !cleanup || !started {
		return nil
	}

	if err := a.opts.MibDb.Remove(ctx, deviceID); err != nil {
		return err
	}

	return a.opts.AlarmDb.Remove(ctx, deviceID)
}

func (a *Agent) GetDevice(deviceID string) (*OnuDevice, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	d, ok := a.devices[deviceID]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownDevice, "%s", deviceID)
	}

	return d, nil
}

func (a *Agent) DeviceIDs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.deviceIDsLocked()
}

func (a *Agent) deviceIDsLocked() []string {
	ids := make([]string, 0, len(a.devices))
	for id := range a.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
