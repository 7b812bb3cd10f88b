package alarmsync

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/denismitr/voltha/eventbus"
	"github.com/denismitr/voltha/omci"
	"github.com/denismitr/voltha/omci/database"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultTimeoutDelay = 15 * time.Second
	DefaultAuditDelay   = 180 * time.Second

	maxAlarmSequence = 255
)

var (
	ErrNotInSync    = errors.New("alarm table is not in sync")
	ErrAuditFailure = errors.New("alarm audit failed")
)

// AlarmStore is the alarm table the synchronizer keeps up to date
type AlarmStore interface {
	Add(ctx context.Context, deviceID string, overwrite bool) error
	Remove(ctx context.Context, deviceID string) error
	Set(ctx context.Context, deviceID string, classID omci.ClassID, entityID int, attrs omci.Attributes) (bool, error)
	Delete(ctx context.Context, deviceID string, classID omci.ClassID, entityID int) (bool, error)
	Query(ctx context.Context, deviceID string) (*database.AlarmDevice, error)
	QueryInstance(ctx context.Context, deviceID string, classID omci.ClassID, entityID int) (*database.Instance, error)
	SaveLastSyncTime(ctx context.Context, deviceID string, t time.Time) error
	SaveAlarmLastSync(ctx context.Context, deviceID string, seq int) error
}

var _ AlarmStore = (*database.AlarmDbExternal)(nil)

type Config struct {
	// TimeoutDelay is the wait before the first audit and before retrying a failed one
	TimeoutDelay time.Duration
	// AuditDelay is the interval between audits while in sync, zero disables them
	AuditDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		TimeoutDelay: DefaultTimeoutDelay,
		AuditDelay:   DefaultAuditDelay,
	}
}

// Entity identifies an ME instance of the alarm table
type Entity struct {
	ClassID  omci.ClassID
	EntityID int
}

// Synchronizer keeps the alarm table of one ONU in line with the ONU itself.
// Autonomous alarm notifications are applied as they arrive and the whole
// table is audited periodically with Get All Alarms.
type Synchronizer struct {
	deviceID string
	channel  omci.Channel
	db       AlarmStore
	bus      *eventbus.Bus
	handler  Handler
	cfg      Config
	lg       *zap.Logger

	fsm *machine

	seqMu sync.Mutex
	seq   int

	auditMu sync.Mutex

	runMu   sync.Mutex
	subs    []*eventbus.Subscription
	auditCh chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	cancel  context.CancelFunc
}

// New creates a disabled synchronizer, handler may be nil
func New(
	deviceID string,
	channel omci.Channel,
	db AlarmStore,
	bus *eventbus.Bus,
	handler Handler,
	cfg Config,
	lg *zap.Logger,
) *Synchronizer {
	if lg == nil {
		lg = zap.NewNop()
	}

	if cfg.TimeoutDelay <= 0 {
		cfg.TimeoutDelay = DefaultTimeoutDelay
	}

	if cfg.AuditDelay < 0 {
		cfg.AuditDelay = 0
	}

	s := &Synchronizer{
		deviceID: deviceID,
		channel:  channel,
		db:       db,
		bus:      bus,
		handler:  handler,
		cfg:      cfg,
		lg:       lg.With(zap.String("device_id", deviceID), zap.String("component", "alarm-sync")),
		fsm:      newMachine(Disabled),
		auditCh:  make(chan struct{}, 1),
	}

	s.fsm.onEnter = func(from, to State) {
		s.lg.Debug("state change", zap.String("from", string(from)), zap.String("to", string(to)))
		if s.bus != nil {
			s.bus.Publish(eventbus.AgentTopic("alarm-sync"), StateChange{DeviceID: deviceID, From: from, To: to})
		}
	}

	return s
}

// StateChange is advertised on the agent topic "alarm-sync"
type StateChange struct {
	DeviceID string
	From     State
	To       State
}

func (s *Synchronizer) DeviceID() string { return s.deviceID }
func (s *Synchronizer) State() State     { return s.fsm.State() }

func (s *Synchronizer) LastAlarmSequence() int {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	return s.seq
}

// ResetAlarmSequence is called once the ONU acknowledged a Get All Alarms
// request, which restarts its numbering
func (s *Synchronizer) ResetAlarmSequence() {
	s.seqMu.Lock()
	s.seq = 0
	s.seqMu.Unlock()
}

func (s *Synchronizer) incrementAlarmSequence() int {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	s.seq++
	if s.seq > maxAlarmSequence {
		s.seq = 1
	}
	return s.seq
}

// Start seeds the alarm table, subscribes to the ONU messages and begins
// the audit schedule
func (s *Synchronizer) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if _, err := s.fsm.Fire(TriggerStart); err != nil {
		return err
	}

	if err := s.db.Add(ctx, s.deviceID, false); err != nil && !errors.Is(err, database.ErrDeviceExists) {
		s.lg.Error("could not seed alarm table", zap.Error(err))
	}

	if s.bus != nil {
		s.subs = append(s.subs,
			s.bus.Subscribe(eventbus.RxTopic(s.deviceID, omci.GetAllAlarms.String()), s.onGetAllAlarms),
			s.bus.Subscribe(eventbus.RxTopic(s.deviceID, omci.AlarmNotification.String()), s.onAlarmNotification),
		)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	first := s.cfg.TimeoutDelay
	if s.cfg.AuditDelay == 0 {
		if _, err := s.fsm.Fire(TriggerSyncAlarm); err != nil {
			s.lg.Warn("could not enter in_sync", zap.Error(err))
		}
		first = 0
	}

	go s.run(runCtx, first, s.stopCh, s.doneCh)

	return nil
}

// Stop disables the synchronizer and waits for a running audit to finish
func (s *Synchronizer) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if _, err := s.fsm.Fire(TriggerStop); err != nil {
		s.lg.Debug("stop", zap.Error(err))
	}

	if s.bus != nil {
		for _, sub := range s.subs {
			s.bus.Unsubscribe(sub)
		}
	}
	s.subs = nil

	if s.stopCh != nil {
		s.cancel()
		close(s.stopCh)
		<-s.doneCh
		s.stopCh, s.doneCh, s.cancel = nil, nil, nil
	}
}

// Delete stops the synchronizer and drops the device from the alarm table
func (s *Synchronizer) Delete(ctx context.Context) error {
	s.Stop()
	return s.db.Remove(ctx, s.deviceID)
}

// RequestAudit asks for an audit as soon as possible
func (s *Synchronizer) RequestAudit() {
	select {
	case s.auditCh <- struct{}{}:
	default:
	}
}

// run drives the audit schedule, a zero delay means no audit is scheduled
func (s *Synchronizer) run(ctx context.Context, first time.Duration, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	schedule := func(d time.Duration) {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if d > 0 {
			timer.Reset(d)
		}
	}

	if s.cfg.AuditDelay > 0 {
		schedule(first)
	}

	for {
		select {
		case <-stopCh:
			return
		case <-s.auditCh:
		case <-timer.C:
		}

		if err := s.Audit(ctx); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				continue
			}
			s.lg.Info("alarm audit failed, will retry", zap.Duration("delay", s.cfg.TimeoutDelay), zap.Error(err))
			schedule(s.cfg.TimeoutDelay)
			continue
		}

		schedule(s.cfg.AuditDelay)
	}
}

func (s *Synchronizer) onGetAllAlarms(_ string, msg interface{}) {
	if s.fsm.State() == Disabled {
		s.lg.Error("get all alarms response in invalid state")
		return
	}

	if resp, ok := msg.(*omci.Response); ok && resp.Success == omci.Success {
		s.ResetAlarmSequence()
	}
}

func (s *Synchronizer) onAlarmNotification(_ string, msg interface{}) {
	n, ok := msg.(omci.Notification)
	if !ok {
		return
	}

	if s.fsm.State() == Disabled {
		return
	}

	ec, ok := omci.Lookup(n.ClassID)
	if !ok || len(ec.Alarms) == 0 {
		s.lg.Warn("invalid alarm notification", zap.Int("class_id", int(n.ClassID)))
		return
	}

	if err := s.ProcessAlarmData(context.Background(), n.ClassID, n.EntityID, n.AlarmBitmap, n.Sequence); err != nil {
		s.lg.Error("could not process alarm notification",
			zap.Int("class_id", int(n.ClassID)),
			zap.Int("entity_id", n.EntityID),
			zap.Error(err))
	}
}

// ProcessAlarmData stores the new bitmap of an entity and reports the alarms
// that changed. seq is the notification sequence number, zero or negative
// when the data comes from an audit.
func (s *Synchronizer) ProcessAlarmData(
	ctx context.Context,
	classID omci.ClassID,
	entityID int,
	bitmap omci.AlarmBitmap,
	seq int,
) error {
	if seq > 0 {
		expected := s.incrementAlarmSequence()
		if expected != seq {
			s.lg.Warn("alarm sequence mismatch", zap.Int("expected", expected), zap.Int("received", seq))
			if s.cfg.AuditDelay > 0 {
				s.RequestAudit()
			}
		}

		if err := s.db.SaveAlarmLastSync(ctx, s.deviceID, seq); err != nil {
			s.lg.Warn("could not save alarm sequence", zap.Error(err))
		}
	}

	var prev omci.AlarmBitmap
	inst, err := s.db.QueryInstance(ctx, s.deviceID, classID, entityID)
	if err != nil {
		return errors.Wrap(err, "could not read previous alarm bitmap")
	}

	if inst != nil {
		prev, _ = inst.Attributes[database.AlarmBitmapKey].(omci.AlarmBitmap)
	}

	if _, err := s.db.Set(ctx, s.deviceID, classID, entityID, omci.Attributes{database.AlarmBitmapKey: bitmap}); err != nil {
		return errors.Wrap(err, "could not save alarm bitmap")
	}

	cleared, raised := diffBitmaps(prev, bitmap)
	s.lg.Debug("compare bitmap",
		zap.Int("class_id", int(classID)),
		zap.Int("entity_id", entityID),
		zap.Ints("newly_cleared", cleared),
		zap.Ints("newly_raised", raised))

	if s.handler == nil {
		return nil
	}

	for _, n := range cleared {
		if err := s.handler.ClearAlarm(ctx, classID, entityID, n); err != nil {
			s.lg.Error("could not clear alarm", zap.Int("alarm_number", n), zap.Error(err))
		}
	}

	for _, n := range raised {
		if err := s.handler.RaiseAlarm(ctx, classID, entityID, n); err != nil {
			s.lg.Error("could not raise alarm", zap.Int("alarm_number", n), zap.Error(err))
		}
	}

	return nil
}

func diffBitmaps(prev, cur omci.AlarmBitmap) (cleared, raised []int) {
	for n := 0; n < omci.AlarmBitmapBits; n++ {
		was, is := prev.IsSet(n), cur.IsSet(n)
		switch {
		case was && !is:
			cleared = append(cleared, n)
		case is && !was:
			raised = append(raised, n)
		}
	}
	return cleared, raised
}

// Differences is the outcome of comparing the ONU alarm table with ours
type Differences struct {
	OnuOnly   []Entity
	OltOnly   []Entity
	AttrDiffs []Entity
}

func (d Differences) Empty() bool {
	return len(d.OnuOnly) == 0 && len(d.OltOnly) == 0 && len(d.AttrDiffs) == 0
}

// Audit uploads the ONU alarm table, reconciles ours with it in favour of
// the ONU and moves to in_sync
func (s *Synchronizer) Audit(ctx context.Context) error {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()

	if _, err := s.fsm.Fire(TriggerAuditAlarm); err != nil {
		return err
	}

	onu, err := s.upload(ctx)
	if err != nil {
		return s.fail(err)
	}

	olt, err := s.snapshot(ctx)
	if err != nil {
		return s.fail(err)
	}

	diffs := compare(onu, olt)
	if !diffs.Empty() {
		s.lg.Info("alarm table out of sync",
			zap.Int("onu_only", len(diffs.OnuOnly)),
			zap.Int("olt_only", len(diffs.OltOnly)),
			zap.Int("attr_diffs", len(diffs.AttrDiffs)))

		if err := s.reconcile(ctx, diffs, onu); err != nil {
			return s.fail(err)
		}
	}

	if err := s.db.SaveLastSyncTime(ctx, s.deviceID, time.Now()); err != nil {
		s.lg.Warn("could not save last sync time", zap.Error(err))
	}

	if _, err := s.fsm.Fire(TriggerSuccess); err != nil {
		return err
	}

	return nil
}

func (s *Synchronizer) fail(cause error) error {
	if _, err := s.fsm.Fire(TriggerFailure); err != nil {
		s.lg.Debug("failure", zap.Error(err))
	}
	return errors.Wrapf(ErrAuditFailure, "%v", cause)
}

func (s *Synchronizer) upload(ctx context.Context) (map[Entity]omci.AlarmBitmap, error) {
	resp, err := s.channel.Send(ctx, omci.GetAllAlarmsRequest())
	if err != nil {
		return nil, err
	}

	if resp.Success != omci.Success {
		return nil, errors.Errorf("get all alarms: %s", resp.Success)
	}

	out := make(map[Entity]omci.AlarmBitmap, resp.Commands)
	for i := 0; i < resp.Commands; i++ {
		next, err := s.channel.Send(ctx, omci.GetAllAlarmsNextRequest(i))
		if err != nil {
			return nil, err
		}

		if next.Success != omci.Success {
			return nil, errors.Errorf("get all alarms next %d: %s", i, next.Success)
		}

		out[Entity{next.AlarmClassID, next.AlarmEntityID}] = next.AlarmBitmap
	}

	return out, nil
}

func (s *Synchronizer) snapshot(ctx context.Context) (map[Entity]omci.AlarmBitmap, error) {
	dev, err := s.db.Query(ctx, s.deviceID)
	if err != nil {
		return nil, err
	}

	out := make(map[Entity]omci.AlarmBitmap)
	for classID, class := range dev.Classes {
		for entityID, inst := range class.Instances {
			bitmap, _ := inst.Attributes[database.AlarmBitmapKey].(omci.AlarmBitmap)
			out[Entity{classID, entityID}] = bitmap
		}
	}

	return out, nil
}

func compare(onu, olt map[Entity]omci.AlarmBitmap) Differences {
	var d Differences

	for k, bitmap := range onu {
		stored, ok := olt[k]
		switch {
		case !ok:
			d.OnuOnly = append(d.OnuOnly, k)
		case ok && stored != bitmap:
			d.AttrDiffs = append(d.AttrDiffs, k)
		}
	}

	for k := range olt {
		if _, ok := onu[k]; !ok {
			d.OltOnly = append(d.OltOnly, k)
		}
	}

	sortKeys(d.OnuOnly)
	sortKeys(d.OltOnly)
	sortKeys(d.AttrDiffs)

	return d
}

func sortKeys(keys []Entity) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ClassID != keys[j].ClassID {
			return keys[i].ClassID < keys[j].ClassID
		}
		return keys[i].EntityID < keys[j].EntityID
	})
}

func (s *Synchronizer) reconcile(ctx context.Context, d Differences, onu map[Entity]omci.AlarmBitmap) error {
	for _, k := range d.OnuOnly {
		if err := s.ProcessAlarmData(ctx, k.ClassID, k.EntityID, onu[k], -1); err != nil {
			return err
		}
	}

	for _, k := range d.OltOnly {
		if err := s.ProcessAlarmData(ctx, k.ClassID, k.EntityID, omci.AlarmBitmap{}, -1); err != nil {
			return err
		}
		if _, err := s.db.Delete(ctx, s.deviceID, k.ClassID, k.EntityID); err != nil {
			return err
		}
	}

	for _, k := range d.AttrDiffs {
		if err := s.ProcessAlarmData(ctx, k.ClassID, k.EntityID, onu[k], -1); err != nil {
			return err
		}
	}

	return nil
}

// Alarms returns the raised alarms of an entity as stored in the alarm table
func (s *Synchronizer) Alarms(ctx context.Context, classID omci.ClassID, entityID int) ([]int, error) {
	if s.fsm.State() != InSync {
		return nil, ErrNotInSync
	}

	inst, err := s.db.QueryInstance(ctx, s.deviceID, classID, entityID)
	if err != nil || inst == nil {
		return nil, err
	}

	bitmap, _ := inst.Attributes[database.AlarmBitmapKey].(omci.AlarmBitmap)
	return bitmap.Alarms(), nil
}
