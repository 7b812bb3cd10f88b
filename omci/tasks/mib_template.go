package tasks

import (
	"context"
	"sync"

	"github.com/denismitr/voltha/omci"
	"github.com/denismitr/voltha/omci/database"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const MibTemplatePriority = 250

// TemplateStore finds the MIB template of an ONU model
type TemplateStore interface {
	GetTemplate(ctx context.Context, vendorID, equipmentID, softwareVersion string) (*database.MibTemplate, error)
}

var _ TemplateStore = (*database.MibTemplateDb)(nil)

// OnuIdentity is what the template task learns about the ONU
type OnuIdentity struct {
	VendorID        string
	SerialNumber    string
	EquipmentID     string
	SoftwareVersion string
	MacAddress      string
}

// MibTemplateTask resets the ONU MIB and looks up a stored template matching
// the ONU model, so that the MIB can be loaded without a full upload
type MibTemplateTask struct {
	deviceID  string
	channel   omci.Channel
	templates TemplateStore
	lg        *zap.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	identity OnuIdentity
	result   database.Classes
}

var _ Task = (*MibTemplateTask)(nil)

func NewMibTemplateTask(deviceID string, channel omci.Channel, templates TemplateStore, lg *zap.Logger) *MibTemplateTask {
	if lg == nil {
		lg = zap.NewNop()
	}

	return &MibTemplateTask{
		deviceID:  deviceID,
		channel:   channel,
		templates: templates,
		lg:        lg.With(zap.String("device_id", deviceID), zap.String("task", "mib-template")),
	}
}

func (t *MibTemplateTask) Name() string  { return "MIB Templating Task" }
func (t *MibTemplateTask) Priority() int { return MibTemplatePriority }

func (t *MibTemplateTask) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}
}

// Result is the template instance, nil when no usable template was found
func (t *MibTemplateTask) Result() database.Classes {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

func (t *MibTemplateTask) Identity() OnuIdentity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.identity
}

func (t *MibTemplateTask) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.mu.Lock()
	t.cancel = cancel
	t.result = nil
	t.mu.Unlock()

	resp, err := t.channel.Send(ctx, omci.MibResetRequest())
	if err != nil {
		return errors.Wrap(err, "mib reset")
	}

	if resp.Success != omci.Success {
		return errors.Wrapf(ErrMibResetFailure, "status code: %s", resp.Success)
	}

	t.lg.Debug("gather onu info")

	id, err := t.gather(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.identity = id
	t.mu.Unlock()

	if id.VendorID == "" || id.EquipmentID == "" || id.SoftwareVersion == "" {
		t.lg.Info("no usable template lookup data",
			zap.String("vendor_id", id.VendorID),
			zap.String("equipment_id", id.EquipmentID),
			zap.String("software_version", id.SoftwareVersion))
		return nil
	}

	t.lg.Debug("looking up template",
		zap.String("vendor_id", id.VendorID),
		zap.String("equipment_id", id.EquipmentID),
		zap.String("software_version", id.SoftwareVersion))

	tmpl, err := t.templates.GetTemplate(ctx, id.VendorID, id.EquipmentID, id.SoftwareVersion)
	if err != nil || tmpl == nil {
		return err
	}

	classes, err := tmpl.Instance(id.SerialNumber, id.MacAddress)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.result = classes
	t.mu.Unlock()

	return nil
}

func (t *MibTemplateTask) gather(ctx context.Context) (OnuIdentity, error) {
	var (
		ontG, ont2G, image0, image1, ipHost omci.Attributes
	)

	g, gctx := errgroup.WithContext(ctx)
	read := func(dst *omci.Attributes, classID omci.ClassID, entityID int, attrs ...string) {
		g.Go(func() error {
			values, err := t.get(gctx, classID, entityID, attrs...)
			if err != nil {
				return err
			}
			*dst = values
			return nil
		})
	}

	read(&ontG, omci.OntGClassID, 0, "vendor_id", "serial_number")
	read(&ont2G, omci.Ont2GClassID, 0, "equipment_id")
	read(&image0, omci.SoftwareImageClassID, 0, "is_active", "version")
	read(&image1, omci.SoftwareImageClassID, 1, "is_active", "version")
	read(&ipHost, omci.IpHostConfigDataClassID, 1, "mac_address")

	if err := g.Wait(); err != nil {
		return OnuIdentity{}, err
	}

	id := OnuIdentity{
		VendorID:     attrString(ontG["vendor_id"]),
		SerialNumber: attrString(ontG["serial_number"]),
		EquipmentID:  attrString(ont2G["equipment_id"]),
		MacAddress:   attrString(ipHost["mac_address"]),
	}

	if active, _ := attrInt(image0["is_active"]); active == 1 {
		id.SoftwareVersion = attrString(image0["version"])
	} else if active, _ := attrInt(image1["is_active"]); active == 1 {
		id.SoftwareVersion = attrString(image1["version"])
	}

	return id, nil
}

// get returns the attribute values, empty when the ONU did not answer with Success
func (t *MibTemplateTask) get(ctx context.Context, classID omci.ClassID, entityID int, attrs ...string) (omci.Attributes, error) {
	frame, err := omci.NewFrame(classID, entityID)
	if err != nil {
		return nil, err
	}

	req, err := frame.Get(attrs...)
	if err != nil {
		return nil, err
	}

	resp, err := t.channel.Send(ctx, req)
	if err != nil {
		return nil, errors.Wrapf(err, "get %s/%d", classID, entityID)
	}

	if resp.Success != omci.Success {
		return omci.Attributes{}, nil
	}

	return resp.Attributes, nil
}
