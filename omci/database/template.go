package database

import (
	"bytes"
	"context"
	"sort"
	"strings"

	"github.com/denismitr/voltha/kvstore"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	serialNumberPlaceholder = "%SERIAL_NUMBER%"
	macAddressPlaceholder   = "%MAC_ADDRESS%"
)

// MibTemplateDb looks up MIB templates by vendor, equipment and software version.
// kv is expected to be scoped at TemplatePath.
type MibTemplateDb struct {
	kv kvstore.Client
	lg *zap.Logger
}

func NewMibTemplateDb(kv kvstore.Client, lg *zap.Logger) *MibTemplateDb {
	if lg == nil {
		lg = zap.NewNop()
	}

	return &MibTemplateDb{kv: kv, lg: lg}
}

func templateKey(vendorID, equipmentID, softwareVersion string) (string, error) {
	if vendorID == "" || equipmentID == "" || softwareVersion == "" {
		return "", errors.Wrap(ErrInvalidArgument, "vendor, equipment and software version are required")
	}
	return vendorID + "/" + equipmentID + "/" + softwareVersion, nil
}

// GetTemplate returns nil without an error when no template is stored
func (tdb *MibTemplateDb) GetTemplate(ctx context.Context, vendorID, equipmentID, softwareVersion string) (*MibTemplate, error) {
	key, err := templateKey(vendorID, equipmentID, softwareVersion)
	if err != nil {
		return nil, err
	}

	raw, err := tdb.kv.Get(ctx, key)
	if err != nil {
		if kvstore.IsNotFound(err) {
			tdb.lg.Warn("no template found", zap.String("path", key))
			return nil, nil
		}
		return nil, err
	}

	tdb.lg.Debug("found template data", zap.String("path", key))
	return &MibTemplate{Path: key, raw: raw}, nil
}

func (tdb *MibTemplateDb) SaveTemplate(ctx context.Context, vendorID, equipmentID, softwareVersion string, raw []byte) error {
	key, err := templateKey(vendorID, equipmentID, softwareVersion)
	if err != nil {
		return err
	}

	if !gjson.ValidBytes(raw) {
		return errors.Wrapf(ErrInvalidArgument, "template %s is not valid json", key)
	}

	return tdb.kv.Set(ctx, key, raw)
}

// Templates lists the vendor/equipment/version paths of the stored templates
func (tdb *MibTemplateDb) Templates(ctx context.Context) ([]string, error) {
	all, err := tdb.kv.List(ctx, "")
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(all))
	for key := range all {
		if strings.Count(key, "/") == 2 {
			out = append(out, key)
		}
	}

	sort.Strings(out)
	return out, nil
}

type MibTemplate struct {
	Path string
	raw  []byte
}

// Instance fills in the placeholders of the template and returns its classes,
// every instance stamped as created and modified now
func (t *MibTemplate) Instance(serialNumber, macAddress string) (Classes, error) {
	fixup := bytes.ReplaceAll(t.raw, []byte(serialNumberPlaceholder), []byte(serialNumber))
	fixup = bytes.ReplaceAll(fixup, []byte(macAddressPlaceholder), []byte(macAddress))

	if !gjson.ValidBytes(fixup) {
		return nil, errors.Wrapf(ErrInvalidArgument, "template %s is not valid json", t.Path)
	}

	return decodeClasses(gjson.ParseBytes(fixup), now())
}
