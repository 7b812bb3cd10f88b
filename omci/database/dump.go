package database

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/denismitr/voltha/omci"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// The dump layout keeps device fields at the top level next to one object
// per class keyed by class id, each holding one object per instance keyed
// by entity id. MIB templates use the same class/instance layout.

const (
	deviceIDKey        = "device_id"
	createdKey         = "created"
	modifiedKey        = "modified"
	lastSyncKey        = "last_mib_sync"
	mibDataSyncKey     = "mib_data_sync"
	versionKey         = "version"
	managedEntitiesKey = "managed_entities"
	messageTypesKey    = "message_types"
	classIDKey         = "class_id"
	instanceIDKey      = "instance_id"
	attributesKey      = "attributes"
)

func encodeDump(d *Device) ([]byte, error) {
	doc := map[string]interface{}{
		deviceIDKey:        d.DeviceID,
		createdKey:         timeToString(d.Created),
		lastSyncKey:        timeToString(d.LastSyncTime),
		mibDataSyncKey:     d.MibDataSync,
		versionKey:         d.Version,
		managedEntitiesKey: d.ManagedEntities,
		messageTypesKey:    d.MessageTypes,
	}

	for classID, cls := range d.Classes {
		classDoc := map[string]interface{}{classIDKey: classID}
		for entityID, inst := range cls.Instances {
			classDoc[strconv.Itoa(entityID)] = map[string]interface{}{
				instanceIDKey: inst.InstanceID,
				createdKey:    timeToString(inst.Created),
				modifiedKey:   timeToString(inst.Modified),
				attributesKey: inst.Attributes,
			}
		}
		doc[strconv.Itoa(int(classID))] = classDoc
	}

	b, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrapf(err, "could not dump device %s", d.DeviceID)
	}

	return b, nil
}

func decodeDump(raw []byte) (*Device, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errors.Wrap(ErrInvalidArgument, "malformed mib dump")
	}

	root := gjson.ParseBytes(raw)
	d := &Device{
		DeviceID:    root.Get(deviceIDKey).String(),
		MibDataSync: int(root.Get(mibDataSyncKey).Int()),
		Version:     int(root.Get(versionKey).Int()),
	}

	var err error
	if d.Created, err = stringToTime(root.Get(createdKey).String()); err != nil {
		return nil, err
	}
	if d.LastSyncTime, err = stringToTime(root.Get(lastSyncKey).String()); err != nil {
		return nil, err
	}

	root.Get(managedEntitiesKey).ForEach(func(_, me gjson.Result) bool {
		d.ManagedEntities = append(d.ManagedEntities, ManagedEntity{
			ClassID: omci.ClassID(me.Get(classIDKey).Int()),
			Name:    me.Get("name").String(),
		})
		return true
	})

	root.Get(messageTypesKey).ForEach(func(_, mt gjson.Result) bool {
		d.MessageTypes = append(d.MessageTypes, omci.MessageType(mt.Int()))
		return true
	})

	if d.Classes, err = decodeClasses(root, time.Time{}); err != nil {
		return nil, err
	}

	return d, nil
}

// decodeClasses reads every all-digit key of root as a class. A non zero
// stamp replaces the created and modified times of every instance.
func decodeClasses(root gjson.Result, stamp time.Time) (Classes, error) {
	classes := make(Classes)
	var err error

	root.ForEach(func(key, value gjson.Result) bool {
		id, ok := numericKey(key.String())
		if !ok || !value.IsObject() {
			return true
		}

		classID := omci.ClassID(id)
		if !classID.Valid() {
			err = errors.Wrapf(ErrInvalidArgument, "class id %d out of range", id)
			return false
		}

		cls := &Class{ClassID: classID, Instances: make(map[int]*Instance)}
		value.ForEach(func(instKey, instValue gjson.Result) bool {
			entityID, ok := numericKey(instKey.String())
			if !ok || !instValue.IsObject() {
				return true
			}

			var inst *Instance
			if inst, err = decodeInstance(entityID, instValue, stamp); err != nil {
				return false
			}

			cls.Instances[entityID] = inst
			return true
		})

		if err != nil {
			return false
		}

		classes[classID] = cls
		return true
	})

	if err != nil {
		return nil, err
	}

	return classes, nil
}

func decodeInstance(entityID int, value gjson.Result, stamp time.Time) (*Instance, error) {
	if entityID > 0xFFFF {
		return nil, errors.Wrapf(ErrInvalidArgument, "entity id %d out of range", entityID)
	}

	inst := &Instance{InstanceID: entityID, Attributes: make(omci.Attributes)}
	if stamp.IsZero() {
		var err error
		if inst.Created, err = stringToTime(value.Get(createdKey).String()); err != nil {
			return nil, err
		}
		if inst.Modified, err = stringToTime(value.Get(modifiedKey).String()); err != nil {
			return nil, err
		}
	} else {
		inst.Created, inst.Modified = stamp, stamp
	}

	value.Get(attributesKey).ForEach(func(name, attr gjson.Result) bool {
		inst.Attributes[name.String()] = fromResult(attr)
		return true
	})

	return inst, nil
}

func numericKey(s string) (int, bool) {
	if s == "" || len(s) > 6 {
		return 0, false
	}

	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}

	n, err := strconv.Atoi(s)
	return n, err == nil
}
