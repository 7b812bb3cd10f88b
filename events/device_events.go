package events

import "strconv"

func NewHeartbeatEvent(mgr *AdapterEvents, objectType string, heartbeatMisses int, raisedTs int64) *DeviceEventBase {
	if objectType == "" {
		objectType = "olt"
	}

	return NewDeviceEventBase(mgr, raisedTs, objectType, "Heartbeat",
		WithCategory(CategoryEquipment, SubCategoryPon),
		WithContext(func() map[string]interface{} {
			return map[string]interface{}{"heartbeats-missed": heartbeatMisses}
		}),
	)
}

// NewOltLosEvent reports loss of signal on an NNI or PON port of the OLT
func NewOltLosEvent(mgr *AdapterEvents, intfID int, portTypeName string, raisedTs int64) *DeviceEventBase {
	return NewDeviceEventBase(mgr, raisedTs, "olt LOS", "OLT_LOS",
		WithCategory(CategoryCommunication, SubCategoryOnu),
		WithContext(func() map[string]interface{} {
			// the trailing colon is part of the published key
			return map[string]interface{}{
				"olt-intf-id:":       intfID,
				"olt-port-type-name": portTypeName,
			}
		}),
	)
}

func NewOnuDiscoveryEvent(mgr *AdapterEvents, ponID int, serialNumber string, raisedTs int64) *DeviceEventBase {
	return NewDeviceEventBase(mgr, raisedTs, "ONU Discovery", "ONU_DISCOVERY",
		WithResourceID(strconv.Itoa(ponID)),
		WithCategory(CategoryEquipment, SubCategoryOnu),
		WithContext(func() map[string]interface{} {
			return map[string]interface{}{
				"pon-id":        ponID,
				"serial-number": serialNumber,
				"device-type":   "onu",
			}
		}),
	)
}

// OnuRegistration describes an ONU for the activated and disabled events
type OnuRegistration struct {
	DeviceID        string
	PonID           int
	OnuID           int
	OnuSerialNumber string
	RegistrationID  string
	OltSerialNumber string
	// Host is published only when set
	Host string
}

func (r OnuRegistration) contextData() map[string]interface{} {
	data := map[string]interface{}{
		"pon-id":            r.PonID,
		"onu-id":            r.OnuID,
		"serial-number":     r.OnuSerialNumber,
		"olt_serial_number": r.OltSerialNumber,
		"device_id":         r.DeviceID,
		"registration_id":   r.RegistrationID,
	}

	if r.Host != "" {
		data["host"] = r.Host
	}

	return data
}

func NewOnuDisabledEvent(mgr *AdapterEvents, reg OnuRegistration, raisedTs int64) *DeviceEventBase {
	return NewDeviceEventBase(mgr, raisedTs, "ONU", "ONU_DISABLED",
		WithResourceID(strconv.Itoa(reg.PonID)),
		WithCategory(CategoryCommunication, SubCategoryPon),
		WithContext(reg.contextData),
	)
}

func NewOnuActiveEvent(mgr *AdapterEvents, reg OnuRegistration, raisedTs int64) *DeviceEventBase {
	return NewDeviceEventBase(mgr, raisedTs, "ONU", "ONU_ACTIVATED",
		WithResourceID(strconv.Itoa(reg.PonID)),
		WithCategory(CategoryCommunication, SubCategoryPon),
		WithContext(reg.contextData),
	)
}

func onuContext(onuID, intfID int, serialNumber string, extra map[string]interface{}) ContextFunc {
	return func() map[string]interface{} {
		data := map[string]interface{}{
			"onu-id":            onuID,
			"onu-intf-id":       intfID,
			"onu-serial-number": serialNumber,
		}

		for k, v := range extra {
			data[k] = v
		}

		return data
	}
}

func NewOnuWindowDriftEvent(mgr *AdapterEvents, onuID, intfID, drift, newEqd int, serialNumber string, raisedTs int64) *DeviceEventBase {
	return NewDeviceEventBase(mgr, raisedTs, "onu WINDOW DRIFT", "ONU_WINDOW_DRIFT",
		WithCategory(CategoryCommunication, SubCategoryOnu),
		WithContext(onuContext(onuID, intfID, serialNumber, map[string]interface{}{
			"drift":   drift,
			"new-eqd": newEqd,
		})),
	)
}

func NewOnuSignalDegradeEvent(mgr *AdapterEvents, onuID, intfID, inverseBitErrorRate int, serialNumber string, raisedTs int64) *DeviceEventBase {
	return NewDeviceEventBase(mgr, raisedTs, "onu SIGNAL DEGRADE", "ONU_SIGNAL_DEGRADE",
		WithCategory(CategoryCommunication, SubCategoryOnu),
		WithContext(onuContext(onuID, intfID, serialNumber, map[string]interface{}{
			"inverse-bit-error-rate": inverseBitErrorRate,
		})),
	)
}

func NewOnuSignalFailEvent(mgr *AdapterEvents, onuID, intfID, inverseBitErrorRate int, serialNumber string, raisedTs int64) *DeviceEventBase {
	return NewDeviceEventBase(mgr, raisedTs, "onu SIGNAL FAIL", "ONU_SIGNAL_FAIL",
		WithCategory(CategoryCommunication, SubCategoryOnu),
		WithContext(onuContext(onuID, intfID, serialNumber, map[string]interface{}{
			"inverse-bit-error-rate": inverseBitErrorRate,
		})),
	)
}

// onuIndicator describes an ONU event whose context is only the ONU identity
type onuIndicator struct {
	objectType  string
	event       string
	category    EventCategory
	subCategory EventSubCategory
}

func (oi onuIndicator) new(mgr *AdapterEvents, onuID, intfID int, serialNumber string, raisedTs int64) *DeviceEventBase {
	return NewDeviceEventBase(mgr, raisedTs, oi.objectType, oi.event,
		WithCategory(oi.category, oi.subCategory),
		WithContext(onuContext(onuID, intfID, serialNumber, nil)),
	)
}

var (
	onuLowTxOptical    = onuIndicator{"onu low tx optical power", "ONU_LOW_TX_OPTICAL", CategoryCommunication, SubCategoryOnu}
	onuLopcMiss        = onuIndicator{"onu LOPC_MISS", "ONU_LOPC_MISS", CategoryEquipment, SubCategoryOnu}
	onuVoltageYellow   = onuIndicator{"onu voltage yellow", "ONU_VOLTAGE_YELLOW", CategoryEquipment, SubCategoryOnu}
	onuDyingGasp       = onuIndicator{"onu DYING_GASP", "ONU_DYING_GASP", CategoryCommunication, SubCategoryOnu}
	onuLos             = onuIndicator{"onu LOSS_OF_SIGNAL", "ONU_LOSS_OF_SIGNAL", CategoryCommunication, SubCategoryOnu}
	onuLopcMicError    = onuIndicator{"onu LOPC_MIC_ERROR", "ONU_LOPC_MIC_ERROR", CategoryCommunication, SubCategoryOnu}
	onuLob             = onuIndicator{"onu LOSS_OF_BURST", "ONU_LOSS_OF_BURST", CategoryCommunication, SubCategoryOnu}
	onuStartup         = onuIndicator{"onu STARTUP_FAILURE", "ONU_STARTUP_FAILURE", CategoryCommunication, SubCategoryOnu}
	onuActivationFail  = onuIndicator{"onu ACTIVATION_FAIL", "ONU_ACTIVATION_FAIL", CategoryCommunication, SubCategoryOnu}
	onuEquipment       = onuIndicator{"onu equipment", "ONU_EQUIPMENT", CategoryEquipment, SubCategoryOnu}
	onuSelfTestFailure = onuIndicator{"onu self-test failure", "ONU_SELF_TEST_FAIL", CategoryEquipment, SubCategoryOnu}
	onuLaserEol        = onuIndicator{"onu laser EOL", "ONU_LASER_EOL", CategoryEquipment, SubCategoryOnu}
	onuLaserBias       = onuIndicator{"onu laser bias current", "ONU_LASER_BIAS_CURRENT", CategoryEquipment, SubCategoryOnu}
	onuTempYellow      = onuIndicator{"onu temperature yellow", "ONU_TEMP_YELLOW", CategoryEnvironment, SubCategoryOnu}
	onuTempRed         = onuIndicator{"onu temperature red", "ONU_TEMP_RED", CategoryEnvironment, SubCategoryOnu}
	onuVoltageRed      = onuIndicator{"onu voltage red", "ONU_VOLTAGE_RED", CategoryEquipment, SubCategoryOnu}
	onuLowRxOptical    = onuIndicator{"onu low rx optical power", "ONU_LOW_RX_OPTICAL", CategoryCommunication, SubCategoryOnu}
	onuHighRxOptical   = onuIndicator{"onu high rx optical power", "ONU_HIGH_RX_OPTICAL", CategoryCommunication, SubCategoryOnu}
	onuHighTxOptical   = onuIndicator{"onu high tx optical power", "ONU_HIGH_TX_OPTICAL", CategoryCommunication, SubCategoryOnu}
	onuEthernetUni     = onuIndicator{"onu ethernet uni", "ONU_ETHERNET_UNI", CategoryEquipment, SubCategoryOnu}
)

func NewOnuLowTxOpticalEvent(mgr *AdapterEvents, onuID, intfID int, serialNumber string, raisedTs int64) *DeviceEventBase {
	return onuLowTxOptical.new(mgr, onuID, intfID, serialNumber, raisedTs)
}

func NewOnuLopcMissEvent(mgr *AdapterEvents, onuID, intfID int, serialNumber string, raisedTs int64) *DeviceEventBase {
	return onuLopcMiss.new(mgr, onuID, intfID, serialNumber, raisedTs)
}

func NewOnuVoltageYellowEvent(mgr *AdapterEvents, onuID, intfID int, serialNumber string, raisedTs int64) *DeviceEventBase {
	return onuVoltageYellow.new(mgr, onuID, intfID, serialNumber, raisedTs)
}

func NewOnuDyingGaspEvent(mgr *AdapterEvents, onuID, intfID int, serialNumber string, raisedTs int64) *DeviceEventBase {
	return onuDyingGasp.new(mgr, onuID, intfID, serialNumber, raisedTs)
}

func NewOnuLosEvent(mgr *AdapterEvents, onuID, intfID int, serialNumber string, raisedTs int64) *DeviceEventBase {
	return onuLos.new(mgr, onuID, intfID, serialNumber, raisedTs)
}

func NewOnuLopcMicErrorEvent(mgr *AdapterEvents, onuID, intfID int, serialNumber string, raisedTs int64) *DeviceEventBase {
	return onuLopcMicError.new(mgr, onuID, intfID, serialNumber, raisedTs)
}

func NewOnuLobEvent(mgr *AdapterEvents, onuID, intfID int, serialNumber string, raisedTs int64) *DeviceEventBase {
	return onuLob.new(mgr, onuID, intfID, serialNumber, raisedTs)
}

func NewOnuStartupEvent(mgr *AdapterEvents, onuID, intfID int, serialNumber string, raisedTs int64) *DeviceEventBase {
	return onuStartup.new(mgr, onuID, intfID, serialNumber, raisedTs)
}

func NewOnuActivationFailEvent(mgr *AdapterEvents, onuID, intfID int, serialNumber string, raisedTs int64) *DeviceEventBase {
	return onuActivationFail.new(mgr, onuID, intfID, serialNumber, raisedTs)
}

func NewOnuEquipmentEvent(mgr *AdapterEvents, onuID, intfID int, serialNumber string, raisedTs int64) *DeviceEventBase {
	return onuEquipment.new(mgr, onuID, intfID, serialNumber, raisedTs)
}

func NewOnuSelfTestFailureEvent(mgr *AdapterEvents, onuID, intfID int, serialNumber string, raisedTs int64) *DeviceEventBase {
	return onuSelfTestFailure.new(mgr, onuID, intfID, serialNumber, raisedTs)
}

func NewOnuLaserEolEvent(mgr *AdapterEvents, onuID, intfID int, serialNumber string, raisedTs int64) *DeviceEventBase {
	return onuLaserEol.new(mgr, onuID, intfID, serialNumber, raisedTs)
}

func NewOnuLaserBiasEvent(mgr *AdapterEvents, onuID, intfID int, serialNumber string, raisedTs int64) *DeviceEventBase {
	return onuLaserBias.new(mgr, onuID, intfID, serialNumber, raisedTs)
}

func NewOnuTempYellowEvent(mgr *AdapterEvents, onuID, intfID int, serialNumber string, raisedTs int64) *DeviceEventBase {
	return onuTempYellow.new(mgr, onuID, intfID, serialNumber, raisedTs)
}

func NewOnuTempRedEvent(mgr *AdapterEvents, onuID, intfID int, serialNumber string, raisedTs int64) *DeviceEventBase {
	return onuTempRed.new(mgr, onuID, intfID, serialNumber, raisedTs)
}

func NewOnuVoltageRedEvent(mgr *AdapterEvents, onuID, intfID int, serialNumber string, raisedTs int64) *DeviceEventBase {
	return onuVoltageRed.new(mgr, onuID, intfID, serialNumber, raisedTs)
}

func NewOnuLowRxOpticalEvent(mgr *AdapterEvents, onuID, intfID int, serialNumber string, raisedTs int64) *DeviceEventBase {
	return onuLowRxOptical.new(mgr, onuID, intfID, serialNumber, raisedTs)
}

func NewOnuHighRxOpticalEvent(mgr *AdapterEvents, onuID, intfID int, serialNumber string, raisedTs int64) *DeviceEventBase {
	return onuHighRxOptical.new(mgr, onuID, intfID, serialNumber, raisedTs)
}

func NewOnuHighTxOpticalEvent(mgr *AdapterEvents, onuID, intfID int, serialNumber string, raisedTs int64) *DeviceEventBase {
	return onuHighTxOptical.new(mgr, onuID, intfID, serialNumber, raisedTs)
}

func NewOnuEthernetUniEvent(mgr *AdapterEvents, onuID, intfID int, serialNumber string, raisedTs int64) *DeviceEventBase {
	return onuEthernetUni.new(mgr, onuID, intfID, serialNumber, raisedTs)
}
