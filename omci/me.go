package omci

import (
	"fmt"

	"github.com/pkg/errors"
)

var ErrUnknownAttribute = errors.New("unknown attribute")
var ErrUnknownClass = errors.New("unknown managed entity class")

// ClassID identifies a managed entity class, 0..0xFFFF
type ClassID int

const (
	OntDataClassID                 ClassID = 2
	CardholderClassID              ClassID = 5
	CircuitPackClassID             ClassID = 6
	SoftwareImageClassID           ClassID = 7
	PptpEthernetUniClassID         ClassID = 11
	MacBridgeServiceProfileClassID ClassID = 45
	IpHostConfigDataClassID        ClassID = 134
	OntGClassID                    ClassID = 256
	Ont2GClassID                   ClassID = 257
	TcontClassID                   ClassID = 262
	AniGClassID                    ClassID = 263
	UniGClassID                    ClassID = 264
	GemPortNetworkCtpClassID       ClassID = 268
)

func (c ClassID) String() string {
	if ec, ok := entities[c]; ok {
		return ec.Name
	}
	return fmt.Sprintf("ClassID(%d)", int(c))
}

func (c ClassID) Valid() bool {
	return c >= 0 && c <= 0xFFFF
}

// EntityClass describes a managed entity. Attribute i of the slice is
// attribute index i+1 on the wire, index 0 being the entity id.
type EntityClass struct {
	ClassID    ClassID
	Name       string
	Attributes []string
	Alarms     map[int]string
}

// AttributeIndex returns the 1 based attribute index of name
func (ec *EntityClass) AttributeIndex(name string) (int, bool) {
	for i, a := range ec.Attributes {
		if a == name {
			return i + 1, true
		}
	}
	return 0, false
}

// Mask returns the attribute mask selecting names, attribute 1 being the MSB
func (ec *EntityClass) Mask(names ...string) (uint16, error) {
	var mask uint16
	for _, n := range names {
		idx, ok := ec.AttributeIndex(n)
		if !ok {
			return 0, errors.Wrapf(ErrUnknownAttribute, "%s has no %q", ec.Name, n)
		}
		mask |= 1 << (16 - idx)
	}
	return mask, nil
}

func (ec *EntityClass) AlarmName(n int) (string, bool) {
	name, ok := ec.Alarms[n]
	return name, ok
}

func Lookup(c ClassID) (*EntityClass, bool) {
	ec, ok := entities[c]
	return ec, ok
}

var entities = map[ClassID]*EntityClass{
	OntDataClassID: {
		ClassID:    OntDataClassID,
		Name:       "OntData",
		Attributes: []string{"mib_data_sync"},
	},
	CardholderClassID: {
		ClassID: CardholderClassID,
		Name:    "Cardholder",
		Attributes: []string{
			"actual_plugin_unit_type", "expected_plugin_unit_type", "expected_port_count",
			"expected_equipment_id", "actual_equipment_id", "protection_profile_pointer",
			"invoke_protection_switch",
		},
		Alarms: map[int]string{0: "plug-in-circuit-pack-missing", 1: "plug-in-type-mismatch", 2: "improper-card-removal"},
	},
	CircuitPackClassID: {
		ClassID: CircuitPackClassID,
		Name:    "CircuitPack",
		Attributes: []string{
			"type", "number_of_ports", "serial_number", "version", "vendor_id",
			"administrative_state", "operational_state", "bridged_or_ip_ind", "equipment_id",
			"card_configuration", "total_tcont_buffer_number", "total_priority_queue_number",
			"total_traffic_scheduler_number", "power_shed_override",
		},
		Alarms: map[int]string{
			0: "equipment-alarm",
			1: "powering-alarm",
			2: "self-test-failure",
			3: "laser-end-of-life",
			4: "temperature-yellow",
			5: "temperature-red",
		},
	},
	SoftwareImageClassID: {
		ClassID:    SoftwareImageClassID,
		Name:       "SoftwareImage",
		Attributes: []string{"version", "is_committed", "is_active", "is_valid", "product_code", "image_hash"},
	},
	PptpEthernetUniClassID: {
		ClassID: PptpEthernetUniClassID,
		Name:    "PptpEthernetUni",
		Attributes: []string{
			"expected_type", "sensed_type", "autodetection_config", "ethernet_loopback_config",
			"administrative_state", "operational_state", "config_ind", "max_frame_size",
			"dte_or_dce_ind", "pause_time", "bridged_or_ip_ind", "arc", "arc_interval",
			"pppoe_filter", "power_control",
		},
		Alarms: map[int]string{0: "lan-los"},
	},
	MacBridgeServiceProfileClassID: {
		ClassID: MacBridgeServiceProfileClassID,
		Name:    "MacBridgeServiceProfile",
		Attributes: []string{
			"spanning_tree_ind", "learning_ind", "port_bridging_ind", "priority", "max_age",
			"hello_time", "forward_delay", "unknown_mac_address_discard", "mac_learning_depth",
			"dynamic_filtering_ageing_time",
		},
	},
	IpHostConfigDataClassID: {
		ClassID: IpHostConfigDataClassID,
		Name:    "IpHostConfigData",
		Attributes: []string{
			"ip_options", "mac_address", "onu_identifier", "ip_address", "mask", "gateway",
			"primary_dns", "secondary_dns", "current_address", "current_mask", "current_gateway",
			"current_primary_dns", "current_secondary_dns", "domain_name", "host_name",
		},
	},
	OntGClassID: {
		ClassID: OntGClassID,
		Name:    "OntG",
		Attributes: []string{
			"vendor_id", "version", "serial_number", "traffic_management_options",
			"vp_vc_cross_connection_option", "battery_backup", "administrative_state",
			"operational_state", "ont_survival_time", "logical_onu_id", "logical_password",
			"credentials_status", "extended_tc_layer_options",
		},
		Alarms: map[int]string{
			0:  "equipment-alarm",
			1:  "powering-alarm",
			2:  "battery-missing",
			3:  "battery-failure",
			4:  "battery-low",
			5:  "physical-intrusion",
			6:  "onu-self-test-failure",
			7:  "dying-gasp",
			8:  "temperature-yellow",
			9:  "temperature-red",
			10: "voltage-yellow",
			11: "voltage-red",
			12: "onu-manual-power-off",
			13: "inv-image",
			14: "pse-overload-yellow",
			15: "pse-overload-red",
		},
	},
	Ont2GClassID: {
		ClassID: Ont2GClassID,
		Name:    "Ont2G",
		Attributes: []string{
			"equipment_id", "omcc_version", "vendor_product_code", "security_capability",
			"security_mode", "total_priority_queue_number", "total_traffic_scheduler_number",
			"deprecated0001", "total_gem_port_id_number", "sys_uptime", "connectivity_capability",
			"current_connectivity_mode", "qos_configuration_flexibility", "priority_queue_scale_factor",
		},
	},
	TcontClassID: {
		ClassID:    TcontClassID,
		Name:       "Tcont",
		Attributes: []string{"alloc_id", "deprecated", "policy"},
	},
	AniGClassID: {
		ClassID: AniGClassID,
		Name:    "AniG",
		Attributes: []string{
			"sr_indication", "total_tcont_number", "gem_block_length", "piggyback_dba_reporting",
			"deprecated", "sf_threshold", "sd_threshold", "arc", "arc_interval",
			"optical_signal_level", "lower_optical_threshold", "upper_optical_threshold",
			"onu_response_time", "transmit_optical_level", "lower_transmit_power_threshold",
			"upper_transmit_power_threshold",
		},
		Alarms: map[int]string{
			0: "low-received-optical-power",
			1: "high-received-optical-power",
			2: "signal-fail",
			3: "signal-degrade",
			4: "low-transmit-optical-power",
			5: "high-transmit-optical-power",
			6: "laser-bias-current",
		},
	},
	UniGClassID: {
		ClassID: UniGClassID,
		Name:    "UniG",
		Attributes: []string{
			"deprecated", "administrative_state", "management_capability",
			"non_omci_management_identifier", "relay_agent_options", "oper_state",
		},
	},
	GemPortNetworkCtpClassID: {
		ClassID: GemPortNetworkCtpClassID,
		Name:    "GemPortNetworkCtp",
		Attributes: []string{
			"port_id", "tcont_pointer", "direction", "traffic_management_pointer_upstream",
			"traffic_descriptor_profile_pointer", "uni_counter", "priority_queue_pointer_downstream",
			"encryption_state", "traffic_desriptor_profile_ds_pointer", "encryption_key_ring",
		},
		Alarms: map[int]string{5: "end-to-end-loss-of-continuity"},
	},
}
