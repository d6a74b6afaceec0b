package jkbms

import (
	"encoding/json"
	"fmt"
)

// Device metadata shared by every descriptor.
const (
	deviceManufacturer = "JK Battery"
	deviceModel        = "JK Inverter BMS"

	entityCategoryDiagnostic = "diagnostic"

	// noPrecision omits suggested_display_precision.
	noPrecision = -1
)

// SensorKind is the Home Assistant entity platform of a descriptor.
type SensorKind string

const (
	KindSensor       SensorKind = "sensor"
	KindBinarySensor SensorKind = "binary_sensor"
)

// DeviceDescriptor groups all entities of one BMS into a Home Assistant device.
type DeviceDescriptor struct {
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	Identifiers  []string `json:"identifiers"`
}

// SensorDescriptor is the MQTT discovery config of one entity.
// Field order here is the key order of the published JSON.
//
// Empty optional keys are omitted rather than sent as null. Sensors without
// a device class (capacity in Ah, cell resistance in mΩ) keep their unit,
// and binary sensors carry no unit, class or precision keys.
type SensorDescriptor struct {
	Name                      string           `json:"name"`
	UniqueID                  string           `json:"unique_id"`
	StateTopic                string           `json:"state_topic"`
	ValueTemplate             string           `json:"value_template"`
	UnitOfMeasurement         string           `json:"unit_of_measurement,omitempty"`
	DeviceClass               string           `json:"device_class,omitempty"`
	EntityCategory            string           `json:"entity_category,omitempty"`
	SuggestedDisplayPrecision *int             `json:"suggested_display_precision,omitempty"`
	ForceUpdate               bool             `json:"force_update"`
	Device                    DeviceDescriptor `json:"device"`
}

// Descriptor is a discovery config together with where it is published.
type Descriptor struct {
	Kind    SensorKind
	Address Address
	FieldID string
	Config  SensorDescriptor
}

// Topic returns the discovery topic under the given registration root.
func (d Descriptor) Topic(registrationRoot string) string {
	return DescriptorTopic(registrationRoot, d.Kind, d.Address, d.FieldID)
}

// Payload serialises the config as 4-space indented JSON.
func (d Descriptor) Payload() ([]byte, error) {
	return json.MarshalIndent(d.Config, "", "    ")
}

// entitySpec is one row of a descriptor table.
type entitySpec struct {
	kind        SensorKind
	name        string
	fieldID     string
	deviceClass string
	unit        string
	template    string
	precision   int
}

func sensor(name, fieldID, deviceClass, unit, template string, precision int) entitySpec {
	return entitySpec{KindSensor, name, fieldID, deviceClass, unit, template, precision}
}

func binarySensor(name, fieldID, deviceClass, template string) entitySpec {
	return entitySpec{KindBinarySensor, name, fieldID, deviceClass, "", template, noPrecision}
}

func floatValue(key string) string { return "{{ value_json." + key + " | float }}" }
func intValue(key string) string   { return "{{ value_json." + key + " | int }}" }
func rawValue(key string) string   { return "{{ value_json." + key + " }}" }

// packEntities are published before the per-cell entities.
var packEntities = []entitySpec{
	sensor("SOC", "soc", "battery", "%", floatValue("soc"), 1),
	sensor("SOH", "soh", "battery", "%", floatValue("soh"), 1),
	sensor("Cycles", "cycles", "", "", intValue("cycles"), 0),
	sensor("Capacity Remaining", "capacity_remaining", "", "Ah", floatValue("cap_remaining"), 3),
	sensor("Capacity Total", "capacity_total", "", "Ah", floatValue("cap_total"), 3),
	sensor("Battery Voltage", "battery_voltage", "voltage", "V", floatValue("bat_voltage"), 3),
	sensor("Battery Current", "battery_current", "current", "A", floatValue("bat_current"), 2),
	sensor("Battery Power", "battery_power", "power", "W", floatValue("bat_power"), 2),
	sensor("Temperature MOS", "temperature_mos", "temperature", "°C", floatValue("temp_mos"), 1),
	sensor("Temperature #1", "temperature_1", "temperature", "°C", floatValue("temp1"), 1),
	sensor("Temperature #2", "temperature_2", "temperature", "°C", floatValue("temp2"), 1),
	sensor("Temperature #3", "temperature_3", "temperature", "°C", floatValue("temp3"), 1),
	sensor("Temperature #4", "temperature_4", "temperature", "°C", floatValue("temp4"), 1),
	sensor("Cells Average Voltage", "cell_average_voltage", "voltage", "V", floatValue("cell_avg_volt"), 3),
	sensor("Cells Voltage Diff", "cell_voltage_diff", "voltage", "V", floatValue("cell_volt_diff"), 3),
	sensor("Cells Max Index", "cell_max_index", "", "", intValue("cell_max_index"), 0),
	sensor("Cells Min Index", "cell_min_index", "", "", intValue("cell_min_index"), 0),
}

// balancerEntities are published after the per-cell entities.
var balancerEntities = []entitySpec{
	sensor("Balancing Current", "balancing_current", "current", "A", floatValue("bal_current"), 3),
	binarySensor("Balancing Enabled", "balancing_enabled", "", rawValue("bal_enabled")),
	sensor("Balancing Mode", "balancing_mode", "", "", rawValue("bal_mode"), noPrecision),
	binarySensor("Alarm", "alarm", "safety", rawValue("alarm")),
}

// settingsEntities read from the settings topic and are marked diagnostic.
var settingsEntities = []entitySpec{
	sensor("Charge Voltage", "charge_voltage", "voltage", "V", floatValue("charge_voltage"), 3),
	sensor("Float Voltage", "float_voltage", "voltage", "V", floatValue("float_voltage"), 3),
	sensor("Max Charge Current", "max_charge_current", "current", "A", floatValue("max_charge_current"), 3),
	sensor("Max Discharge Current", "max_discharge_current", "current", "A", floatValue("max_discharge_current"), 3),
	sensor("Balance Start Voltage", "balance_start_voltage", "voltage", "V", floatValue("balance_start_voltage"), 3),
	sensor("Balance Trigger Voltage", "balance_trigger_voltage", "voltage", "V", floatValue("balance_trigger_voltage"), 5),
	sensor("Max Balance Current", "max_balance_current", "current", "A", floatValue("max_balance_current"), 3),
	sensor("SOC 100% Voltage", "soc100_voltage", "voltage", "V", floatValue("soc100_voltage"), 3),
	sensor("SOC 0% Voltage", "soc_zero_voltage", "voltage", "V", floatValue("soc_zero_voltage"), 3),
	sensor("Cell UVP", "cell_uvp", "voltage", "V", floatValue("cell_uvp"), 3),
	sensor("Cell OVP", "cell_ovp", "voltage", "V", floatValue("cell_ovp"), 3),
	sensor("Power Off Voltage", "power_off_voltage", "voltage", "V", floatValue("power_off_voltage"), 3),
	binarySensor("Charge Enabled Switch", "charge_enabled_switch", "", rawValue("charge_enabled_switch")),
	binarySensor("Discharge Enabled Switch", "discharge_enabled_switch", "", rawValue("discharge_enabled_switch")),
	binarySensor("Balancer Switch", "balancer_switch", "", rawValue("balancer_switch")),
}

// cellEntities returns the voltage entities of all cells followed by the
// resistance entities of all cells.
func cellEntities(cellCount int) []entitySpec {
	out := make([]entitySpec, 0, 2*cellCount)
	for i := 1; i <= cellCount; i++ {
		out = append(out, sensor(
			fmt.Sprintf("Cell Voltage #%02d", i),
			fmt.Sprintf("cell_voltage_%02d", i),
			"voltage", "V", floatValue(CellVoltageKey(i)), 3))
	}
	for i := 1; i <= cellCount; i++ {
		out = append(out, sensor(
			fmt.Sprintf("Cell Resistance #%02d", i),
			fmt.Sprintf("cell_resistance_%02d", i),
			"", "mΩ", floatValue(CellResistanceKey(i)), 3))
	}
	return out
}

// DescriptorCount returns how many descriptors BuildDescriptors produces.
func DescriptorCount(cellCount int) int {
	return len(packEntities) + 2*cellCount + len(balancerEntities) + len(settingsEntities)
}

// BuildDescriptors returns the discovery descriptors of one BMS.
//
// The result depends only on its arguments: pack entities, per-cell
// entities, balancer entities, then diagnostic settings entities.
//
// Parameters:
//   - addr: Bus address of the BMS
//   - cellCount: Number of cells, as stored at registration
//   - topics: Topic roots; only Values is used here (for state topics)
//
// Returns:
//   - []Descriptor: DescriptorCount(cellCount) descriptors in publish order
func BuildDescriptors(addr Address, cellCount int, topics Topics) []Descriptor {
	out := make([]Descriptor, 0, DescriptorCount(cellCount))

	stateTopic := StateTopic(topics.Values, addr)
	for _, specs := range [][]entitySpec{packEntities, cellEntities(cellCount), balancerEntities} {
		for _, s := range specs {
			out = append(out, s.descriptor(addr, stateTopic, ""))
		}
	}

	settingsTopic := SettingsTopic(topics.Values, addr)
	for _, s := range settingsEntities {
		out = append(out, s.descriptor(addr, settingsTopic, entityCategoryDiagnostic))
	}
	return out
}

func (s entitySpec) descriptor(addr Address, stateTopic, category string) Descriptor {
	cfg := SensorDescriptor{
		Name:              s.name,
		UniqueID:          fmt.Sprintf("%s_%s", addr.DeviceID(), s.fieldID),
		StateTopic:        stateTopic,
		ValueTemplate:     s.template,
		UnitOfMeasurement: s.unit,
		DeviceClass:       s.deviceClass,
		EntityCategory:    category,
		ForceUpdate:       true,
		Device: DeviceDescriptor{
			Name:         "JK BMS #" + addr.String(),
			Manufacturer: deviceManufacturer,
			Model:        deviceModel,
			Identifiers:  []string{addr.DeviceID()},
		},
	}
	if s.precision != noPrecision {
		p := s.precision
		cfg.SuggestedDisplayPrecision = &p
	}

	return Descriptor{
		Kind:    s.kind,
		Address: addr,
		FieldID: s.fieldID,
		Config:  cfg,
	}
}
