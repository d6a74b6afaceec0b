package jkbms

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CellInfo frame field offsets.
const (
	offCellVoltageBase    = 6
	offCellAvgVoltage     = 74
	offCellVoltageDiff    = 76
	offCellMaxIndex       = 78
	offCellMinIndex       = 79
	offCellResistanceBase = 80
	offTempMOS            = 144
	offBatteryVoltage     = 150
	offBatteryCurrent     = 158
	offTemp1              = 162
	offTemp2              = 164
	offBalanceCurrent     = 170
	offBalancingMode      = 172
	offSOC                = 173
	offCapacityRemaining  = 174
	offCapacityTotal      = 178
	offCycles             = 182
	offSOH                = 190
	offTemp3              = 256
	offTemp4              = 258

	// cellStride is the byte distance between consecutive per-cell values.
	cellStride = 2
)

// BalancingMode is the raw balancer state byte.
type BalancingMode uint8

const (
	BalancingOff         BalancingMode = 0x00
	BalancingCharging    BalancingMode = 0x01
	BalancingDischarging BalancingMode = 0x02
)

// String returns the display name of the mode.
// Values outside the documented set are reported as "Unknown".
func (m BalancingMode) String() string {
	switch m {
	case BalancingOff:
		return "Off"
	case BalancingCharging:
		return "Charging balancer"
	case BalancingDischarging:
		return "Discharging balancer"
	default:
		return "Unknown"
	}
}

// Active reports whether the balancer is running.
func (m BalancingMode) Active() bool {
	return m == BalancingCharging || m == BalancingDischarging
}

// CellReading is the voltage and wire resistance of one cell.
type CellReading struct {
	// Index is 1-based.
	Index      int     `json:"index"`
	Voltage    float64 `json:"voltage"`
	Resistance float64 `json:"resistance"`
}

// TelemetrySnapshot holds the live values of a CellInfo frame.
type TelemetrySnapshot struct {
	BatteryVoltage    float64
	BatteryCurrent    float64
	BatteryPower      float64
	SOC               uint8
	SOH               uint8
	Cycles            uint8
	CapacityRemaining float64
	CapacityTotal     float64
	TempMOS           float64
	Temp1             float64
	Temp2             float64
	Temp3             float64
	Temp4             float64
	CellAvgVoltage    float64
	CellVoltageDiff   float64
	CellMaxIndex      int
	CellMinIndex      int
	BalanceCurrent    float64
	BalancingMode     BalancingMode
	Alarm             Switch
	Cells             []CellReading
	Alarms            []string
}

// DecodeCellInfo extracts telemetry from a CellInfo frame.
// cellCount is the count stored at registration and sizes Cells.
func DecodeCellInfo(f Frame, cellCount int) (*TelemetrySnapshot, error) {
	if cellCount < 0 || cellCount > MaxCells {
		return nil, fmt.Errorf("%w: BMS #%s has %d cells", ErrInvalidCellCount, f.Address, cellCount)
	}

	r := newFieldReader(f.Data)

	voltage := r.milli32(offBatteryVoltage, 3)
	current := r.milli32(offBatteryCurrent, 3)
	mode := BalancingMode(r.u8(offBalancingMode))
	a1, a2, a3 := r.u8(alarmOffset1), r.u8(alarmOffset2), r.u8(alarmOffset3)

	t := &TelemetrySnapshot{
		BatteryVoltage:    voltage,
		BatteryCurrent:    current,
		BatteryPower:      Truncate(current*voltage, 3),
		SOC:               r.u8(offSOC),
		SOH:               r.u8(offSOH),
		Cycles:            r.u8(offCycles),
		CapacityRemaining: r.milli32(offCapacityRemaining, 3),
		CapacityTotal:     r.milli32(offCapacityTotal, 3),
		TempMOS:           r.deci16(offTempMOS),
		Temp1:             r.deci16(offTemp1),
		Temp2:             r.deci16(offTemp2),
		Temp3:             r.deci16(offTemp3),
		Temp4:             r.deci16(offTemp4),
		CellAvgVoltage:    r.milli16(offCellAvgVoltage),
		CellVoltageDiff:   r.milli16(offCellVoltageDiff),
		CellMaxIndex:      int(r.u8(offCellMaxIndex)) + 1,
		CellMinIndex:      int(r.u8(offCellMinIndex)) + 1,
		BalanceCurrent:    r.milli16(offBalanceCurrent),
		BalancingMode:     mode,
		Alarm:             Switch(anyAlarm(a1, a2, a3)),
		Cells:             make([]CellReading, cellCount),
		Alarms:            DecodeAlarms(a1, a2, a3),
	}

	for i := range t.Cells {
		t.Cells[i] = CellReading{
			Index:      i + 1,
			Voltage:    r.milli16(offCellVoltageBase + i*cellStride),
			Resistance: r.milli16(offCellResistanceBase + i*cellStride),
		}
	}

	if r.err != nil {
		return nil, fmt.Errorf("decoding cell info for BMS #%s: %w", f.Address, r.err)
	}
	return t, nil
}

// jsonField is one key/value pair of an ordered JSON object.
type jsonField struct {
	key   string
	value any
}

// fields returns the published key/value pairs in wire order.
// Per-cell keys follow the fixed keys, interleaved cv01, cr01, cv02, ...
func (t TelemetrySnapshot) fields() []jsonField {
	out := []jsonField{
		{"bat_voltage", t.BatteryVoltage},
		{"bat_current", t.BatteryCurrent},
		{"bat_power", t.BatteryPower},
		{"soc", t.SOC},
		{"soh", t.SOH},
		{"cycles", t.Cycles},
		{"cap_remaining", t.CapacityRemaining},
		{"cap_total", t.CapacityTotal},
		{"temp_mos", t.TempMOS},
		{"temp1", t.Temp1},
		{"temp2", t.Temp2},
		{"temp3", t.Temp3},
		{"temp4", t.Temp4},
		{"cell_avg_volt", t.CellAvgVoltage},
		{"cell_volt_diff", t.CellVoltageDiff},
		{"cell_max_index", t.CellMaxIndex},
		{"cell_min_index", t.CellMinIndex},
		{"bal_current", t.BalanceCurrent},
		{"bal_enabled", Switch(t.BalancingMode.Active())},
		{"bal_mode", t.BalancingMode.String()},
		{"alarm", t.Alarm},
	}

	for _, c := range t.Cells {
		out = append(out,
			jsonField{CellVoltageKey(c.Index), c.Voltage},
			jsonField{CellResistanceKey(c.Index), c.Resistance},
		)
	}

	alarms := t.Alarms
	if alarms == nil {
		alarms = []string{}
	}
	return append(out, jsonField{"alarms", alarms})
}

// MarshalJSON writes the snapshot with a fixed key order.
func (t TelemetrySnapshot) MarshalJSON() ([]byte, error) {
	return marshalOrdered(t.fields())
}

// CellVoltageKey returns the state key of a cell voltage (e.g. "cv01").
func CellVoltageKey(index int) string {
	return fmt.Sprintf("cv%02d", index)
}

// CellResistanceKey returns the state key of a cell resistance (e.g. "cr01").
func CellResistanceKey(index int) string {
	return fmt.Sprintf("cr%02d", index)
}

func marshalOrdered(fields []jsonField) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(f.value)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", f.key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
