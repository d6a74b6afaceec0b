package jkbms

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

// sampleCellInfoFrame carries two cells and values that scale exactly.
func sampleCellInfoFrame(addr Address) *frameBuilder {
	return newFrame(FrameTypeCellInfo, addr).
		s16(offCellVoltageBase, 3250).
		s16(offCellVoltageBase+2, 3375).
		s16(offCellAvgVoltage, 3250).
		s16(offCellVoltageDiff, 125).
		u8(offCellMaxIndex, 1).
		u8(offCellMinIndex, 0).
		s16(offCellResistanceBase, 125).
		s16(offCellResistanceBase+2, 250).
		u8(alarmOffset1, 0x01).
		u8(alarmOffset3, 0x80).
		s16(offTempMOS, 255).
		s32(offBatteryVoltage, 52250).
		s32(offBatteryCurrent, -12500).
		s16(offTemp1, -50).
		s16(offTemp2, 0).
		s16(offBalanceCurrent, 500).
		u8(offBalancingMode, byte(BalancingCharging)).
		u8(offSOC, 87).
		s32(offCapacityRemaining, 87500).
		s32(offCapacityTotal, 100000).
		u8(offCycles, 12).
		u8(offSOH, 100).
		s16(offTemp3, 300).
		s16(offTemp4, 125)
}

func TestDecodeCellInfo(t *testing.T) {
	f, err := Classify(sampleCellInfoFrame(1).bytes())
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}

	got, err := DecodeCellInfo(f, 2)
	if err != nil {
		t.Fatalf("DecodeCellInfo() error = %v", err)
	}

	want := &TelemetrySnapshot{
		BatteryVoltage:    52.25,
		BatteryCurrent:    -12.5,
		BatteryPower:      -653.125,
		SOC:               87,
		SOH:               100,
		Cycles:            12,
		CapacityRemaining: 87.5,
		CapacityTotal:     100,
		TempMOS:           25.5,
		Temp1:             -5,
		Temp2:             0,
		Temp3:             30,
		Temp4:             12.5,
		CellAvgVoltage:    3.25,
		CellVoltageDiff:   0.125,
		CellMaxIndex:      2,
		CellMinIndex:      1,
		BalanceCurrent:    0.5,
		BalancingMode:     BalancingCharging,
		Alarm:             true,
		Cells: []CellReading{
			{Index: 1, Voltage: 3.25, Resistance: 0.125},
			{Index: 2, Voltage: 3.375, Resistance: 0.25},
		},
		Alarms: []string{"Wire resistance", "Reserved"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DecodeCellInfo() =\n%+v\nwant\n%+v", got, want)
	}
}

func TestDecodeCellInfoUsesRegisteredCellCount(t *testing.T) {
	f, _ := Classify(sampleCellInfoFrame(1).bytes())

	for _, n := range []int{0, 1, 16, MaxCells} {
		got, err := DecodeCellInfo(f, n)
		if err != nil {
			t.Fatalf("DecodeCellInfo(%d) error = %v", n, err)
		}
		if len(got.Cells) != n {
			t.Errorf("DecodeCellInfo(%d) returned %d cells", n, len(got.Cells))
		}
	}

	if _, err := DecodeCellInfo(f, MaxCells+1); !errors.Is(err, ErrInvalidCellCount) {
		t.Errorf("DecodeCellInfo(%d) error = %v, want ErrInvalidCellCount", MaxCells+1, err)
	}
}

func TestDecodeCellInfoNoAlarms(t *testing.T) {
	f, _ := Classify(cellInfoFrame(1))

	got, err := DecodeCellInfo(f, 1)
	if err != nil {
		t.Fatalf("DecodeCellInfo() error = %v", err)
	}
	if got.Alarm {
		t.Error("Alarm = ON with no alarm bits set")
	}
	if got.Alarms == nil || len(got.Alarms) != 0 {
		t.Errorf("Alarms = %#v, want empty slice", got.Alarms)
	}
}

func TestBalancingMode(t *testing.T) {
	tests := []struct {
		mode   BalancingMode
		name   string
		active bool
	}{
		{BalancingOff, "Off", false},
		{BalancingCharging, "Charging balancer", true},
		{BalancingDischarging, "Discharging balancer", true},
		{BalancingMode(0x07), "Unknown", false},
		{BalancingMode(0xFF), "Unknown", false},
	}
	for _, tt := range tests {
		if got := tt.mode.String(); got != tt.name {
			t.Errorf("BalancingMode(%#x).String() = %q, want %q", uint8(tt.mode), got, tt.name)
		}
		if got := tt.mode.Active(); got != tt.active {
			t.Errorf("BalancingMode(%#x).Active() = %v, want %v", uint8(tt.mode), got, tt.active)
		}
	}
}

func TestTelemetryJSONKeyOrder(t *testing.T) {
	f, _ := Classify(sampleCellInfoFrame(1).bytes())
	snap, err := DecodeCellInfo(f, 2)
	if err != nil {
		t.Fatalf("DecodeCellInfo() error = %v", err)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	want := []string{
		"bat_voltage", "bat_current", "bat_power", "soc", "soh", "cycles",
		"cap_remaining", "cap_total", "temp_mos", "temp1", "temp2", "temp3", "temp4",
		"cell_avg_volt", "cell_volt_diff", "cell_max_index", "cell_min_index",
		"bal_current", "bal_enabled", "bal_mode", "alarm",
		"cv01", "cr01", "cv02", "cr02",
		"alarms",
	}
	if got := jsonKeys(t, data); !reflect.DeepEqual(got, want) {
		t.Errorf("keys = %v\nwant %v", got, want)
	}
}

func TestTelemetryJSONValues(t *testing.T) {
	f, _ := Classify(sampleCellInfoFrame(1).bytes())
	snap, _ := DecodeCellInfo(f, 2)

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	checks := map[string]any{
		"bat_power":   -653.125,
		"soc":         float64(87),
		"bal_enabled": "ON",
		"bal_mode":    "Charging balancer",
		"alarm":       "ON",
		"cv02":        3.375,
		"cr01":        0.125,
		"alarms":      []any{"Wire resistance", "Reserved"},
	}
	for key, want := range checks {
		if !reflect.DeepEqual(got[key], want) {
			t.Errorf("%s = %#v, want %#v", key, got[key], want)
		}
	}
}

func TestTelemetryJSONEmptyAlarms(t *testing.T) {
	data, err := json.Marshal(TelemetrySnapshot{BalancingMode: BalancingMode(9)})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if alarms, ok := got["alarms"].([]any); !ok || len(alarms) != 0 {
		t.Errorf("alarms = %#v, want []", got["alarms"])
	}
	if got["bal_mode"] != "Unknown" || got["bal_enabled"] != "OFF" {
		t.Errorf("bal_mode = %v, bal_enabled = %v", got["bal_mode"], got["bal_enabled"])
	}
}

func TestCellKeys(t *testing.T) {
	if CellVoltageKey(1) != "cv01" || CellVoltageKey(16) != "cv16" {
		t.Error("CellVoltageKey() format mismatch")
	}
	if CellResistanceKey(3) != "cr03" || CellResistanceKey(32) != "cr32" {
		t.Error("CellResistanceKey() format mismatch")
	}
}
