package jkbms

import "strconv"

// Time-series measurement names.
const (
	MeasurementState = "bms_state"
	MeasurementCell  = "bms_cell"
)

// TelemetryFields returns the pack-level values of a snapshot as
// time-series fields, keyed like the published state JSON.
func TelemetryFields(t *TelemetrySnapshot) map[string]interface{} {
	alarm := 0
	if t.Alarm {
		alarm = 1
	}
	return map[string]interface{}{
		"bat_voltage":    t.BatteryVoltage,
		"bat_current":    t.BatteryCurrent,
		"bat_power":      t.BatteryPower,
		"soc":            int(t.SOC),
		"soh":            int(t.SOH),
		"cycles":         int(t.Cycles),
		"cap_remaining":  t.CapacityRemaining,
		"cap_total":      t.CapacityTotal,
		"temp_mos":       t.TempMOS,
		"temp1":          t.Temp1,
		"temp2":          t.Temp2,
		"temp3":          t.Temp3,
		"temp4":          t.Temp4,
		"cell_avg_volt":  t.CellAvgVoltage,
		"cell_volt_diff": t.CellVoltageDiff,
		"cell_max_index": t.CellMaxIndex,
		"cell_min_index": t.CellMinIndex,
		"bal_current":    t.BalanceCurrent,
		"bal_mode":       t.BalancingMode.String(),
		"alarm":          alarm,
		"alarm_count":    len(t.Alarms),
	}
}

// writeTelemetry writes one pack point and one point per cell.
func writeTelemetry(w TelemetryWriter, addr Address, t *TelemetrySnapshot) {
	deviceID := addr.DeviceID()

	w.WritePoint(MeasurementState,
		map[string]string{"device_id": deviceID},
		TelemetryFields(t))

	for _, c := range t.Cells {
		w.WritePoint(MeasurementCell,
			map[string]string{
				"device_id": deviceID,
				"cell":      strconv.Itoa(c.Index),
			},
			map[string]interface{}{
				"voltage":    c.Voltage,
				"resistance": c.Resistance,
			})
	}
}
