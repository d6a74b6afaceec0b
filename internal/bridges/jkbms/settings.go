package jkbms

import (
	"encoding/json"
	"fmt"
)

// Settings frame field offsets.
const (
	offCellUVP               = 10
	offCellOVP               = 18
	offBalanceTriggerVoltage = 26
	offSOC100Voltage         = 30
	offSOCZeroVoltage        = 34
	offChargeVoltage         = 38
	offFloatVoltage          = 42
	offPowerOffVoltage       = 46
	offMaxChargeCurrent      = 50
	offMaxDischargeCurrent   = 62
	offMaxBalanceCurrent     = 78
	offCellCount             = 114
	offChargeSwitch          = 118
	offDischargeSwitch       = 122
	offBalancerSwitch        = 126
	offBalanceStartVoltage   = 138
)

// MaxCells is the number of cells the per-cell tables of a frame can hold.
const MaxCells = 32

// Switch is an on/off value published as "ON" or "OFF".
type Switch bool

// String returns "ON" or "OFF".
func (s Switch) String() string {
	if s {
		return "ON"
	}
	return "OFF"
}

// MarshalJSON encodes the switch as the string Home Assistant binary
// sensors expect.
func (s Switch) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// SettingsSnapshot holds the configuration fields of a Settings frame.
// Field order here is the key order of the published JSON.
type SettingsSnapshot struct {
	ChargeVoltage          float64 `json:"charge_voltage"`
	FloatVoltage           float64 `json:"float_voltage"`
	MaxChargeCurrent       float64 `json:"max_charge_current"`
	MaxDischargeCurrent    float64 `json:"max_discharge_current"`
	ChargeEnabledSwitch    Switch  `json:"charge_enabled_switch"`
	DischargeEnabledSwitch Switch  `json:"discharge_enabled_switch"`
	BalanceStartVoltage    float64 `json:"balance_start_voltage"`
	BalanceTriggerVoltage  float64 `json:"balance_trigger_voltage"`
	MaxBalanceCurrent      float64 `json:"max_balance_current"`
	BalancerSwitch         Switch  `json:"balancer_switch"`
	SOC100Voltage          float64 `json:"soc100_voltage"`
	SOCZeroVoltage         float64 `json:"soc_zero_voltage"`
	CellUVP                float64 `json:"cell_uvp"`
	CellOVP                float64 `json:"cell_ovp"`
	PowerOffVoltage        float64 `json:"power_off_voltage"`
}

// DecodeSettings extracts the configuration snapshot from a Settings frame.
//
// Voltages and currents are 32-bit fields scaled by 0.001 and truncated to
// 3 digits; the balance trigger voltage keeps 5 digits.
func DecodeSettings(f Frame) (*SettingsSnapshot, error) {
	r := newFieldReader(f.Data)

	s := &SettingsSnapshot{
		ChargeVoltage:          r.milli32(offChargeVoltage, 3),
		FloatVoltage:           r.milli32(offFloatVoltage, 3),
		MaxChargeCurrent:       r.milli32(offMaxChargeCurrent, 3),
		MaxDischargeCurrent:    r.milli32(offMaxDischargeCurrent, 3),
		ChargeEnabledSwitch:    r.flag(offChargeSwitch),
		DischargeEnabledSwitch: r.flag(offDischargeSwitch),
		BalanceStartVoltage:    r.milli32(offBalanceStartVoltage, 3),
		BalanceTriggerVoltage:  r.milli32(offBalanceTriggerVoltage, 5),
		MaxBalanceCurrent:      r.milli32(offMaxBalanceCurrent, 3),
		BalancerSwitch:         r.flag(offBalancerSwitch),
		SOC100Voltage:          r.milli32(offSOC100Voltage, 3),
		SOCZeroVoltage:         r.milli32(offSOCZeroVoltage, 3),
		CellUVP:                r.milli32(offCellUVP, 3),
		CellOVP:                r.milli32(offCellOVP, 3),
		PowerOffVoltage:        r.milli32(offPowerOffVoltage, 3),
	}
	if r.err != nil {
		return nil, fmt.Errorf("decoding settings for BMS #%s: %w", f.Address, r.err)
	}
	return s, nil
}

// DecodeCellCount reads the cell count from a Settings frame.
//
// Returns ErrInvalidCellCount if the count is outside 1..MaxCells.
func DecodeCellCount(f Frame) (int, error) {
	raw, err := ReadS32LE(f.Data, offCellCount)
	if err != nil {
		return 0, fmt.Errorf("decoding cell count for BMS #%s: %w", f.Address, err)
	}
	n := int(raw)
	if n < 1 || n > MaxCells {
		return 0, fmt.Errorf("%w: BMS #%s reports %d cells", ErrInvalidCellCount, f.Address, n)
	}
	return n, nil
}
