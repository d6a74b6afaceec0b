package jkbms

// Alarm byte offsets in a CellInfo frame.
const (
	alarmOffset1 = 134
	alarmOffset2 = 135
	alarmOffset3 = 136
)

// AlarmNames lists the alarm conditions in bit order: bits 0..7 of the
// first alarm byte, then the second, then the third.
var AlarmNames = [24]string{
	"Wire resistance",
	"MOS OTP",
	"Cell quantity",
	"Current sensor error",
	"Cell OVP",
	"Battery OVP",
	"Charge OCP",
	"Charge SCP",
	"Charge OTP",
	"Charge UTP",
	"CPU Aux comm error",
	"Cell UVP",
	"Batt UVP",
	"Discharge OCP",
	"Discharge SCP",
	"Charge MOS",
	"Discharge MOS",
	"GPS Disconnected",
	"Modify PWD in time",
	"Discharge On Failed",
	"Battery Over Temp Alarm",
	"Temperature sensor anomaly",
	"PLC Module anomaly",
	"Reserved",
}

// DecodeAlarms returns the names of all set alarm bits, in bit order.
// The result is empty (never nil) when no bit is set.
func DecodeAlarms(b1, b2, b3 byte) []string {
	alarms := []string{}
	for i, b := range [3]byte{b1, b2, b3} {
		for bit := uint(0); bit < 8; bit++ {
			if Bit(b, bit) == 1 {
				alarms = append(alarms, AlarmNames[i*8+int(bit)])
			}
		}
	}
	return alarms
}

// anyAlarm reports whether any alarm byte is non-zero.
func anyAlarm(b1, b2, b3 byte) bool {
	return b1 != 0 || b2 != 0 || b3 != 0
}
