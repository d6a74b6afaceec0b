package jkbms

import (
	"bytes"
	"fmt"
)

// Frame layout constants.
const (
	// FrameSize is the length of a canonical JK02 frame.
	FrameSize = 308

	// EnvelopeSize is the length of a frame wrapped in the sniffer envelope.
	EnvelopeSize = 319

	// envelopeHeaderSize is the number of leading envelope bytes to discard.
	envelopeHeaderSize = EnvelopeSize - FrameSize

	// typeOffset is the position of the frame type byte.
	typeOffset = 4

	// settingsAddressOffset is where Settings frames carry the device address.
	settingsAddressOffset = 270

	// cellInfoAddressOffset is where all other frames carry the device address.
	cellInfoAddressOffset = 300
)

// FrameMagic is the 4-byte prefix of every JK02 frame.
var FrameMagic = []byte{0x55, 0xAA, 0xEB, 0x90}

// FrameType identifies the payload layout of a frame.
type FrameType uint8

const (
	// FrameTypeSettings carries device configuration and the cell count.
	FrameTypeSettings FrameType = 0x01

	// FrameTypeCellInfo carries live telemetry.
	FrameTypeCellInfo FrameType = 0x02
)

// String returns a readable name for the frame type.
func (t FrameType) String() string {
	switch t {
	case FrameTypeSettings:
		return "settings"
	case FrameTypeCellInfo:
		return "cell_info"
	default:
		return fmt.Sprintf("0x%02x", uint8(t))
	}
}

// Supported reports whether the frame type can be decoded.
func (t FrameType) Supported() bool {
	return t == FrameTypeSettings || t == FrameTypeCellInfo
}

// Address is the RS485 bus address of a BMS.
type Address uint8

// String formats the address as two decimal digits, as used in topics.
func (a Address) String() string {
	return fmt.Sprintf("%02d", uint8(a))
}

// DeviceID returns the Home Assistant device identifier (e.g. "jk_bms_01").
func (a Address) DeviceID() string {
	return "jk_bms_" + a.String()
}

// Frame is a classified canonical frame.
// Data must not be modified once classified.
type Frame struct {
	Type    FrameType
	Address Address
	Data    []byte
}

// Normalize strips the sniffer envelope from a 319-byte payload.
// Any other payload is returned unchanged.
func Normalize(payload []byte) []byte {
	if len(payload) == EnvelopeSize {
		return payload[envelopeHeaderSize:]
	}
	return payload
}

// Classify validates a normalised frame and extracts its type and address.
//
// Frames of an unsupported type classify successfully; callers check
// FrameType.Supported before decoding.
//
// Returns ErrInvalidFrame if the length or magic prefix is wrong.
func Classify(data []byte) (Frame, error) {
	if len(data) != FrameSize {
		return Frame{}, fmt.Errorf("%w: length %d, want %d", ErrInvalidFrame, len(data), FrameSize)
	}
	if !bytes.HasPrefix(data, FrameMagic) {
		return Frame{}, fmt.Errorf("%w: bad magic % x", ErrInvalidFrame, data[:len(FrameMagic)])
	}

	ft := FrameType(data[typeOffset])
	addrOffset := cellInfoAddressOffset
	if ft == FrameTypeSettings {
		addrOffset = settingsAddressOffset
	}

	return Frame{
		Type:    ft,
		Address: Address(data[addrOffset]),
		Data:    data,
	}, nil
}
