package jkbms

import (
	"encoding/binary"
	"errors"
	"testing"
)

// frameBuilder assembles canonical frames for tests.
type frameBuilder struct {
	data []byte
}

func newFrame(ft FrameType, addr Address) *frameBuilder {
	data := make([]byte, FrameSize)
	copy(data, FrameMagic)
	data[typeOffset] = byte(ft)
	if ft == FrameTypeSettings {
		data[settingsAddressOffset] = byte(addr)
	} else {
		data[cellInfoAddressOffset] = byte(addr)
	}
	return &frameBuilder{data: data}
}

func (b *frameBuilder) s16(offset int, v int16) *frameBuilder {
	binary.LittleEndian.PutUint16(b.data[offset:], uint16(v))
	return b
}

func (b *frameBuilder) s32(offset int, v int32) *frameBuilder {
	binary.LittleEndian.PutUint32(b.data[offset:], uint32(v))
	return b
}

func (b *frameBuilder) u8(offset int, v byte) *frameBuilder {
	b.data[offset] = v
	return b
}

func (b *frameBuilder) bytes() []byte {
	return b.data
}

// envelope wraps the frame in the 11-byte sniffer header.
func (b *frameBuilder) envelope() []byte {
	out := make([]byte, envelopeHeaderSize, EnvelopeSize)
	for i := range out {
		out[i] = 0xEE
	}
	return append(out, b.data...)
}

// settingsFrame returns a Settings frame reporting cells cells.
func settingsFrame(addr Address, cells int32) []byte {
	return newFrame(FrameTypeSettings, addr).s32(offCellCount, cells).bytes()
}

// cellInfoFrame returns an all-zero CellInfo frame.
func cellInfoFrame(addr Address) []byte {
	return newFrame(FrameTypeCellInfo, addr).bytes()
}

func TestNormalize(t *testing.T) {
	frame := newFrame(FrameTypeSettings, 1)

	got := Normalize(frame.envelope())
	if len(got) != FrameSize {
		t.Fatalf("Normalize(envelope) length = %d, want %d", len(got), FrameSize)
	}
	if got[0] != FrameMagic[0] || got[settingsAddressOffset] != 1 {
		t.Error("Normalize(envelope) did not strip the header")
	}

	for _, n := range []int{0, 10, FrameSize, FrameSize + 1, EnvelopeSize + 1} {
		in := make([]byte, n)
		if out := Normalize(in); len(out) != n {
			t.Errorf("Normalize(len %d) length = %d, want unchanged", n, len(out))
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		wantType FrameType
		wantAddr Address
	}{
		{"settings address at 270", newFrame(FrameTypeSettings, 7).bytes(), FrameTypeSettings, 7},
		{"cell info address at 300", newFrame(FrameTypeCellInfo, 12).bytes(), FrameTypeCellInfo, 12},
		{"other type address at 300", newFrame(FrameType(0x03), 4).bytes(), FrameType(0x03), 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Classify(tt.data)
			if err != nil {
				t.Fatalf("Classify() error = %v", err)
			}
			if f.Type != tt.wantType {
				t.Errorf("Type = %v, want %v", f.Type, tt.wantType)
			}
			if f.Address != tt.wantAddr {
				t.Errorf("Address = %v, want %v", f.Address, tt.wantAddr)
			}
		})
	}
}

func TestClassifySettingsIgnoresCellInfoAddress(t *testing.T) {
	data := newFrame(FrameTypeSettings, 2).u8(cellInfoAddressOffset, 9).bytes()

	f, err := Classify(data)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if f.Address != 2 {
		t.Errorf("Address = %v, want 02", f.Address)
	}
}

func TestClassifyInvalid(t *testing.T) {
	badMagic := newFrame(FrameTypeSettings, 1).bytes()
	badMagic[3] = 0x91

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", make([]byte, 100)},
		{"envelope not normalised", newFrame(FrameTypeSettings, 1).envelope()},
		{"bad magic", badMagic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Classify(tt.data)
			if !errors.Is(err, ErrInvalidFrame) {
				t.Errorf("Classify() error = %v, want ErrInvalidFrame", err)
			}
		})
	}
}

func TestFrameType(t *testing.T) {
	if FrameTypeSettings.String() != "settings" || FrameTypeCellInfo.String() != "cell_info" {
		t.Error("unexpected names for known frame types")
	}
	if got := FrameType(0x03).String(); got != "0x03" {
		t.Errorf("String() = %q, want 0x03", got)
	}
	if !FrameTypeSettings.Supported() || !FrameTypeCellInfo.Supported() || FrameType(0x03).Supported() {
		t.Error("Supported() mismatch")
	}
}

func TestAddress(t *testing.T) {
	tests := []struct {
		addr     Address
		str      string
		deviceID string
	}{
		{0, "00", "jk_bms_00"},
		{1, "01", "jk_bms_01"},
		{15, "15", "jk_bms_15"},
		{255, "255", "jk_bms_255"},
	}
	for _, tt := range tests {
		if got := tt.addr.String(); got != tt.str {
			t.Errorf("Address(%d).String() = %q, want %q", tt.addr, got, tt.str)
		}
		if got := tt.addr.DeviceID(); got != tt.deviceID {
			t.Errorf("Address(%d).DeviceID() = %q, want %q", tt.addr, got, tt.deviceID)
		}
	}
}
