package jkbms

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestDecoderCellInfoBeforeSettings(t *testing.T) {
	d := NewDecoder(nil)

	_, err := d.Decode(cellInfoFrame(1))
	if !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("Decode() error = %v, want ErrNotRegistered", err)
	}
	if d.Registry().Len() != 0 {
		t.Error("registry modified by unregistered cell info")
	}
}

func TestDecoderRegistersOnFirstSettings(t *testing.T) {
	d := NewDecoder(nil)

	res, err := d.Decode(settingsFrame(1, 16))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !res.Registered || res.CellCount != 16 || res.Settings == nil || res.Telemetry != nil {
		t.Errorf("first settings result = %+v", res)
	}

	res, err = d.Decode(settingsFrame(1, 16))
	if err != nil {
		t.Fatalf("second Decode() error = %v", err)
	}
	if res.Registered {
		t.Error("second settings frame registered again")
	}

	res, err = d.Decode(cellInfoFrame(1))
	if err != nil {
		t.Fatalf("cell info Decode() error = %v", err)
	}
	if res.Telemetry == nil || len(res.Telemetry.Cells) != 16 {
		t.Errorf("cell info result = %+v", res)
	}
}

func TestDecoderKeepsFirstCellCount(t *testing.T) {
	d := NewDecoder(nil)

	if _, err := d.Decode(settingsFrame(1, 16)); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	res, err := d.Decode(settingsFrame(1, 8))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if res.CellCount != 16 {
		t.Errorf("CellCount = %d, want 16 from registration", res.CellCount)
	}
	if cells, _ := d.Registry().CellCount(1); cells != 16 {
		t.Errorf("registry cell count = %d, want 16", cells)
	}
}

func TestDecoderInvalidCellCountStillPublishesSettings(t *testing.T) {
	for _, cells := range []int32{0, MaxCells + 1} {
		d := NewDecoder(nil)

		res, err := d.Decode(settingsFrame(3, cells))
		if err != nil {
			t.Fatalf("Decode(%d cells) error = %v", cells, err)
		}
		if !errors.Is(res.CellCountErr, ErrInvalidCellCount) {
			t.Errorf("Decode(%d cells) CellCountErr = %v, want ErrInvalidCellCount", cells, res.CellCountErr)
		}
		if res.Settings == nil || res.Registered || res.CellCount != 0 {
			t.Errorf("Decode(%d cells) = %+v", cells, res)
		}
		if d.Registry().Len() != 0 {
			t.Errorf("device registered from %d cells", cells)
		}

		msgs, err := res.Messages(DefaultTopics(), false)
		if err != nil {
			t.Fatalf("Messages() error = %v", err)
		}
		if len(msgs) != 1 || msgs[0].Topic != "rs485tx/bms/03/settings" {
			t.Errorf("Messages() = %d messages, want only the settings snapshot", len(msgs))
		}

		// A later frame with a valid count registers normally.
		res, err = d.Decode(settingsFrame(3, 8))
		if err != nil || !res.Registered || res.CellCountErr != nil {
			t.Errorf("Decode(8 cells) = %+v, %v", res, err)
		}
	}
}

func TestDecoderCellInfoFollowsRegistry(t *testing.T) {
	reg := NewRegistry()
	d := NewDecoder(reg)

	reg.Register(1, 16)
	res, err := d.Decode(cellInfoFrame(1))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(res.Telemetry.Cells) != 16 || res.CellCount != 16 {
		t.Errorf("cells = %d, want 16", len(res.Telemetry.Cells))
	}

	reg.Register(1, 4)
	res, err = d.Decode(cellInfoFrame(1))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(res.Telemetry.Cells) != 4 || res.CellCount != 4 {
		t.Errorf("cells = %d, want 4 after re-registration", len(res.Telemetry.Cells))
	}
}

func TestDecoderEnvelope(t *testing.T) {
	d := NewDecoder(nil)

	res, err := d.Decode(newFrame(FrameTypeSettings, 4).s32(offCellCount, 8).envelope())
	if err != nil {
		t.Fatalf("Decode(envelope) error = %v", err)
	}
	if res.Frame.Address != 4 || !res.Registered {
		t.Errorf("Decode(envelope) = %+v", res)
	}
}

func TestDecoderRejects(t *testing.T) {
	d := NewDecoder(nil)

	tests := []struct {
		name    string
		payload []byte
		want    error
	}{
		{"empty", nil, ErrInvalidFrame},
		{"garbage", []byte("hello"), ErrInvalidFrame},
		{"unsupported type", newFrame(FrameType(0x03), 1).bytes(), ErrUnsupportedFrameType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.Decode(tt.payload); !errors.Is(err, tt.want) {
				t.Errorf("Decode() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecoderSharedRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(2, 4)

	d := NewDecoder(reg)
	if d.Registry() != reg {
		t.Fatal("Registry() is not the registry passed in")
	}
	if _, err := d.Decode(cellInfoFrame(2)); err != nil {
		t.Errorf("Decode() with pre-registered device error = %v", err)
	}
}

func TestDecoderConcurrentRegistration(t *testing.T) {
	d := NewDecoder(nil)

	var (
		wg         sync.WaitGroup
		registered atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := d.Decode(settingsFrame(7, 16))
			if err != nil {
				t.Errorf("Decode() error = %v", err)
				return
			}
			if res.Registered {
				registered.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := registered.Load(); got != 1 {
		t.Errorf("registered %d times, want exactly once", got)
	}
}
