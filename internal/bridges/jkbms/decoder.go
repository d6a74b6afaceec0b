package jkbms

import "fmt"

// Result is the outcome of decoding one frame.
type Result struct {
	Frame Frame

	// Settings is set for Settings frames.
	Settings *SettingsSnapshot

	// Telemetry is set for CellInfo frames.
	Telemetry *TelemetrySnapshot

	// Registered is true when this frame registered a new device.
	// Descriptors are published only then.
	Registered bool

	// CellCount is the registry's cell count for the device.
	// Zero when CellCountErr is set.
	CellCount int

	// CellCountErr is set when a Settings frame of an unregistered device
	// reports a cell count outside 1..MaxCells. The settings snapshot is
	// still returned; the device stays unregistered.
	CellCountErr error
}

// Decoder runs the frame pipeline against a device registry.
//
// Thread Safety: Decode is safe for concurrent use. Frames for one address
// are decoded one at a time.
type Decoder struct {
	registry *Registry
}

// NewDecoder creates a decoder backed by registry.
// A nil registry gets a fresh empty one.
func NewDecoder(registry *Registry) *Decoder {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Decoder{registry: registry}
}

// Registry returns the decoder's device registry.
func (d *Decoder) Registry() *Registry {
	return d.registry
}

// Decode normalises, classifies and decodes one raw payload.
//
// Errors are sentinel-wrapped so callers can tell them apart:
//   - ErrInvalidFrame: not a JK02 frame, drop silently
//   - ErrUnsupportedFrameType: valid frame of a type not decoded here
//   - ErrNotRegistered: CellInfo before the device's first Settings frame
//   - ErrFieldOutOfRange: the frame cannot be decoded
//
// The registry is only modified by a fully decoded Settings frame with a
// valid cell count. A bad count is reported in Result.CellCountErr.
func (d *Decoder) Decode(payload []byte) (*Result, error) {
	f, err := Classify(Normalize(payload))
	if err != nil {
		return nil, err
	}

	switch f.Type {
	case FrameTypeSettings:
		return d.decodeSettings(f)
	case FrameTypeCellInfo:
		return d.decodeCellInfo(f)
	default:
		return nil, fmt.Errorf("%w: %s from BMS #%s", ErrUnsupportedFrameType, f.Type, f.Address)
	}
}

func (d *Decoder) decodeSettings(f Frame) (*Result, error) {
	unlock := d.registry.Lock(f.Address)
	defer unlock()

	settings, err := DecodeSettings(f)
	if err != nil {
		return nil, err
	}

	res := &Result{Frame: f, Settings: settings}

	if cells, ok := d.registry.CellCount(f.Address); ok {
		res.CellCount = cells
		return res, nil
	}

	cells, err := DecodeCellCount(f)
	if err != nil {
		res.CellCountErr = err
		return res, nil
	}
	res.Registered = d.registry.Register(f.Address, cells)
	res.CellCount = cells
	return res, nil
}

func (d *Decoder) decodeCellInfo(f Frame) (*Result, error) {
	unlock := d.registry.Lock(f.Address)
	defer unlock()

	cells, ok := d.registry.CellCount(f.Address)
	if !ok {
		return nil, fmt.Errorf("%w: BMS #%s", ErrNotRegistered, f.Address)
	}

	telemetry, err := DecodeCellInfo(f, cells)
	if err != nil {
		return nil, err
	}
	return &Result{Frame: f, Telemetry: telemetry, CellCount: cells}, nil
}
