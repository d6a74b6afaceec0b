package jkbms

import "errors"

// Domain errors for the JK-BMS bridge package.
var (
	// ErrInvalidFrame is returned when a payload is not a JK02 frame
	// (wrong length or magic). Unrelated bus traffic is common, so callers
	// drop these silently.
	ErrInvalidFrame = errors.New("jkbms: invalid frame")

	// ErrUnsupportedFrameType is returned for frames whose type byte is
	// neither Settings nor CellInfo.
	ErrUnsupportedFrameType = errors.New("jkbms: unsupported frame type")

	// ErrNotRegistered is returned when a CellInfo frame arrives for an
	// address that has not sent a Settings frame yet.
	ErrNotRegistered = errors.New("jkbms: device not registered")

	// ErrFieldOutOfRange is returned when a field read would run past the
	// end of the frame. This indicates a broken offset table, not bad input.
	ErrFieldOutOfRange = errors.New("jkbms: field out of range")

	// ErrInvalidCellCount is reported when a Settings frame reports a cell
	// count the per-cell tables cannot hold. The decoder carries it in
	// Result.CellCountErr.
	ErrInvalidCellCount = errors.New("jkbms: invalid cell count")

	// ErrBridgeStopped is returned when frames are fed to a stopped bridge.
	ErrBridgeStopped = errors.New("jkbms: bridge stopped")
)
