package jkbms

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Scaling factors used by JK02 fields.
const (
	scaleMilli = 0.001
	scaleDeci  = 0.1
)

// ReadS16LE reads a little-endian signed 16-bit integer at offset.
func ReadS16LE(data []byte, offset int) (float64, error) {
	if err := checkRange(data, offset, 2); err != nil {
		return 0, err
	}
	return float64(int16(binary.LittleEndian.Uint16(data[offset:]))), nil
}

// ReadS32LE reads a little-endian signed 32-bit integer at offset.
func ReadS32LE(data []byte, offset int) (float64, error) {
	if err := checkRange(data, offset, 4); err != nil {
		return 0, err
	}
	return float64(int32(binary.LittleEndian.Uint32(data[offset:]))), nil
}

// Truncate cuts value to the given number of decimal digits, toward zero.
// Truncate(-1.2345, 3) is -1.234, not -1.235.
func Truncate(value float64, digits int) float64 {
	p := math.Pow10(digits)
	return math.Trunc(value*p) / p
}

// Bit returns bit index (0 = least significant) of b as 0 or 1.
func Bit(b byte, index uint) byte {
	return (b >> index) & 1
}

func checkRange(data []byte, offset, size int) error {
	if offset < 0 || offset+size > len(data) {
		return fmt.Errorf("%w: offset %d size %d exceeds frame length %d",
			ErrFieldOutOfRange, offset, size, len(data))
	}
	return nil
}

// fieldReader decodes fixed-offset fields from a frame.
// The first failed read is kept in err and later reads return zero,
// so a decoder can read every field and check err once.
type fieldReader struct {
	data []byte
	err  error
}

func newFieldReader(data []byte) *fieldReader {
	return &fieldReader{data: data}
}

func (r *fieldReader) s16(offset int) float64 {
	if r.err != nil {
		return 0
	}
	v, err := ReadS16LE(r.data, offset)
	r.err = err
	return v
}

func (r *fieldReader) s32(offset int) float64 {
	if r.err != nil {
		return 0
	}
	v, err := ReadS32LE(r.data, offset)
	r.err = err
	return v
}

func (r *fieldReader) u8(offset int) byte {
	if r.err != nil {
		return 0
	}
	if err := checkRange(r.data, offset, 1); err != nil {
		r.err = err
		return 0
	}
	return r.data[offset]
}

// milli16 reads a 16-bit field scaled by 0.001 and truncated to 3 digits.
func (r *fieldReader) milli16(offset int) float64 {
	return Truncate(r.s16(offset)*scaleMilli, 3)
}

// milli32 reads a 32-bit field scaled by 0.001 and truncated to digits.
func (r *fieldReader) milli32(offset, digits int) float64 {
	return Truncate(r.s32(offset)*scaleMilli, digits)
}

// deci16 reads a 16-bit field scaled by 0.1 and truncated to 3 digits.
func (r *fieldReader) deci16(offset int) float64 {
	return Truncate(r.s16(offset)*scaleDeci, 3)
}

// flag reads a single byte as an on/off switch (non-zero is on).
func (r *fieldReader) flag(offset int) Switch {
	return Switch(r.u8(offset) != 0)
}
