package jkbms

// StreamFramer cuts canonical frames out of a raw RS485 byte stream.
//
// It hunts for the magic prefix, then collects bytes until FrameSize is
// reached. Bytes outside a frame (other bus traffic, line noise) are skipped.
// The stream carries no length field or terminator, so a frame cut short by
// line noise is only noticed later when it fails to decode.
type StreamFramer struct {
	buf     []byte
	skipped uint64
}

// NewStreamFramer creates a framer in the hunting state.
func NewStreamFramer() *StreamFramer {
	return &StreamFramer{buf: make([]byte, 0, FrameSize)}
}

// Reset discards any partial frame.
func (s *StreamFramer) Reset() {
	s.buf = s.buf[:0]
}

// Skipped returns the number of bytes discarded while hunting for a frame.
func (s *StreamFramer) Skipped() uint64 {
	return s.skipped
}

// DecodeByte feeds one byte into the framer.
// Returns a complete frame (a fresh copy owned by the caller), or nil.
func (s *StreamFramer) DecodeByte(b byte) []byte {
	if len(s.buf) >= len(FrameMagic) {
		s.buf = append(s.buf, b)
		if len(s.buf) < FrameSize {
			return nil
		}
		frame := make([]byte, FrameSize)
		copy(frame, s.buf)
		s.Reset()
		return frame
	}

	if b == FrameMagic[len(s.buf)] {
		s.buf = append(s.buf, b)
		return nil
	}

	// Mismatch while matching the prefix; the byte may start a new one.
	s.skipped += uint64(len(s.buf))
	s.Reset()
	if b == FrameMagic[0] {
		s.buf = append(s.buf, b)
		return nil
	}
	s.skipped++
	return nil
}

// Write feeds a chunk of bytes and returns every frame completed by it.
func (s *StreamFramer) Write(p []byte) [][]byte {
	var frames [][]byte
	for _, b := range p {
		if f := s.DecodeByte(b); f != nil {
			frames = append(frames, f)
		}
	}
	return frames
}
