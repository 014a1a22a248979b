package keypoint

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyKeyPointSet = errors.New("empty key point set")
	ErrInvalidSlots     = errors.New("invalid key point slots")
	ErrDecoderShape     = errors.New("key point decoder shape mismatch")
	ErrFillState        = errors.New("invalid key point fill state")
)

// DecoderShapeError reports a decoder output whose point width disagrees
// with the configured width at fill step Slot.
type DecoderShapeError struct {
	Slot int
	Want int
	Got  int
}

func (e *DecoderShapeError) Error() string {
	return fmt.Sprintf("%s: slot %d: point width %d, want %d", ErrDecoderShape, e.Slot, e.Got, e.Want)
}

func (e *DecoderShapeError) Unwrap() error { return ErrDecoderShape }
