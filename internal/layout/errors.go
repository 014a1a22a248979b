package layout

import (
	"errors"
	"fmt"
)

var (
	ErrShapeMismatch   = errors.New("shape mismatch")
	ErrInvalidRecipe   = errors.New("invalid layout recipe")
	ErrUnknownSegment  = errors.New("unknown layout segment")
	ErrSlotOutOfRange  = errors.New("slot out of range")
	ErrLayoutInvariant = errors.New("layout invariant violated")
)

// ShapeError reports which modality disagreed with the recipe and how.
type ShapeError struct {
	Modality string
	Dim      string
	Want     int
	Got      int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: modality %q %s is %d, want %d", ErrShapeMismatch, e.Modality, e.Dim, e.Got, e.Want)
}

func (e *ShapeError) Unwrap() error {
	return ErrShapeMismatch
}

func shapeErr(modality, dim string, want, got int) error {
	return &ShapeError{Modality: modality, Dim: dim, Want: want, Got: got}
}
