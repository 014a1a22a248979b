package tensor

// Seq is a (B, L, D) embedding sequence. Positions of one batch row are
// contiguous; Stride is the number of elements between the starts of two
// consecutive rows, which lets Prefix and Slice return views that share
// storage with the parent buffer.
type Seq struct {
	B, L, D int
	Stride  int
	Data    []float32
}

// NewSeq allocates a zeroed (b, l, d) sequence.
func NewSeq(b, l, d int) *Seq {
	if b < 0 || l < 0 || d < 0 {
		panic("negative dimension for sequence")
	}
	return &Seq{
		B:      b,
		L:      l,
		D:      d,
		Stride: l * d,
		Data:   make([]float32, b*l*d),
	}
}

// At returns a view of the vector at batch row b, position i.
func (s *Seq) At(b, i int) []float32 {
	if b < 0 || b >= s.B || i < 0 || i >= s.L {
		panic("sequence index out of range")
	}
	off := b*s.Stride + i*s.D
	return s.Data[off : off+s.D]
}

// Set copies v into position i of row b.
func (s *Seq) Set(b, i int, v []float32) {
	copy(s.At(b, i), v)
}

// Prefix returns a view of the first n positions of every row.
func (s *Seq) Prefix(n int) *Seq {
	return s.Slice(0, n)
}

// Slice returns a view of positions [from, to) of every row.
func (s *Seq) Slice(from, to int) *Seq {
	if from < 0 || to > s.L || from > to {
		panic("sequence slice out of range")
	}
	return &Seq{
		B:      s.B,
		L:      to - from,
		D:      s.D,
		Stride: s.Stride,
		Data:   s.Data[from*s.D:],
	}
}

// Row returns a contiguous copy of batch row b as a (1, L, D) sequence.
func (s *Seq) Row(b int) *Seq {
	out := NewSeq(1, s.L, s.D)
	for i := 0; i < s.L; i++ {
		out.Set(0, i, s.At(b, i))
	}
	return out
}

// Clone returns a contiguous deep copy.
func (s *Seq) Clone() *Seq {
	out := NewSeq(s.B, s.L, s.D)
	for b := 0; b < s.B; b++ {
		for i := 0; i < s.L; i++ {
			out.Set(b, i, s.At(b, i))
		}
	}
	return out
}

// Equal reports whether both sequences have the same shape and values.
func (s *Seq) Equal(o *Seq) bool {
	if s.B != o.B || s.L != o.L || s.D != o.D {
		return false
	}
	for b := 0; b < s.B; b++ {
		for i := 0; i < s.L; i++ {
			x, y := s.At(b, i), o.At(b, i)
			for j := range x {
				if x[j] != y[j] {
					return false
				}
			}
		}
	}
	return true
}
