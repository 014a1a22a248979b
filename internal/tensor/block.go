package tensor

// Block is the output of a modality encoder: one or more D-wide tokens per
// timestep, laid out as (B, T, S, D). S is 1 for modalities that emit a
// single token per timestep.
type Block struct {
	Name       string
	B, T, S, D int
	Data       []float32
}

// NewBlock allocates a zeroed block.
func NewBlock(name string, b, t, s, d int) *Block {
	if b < 0 || t < 0 || s < 0 || d < 0 {
		panic("negative dimension for block")
	}
	return &Block{
		Name: name,
		B:    b,
		T:    t,
		S:    s,
		D:    d,
		Data: make([]float32, b*t*s*d),
	}
}

// At returns a view of sub-token s of timestep t in row b.
func (k *Block) At(b, t, s int) []float32 {
	if b < 0 || b >= k.B || t < 0 || t >= k.T || s < 0 || s >= k.S {
		panic("block index out of range")
	}
	off := ((b*k.T+t)*k.S + s) * k.D
	return k.Data[off : off+k.D]
}

// Tokens returns the number of tokens one row contributes when flattened.
func (k *Block) Tokens() int {
	return k.T * k.S
}

// Stream is a raw per-timestep modality batch before encoding, e.g. raster
// frames (B, T, C, H, W) or action vectors (B, T, F). Shape excludes B and T.
type Stream struct {
	Name  string
	B, T  int
	Shape []int
	Data  []float32
}

// NewStream allocates a zeroed stream with the given per-timestep shape.
func NewStream(name string, b, t int, shape ...int) *Stream {
	n := b * t
	for _, d := range shape {
		n *= d
	}
	return &Stream{
		Name:  name,
		B:     b,
		T:     t,
		Shape: append([]int(nil), shape...),
		Data:  make([]float32, n),
	}
}

// FrameSize is the number of elements in one timestep.
func (s *Stream) FrameSize() int {
	n := 1
	for _, d := range s.Shape {
		n *= d
	}
	return n
}

// Frame returns a view of timestep t of row b.
func (s *Stream) Frame(b, t int) []float32 {
	if b < 0 || b >= s.B || t < 0 || t >= s.T {
		panic("stream index out of range")
	}
	n := s.FrameSize()
	off := (b*s.T + t) * n
	return s.Data[off : off+n]
}
