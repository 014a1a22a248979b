// Package proposal implements the training-time proposal-cluster stage: a
// fixed bank of candidate trajectories is scored against the ground truth
// and the closest candidate becomes the classification target.
package proposal

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/samcharles93/waypoint/internal/encoder"
	"github.com/samcharles93/waypoint/internal/tensor"
)

// BankTensor is the tensor name holding the candidate bank.
const BankTensor = "trajs"

var (
	ErrProposalCountMismatch = errors.New("proposal count mismatch")
	ErrInvalidBank           = errors.New("invalid proposal bank")
	ErrMissingLabel          = errors.New("proposal stage needs a trajectory label")
)

// CountError reports a bank whose size disagrees with use_proposal.
type CountError struct {
	Bank       int
	Configured int
}

func (e *CountError) Error() string {
	return fmt.Sprintf("%s: bank holds %d candidates, configured %d", ErrProposalCountMismatch, e.Bank, e.Configured)
}

func (e *CountError) Unwrap() error { return ErrProposalCountMismatch }

// Bank is N candidate trajectories of P points, each (x, y, yaw).
type Bank struct {
	N, P int
	Data []float32
}

// NewBank wraps (N, P, 3) data.
func NewBank(n, p int, data []float32) (*Bank, error) {
	if n <= 0 || p <= 0 || len(data) != n*p*3 {
		return nil, fmt.Errorf("%w: %d values for (%d, %d, 3)", ErrInvalidBank, len(data), n, p)
	}
	return &Bank{N: n, P: p, Data: data}, nil
}

// Source yields named float tensors with their shape.
type Source interface {
	ReadTensorF32(name string) ([]float32, []int, error)
}

// LoadBank reads the (N, P, 3) BankTensor from src.
func LoadBank(src Source) (*Bank, error) {
	data, shape, err := src.ReadTensorF32(BankTensor)
	if err != nil {
		return nil, fmt.Errorf("load proposal bank: %w", err)
	}
	if len(shape) != 3 || shape[2] != 3 {
		return nil, fmt.Errorf("%w: shape %v, want (N, P, 3)", ErrInvalidBank, shape)
	}
	return NewBank(shape[0], shape[1], data)
}

// Candidate returns the first points points of candidate i.
func (b *Bank) Candidate(i, points int) []float32 {
	off := i * b.P * 3
	return b.Data[off : off+points*3]
}

// Truncated returns all candidates cut to their first points points, flat.
func (b *Bank) Truncated(points int) []float32 {
	if points >= b.P {
		return b.Data
	}
	out := make([]float32, 0, b.N*points*3)
	for i := 0; i < b.N; i++ {
		out = append(out, b.Candidate(i, points)...)
	}
	return out
}

// ADE is the mean Euclidean (x, y) distance between a candidate of
// (x, y, yaw) points and a ground truth of width-wide points, over the first
// n points.
func ADE(candidate []float32, gt []float32, width, n int) float64 {
	if n == 0 {
		return 0
	}
	var a, g [2]float64
	var sum float64
	for i := 0; i < n; i++ {
		a[0], a[1] = float64(candidate[i*3]), float64(candidate[i*3+1])
		g[0], g[1] = float64(gt[i*width]), float64(gt[i*width+1])
		sum += floats.Distance(a[:], g[:], 2)
	}
	return sum / float64(n)
}

// Selection holds per-row ADE distances and the arg-min candidate.
type Selection struct {
	Distances [][]float64
	Index     []int
}

// Select scores every candidate against each row of the (B, L, width)
// label over min(points, P, L) points.
func (b *Bank) Select(label []float32, batch, length, width, points int) (Selection, error) {
	if width < 2 || len(label) != batch*length*width {
		return Selection{}, fmt.Errorf("%w: label holds %d values for (%d, %d, %d)", ErrMissingLabel, len(label), batch, length, width)
	}
	n := min(points, b.P, length)
	sel := Selection{
		Distances: make([][]float64, batch),
		Index:     make([]int, batch),
	}
	for row := 0; row < batch; row++ {
		gt := label[row*length*width : (row+1)*length*width]
		d := make([]float64, b.N)
		for c := 0; c < b.N; c++ {
			d[c] = ADE(b.Candidate(c, n), gt, width, n)
		}
		sel.Distances[row] = d
		sel.Index[row] = floats.MinIdx(d)
	}
	return sel, nil
}

// Stage couples a bank with the proposal encoder.
type Stage struct {
	Bank    *Bank
	Encoder *encoder.ProposalEncoder
	Points  int
}

// NewStage checks that the bank size matches the configured proposal count.
func NewStage(bank *Bank, enc *encoder.ProposalEncoder, configured, points int) (*Stage, error) {
	if bank.N != configured {
		return nil, &CountError{Bank: bank.N, Configured: configured}
	}
	if points > bank.P {
		return nil, fmt.Errorf("%w: %d points requested from candidates of %d", ErrInvalidBank, points, bank.P)
	}
	if enc.Candidates != configured || enc.Points != points {
		return nil, &CountError{Bank: enc.Candidates, Configured: configured}
	}
	return &Stage{Bank: bank, Encoder: enc, Points: points}, nil
}

// Result is the output of the stage for one batch.
type Result struct {
	Candidates *tensor.Block
	Class      *tensor.Block
	Selection  Selection
}

// Embed scores the bank against label and embeds the candidates and the
// selected class.
func (s *Stage) Embed(label []float32, batch, length, width int) (Result, error) {
	sel, err := s.Bank.Select(label, batch, length, width, s.Points)
	if err != nil {
		return Result{}, err
	}
	cands, err := s.Encoder.EncodeCandidates(s.Bank.Truncated(s.Points), s.Bank.N, batch)
	if err != nil {
		return Result{}, err
	}
	class, err := s.Encoder.EncodeClass(sel.Index)
	if err != nil {
		return Result{}, err
	}
	return Result{Candidates: cands, Class: class, Selection: sel}, nil
}

// MinDistance returns the smallest distance of each row.
func (s Selection) MinDistance() []float64 {
	out := make([]float64, len(s.Index))
	for i, idx := range s.Index {
		out[i] = s.Distances[i][idx]
	}
	return out
}
