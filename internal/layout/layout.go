package layout

import (
	"fmt"
	"strings"
)

// Segment names, in sequence order.
const (
	SegmentState         = "state"
	SegmentAction        = "action"
	SegmentCamera        = "camera"
	SegmentProposal      = "proposal"
	SegmentProposalClass = "proposal_class"
	SegmentKeyPoints     = "key_points"
	SegmentPrediction    = "prediction"
)

// Segment is one modality's slot range. Token (t, s) lives at
// Start + t*Stride + s, for t < Count and s < SubTokens.
type Segment struct {
	Name      string
	Start     int
	Stride    int
	SubTokens int
	Count     int
}

// Slot returns the absolute index of token (t, s).
func (s Segment) Slot(t, sub int) (int, error) {
	if t < 0 || t >= s.Count || sub < 0 || sub >= s.SubTokens {
		return 0, fmt.Errorf("%w: %s[%d,%d] (count %d, sub-tokens %d)", ErrSlotOutOfRange, s.Name, t, sub, s.Count, s.SubTokens)
	}
	return s.Start + t*s.Stride + sub, nil
}

// Tokens is the number of slots the segment occupies.
func (s Segment) Tokens() int {
	return s.Count * s.SubTokens
}

// Extras sizes the segments appended after the interleaved block.
type Extras struct {
	Cameras       int
	CameraPatches int
	Proposals     int
	ProposalClass bool
	KeyPoints     int
	PredLength    int
}

// Layout records where every modality lives in the assembled sequence.
type Layout struct {
	Recipe   Recipe
	Segments []Segment

	// ContextLength covers the interleaved block and camera tokens.
	ContextLength int
	// ExtraTokens counts proposal and key-point tokens.
	ExtraTokens   int
	KeyPointStart int
	KeyPoints     int
	PredStart     int
	PredLength    int
	Total         int
}

// New computes the layout for a recipe and its appended segments. It does
// not touch any embedding data, so callers can locate slots before building.
func New(r Recipe, ex Extras) (*Layout, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	if ex.Cameras < 0 || ex.CameraPatches < 0 || ex.Proposals < 0 || ex.KeyPoints < 0 || ex.PredLength < 0 {
		return nil, fmt.Errorf("%w: negative segment size in %+v", ErrInvalidRecipe, ex)
	}
	if ex.ProposalClass && ex.Proposals == 0 {
		return nil, fmt.Errorf("%w: proposal class token without proposals", ErrInvalidRecipe)
	}

	l := &Layout{Recipe: r}
	stride := r.Stride()
	l.Segments = append(l.Segments,
		Segment{Name: SegmentState, Start: 0, Stride: stride, SubTokens: r.StateTokens(), Count: r.Timesteps},
		Segment{Name: SegmentAction, Start: r.StateTokens(), Stride: stride, SubTokens: 1, Count: r.Timesteps},
	)
	pos := r.Length()

	if ex.Cameras > 0 && ex.CameraPatches > 0 {
		l.Segments = append(l.Segments, Segment{Name: SegmentCamera, Start: pos, Stride: ex.CameraPatches, SubTokens: ex.CameraPatches, Count: ex.Cameras})
		pos += ex.Cameras * ex.CameraPatches
	}
	l.ContextLength = pos

	if ex.Proposals > 0 {
		l.Segments = append(l.Segments, Segment{Name: SegmentProposal, Start: pos, Stride: 1, SubTokens: 1, Count: ex.Proposals})
		pos += ex.Proposals
		if ex.ProposalClass {
			l.Segments = append(l.Segments, Segment{Name: SegmentProposalClass, Start: pos, Stride: 1, SubTokens: 1, Count: 1})
			pos++
		}
	}

	l.KeyPointStart = pos
	l.KeyPoints = ex.KeyPoints
	if ex.KeyPoints > 0 {
		l.Segments = append(l.Segments, Segment{Name: SegmentKeyPoints, Start: pos, Stride: 1, SubTokens: 1, Count: ex.KeyPoints})
		pos += ex.KeyPoints
	}
	l.ExtraTokens = pos - l.ContextLength

	l.PredStart = pos
	l.PredLength = ex.PredLength
	if ex.PredLength > 0 {
		l.Segments = append(l.Segments, Segment{Name: SegmentPrediction, Start: pos, Stride: 1, SubTokens: 1, Count: ex.PredLength})
		pos += ex.PredLength
	}
	l.Total = pos
	return l, nil
}

// Segment looks up a segment by name.
func (l *Layout) Segment(name string) (Segment, bool) {
	for _, s := range l.Segments {
		if s.Name == name {
			return s, true
		}
	}
	return Segment{}, false
}

// SlotFor maps (modality, timestep, sub-token) to an absolute index.
func (l *Layout) SlotFor(name string, t, sub int) (int, error) {
	s, ok := l.Segment(name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownSegment, name)
	}
	return s.Slot(t, sub)
}

// Validate checks that segments never overlap and that together they cover
// exactly ContextLength + ExtraTokens + PredLength slots.
func (l *Layout) Validate() error {
	if l.Total != l.ContextLength+l.ExtraTokens+l.PredLength {
		return fmt.Errorf("%w: total %d != context %d + extra %d + pred %d", ErrLayoutInvariant, l.Total, l.ContextLength, l.ExtraTokens, l.PredLength)
	}
	owner := make([]string, l.Total)
	for _, s := range l.Segments {
		for t := 0; t < s.Count; t++ {
			for sub := 0; sub < s.SubTokens; sub++ {
				idx := s.Start + t*s.Stride + sub
				if idx < 0 || idx >= l.Total {
					return fmt.Errorf("%w: %s[%d,%d] at %d outside [0,%d)", ErrLayoutInvariant, s.Name, t, sub, idx, l.Total)
				}
				if owner[idx] != "" {
					return fmt.Errorf("%w: slot %d claimed by %s and %s", ErrLayoutInvariant, idx, owner[idx], s.Name)
				}
				owner[idx] = s.Name
			}
		}
	}
	for idx, name := range owner {
		if name == "" {
			return fmt.Errorf("%w: slot %d unowned", ErrLayoutInvariant, idx)
		}
	}
	return nil
}

func (l *Layout) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "recipe=%s timesteps=%d state_tokens=%d context=%d extra=%d pred=%d total=%d\n",
		l.Recipe.Kind, l.Recipe.Timesteps, l.Recipe.StateTokens(), l.ContextLength, l.ExtraTokens, l.PredLength, l.Total)
	for _, s := range l.Segments {
		last := s.Start + (s.Count-1)*s.Stride + s.SubTokens - 1
		fmt.Fprintf(&b, "  %-15s start=%-6d stride=%-4d sub=%-4d count=%-5d last=%d\n", s.Name, s.Start, s.Stride, s.SubTokens, s.Count, last)
	}
	return b.String()
}
