// Package layout places the tokens of every modality into fixed,
// index-addressable slots of one embedding sequence.
//
// The interleaved block comes first, followed in fixed order by camera
// tokens, proposal tokens, key-point tokens and the zeroed prediction
// placeholders read back by the trajectory decoder.
package layout

import "fmt"

// Kind selects the interleaving law of the observation/action block.
type Kind int

const (
	// Flat alternates one state token and one action token per timestep.
	Flat Kind = iota
	// Patch emits S state sub-tokens followed by one action token per timestep.
	Patch
)

func (k Kind) String() string {
	switch k {
	case Flat:
		return "flat"
	case Patch:
		return "patch"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Recipe describes the interleaved block for T timesteps.
type Recipe struct {
	Kind      Kind
	Timesteps int
	// SubTokens is the per-timestep state token count of a Patch recipe.
	// It is ignored for Flat recipes.
	SubTokens int
}

// FlatRecipe returns the state,action,state,action,... recipe.
func FlatRecipe(timesteps int) Recipe {
	return Recipe{Kind: Flat, Timesteps: timesteps}
}

// PatchRecipe returns the recipe for patch-based state encoders emitting
// subTokens tokens per timestep.
func PatchRecipe(timesteps, subTokens int) Recipe {
	return Recipe{Kind: Patch, Timesteps: timesteps, SubTokens: subTokens}
}

// StateTokens is the number of state tokens per timestep.
func (r Recipe) StateTokens() int {
	if r.Kind == Patch {
		return r.SubTokens
	}
	return 1
}

// Stride is the distance between the first slots of consecutive timesteps.
func (r Recipe) Stride() int {
	return r.StateTokens() + 1
}

// StateSlot is the absolute index of state sub-token s of timestep j.
func (r Recipe) StateSlot(j, s int) int {
	return j*r.Stride() + s
}

// ActionSlot is the absolute index of the action token of timestep j.
func (r Recipe) ActionSlot(j int) int {
	return j*r.Stride() + r.StateTokens()
}

// Length is the size of the interleaved block: 2T for Flat, T+T*S for Patch.
func (r Recipe) Length() int {
	return r.Timesteps * r.Stride()
}

func (r Recipe) validate() error {
	if r.Timesteps < 1 {
		return fmt.Errorf("%w: timesteps %d", ErrInvalidRecipe, r.Timesteps)
	}
	if r.Kind == Patch && r.SubTokens < 1 {
		return fmt.Errorf("%w: patch recipe needs at least one sub-token, got %d", ErrInvalidRecipe, r.SubTokens)
	}
	if r.Kind != Flat && r.Kind != Patch {
		return fmt.Errorf("%w: %s", ErrInvalidRecipe, r.Kind)
	}
	return nil
}
