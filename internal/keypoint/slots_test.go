package keypoint

import (
	"errors"
	"slices"
	"testing"

	"github.com/samcharles93/waypoint/internal/config"
)

func TestEvenInterval(t *testing.T) {
	t.Parallel()
	got, err := EvenInterval{Interval: 20}.Indices(80)
	if err != nil {
		t.Fatal(err)
	}
	if want := []int{19, 39, 59, 79}; !slices.Equal(got, want) {
		t.Fatalf("indices %v, want %v", got, want)
	}
	got, _ = EvenInterval{Interval: 30}.Indices(80)
	if want := []int{29, 59}; !slices.Equal(got, want) {
		t.Fatalf("indices %v, want %v", got, want)
	}
	if _, err := (EvenInterval{Interval: 100}).Indices(80); !errors.Is(err, ErrEmptyKeyPointSet) {
		t.Fatalf("expected empty set, got %v", err)
	}
	if _, err := (EvenInterval{}).Indices(80); !errors.Is(err, ErrInvalidSlots) {
		t.Fatalf("expected invalid slots, got %v", err)
	}
}

func TestExplicit(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		list []int
		want error
	}{
		{"ok", []int{19, 39, 59, 79}, nil},
		{"empty", nil, ErrEmptyKeyPointSet},
		{"unsorted", []int{39, 19}, ErrInvalidSlots},
		{"duplicate", []int{19, 19}, ErrInvalidSlots},
		{"beyond horizon", []int{19, 80}, ErrInvalidSlots},
		{"negative", []int{-1}, ErrInvalidSlots},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Explicit{List: tc.list}.Indices(80)
			if tc.want == nil && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestNewPolicy(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	p, err := NewPolicy(cfg)
	if err != nil || p != nil {
		t.Fatalf("mode no: policy %v err %v", p, err)
	}
	cfg.UseKeyPoints = config.KeyPointsEvenInterval
	if p, _ := NewPolicy(cfg); p != (EvenInterval{Interval: 20}) {
		t.Fatalf("even interval policy %#v", p)
	}
	cfg.UseKeyPoints = config.KeyPointsSpecifiedBackward
	cfg.KeyPointIndices = []int{4, 9}
	p, _ = NewPolicy(cfg)
	if ex, ok := p.(Explicit); !ok || !slices.Equal(ex.List, []int{4, 9}) {
		t.Fatalf("explicit policy %#v", p)
	}
	cfg.UseKeyPoints = "sometimes"
	if _, err := NewPolicy(cfg); !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
}

func TestPlan(t *testing.T) {
	t.Parallel()
	plan, err := NewPlan(Explicit{List: []int{1, 3}}, 4, 10)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(plan.Slots(), []int{10, 11}) {
		t.Fatalf("slots %v", plan.Slots())
	}
	if _, err := NewPlan(Explicit{List: []int{1}}, 4, 0); !errors.Is(err, ErrInvalidSlots) {
		t.Fatalf("expected invalid slots for start 0, got %v", err)
	}
	if _, err := NewPlan(nil, 4, 3); !errors.Is(err, ErrEmptyKeyPointSet) {
		t.Fatalf("expected empty set for nil policy, got %v", err)
	}

	// (2, 4, 2) trajectory; value = row*100 + step*10 + coord
	traj := make([]float32, 16)
	for row := 0; row < 2; row++ {
		for s := 0; s < 4; s++ {
			for c := 0; c < 2; c++ {
				traj[(row*4+s)*2+c] = float32(row*100 + s*10 + c)
			}
		}
	}
	got := plan.Gather(traj, 2, 4, 2)
	want := []float32{10, 11, 30, 31, 110, 111, 130, 131}
	if !slices.Equal(got, want) {
		t.Fatalf("gather %v, want %v", got, want)
	}
}
