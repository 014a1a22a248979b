package api

import (
	"slices"
	"sync"

	"github.com/google/uuid"
)

// PlanStore keeps generated plans in memory.
type PlanStore struct {
	mu    sync.Mutex
	plans map[string]Plan
	order []string
	limit int
}

// NewPlanStore returns a store holding at most limit plans, evicting the
// oldest first. limit <= 0 means unbounded.
func NewPlanStore(limit int) *PlanStore {
	return &PlanStore{
		plans: make(map[string]Plan),
		limit: limit,
	}
}

func (s *PlanStore) Save(p Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[p.ID]; !ok {
		s.order = append(s.order, p.ID)
	}
	s.plans[p.ID] = p
	for s.limit > 0 && len(s.order) > s.limit {
		delete(s.plans, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *PlanStore) Get(id string) (Plan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	return p, ok
}

func (s *PlanStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[id]; !ok {
		return false
	}
	delete(s.plans, id)
	s.order = slices.DeleteFunc(s.order, func(v string) bool { return v == id })
	return true
}

// List returns plans oldest first.
func (s *PlanStore) List() []Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Plan, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.plans[id])
	}
	return out
}

func newPlanID() string {
	return "plan_" + uuid.NewString()
}
