package api

import "testing"

func TestPlanStoreEvictsOldest(t *testing.T) {
	t.Parallel()

	s := NewPlanStore(2)
	for _, id := range []string{"a", "b", "c"} {
		s.Save(Plan{ID: id})
	}
	if _, ok := s.Get("a"); ok {
		t.Fatal("oldest plan was not evicted")
	}
	list := s.List()
	if len(list) != 2 || list[0].ID != "b" || list[1].ID != "c" {
		t.Fatalf("unexpected order %+v", list)
	}
	if !s.Delete("b") || s.Delete("b") {
		t.Fatal("delete should succeed once")
	}
	if got := s.List(); len(got) != 1 || got[0].ID != "c" {
		t.Fatalf("after delete %+v", got)
	}
}

func TestNewPlanIDUnique(t *testing.T) {
	t.Parallel()

	a, b := newPlanID(), newPlanID()
	if a == b || len(a) != len("plan_")+36 {
		t.Fatalf("ids %q %q", a, b)
	}
}
