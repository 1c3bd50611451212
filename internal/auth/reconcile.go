package auth

// Link is one existing association row: Row identifies the row itself and
// Member the catalog entry it points to.
type Link[M comparable, R comparable] struct {
	Row    R
	Member M
}

// Plan is the difference between what is stored and what is wanted.
// Detach holds row ids to delete, Attach holds member ids needing a new row.
type Plan[M comparable, R comparable] struct {
	Attach []M
	Detach []R
}

// Empty reports whether applying the plan would change nothing.
func (p Plan[M, R]) Empty() bool {
	return len(p.Attach) == 0 && len(p.Detach) == 0
}

// Reconcile computes the full-replacement plan that turns existing into
// desired. Attach keeps desired order without duplicates; Detach keeps
// existing order. Duplicate existing rows for one member are all kept when
// the member is desired, and all detached when it is not.
func Reconcile[M comparable, R comparable](existing []Link[M, R], desired []M) Plan[M, R] {
	want := make(map[M]struct{}, len(desired))
	for _, m := range desired {
		want[m] = struct{}{}
	}
	have := make(map[M]struct{}, len(existing))
	var plan Plan[M, R]
	for _, l := range existing {
		have[l.Member] = struct{}{}
		if _, ok := want[l.Member]; !ok {
			plan.Detach = append(plan.Detach, l.Row)
		}
	}
	seen := make(map[M]struct{}, len(desired))
	for _, m := range desired {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		if _, ok := have[m]; !ok {
			plan.Attach = append(plan.Attach, m)
		}
	}
	return plan
}
