package auth

import (
	"math"
	"testing"
)

func TestListQueryNormalizeKeepsOffsetInRange(t *testing.T) {
	q := ListQuery{Page: math.MaxInt, Limit: math.MaxInt}.Normalize("name")
	if q.Limit != maxPageLimit {
		t.Fatalf("limit = %d", q.Limit)
	}
	if off := q.Offset(); off < 0 {
		t.Fatalf("offset overflowed: %d", off)
	}

	q = ListQuery{Page: 100000000000000000, Limit: 100}.Normalize("name")
	if off := q.Offset(); off < 0 {
		t.Fatalf("offset overflowed: %d", off)
	}
}

func TestListQueryNormalizeDefaults(t *testing.T) {
	q := ListQuery{Page: -3, Order: "password_hash", Sort: "sideways"}.Normalize("name", "email")
	if q.Page != 1 || q.Limit != defaultPageLimit {
		t.Fatalf("paging = %d/%d", q.Page, q.Limit)
	}
	if q.Order != "name" || q.Sort != "asc" {
		t.Fatalf("ordering = %s %s", q.Order, q.Sort)
	}
}
