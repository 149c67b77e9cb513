package idgen

import (
	"sort"
	"testing"
	"time"
)

func TestULIDGeneratorIsSortable(t *testing.T) {
	g := NewULIDGenerator()
	fixed := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return fixed }

	ids := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		id, err := g.Generate()
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		ids = append(ids, id)
	}

	if !sort.StringsAreSorted(ids) {
		t.Error("ids minted in the same millisecond are not sorted")
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestValidate(t *testing.T) {
	id, err := NewULIDGenerator().Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if err := Validate(id); err != nil {
		t.Errorf("Validate(%s) error = %v", id, err)
	}
	if err := Validate("short"); err == nil {
		t.Error("expected error for short id")
	}
	if err := Validate("UUUUUUUUUUUUUUUUUUUUUUUUUU"); err == nil {
		t.Error("expected error for invalid characters")
	}
}
