package rules

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
)

func TestNewStore_MissingFile(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "saved_rules.json"), nil)
	if got := s.List(); len(got) != 0 {
		t.Errorf("expected empty store, got %q", got)
	}
}

func TestNewStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved_rules.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(path, nil)
	if got := s.List(); len(got) != 0 {
		t.Errorf("expected empty store, got %q", got)
	}
}

func TestAdd_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved_rules.json")
	s := NewStore(path, nil)

	for _, r := range []string{"Ignore spelling", "  Bỏ qua lỗi chính tả  "} {
		added, err := s.Add(r)
		if err != nil {
			t.Fatalf("Add(%q): %v", r, err)
		}
		if !added {
			t.Errorf("Add(%q) reported not added", r)
		}
	}

	reopened := NewStore(path, nil)
	want := []string{"Ignore spelling", "Bỏ qua lỗi chính tả"}
	if got := reopened.List(); !reflect.DeepEqual(got, want) {
		t.Errorf("reloaded rules = %q, want %q", got, want)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "\n    \"Ignore spelling\"") {
		t.Errorf("expected 4-space indentation, got %s", data)
	}
	if !strings.Contains(string(data), "Bỏ qua") {
		t.Errorf("expected non-ASCII preserved verbatim, got %s", data)
	}
}

func TestAdd_EmptyAndDuplicateAreNoOps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved_rules.json")
	s := NewStore(path, nil)

	if added, err := s.Add("   "); err != nil || added {
		t.Fatalf("Add(blank) = %v, %v; want false, nil", added, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected no file after blank add, stat err = %v", err)
	}

	if _, err := s.Add("A"); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	before := info.ModTime()

	if added, err := s.Add(" A "); err != nil || added {
		t.Fatalf("Add(duplicate) = %v, %v; want false, nil", added, err)
	}
	info, err = os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(before) {
		t.Error("expected file untouched by duplicate add")
	}
	if got := s.List(); !reflect.DeepEqual(got, []string{"A"}) {
		t.Errorf("rules = %q, want [A]", got)
	}
}

func TestAdd_HTMLCharactersNotEscaped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved_rules.json")
	s := NewStore(path, nil)
	if _, err := s.Add("area < 5m2 & rounding"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "area < 5m2 & rounding") {
		t.Errorf("expected raw characters in file, got %s", data)
	}
}

func TestClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved_rules.json")
	s := NewStore(path, nil)
	if _, err := s.Add("A"); err != nil {
		t.Fatal(err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got := s.List(); len(got) != 0 {
		t.Errorf("expected empty list, got %q", got)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected file removed, stat err = %v", err)
	}
	// Clearing twice is fine.
	if err := s.Clear(); err != nil {
		t.Errorf("second Clear: %v", err)
	}
}

func TestList_ReturnsCopy(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "r.json"), nil)
	if _, err := s.Add("A"); err != nil {
		t.Fatal(err)
	}
	got := s.List()
	got[0] = "mutated"
	if s.List()[0] != "A" {
		t.Error("List must not expose internal state")
	}
}

func TestAdd_Concurrent(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "r.json"), nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Add("same rule"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if got := s.List(); len(got) != 1 {
		t.Errorf("expected one rule after concurrent adds, got %q", got)
	}
}
