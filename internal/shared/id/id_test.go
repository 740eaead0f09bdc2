package id

import (
	"strings"
	"sync"
	"testing"
)

func TestGenerate(t *testing.T) {
	gen := NewGenerator()

	id1 := gen.Generate()
	id2 := gen.Generate()

	if id1.String() == id2.String() {
		t.Error("Generated IDs should be unique")
	}
}

func TestGenerateString(t *testing.T) {
	gen := NewGenerator()

	id := gen.GenerateString()

	if len(id) != 26 {
		t.Errorf("ULID should be 26 characters, got %d", len(id))
	}
}

func TestTypedIDs(t *testing.T) {
	term := NewTerminalID()
	tab := NewTabID()

	if !strings.HasPrefix(term.String(), "term_") {
		t.Errorf("terminal ID should start with 'term_', got: %s", term)
	}
	if !strings.HasPrefix(tab.String(), "tab_") {
		t.Errorf("tab ID should start with 'tab_', got: %s", tab)
	}

	for _, raw := range []string{term.String(), tab.String()} {
		parts := strings.SplitN(raw, "_", 2)
		if len(parts) != 2 || !IsValid(parts[1]) {
			t.Errorf("ULID part should be valid: %s", raw)
		}
	}
}

func TestConcurrentGeneration(t *testing.T) {
	gen := NewGenerator()

	const n = 100
	var wg sync.WaitGroup
	ids := make([]string, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			ids[idx] = gen.GenerateString()
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, id := range ids {
		if seen[id] {
			t.Errorf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}
