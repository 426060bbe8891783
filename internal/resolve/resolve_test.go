package resolve

import (
	"os"
	"path/filepath"
	"testing"
)

func TestKeyIndexResolve(t *testing.T) {
	t.Run("existing key reuses id", func(t *testing.T) {
		ki := NewKeyIndex(map[string]string{"dvfh_alice": "id-1"})
		id, existed := ki.Resolve("dvfh_alice", func() string { return "id-new" })
		if !existed {
			t.Error("expected existed=true for known key")
		}
		if id != "id-1" {
			t.Errorf("id = %q, want id-1", id)
		}
	})

	t.Run("new key mints and records", func(t *testing.T) {
		ki := NewKeyIndex(nil)
		id, existed := ki.Resolve("dvfh_alice", func() string { return "id-new" })
		if existed {
			t.Error("expected existed=false for new key")
		}
		if id != "id-new" {
			t.Errorf("id = %q, want id-new", id)
		}

		// The assignment must be visible to subsequent rows in the same run.
		again, existed := ki.Resolve("dvfh_alice", func() string { return "id-other" })
		if !existed {
			t.Error("second resolution of the same key should be an update")
		}
		if again != "id-new" {
			t.Errorf("second resolution id = %q, want id-new", again)
		}
	})

	t.Run("lookup and len", func(t *testing.T) {
		ki := NewKeyIndex(map[string]string{"a": "1"})
		if _, ok := ki.Lookup("b"); ok {
			t.Error("unexpected hit for unknown key")
		}
		ki.Resolve("b", func() string { return "2" })
		if id, ok := ki.Lookup("b"); !ok || id != "2" {
			t.Errorf("Lookup(b) = %q, %v", id, ok)
		}
		if ki.Len() != 2 {
			t.Errorf("Len = %d, want 2", ki.Len())
		}
	})
}

func TestIDSetSeen(t *testing.T) {
	s := NewIDSet(map[string]struct{}{"u1": {}})
	if !s.Seen("u1") {
		t.Error("u1 should already be present")
	}
	if s.Seen("u2") {
		t.Error("u2 should be new")
	}
	if !s.Seen("u2") {
		t.Error("u2 should be present after first Seen")
	}
}

func TestImageRefsResolve(t *testing.T) {
	refs := NewImageRefs(
		map[string]string{"x": "y"},
		map[string]string{"x": "z", "w": "q"},
	)

	tests := []struct {
		value string
		want  string
	}{
		{"x", "y"},             // join mapping wins over the override
		{"w", "q"},             // override used when the join misses
		{"unknown", "unknown"}, // unresolved values pass through
		{"", ""},               // empty stays empty
	}

	for _, tt := range tests {
		if got := refs.Resolve(tt.value); got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.value, got, tt.want)
		}
	}
}

func TestImageRefsNilMaps(t *testing.T) {
	refs := NewImageRefs(nil, nil)
	if got := refs.Resolve("anything"); got != "anything" {
		t.Errorf("Resolve = %q, want passthrough", got)
	}
}

func TestEmbeddedOverrides(t *testing.T) {
	mapping, err := EmbeddedOverrides()
	if err != nil {
		t.Fatalf("EmbeddedOverrides returned error: %v", err)
	}
	if len(mapping) == 0 {
		t.Fatal("embedded override table should not be empty")
	}
	for old, new_ := range mapping {
		if old == "" || new_ == "" {
			t.Errorf("blank entry in embedded table: %q -> %q", old, new_)
		}
	}
}

func TestLoadOverridesFile(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mapping.json")
		if err := os.WriteFile(path, []byte(`{"old-1": "new-1"}`), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}

		mapping, err := LoadOverridesFile(path)
		if err != nil {
			t.Fatalf("LoadOverridesFile returned error: %v", err)
		}
		if mapping["old-1"] != "new-1" {
			t.Errorf("mapping = %v", mapping)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadOverridesFile(filepath.Join(t.TempDir(), "nope.json")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		if err := os.WriteFile(path, []byte("not json"), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := LoadOverridesFile(path); err == nil {
			t.Error("expected error for malformed file")
		}
	})
}
