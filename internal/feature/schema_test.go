package feature

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeMetadata(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.metadata.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write metadata: %v", err)
	}
	return path
}

func TestLoadSchema(t *testing.T) {
	path := writeMetadata(t, `{
		"feature_columns": ["age", "credit_score", "housing"],
		"categorical_columns": {
			"housing": {"codes": {"NA": 0, "O": 1, "R": 2}, "default": 0}
		}
	}`)

	s, err := LoadSchema(path)
	if err != nil {
		t.Fatalf("LoadSchema: %v", err)
	}

	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}
	cols := s.Columns()
	if cols[0].Name != "age" || cols[0].Kind != KindNumeric {
		t.Errorf("column 0 = %+v, want numeric age", cols[0])
	}
	if cols[2].Name != "housing" || cols[2].Kind != KindCategorical {
		t.Errorf("column 2 = %+v, want categorical housing", cols[2])
	}
	// Code table keys are lowercased at load.
	if code := cols[2].Codes["r"]; code != 2 {
		t.Errorf(`Codes["r"] = %d, want 2`, code)
	}
}

func TestLoadSchema_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "pickle? never heard of it"},
		{"empty columns", `{"feature_columns": []}`},
		{"categorical outside columns", `{
			"feature_columns": ["age"],
			"categorical_columns": {"housing": {"codes": {"r": 2}, "default": 0}}
		}`},
		{"duplicate column", `{"feature_columns": ["age", "age"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeMetadata(t, tt.content)
			_, err := LoadSchema(path)
			if !errors.Is(err, ErrBadSchema) {
				t.Errorf("err = %v, want ErrBadSchema", err)
			}
		})
	}
}

func TestLoadSchema_MissingFile(t *testing.T) {
	_, err := LoadSchema(filepath.Join(t.TempDir(), "nope.json"))
	if !errors.Is(err, ErrBadSchema) {
		t.Errorf("err = %v, want ErrBadSchema", err)
	}
}

func TestSchema_SameColumns(t *testing.T) {
	a, _ := NewSchema([]Column{{Name: "age"}, {Name: "deposits"}})
	b, _ := NewSchema([]Column{{Name: "age"}, {Name: "deposits"}})
	c, _ := NewSchema([]Column{{Name: "deposits"}, {Name: "age"}})

	if !a.SameColumns(b) {
		t.Error("identical column lists should match")
	}
	if a.SameColumns(c) {
		t.Error("reordered column lists must not match")
	}
	if a.SameColumns(nil) {
		t.Error("nil schema must not match")
	}
}

func TestSchema_Index(t *testing.T) {
	s, _ := NewSchema([]Column{{Name: "age"}, {Name: "deposits"}})

	if i, ok := s.Index("deposits"); !ok || i != 1 {
		t.Errorf("Index(deposits) = %d, %v; want 1, true", i, ok)
	}
	if _, ok := s.Index("zodiac_sign"); ok {
		t.Error("Index of unknown column should report false")
	}
}
