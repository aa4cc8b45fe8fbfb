package feature

import (
	"math"
	"testing"
)

func testSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema([]Column{
		{Name: "age", Kind: KindNumeric},
		{Name: "credit_score", Kind: KindNumeric},
		{Name: "deposits", Kind: KindNumeric},
		{Name: "housing", Kind: KindCategorical, Codes: map[string]int{"na": 0, "o": 1, "owned": 1, "r": 2, "rented": 2}, Default: 0},
		{Name: "payment_type", Kind: KindCategorical, Codes: map[string]int{"na": 0, "monthly": 1, "bi-weekly": 2, "weekly": 3, "semi-monthly": 4}, Default: 0},
	})
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	return s
}

func TestNormalize_AlignmentInvariant(t *testing.T) {
	s := testSchema(t)

	profiles := []Profile{
		{},
		{"age": 30.0},
		{"age": 30.0, "credit_score": 700.0, "deposits": 5.0, "housing": "r", "payment_type": "weekly"},
		{"unrelated": "x", "another": 1.0},
		{"age": "not a number", "housing": 42.0},
	}

	for i, p := range profiles {
		vec, _ := Normalize(p, s)
		if len(vec) != s.Len() {
			t.Errorf("profile %d: len(vec) = %d, want %d", i, len(vec), s.Len())
		}
	}
}

func TestNormalize_NumericCoercion(t *testing.T) {
	s := testSchema(t)

	tests := []struct {
		name  string
		value any
		want  float64
	}{
		{"float", 42.5, 42.5},
		{"int", 42, 42},
		{"numeric string", "655", 655},
		{"numeric string with spaces", " 655 ", 655},
		{"bool true", true, 1},
		{"bool false", false, 0},
		{"garbage string", "yes please", 0},
		{"nan", math.NaN(), 0},
		{"positive inf", math.Inf(1), 0},
		{"nil", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vec, _ := Normalize(Profile{"age": tt.value}, s)
			if vec[0] != tt.want {
				t.Errorf("age=%v normalized to %v, want %v", tt.value, vec[0], tt.want)
			}
		})
	}
}

func TestNormalize_Categorical(t *testing.T) {
	s := testSchema(t)

	tests := []struct {
		name  string
		value any
		want  float64
	}{
		{"exact code", "r", 2},
		{"alias", "rented", 2},
		{"mixed case with spaces", "  Rented ", 2},
		{"owned", "o", 1},
		{"unseen value", "houseboat", 0},
		{"non-string", 2.0, 0},
		{"missing", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Profile{}
			if tt.value != nil {
				p["housing"] = tt.value
			}
			vec, _ := Normalize(p, s)
			if vec[3] != tt.want {
				t.Errorf("housing=%v normalized to %v, want %v", tt.value, vec[3], tt.want)
			}
		})
	}
}

func TestNormalize_DefaultFillIdempotence(t *testing.T) {
	s := testSchema(t)

	// Empty profile: all defaults, correct length.
	vec, defaulted := Normalize(Profile{}, s)
	if len(vec) != s.Len() {
		t.Fatalf("len(vec) = %d, want %d", len(vec), s.Len())
	}
	for i, v := range vec {
		if v != 0 {
			t.Errorf("vec[%d] = %v, want 0 for empty profile", i, v)
		}
	}
	if len(defaulted) != s.Len() {
		t.Errorf("defaulted = %v, want all %d columns", defaulted, s.Len())
	}

	// Pure function: same input, same output.
	p := Profile{"age": 25.0, "housing": "rented"}
	a, _ := Normalize(p, s)
	b, _ := Normalize(p, s)
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("vec[%d] differs between calls: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestNormalize_ExtraKeysIgnored(t *testing.T) {
	s := testSchema(t)

	base, _ := Normalize(Profile{"age": 25.0}, s)
	extra, _ := Normalize(Profile{"age": 25.0, "email": "a@b.c", "name": "x", "zodiac_sign": "leo"}, s)

	for i := range base {
		if base[i] != extra[i] {
			t.Errorf("vec[%d] changed by extra keys: %v vs %v", i, base[i], extra[i])
		}
	}
}

func TestNormalize_DefaultedFieldNames(t *testing.T) {
	s := testSchema(t)

	_, defaulted := Normalize(Profile{"age": 25.0, "housing": "rented"}, s)

	want := map[string]bool{"credit_score": true, "deposits": true, "payment_type": true}
	if len(defaulted) != len(want) {
		t.Fatalf("defaulted = %v, want %d fields", defaulted, len(want))
	}
	for _, name := range defaulted {
		if !want[name] {
			t.Errorf("unexpected defaulted field %q", name)
		}
	}
}
