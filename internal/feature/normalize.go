package feature

import "strings"

// Normalize maps an arbitrary profile onto a schema-aligned vector.
//
// Output length and index order come entirely from the schema, never from
// the map's iteration order: two profiles missing different optional fields
// still produce comparable vectors. Missing, unparseable, or non-finite
// numeric values become 0.0; categorical values are lowercased, trimmed, and
// mapped through the column's code table with the table's default for absent
// or unseen strings. Profile keys outside the schema are ignored.
//
// The second return value names every schema column that fell back to a
// default, in schema order. Callers surface it so silently defaulted input
// stays observable (a client that always omits credit_score is scored as if
// credit_score were 0, and that should be visible somewhere).
//
// Normalize never fails: one malformed attribute must not reject the request.
func Normalize(p Profile, s *Schema) (Vector, []string) {
	vec := make(Vector, s.Len())
	var defaulted []string

	for i, col := range s.columns {
		switch col.Kind {
		case KindCategorical:
			code, ok := p.lookupCode(col)
			vec[i] = float64(code)
			if !ok {
				defaulted = append(defaulted, col.Name)
			}
		default:
			v, ok := p.Number(col.Name)
			if !ok {
				v = 0
				defaulted = append(defaulted, col.Name)
			}
			vec[i] = v
		}
	}

	return vec, defaulted
}

// lookupCode resolves a categorical profile value to its integer code.
// The bool reports whether a real (non-default) mapping was found.
func (p Profile) lookupCode(col Column) (int, bool) {
	raw, present := p[col.Name]
	if !present {
		return col.Default, false
	}
	s, isString := raw.(string)
	if !isString {
		return col.Default, false
	}
	// Code tables are stored lowercased, so match in the same form.
	if code, ok := col.Codes[strings.ToLower(strings.TrimSpace(s))]; ok {
		return code, true
	}
	return col.Default, false
}
