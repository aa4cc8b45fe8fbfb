package feature

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Kind distinguishes numeric columns from categorical ones.
type Kind string

const (
	KindNumeric     Kind = "numeric"
	KindCategorical Kind = "categorical"
)

// ErrBadSchema marks an unusable schema document. Schema problems are fatal
// at startup: every downstream invariant depends on a correct column list.
var ErrBadSchema = errors.New("invalid feature schema")

// Column is one entry of the ordered column list a model was trained on.
// Categorical columns carry the canonical string-to-code table; this table is
// the single source of truth, every normalization consults it.
type Column struct {
	Name    string
	Kind    Kind
	Codes   map[string]int // categorical only; keys are lowercased
	Default int            // code for absent or unseen categorical values
}

// Schema is the ordered sequence of columns one model artifact expects.
// Immutable after construction; shared freely across requests.
type Schema struct {
	columns []Column
	index   map[string]int
}

// NewSchema validates and builds a schema from an ordered column list.
func NewSchema(columns []Column) (*Schema, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: no columns", ErrBadSchema)
	}
	index := make(map[string]int, len(columns))
	for i, col := range columns {
		name := strings.TrimSpace(col.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: column %d has empty name", ErrBadSchema, i)
		}
		if _, dup := index[name]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrBadSchema, name)
		}
		if col.Kind == KindCategorical && len(col.Codes) == 0 {
			return nil, fmt.Errorf("%w: categorical column %q has no code table", ErrBadSchema, name)
		}
		index[name] = i
	}
	return &Schema{columns: columns, index: index}, nil
}

// Len returns the number of columns, which is also the length of every
// vector produced against this schema.
func (s *Schema) Len() int {
	return len(s.columns)
}

// Columns returns the ordered column list.
func (s *Schema) Columns() []Column {
	return s.columns
}

// Names returns the ordered column names.
func (s *Schema) Names() []string {
	names := make([]string, len(s.columns))
	for i, c := range s.columns {
		names[i] = c.Name
	}
	return names
}

// Index returns the position of a column by name.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// SameColumns reports whether two schemas agree on column order and names.
// Models scored side by side must share their column list or their vectors
// are not comparable.
func (s *Schema) SameColumns(other *Schema) bool {
	if other == nil || len(s.columns) != len(other.columns) {
		return false
	}
	for i := range s.columns {
		if s.columns[i].Name != other.columns[i].Name {
			return false
		}
	}
	return true
}

// metadataFile is the on-disk sidecar document shipped next to each model
// artifact by the training pipeline.
type metadataFile struct {
	FeatureColumns     []string                  `json:"feature_columns"`
	CategoricalColumns map[string]categoricalDef `json:"categorical_columns"`
}

type categoricalDef struct {
	Codes   map[string]int `json:"codes"`
	Default int            `json:"default"`
}

// LoadSchema reads a model's metadata document and builds its schema.
// The ordered feature_columns list is the single most fragile contract in
// the system: if it does not match the order the ensemble was trained on,
// predictions are silently shuffled. Any read or shape problem is an error.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrBadSchema, path, err)
	}

	var meta metadataFile
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrBadSchema, path, err)
	}
	if len(meta.FeatureColumns) == 0 {
		return nil, fmt.Errorf("%w: %s has no feature_columns", ErrBadSchema, path)
	}
	for name := range meta.CategoricalColumns {
		if !contains(meta.FeatureColumns, name) {
			return nil, fmt.Errorf("%w: categorical column %q not in feature_columns", ErrBadSchema, name)
		}
	}

	columns := make([]Column, len(meta.FeatureColumns))
	for i, name := range meta.FeatureColumns {
		col := Column{Name: name, Kind: KindNumeric}
		if def, ok := meta.CategoricalColumns[name]; ok {
			codes := make(map[string]int, len(def.Codes))
			for k, v := range def.Codes {
				codes[strings.ToLower(strings.TrimSpace(k))] = v
			}
			col.Kind = KindCategorical
			col.Codes = codes
			col.Default = def.Default
		}
		columns[i] = col
	}

	return NewSchema(columns)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
