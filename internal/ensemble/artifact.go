package ensemble

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/churnsight/churnsight/internal/feature"
)

// ErrBadArtifact marks a model file that cannot be used. Artifact problems
// are fatal at startup; the process must not score with a broken ensemble.
var ErrBadArtifact = errors.New("invalid model artifact")

// artifactFile is the on-disk JSON tree dump exported by the training
// pipeline, shipped next to its metadata sidecar.
type artifactFile struct {
	ModelType string     `json:"model_type"`
	BaseScore float64    `json:"base_score"`
	Trees     []treeFile `json:"trees"`
}

type treeFile struct {
	SplitFeature []int     `json:"split_feature"`
	Threshold    []float64 `json:"threshold"`
	Left         []int     `json:"left"`
	Right        []int     `json:"right"`
	Value        []float64 `json:"value"`
	Cover        []float64 `json:"cover"`
}

// Load reads a model artifact and its metadata sidecar from dir, expecting
// <name>.model.json and <name>.metadata.json. Every structural constraint is
// checked up front: a malformed tree that slipped through would not fail
// loudly later, it would silently misscore.
func Load(dir, name string) (*Model, error) {
	schema, err := feature.LoadSchema(filepath.Join(dir, name+".metadata.json"))
	if err != nil {
		return nil, err
	}
	return LoadWithSchema(filepath.Join(dir, name+".model.json"), name, schema)
}

// LoadWithSchema reads a model artifact against an already-loaded schema.
func LoadWithSchema(path, name string, schema *feature.Schema) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrBadArtifact, path, err)
	}

	var art artifactFile
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrBadArtifact, path, err)
	}

	kind := Kind(art.ModelType)
	if kind != KindBoosted && kind != KindForest {
		return nil, fmt.Errorf("%w: unknown model_type %q", ErrBadArtifact, art.ModelType)
	}
	if len(art.Trees) == 0 {
		return nil, fmt.Errorf("%w: %s has no trees", ErrBadArtifact, path)
	}

	m := &Model{
		Name:      name,
		Kind:      kind,
		BaseScore: art.BaseScore,
		Trees:     make([]Tree, len(art.Trees)),
		Schema:    schema,
	}

	for i, tf := range art.Trees {
		tree, err := buildTree(tf, schema.Len(), kind)
		if err != nil {
			return nil, fmt.Errorf("%w: tree %d: %v", ErrBadArtifact, i, err)
		}
		m.Trees[i] = tree
	}

	return m, nil
}

func buildTree(tf treeFile, numFeatures int, kind Kind) (Tree, error) {
	n := len(tf.Left)
	if n == 0 {
		return Tree{}, errors.New("empty tree")
	}
	if len(tf.Right) != n || len(tf.SplitFeature) != n || len(tf.Threshold) != n ||
		len(tf.Value) != n || len(tf.Cover) != n {
		return Tree{}, errors.New("node arrays have mismatched lengths")
	}

	for node := 0; node < n; node++ {
		if tf.Cover[node] <= 0 {
			return Tree{}, fmt.Errorf("node %d has non-positive cover", node)
		}

		leaf := tf.Left[node] == -1
		if leaf {
			if tf.Right[node] != -1 {
				return Tree{}, fmt.Errorf("node %d is half a leaf", node)
			}
			if kind == KindForest && (tf.Value[node] < 0 || tf.Value[node] > 1) {
				return Tree{}, fmt.Errorf("node %d leaf probability %v outside [0,1]", node, tf.Value[node])
			}
			continue
		}

		// Children must appear after their parent; this guarantees the
		// node arrays describe an acyclic tree without a separate walk.
		for _, child := range []int{tf.Left[node], tf.Right[node]} {
			if child <= node || child >= n {
				return Tree{}, fmt.Errorf("node %d has out-of-order child %d", node, child)
			}
		}
		if tf.SplitFeature[node] < 0 || tf.SplitFeature[node] >= numFeatures {
			return Tree{}, fmt.Errorf("node %d splits on feature %d, schema has %d", node, tf.SplitFeature[node], numFeatures)
		}
	}

	return Tree{
		SplitFeature: tf.SplitFeature,
		Threshold:    tf.Threshold,
		Left:         tf.Left,
		Right:        tf.Right,
		Value:        tf.Value,
		Cover:        tf.Cover,
	}, nil
}
