// Package classifier loads a pre-trained binary fraud classifier exported by
// the training pipeline and runs inference against it.
//
// The artifact is a JSON document describing a random forest, a single
// decision tree or a logistic regression, together with the ordered feature
// names it was trained on. A loaded Handle is immutable: every method is a
// pure read, so one Handle can serve any number of concurrent requests.
package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	// ErrModelLoad matches every failure returned by Load and Parse.
	ErrModelLoad = errors.New("model load failed")
	// ErrDimensionMismatch is returned when an input vector does not have
	// one value per schema feature.
	ErrDimensionMismatch = errors.New("feature vector length does not match schema")
)

// Kind identifies the model family of an artifact
type Kind string

const (
	KindRandomForest       Kind = "random_forest"
	KindDecisionTree       Kind = "decision_tree"
	KindLogisticRegression Kind = "logistic_regression"
)

// LoadError reports why an artifact could not be turned into a Handle.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("load model: %v", e.Err)
	}
	return fmt.Sprintf("load model %s: %v", e.Path, e.Err)
}

// Unwrap exposes both ErrModelLoad and the underlying cause.
func (e *LoadError) Unwrap() []error {
	return []error{ErrModelLoad, e.Err}
}

// artifact is the on-disk JSON layout.
type artifact struct {
	Kind         Kind                          `json:"kind"`
	Version      string                        `json:"version"`
	FeatureNames []string                      `json:"feature_names"`
	Classes      []int                         `json:"classes,omitempty"`
	Categories   map[string]map[string]float64 `json:"categories,omitempty"`
	Trees        []treeArtifact                `json:"trees,omitempty"`
	Coefficients []float64                     `json:"coefficients,omitempty"`
	Intercept    float64                       `json:"intercept,omitempty"`
}

type treeArtifact struct {
	ChildrenLeft  []int       `json:"children_left"`
	ChildrenRight []int       `json:"children_right"`
	Feature       []int       `json:"feature"`
	Threshold     []float64   `json:"threshold"`
	Value         [][]float64 `json:"value"`
}

// model is the inference core shared by every Kind.
type model interface {
	probability(x []float64) float64
	decide(x []float64) int
}

// Handle is a loaded, immutable binary classifier.
type Handle struct {
	kind    Kind
	version string
	schema  Schema
	model   model
}

// Load reads and validates the artifact at path.
func Load(path string) (*Handle, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from operator config
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	h, err := Parse(f)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Path = path
		}
		return nil, err
	}
	return h, nil
}

// Parse decodes an artifact from r.
func Parse(r io.Reader) (*Handle, error) {
	var a artifact
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return nil, &LoadError{Err: fmt.Errorf("decode artifact: %w", err)}
	}

	h, err := build(a)
	if err != nil {
		return nil, &LoadError{Err: err}
	}
	return h, nil
}

func build(a artifact) (*Handle, error) {
	schema, err := NewSchema(a.FeatureNames, a.Categories)
	if err != nil {
		return nil, err
	}

	if a.Classes != nil && (len(a.Classes) != 2 || a.Classes[0] != 0 || a.Classes[1] != 1) {
		return nil, fmt.Errorf("classes must be [0, 1], got %v", a.Classes)
	}

	h := &Handle{kind: a.Kind, version: a.Version, schema: schema}

	switch a.Kind {
	case KindRandomForest, KindDecisionTree:
		if len(a.Trees) == 0 {
			return nil, fmt.Errorf("%s artifact has no trees", a.Kind)
		}
		if a.Kind == KindDecisionTree && len(a.Trees) != 1 {
			return nil, fmt.Errorf("decision_tree artifact must have exactly one tree, got %d", len(a.Trees))
		}
		f := &forest{trees: make([]*tree, 0, len(a.Trees))}
		for i, ta := range a.Trees {
			t, err := newTree(ta, schema.Len())
			if err != nil {
				return nil, fmt.Errorf("trees[%d]: %w", i, err)
			}
			f.trees = append(f.trees, t)
		}
		h.model = f
	case KindLogisticRegression:
		if len(a.Coefficients) != schema.Len() {
			return nil, fmt.Errorf("expected %d coefficients, got %d", schema.Len(), len(a.Coefficients))
		}
		h.model = &logistic{
			coefficients: append([]float64(nil), a.Coefficients...),
			intercept:    a.Intercept,
		}
	case "":
		return nil, fmt.Errorf("artifact kind is missing")
	default:
		return nil, fmt.Errorf("unsupported model kind %q", a.Kind)
	}

	return h, nil
}

// Kind returns the model family.
func (h *Handle) Kind() Kind { return h.kind }

// Version returns the artifact version label, if any.
func (h *Handle) Version() string { return h.version }

// Schema returns the feature schema the model was trained on.
func (h *Handle) Schema() Schema { return h.schema }

// Predict returns the class the model itself decides for x (0 or 1).
// x must be aligned to Schema order.
func (h *Handle) Predict(x []float64) (int, error) {
	if len(x) != h.schema.Len() {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(x), h.schema.Len())
	}
	return h.model.decide(x), nil
}

// PredictProbability returns the class-1 probability for x, in [0, 1].
func (h *Handle) PredictProbability(x []float64) (float64, error) {
	if len(x) != h.schema.Len() {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(x), h.schema.Len())
	}
	return h.model.probability(x), nil
}
