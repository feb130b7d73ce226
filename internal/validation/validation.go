// Package validation checks incoming scoring requests against the model's
// feature schema and turns them into typed, schema-ordered feature vectors.
package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// Request is a decoded flat JSON object of feature name to scalar value.
type Request map[string]any

// Schema is the feature schema a request is validated against.
type Schema interface {
	Names() []string
	EncodeCategory(feature, label string) (float64, bool)
}

// Vector is a validated feature vector aligned to the schema order. The
// zero value is empty; a populated Vector only comes out of Validate.
type Vector struct {
	values []float64
}

// Values returns a copy of the vector's values in schema order.
func (v Vector) Values() []float64 {
	return append([]float64(nil), v.values...)
}

// Len returns the number of features.
func (v Vector) Len() int {
	return len(v.values)
}

// MissingFeaturesError lists every schema feature absent from a request.
type MissingFeaturesError struct {
	Names []string `json:"missing_features"`
}

func (e *MissingFeaturesError) Error() string {
	return "missing required features: " + strings.Join(e.Names, ", ")
}

// FeatureTypeError reports a value that cannot be coerced to the encoding
// the model expects.
type FeatureTypeError struct {
	Name string `json:"feature"`
	Raw  any    `json:"value"`
}

func (e *FeatureTypeError) Error() string {
	return fmt.Sprintf("feature %q has unsupported value %s", e.Name, formatRaw(e.Raw))
}

// Validate checks that every schema feature is present in req, drops extra
// keys and coerces each value to a float64 in schema order.
//
// All missing names are reported together. A type error is only reported
// once nothing is missing.
func Validate(req Request, schema Schema) (Vector, error) {
	names := schema.Names()

	var missing []string
	for _, name := range names {
		if _, ok := req[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Vector{}, &MissingFeaturesError{Names: missing}
	}

	values := make([]float64, len(names))
	for i, name := range names {
		v, ok := coerce(name, req[name], schema)
		if !ok {
			return Vector{}, &FeatureTypeError{Name: name, Raw: req[name]}
		}
		values[i] = v
	}

	return Vector{values: values}, nil
}

func coerce(name string, raw any, schema Schema) (float64, bool) {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case bool:
		if v {
			f = 1
		}
	case string:
		if code, ok := schema.EncodeCategory(name, v); ok {
			return code, true
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func formatRaw(raw any) string {
	if raw == nil {
		return "null"
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Sprintf("%v", raw)
	}
	return string(b)
}

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}
