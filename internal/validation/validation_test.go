package validation

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSchema struct {
	names      []string
	categories map[string]map[string]float64
}

func (s fakeSchema) Names() []string { return s.names }

func (s fakeSchema) EncodeCategory(feature, label string) (float64, bool) {
	code, ok := s.categories[feature][label]
	return code, ok
}

var schema = fakeSchema{
	names: []string{"purchase_value", "age", "browser", "is_new_device"},
	categories: map[string]map[string]float64{
		"browser": {"Chrome": 0, "Safari": 4},
	},
}

func TestValidate_ProjectsOntoSchemaOrder(t *testing.T) {
	req := Request{
		"is_new_device":  true,
		"browser":        "Safari",
		"age":            "39",
		"purchase_value": 34.0,
		"user_id":        "ignored",
		"signup_time":    map[string]any{"also": "ignored"},
	}

	vec, err := Validate(req, schema)
	require.NoError(t, err)
	assert.Equal(t, []float64{34, 39, 4, 1}, vec.Values())
	assert.Equal(t, 4, vec.Len())
}

func TestValidate_MissingFeaturesNamesExactSet(t *testing.T) {
	req := Request{"browser": "Chrome", "extra": 1.0}

	_, err := Validate(req, schema)
	require.Error(t, err)

	var mf *MissingFeaturesError
	require.True(t, errors.As(err, &mf))
	assert.Equal(t, []string{"age", "is_new_device", "purchase_value"}, mf.Names)
	assert.Contains(t, err.Error(), "age, is_new_device, purchase_value")
}

func TestValidate_MissingTakesPrecedenceOverType(t *testing.T) {
	req := Request{"purchase_value": nil, "age": 1.0, "browser": "Chrome"}

	_, err := Validate(req, schema)
	var mf *MissingFeaturesError
	require.True(t, errors.As(err, &mf))
	assert.Equal(t, []string{"is_new_device"}, mf.Names)
}

func TestValidate_FeatureTypeErrors(t *testing.T) {
	base := func() Request {
		return Request{"purchase_value": 1.0, "age": 2.0, "browser": "Chrome", "is_new_device": false}
	}

	tests := []struct {
		name    string
		feature string
		raw     any
	}{
		{name: "null", feature: "age", raw: nil},
		{name: "object", feature: "age", raw: map[string]any{"years": 3}},
		{name: "array", feature: "purchase_value", raw: []any{1.0}},
		{name: "unknown category", feature: "browser", raw: "Netscape"},
		{name: "non numeric string", feature: "age", raw: "thirty"},
		{name: "nan string", feature: "age", raw: "NaN"},
		{name: "inf", feature: "purchase_value", raw: math.Inf(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base()
			req[tt.feature] = tt.raw

			_, err := Validate(req, schema)
			var fte *FeatureTypeError
			require.True(t, errors.As(err, &fte), "got %v", err)
			assert.Equal(t, tt.feature, fte.Name)
		})
	}
}

func TestValidate_NumericCoercions(t *testing.T) {
	req := Request{
		"purchase_value": json.Number("12.5"),
		"age":            int64(40),
		"browser":        "3",
		"is_new_device":  0,
	}

	vec, err := Validate(req, schema)
	require.NoError(t, err)
	assert.Equal(t, []float64{12.5, 40, 3, 0}, vec.Values())
}

func TestVector_ValuesIsACopy(t *testing.T) {
	vec, err := Validate(Request{"purchase_value": 1.0, "age": 2.0, "browser": "Chrome", "is_new_device": true}, schema)
	require.NoError(t, err)

	v := vec.Values()
	v[0] = 999
	assert.Equal(t, 1.0, vec.Values()[0])
}

func TestFeatureTypeError_Message(t *testing.T) {
	err := &FeatureTypeError{Name: "browser", Raw: "Netscape"}
	assert.Equal(t, `feature "browser" has unsupported value "Netscape"`, err.Error())

	err = &FeatureTypeError{Name: "age", Raw: nil}
	assert.Equal(t, `feature "age" has unsupported value null`, err.Error())
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestSizeMiddleware(16))
	r.POST("/echo", func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/echo", strings.NewReader(`{"a":1}`)))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/echo", strings.NewReader(`{"a":"`+strings.Repeat("x", 64)+`"}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
