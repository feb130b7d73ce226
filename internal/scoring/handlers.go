package scoring

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fraudscope/fraudscope/internal/logging"
	"github.com/fraudscope/fraudscope/internal/validation"
)

// Handler provides HTTP endpoints for scoring
type Handler struct {
	service *Service
}

// NewHandler creates a new scoring handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up scoring routes
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/predict", h.Predict)
	r.GET("/model", h.Model)
}

// Predict handles POST /predict
func (h *Handler) Predict(c *gin.Context) {
	ctx := c.Request.Context()

	var req validation.Request
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil || req == nil || dec.More() {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		logging.L(ctx).Warn("malformed predict request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a JSON object"})
		return
	}

	result, err := h.service.Score(ctx, req)
	if err != nil {
		var (
			missing  *validation.MissingFeaturesError
			badValue *validation.FeatureTypeError
		)
		switch {
		case errors.Is(err, ErrModelUnavailable):
			logging.L(ctx).Warn("predict rejected", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "model not available"})
		case errors.As(err, &missing):
			logging.L(ctx).Info("predict rejected", "missing_features", missing.Names)
			c.JSON(http.StatusBadRequest, gin.H{
				"error":            "Missing required features",
				"missing_features": missing.Names,
			})
		case errors.As(err, &badValue):
			logging.L(ctx).Info("predict rejected", "feature", badValue.Name, "error", err)
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   err.Error(),
				"feature": badValue.Name,
			})
		default:
			logging.L(ctx).Error("predict failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"prediction":  result.Prediction,
		"probability": result.Probability,
		"status":      "success",
	})
}

// Model handles GET /model
func (h *Handler) Model(c *gin.Context) {
	m := h.service.Model()
	if m == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "model not available"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"kind":                 m.Kind(),
		"version":              m.Version(),
		"feature_names":        m.Schema().Names(),
		"categorical_features": m.Schema().CategoricalFeatures(),
	})
}
