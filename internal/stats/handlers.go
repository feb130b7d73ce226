package stats

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fraudscope/fraudscope/internal/logging"
	"github.com/fraudscope/fraudscope/internal/metrics"
	"github.com/fraudscope/fraudscope/internal/traces"
)

// Report is the combined body of GET /fraud-stats.
type Report struct {
	Summary            Summary               `json:"summary"`
	FraudTrends        []TrendBucket         `json:"fraud_trends"`
	DeviceBrowserFraud []DeviceBrowserBucket `json:"device_browser_fraud"`
}

// Report runs the summary, hourly and device/browser aggregations. The
// first failure is returned.
func (e *Engine) Report() (*Report, error) {
	summary, err := e.Summarize()
	if err != nil {
		return nil, err
	}
	trends, err := e.TrendsByHour()
	if err != nil {
		return nil, err
	}
	devices, err := e.ByDeviceAndBrowser()
	if err != nil {
		return nil, err
	}
	return &Report{Summary: summary, FraudTrends: trends, DeviceBrowserFraud: devices}, nil
}

// Handler provides the dashboard's read endpoints
type Handler struct {
	engine *Engine
}

// NewHandler creates a new stats handler
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes sets up stats routes
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/fraud-stats", h.FraudStats)
	r.GET("/fraud-geolocation", h.FraudGeolocation)
}

// FraudStats handles GET /fraud-stats
func (h *Handler) FraudStats(c *gin.Context) {
	_, span := traces.StartSpan(c.Request.Context(), "stats.Report",
		traces.Aggregation("fraud-stats"), traces.SnapshotRows(h.engine.Snapshot().Len()))
	defer span.End()

	report, err := h.engine.Report()
	if err != nil {
		span.RecordError(err)
		h.fail(c, "fraud-stats", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// FraudGeolocation handles GET /fraud-geolocation
func (h *Handler) FraudGeolocation(c *gin.Context) {
	_, span := traces.StartSpan(c.Request.Context(), "stats.ByCountry",
		traces.Aggregation("fraud-geolocation"), traces.SnapshotRows(h.engine.Snapshot().Len()))
	defer span.End()

	buckets, err := h.engine.ByCountry()
	if err != nil {
		span.RecordError(err)
		h.fail(c, "fraud-geolocation", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"geolocation": buckets})
}

// fail logs and answers an aggregation failure. Data contract violations
// carry their message to the client; anything else stays in the log.
func (h *Handler) fail(c *gin.Context, endpoint string, err error) {
	reason := "internal"
	msg := "internal error"
	switch {
	case errors.Is(err, ErrEmptyDataset):
		reason, msg = "empty_dataset", err.Error()
	case errors.Is(err, ErrMissingColumn):
		reason, msg = "missing_column", err.Error()
	case errors.Is(err, ErrDefectiveColumn):
		reason, msg = "defective_column", err.Error()
	}
	metrics.AggregationErrorsTotal.WithLabelValues(endpoint, reason).Inc()

	logging.L(c.Request.Context()).Error("aggregation failed",
		"endpoint", endpoint,
		"reason", reason,
		"error", err,
		"snapshot_rows", h.engine.Snapshot().Len(),
		"snapshot_columns", h.engine.Snapshot().Columns(),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
