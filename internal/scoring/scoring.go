// Package scoring turns a raw transaction into a fraud verdict: validate the
// request against the model's schema, run the classifier and record the
// outcome.
package scoring

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/codes"

	"github.com/fraudscope/fraudscope/internal/classifier"
	"github.com/fraudscope/fraudscope/internal/logging"
	"github.com/fraudscope/fraudscope/internal/metrics"
	"github.com/fraudscope/fraudscope/internal/traces"
	"github.com/fraudscope/fraudscope/internal/validation"
)

// ErrModelUnavailable is returned by Score when no classifier was loaded.
var ErrModelUnavailable = errors.New("model is not available")

// Result is the verdict for one transaction.
type Result struct {
	Prediction   int     `json:"prediction"`
	Probability  float64 `json:"probability"`
	ModelVersion string  `json:"-"`
}

// IsFraud reports whether the transaction was classified as fraud.
func (r *Result) IsFraud() bool {
	return r.Prediction == 1
}

// Service scores transactions against an optional classifier. A Service
// built without one answers every Score with ErrModelUnavailable.
type Service struct {
	model  *classifier.Handle
	logger *slog.Logger
}

// NewService creates a scoring service. model may be nil.
func NewService(model *classifier.Handle, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{model: model, logger: logger}
}

// Available reports whether a classifier is loaded.
func (s *Service) Available() bool {
	return s.model != nil
}

// Model returns the loaded classifier, or nil.
func (s *Service) Model() *classifier.Handle {
	return s.model
}

// Score validates req, classifies it and logs the outcome. Validation errors
// are returned unchanged so callers can inspect them with errors.As.
func (s *Service) Score(ctx context.Context, req validation.Request) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "scoring.Score")
	defer span.End()

	if s.model == nil {
		metrics.PredictionsTotal.WithLabelValues("unavailable").Inc()
		span.SetStatus(codes.Error, ErrModelUnavailable.Error())
		return nil, ErrModelUnavailable
	}
	span.SetAttributes(traces.ModelKind(string(s.model.Kind())), traces.ModelVersion(s.model.Version()))

	vec, err := validation.Validate(req, s.model.Schema())
	if err != nil {
		metrics.PredictionsTotal.WithLabelValues("invalid").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		return nil, err
	}

	x := vec.Values()
	class, err := s.model.Predict(x)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "predict")
		return nil, err
	}
	proba, err := s.model.PredictProbability(x)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "predict probability")
		return nil, err
	}

	result := &Result{Prediction: class, Probability: proba, ModelVersion: s.model.Version()}
	span.SetAttributes(traces.Prediction(class), traces.Probability(proba))

	outcome := "legit"
	if result.IsFraud() {
		outcome = "fraud"
	}
	metrics.PredictionsTotal.WithLabelValues(outcome).Inc()
	metrics.FraudProbability.Observe(proba)

	s.log(ctx).Info("prediction",
		"request", map[string]any(req),
		"prediction", class,
		"probability", proba,
		"model_version", result.ModelVersion,
	)

	return result, nil
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	if id := logging.RequestID(ctx); id != "" {
		return s.logger.With("request_id", id)
	}
	return s.logger
}
