package predictor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Recorder persists a prediction against a user and returns the record id.
type Recorder interface {
	RecordPrediction(ctx context.Context, identity string, result PredictionResult) (int64, error)
}

// Prediction outcomes reported to the observer.
const (
	OutcomeOK           = "ok"
	OutcomeCached       = "cached"
	OutcomeUnavailable  = "unavailable"
	OutcomeInvalidImage = "invalid_image"
	OutcomeError        = "error"
)

// ServiceOptions configures a Service.
type ServiceOptions struct {
	// LoadOnDemand makes Predict block on the first load instead of failing fast.
	LoadOnDemand  bool
	CacheSize     int
	Interpolation string
	Recorder      Recorder
	Logger        *zap.Logger
	// Observe receives the outcome and latency of every Predict call.
	Observe func(outcome string, elapsed time.Duration)
}

// Service runs the prediction pipeline: preprocess, classify, map.
type Service struct {
	runtime      *Runtime
	table        *DeficiencyTable
	pre          *Preprocessor
	cache        *resultCache
	recorder     Recorder
	loadOnDemand bool
	logger       *zap.Logger
	observe      func(string, time.Duration)
}

// NewService wires a runtime and deficiency table into a pipeline.
func NewService(runtime *Runtime, table *DeficiencyTable, opts ServiceOptions) (*Service, error) {
	if runtime == nil {
		return nil, errors.New("runtime is required")
	}
	if table == nil {
		return nil, errors.New("deficiency table is required")
	}
	pre, err := NewPreprocessor(opts.Interpolation)
	if err != nil {
		return nil, err
	}
	cache, err := newResultCache(opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		runtime:      runtime,
		table:        table,
		pre:          pre,
		cache:        cache,
		recorder:     opts.Recorder,
		loadOnDemand: opts.LoadOnDemand,
		logger:       opts.Logger,
		observe:      opts.Observe,
	}, nil
}

// Ready reports whether predictions can be served right now.
func (s *Service) Ready() bool {
	return s.runtime.Ready()
}

// State returns the classifier lifecycle state.
func (s *Service) State() State {
	return s.runtime.State()
}

// Predict classifies raw image bytes and maps the disease to a deficiency.
func (s *Service) Predict(ctx context.Context, raw []byte) (PredictionResult, error) {
	start := time.Now()
	result, outcome, err := s.predict(ctx, raw)
	if s.observe != nil {
		s.observe(outcome, time.Since(start))
	}
	return result, err
}

// PredictFor predicts and, when identity is set, records the result for that user.
// It returns the record id, or 0 when nothing was recorded.
func (s *Service) PredictFor(ctx context.Context, identity string, raw []byte) (PredictionResult, int64, error) {
	result, err := s.Predict(ctx, raw)
	if err != nil {
		return PredictionResult{}, 0, err
	}
	if identity == "" || s.recorder == nil {
		return result, 0, nil
	}
	id, err := s.recorder.RecordPrediction(ctx, identity, result)
	if err != nil {
		return PredictionResult{}, 0, fmt.Errorf("record prediction: %w", err)
	}
	return result, id, nil
}

func (s *Service) predict(ctx context.Context, raw []byte) (PredictionResult, string, error) {
	handle, err := s.handle(ctx)
	if err != nil {
		return PredictionResult{}, OutcomeUnavailable, err
	}
	key := imageKey(raw)
	if cached, ok := s.cache.get(key); ok {
		return cached, OutcomeCached, nil
	}
	input, err := s.pre.Preprocess(raw)
	if err != nil {
		return PredictionResult{}, OutcomeInvalidImage, err
	}
	label, confidence, err := handle.Classify(ctx, input)
	if err != nil {
		if errors.Is(err, ErrIndexOutOfRange) {
			s.runtime.Invalidate(err)
			s.cache.purge()
		}
		s.logger.Error("classification failed", zap.Error(err))
		return PredictionResult{}, OutcomeError, err
	}
	result := PredictionResult{
		PredictedDisease: label,
		MappedDeficiency: s.table.Lookup(label),
		Confidence:       confidence,
	}
	s.cache.put(key, result)
	s.logger.Debug("prediction",
		zap.String("disease", result.PredictedDisease),
		zap.String("deficiency", result.MappedDeficiency),
		zap.Float64("confidence", result.Confidence))
	return result, OutcomeOK, nil
}

func (s *Service) handle(ctx context.Context) (*ClassifierHandle, error) {
	if s.loadOnDemand {
		return s.runtime.LoadOnce(ctx)
	}
	h, err := s.runtime.Handle()
	if err != nil {
		s.runtime.Warm()
		return nil, err
	}
	return h, nil
}
