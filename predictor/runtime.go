package predictor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ArtifactSource provides a local model artifact.
type ArtifactSource interface {
	EnsureAvailable(ctx context.Context) bool
	Path() string
}

// ClassifierHandle pairs a loaded model with its vocabulary. It is read-only once built.
type ClassifierHandle struct {
	model Model
	vocab Vocabulary
}

// NewClassifierHandle wraps an already loaded model.
func NewClassifierHandle(model Model, vocab Vocabulary) *ClassifierHandle {
	return &ClassifierHandle{model: model, vocab: vocab}
}

// Vocabulary returns the label vocabulary.
func (h *ClassifierHandle) Vocabulary() Vocabulary { return h.vocab }

// Classify runs the model and decodes the arg-max class. Ties resolve to the lowest index.
func (h *ClassifierHandle) Classify(ctx context.Context, input Tensor) (string, float64, error) {
	probs, err := h.model.Infer(ctx, input)
	if err != nil {
		return "", 0, fmt.Errorf("inference: %w", err)
	}
	if len(probs) == 0 {
		return "", 0, errors.New("inference: empty model output")
	}
	best := 0
	for i := 1; i < len(probs); i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}
	label, err := h.vocab.Label(best)
	if err != nil {
		return "", 0, err
	}
	return label, clampProbability(float64(probs[best])), nil
}

func clampProbability(p float64) float64 {
	switch {
	case math.IsNaN(p) || p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

func (h *ClassifierHandle) close() error {
	if h == nil || h.model == nil {
		return nil
	}
	return h.model.Close()
}

// RuntimeOptions configures a Runtime.
type RuntimeOptions struct {
	Source         ArtifactSource
	Loader         ModelLoader
	VocabularyPath string
	Logger         *zap.Logger
	// OnStateChange is called with the new state after every transition.
	OnStateChange func(State)
}

// Runtime owns the classifier lifecycle. A model is deserialized at most once
// while it stays Ready; concurrent loaders share one attempt.
type Runtime struct {
	source    ArtifactSource
	loader    ModelLoader
	vocabPath string
	logger    *zap.Logger
	onState   func(State)

	group singleflight.Group
	wg    sync.WaitGroup

	mu      sync.RWMutex
	state   State
	handle  *ClassifierHandle
	lastErr error
	retired []*ClassifierHandle
	closed  bool
}

// NewRuntime validates options. Nothing is loaded until LoadOnce or Warm.
func NewRuntime(opts RuntimeOptions) (*Runtime, error) {
	if opts.Source == nil {
		return nil, errors.New("artifact source is required")
	}
	if opts.Loader == nil {
		return nil, errors.New("model loader is required")
	}
	if opts.VocabularyPath == "" {
		return nil, errors.New("vocabulary path is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Runtime{
		source:    opts.Source,
		loader:    opts.Loader,
		vocabPath: opts.VocabularyPath,
		logger:    opts.Logger,
		onState:   opts.OnStateChange,
	}, nil
}

// State returns the current lifecycle state.
func (r *Runtime) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Ready reports whether a handle is available without blocking.
func (r *Runtime) Ready() bool {
	return r.State() == StateReady
}

// Handle returns the ready handle or ErrModelUnavailable wrapping the last failure.
func (r *Runtime) Handle() (*ClassifierHandle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state == StateReady {
		return r.handle, nil
	}
	if r.lastErr != nil {
		return nil, fmt.Errorf("%w (%s): %w", ErrModelUnavailable, r.state, r.lastErr)
	}
	return nil, fmt.Errorf("%w (%s)", ErrModelUnavailable, r.state)
}

// LoadOnce returns the ready handle, loading it first if necessary. A caller whose
// ctx ends stops waiting; the shared load keeps running for the others.
func (r *Runtime) LoadOnce(ctx context.Context) (*ClassifierHandle, error) {
	if h, err := r.Handle(); err == nil {
		return h, nil
	}
	ch := r.group.DoChan("load", func() (any, error) {
		return r.load(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ClassifierHandle), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, ctx.Err())
	}
}

// Warm starts a background load unless one is running or the model is ready.
func (r *Runtime) Warm() {
	r.mu.Lock()
	if r.closed || r.state == StateReady || r.state == StateLoading {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()
	go func() {
		defer r.wg.Done()
		_, _ = r.LoadOnce(context.Background())
	}()
}

// Invalidate drops a ready handle after a fatal configuration defect; the next load retries.
func (r *Runtime) Invalidate(cause error) {
	r.mu.Lock()
	if r.state != StateReady {
		r.mu.Unlock()
		return
	}
	r.retired = append(r.retired, r.handle)
	r.handle = nil
	r.lastErr = cause
	r.setStateLocked(StateFailed)
	r.mu.Unlock()
	r.logger.Error("classifier invalidated", zap.Error(cause))
}

// Close waits for background loads and releases every model the runtime created.
func (r *Runtime) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	if r.handle != nil {
		errs = append(errs, r.handle.close())
		r.handle = nil
	}
	for _, h := range r.retired {
		errs = append(errs, h.close())
	}
	r.retired = nil
	if r.state == StateReady {
		r.setStateLocked(StateUnloaded)
	}
	return errors.Join(errs...)
}

func (r *Runtime) load(ctx context.Context) (*ClassifierHandle, error) {
	r.mu.Lock()
	if r.state == StateReady {
		h := r.handle
		r.mu.Unlock()
		return h, nil
	}
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: runtime closed", ErrModelUnavailable)
	}
	r.setStateLocked(StateLoading)
	r.mu.Unlock()

	r.logger.Info("loading classifier", zap.String("artifact", r.source.Path()))
	h, err := r.build(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil && r.closed {
		_ = h.close()
		err = fmt.Errorf("%w: runtime closed", ErrModelUnavailable)
	}
	if err != nil {
		r.lastErr = err
		r.setStateLocked(StateFailed)
		r.logger.Error("classifier load failed", zap.Error(err))
		return nil, err
	}
	r.handle = h
	r.lastErr = nil
	r.setStateLocked(StateReady)
	r.logger.Info("classifier ready", zap.Int("classes", h.vocab.Len()))
	return h, nil
}

func (r *Runtime) build(ctx context.Context) (*ClassifierHandle, error) {
	if !r.source.EnsureAvailable(ctx) {
		return nil, fmt.Errorf("%w: %s", ErrProvisioning, r.source.Path())
	}
	vocab, err := LoadVocabulary(r.vocabPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	model, err := r.loader.Load(ctx, r.source.Path())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	if model == nil {
		return nil, fmt.Errorf("%w: loader returned no model", ErrLoad)
	}
	if n := model.OutputSize(); n > 0 && n != vocab.Len() {
		_ = model.Close()
		return nil, fmt.Errorf("%w: model has %d outputs but vocabulary has %d labels", ErrLoad, n, vocab.Len())
	}
	return &ClassifierHandle{model: model, vocab: vocab}, nil
}

func (r *Runtime) setStateLocked(s State) {
	r.state = s
	if r.onState != nil {
		r.onState(s)
	}
}
