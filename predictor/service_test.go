package predictor

import (
	"context"
	"errors"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedPrediction struct {
	identity string
	result   PredictionResult
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []recordedPrediction
	err     error
}

func (r *fakeRecorder) RecordPrediction(_ context.Context, identity string, result PredictionResult) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	r.records = append(r.records, recordedPrediction{identity: identity, result: result})
	return int64(len(r.records)), nil
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

type serviceFixture struct {
	svc      *Service
	runtime  *Runtime
	model    *fakeModel
	recorder *fakeRecorder
	outcomes []string
}

func newServiceFixture(t *testing.T, model *fakeModel, opts ServiceOptions, labels ...string) *serviceFixture {
	t.Helper()
	fx := &serviceFixture{model: model, recorder: &fakeRecorder{}}
	rt, err := NewRuntime(RuntimeOptions{
		Source:         &staticSource{path: "model.onnx", ok: true},
		Loader:         &fakeLoader{model: func() Model { return model }},
		VocabularyPath: writeVocabulary(t, labels...),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	table := NewDeficiencyTable(map[string]string{"Acne": "Vitamin A", "Scurvy": "Vitamin C"})
	var mu sync.Mutex
	opts.Recorder = fx.recorder
	opts.Observe = func(outcome string, _ time.Duration) {
		mu.Lock()
		fx.outcomes = append(fx.outcomes, outcome)
		mu.Unlock()
	}
	svc, err := NewService(rt, table, opts)
	require.NoError(t, err)
	fx.svc = svc
	fx.runtime = rt
	return fx
}

func (fx *serviceFixture) load(t *testing.T) {
	t.Helper()
	_, err := fx.runtime.LoadOnce(context.Background())
	require.NoError(t, err)
}

func TestPredictMapsDiseaseToDeficiency(t *testing.T) {
	fx := newServiceFixture(t, &fakeModel{probs: []float32{0.87, 0.13}, classes: 2}, ServiceOptions{CacheSize: 8}, "Acne", "Scurvy")
	fx.load(t)

	result, err := fx.svc.Predict(context.Background(), solidPNG(t, 32, 32, color.White))
	require.NoError(t, err)
	assert.Equal(t, "Acne", result.PredictedDisease)
	assert.Equal(t, "Vitamin A", result.MappedDeficiency)
	assert.InDelta(t, 0.87, result.Confidence, 1e-6)
	assert.Equal(t, []string{OutcomeOK}, fx.outcomes)
}

func TestPredictUnmappedLabel(t *testing.T) {
	fx := newServiceFixture(t, &fakeModel{probs: []float32{0.1, 0.9}}, ServiceOptions{}, "Acne", "Rickets")
	fx.load(t)

	result, err := fx.svc.Predict(context.Background(), solidPNG(t, 8, 8, color.Black))
	require.NoError(t, err)
	assert.Equal(t, "Rickets", result.PredictedDisease)
	assert.Equal(t, NoMappingFound, result.MappedDeficiency)
}

func TestPredictFailsFastWhenNotReady(t *testing.T) {
	fx := newServiceFixture(t, &fakeModel{probs: []float32{1, 0}}, ServiceOptions{}, "Acne", "Scurvy")

	_, err := fx.svc.Predict(context.Background(), solidPNG(t, 8, 8, color.White))
	require.ErrorIs(t, err, ErrModelUnavailable)
	assert.Equal(t, []string{OutcomeUnavailable}, fx.outcomes)

	require.Eventually(t, fx.svc.Ready, time.Second, time.Millisecond)
	result, err := fx.svc.Predict(context.Background(), solidPNG(t, 8, 8, color.White))
	require.NoError(t, err)
	assert.Equal(t, "Acne", result.PredictedDisease)
}

func TestPredictLoadsOnDemand(t *testing.T) {
	fx := newServiceFixture(t, &fakeModel{probs: []float32{0, 1}}, ServiceOptions{LoadOnDemand: true}, "Acne", "Scurvy")

	result, err := fx.svc.Predict(context.Background(), solidPNG(t, 8, 8, color.White))
	require.NoError(t, err)
	assert.Equal(t, "Vitamin C", result.MappedDeficiency)
	assert.Equal(t, StateReady, fx.svc.State())
}

func TestPredictIndexOutOfRangeInvalidatesRuntime(t *testing.T) {
	fx := newServiceFixture(t, &fakeModel{probs: []float32{0.1, 0.2, 0.7}}, ServiceOptions{}, "Acne", "Scurvy")
	fx.load(t)

	_, id, err := fx.svc.PredictFor(context.Background(), "user@example.com", solidPNG(t, 8, 8, color.White))
	require.ErrorIs(t, err, ErrIndexOutOfRange)
	assert.Zero(t, id)
	assert.Zero(t, fx.recorder.count())
	assert.False(t, fx.svc.Ready())
	assert.Equal(t, StateFailed, fx.svc.State())
}

func TestPredictInvalidImage(t *testing.T) {
	fx := newServiceFixture(t, &fakeModel{probs: []float32{1, 0}}, ServiceOptions{}, "Acne", "Scurvy")
	fx.load(t)

	_, _, err := fx.svc.PredictFor(context.Background(), "user@example.com", []byte("not an image"))
	require.ErrorIs(t, err, ErrDecode)
	assert.Zero(t, fx.recorder.count())
	assert.Zero(t, fx.model.infers.Load())
	assert.True(t, fx.svc.Ready())
}

func TestPredictForRecordsOnlyWithIdentity(t *testing.T) {
	fx := newServiceFixture(t, &fakeModel{probs: []float32{0.87, 0.13}}, ServiceOptions{}, "Acne", "Scurvy")
	fx.load(t)
	img := solidPNG(t, 8, 8, color.White)

	_, id, err := fx.svc.PredictFor(context.Background(), "", img)
	require.NoError(t, err)
	assert.Zero(t, id)
	assert.Zero(t, fx.recorder.count())

	result, id, err := fx.svc.PredictFor(context.Background(), "user@example.com", img)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	require.Equal(t, 1, fx.recorder.count())
	assert.Equal(t, "user@example.com", fx.recorder.records[0].identity)
	assert.Equal(t, result, fx.recorder.records[0].result)

	fx.recorder.err = errors.New("disk full")
	_, _, err = fx.svc.PredictFor(context.Background(), "user@example.com", img)
	require.Error(t, err)
}

func TestPredictCachesByImageContent(t *testing.T) {
	fx := newServiceFixture(t, &fakeModel{probs: []float32{0.87, 0.13}}, ServiceOptions{CacheSize: 4}, "Acne", "Scurvy")
	fx.load(t)
	img := solidPNG(t, 8, 8, color.White)

	first, err := fx.svc.Predict(context.Background(), img)
	require.NoError(t, err)
	second, err := fx.svc.Predict(context.Background(), img)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), fx.model.infers.Load())
	assert.Equal(t, []string{OutcomeOK, OutcomeCached}, fx.outcomes)
	assert.Equal(t, 1, fx.svc.cache.len())
}

func TestNewServiceValidates(t *testing.T) {
	_, err := NewService(nil, NewDeficiencyTable(nil), ServiceOptions{})
	require.Error(t, err)

	rt, err := NewRuntime(RuntimeOptions{
		Source:         &staticSource{path: "model.onnx"},
		Loader:         &fakeLoader{},
		VocabularyPath: "class_indices.json",
	})
	require.NoError(t, err)
	_, err = NewService(rt, nil, ServiceOptions{})
	require.Error(t, err)
	_, err = NewService(rt, NewDeficiencyTable(nil), ServiceOptions{Interpolation: "nearest"})
	require.Error(t, err)
}
