package predictor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Model exposes the minimal surface the runtime needs from a loaded classifier.
type Model interface {
	// Infer returns one probability per class for a single-image batch.
	Infer(ctx context.Context, input Tensor) ([]float32, error)
	// OutputSize is the number of classes, or 0 when the model does not declare it.
	OutputSize() int
	Close() error
}

// ModelLoader deserializes a model artifact.
type ModelLoader interface {
	Load(ctx context.Context, path string) (Model, error)
}

// OrtLoaderConfig configures ONNX Runtime sessions.
type OrtLoaderConfig struct {
	LibraryPath string
	InputName   string
	OutputName  string
}

// OrtLoader loads .onnx artifacts with ONNX Runtime.
type OrtLoader struct {
	cfg OrtLoaderConfig
}

// NewOrtLoader returns a loader; the runtime environment is initialized on first Load.
func NewOrtLoader(cfg OrtLoaderConfig) *OrtLoader {
	return &OrtLoader{cfg: cfg}
}

var ortEnvMu sync.Mutex

func ensureOrtEnvironment(libraryPath string) error {
	ortEnvMu.Lock()
	defer ortEnvMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnxruntime: %w", err)
	}
	return nil
}

// ShutdownOrt tears down the process-wide ONNX Runtime environment.
func ShutdownOrt() error {
	ortEnvMu.Lock()
	defer ortEnvMu.Unlock()
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// Load opens a session for the model at path.
func (l *OrtLoader) Load(_ context.Context, path string) (Model, error) {
	if err := ensureOrtEnvironment(l.cfg.LibraryPath); err != nil {
		return nil, err
	}
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("inspect model: %w", err)
	}
	input, err := pickTensor(inputs, l.cfg.InputName, "input")
	if err != nil {
		return nil, err
	}
	output, err := pickTensor(outputs, l.cfg.OutputName, "output")
	if err != nil {
		return nil, err
	}
	if err := checkInputShape(input.Dimensions); err != nil {
		return nil, err
	}
	classes := 0
	if dims := output.Dimensions; len(dims) > 0 && dims[len(dims)-1] > 0 {
		classes = int(dims[len(dims)-1])
	}
	session, err := ort.NewDynamicAdvancedSession(path, []string{input.Name}, []string{output.Name}, nil)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &OrtModel{
		session: session,
		classes: classes,
	}, nil
}

func pickTensor(infos []ort.InputOutputInfo, name, kind string) (ort.InputOutputInfo, error) {
	if len(infos) == 0 {
		return ort.InputOutputInfo{}, fmt.Errorf("model has no %s tensors", kind)
	}
	if name == "" {
		return infos[0], nil
	}
	for _, info := range infos {
		if info.Name == name {
			return info, nil
		}
	}
	return ort.InputOutputInfo{}, fmt.Errorf("model has no %s named %q", kind, name)
}

// checkInputShape rejects models whose static input shape is not NHWC 224x224x3.
func checkInputShape(dims ort.Shape) error {
	if len(dims) != 4 {
		return fmt.Errorf("model input has rank %d, want 4", len(dims))
	}
	want := []int64{InputSize, InputSize, InputChannels}
	for i, w := range want {
		if d := dims[i+1]; d > 0 && d != w {
			return fmt.Errorf("model input shape %v is not [N,%d,%d,%d]", dims, InputSize, InputSize, InputChannels)
		}
	}
	return nil
}

// OrtModel is a loaded ONNX classifier.
type OrtModel struct {
	session *ort.DynamicAdvancedSession
	classes int
}

// OutputSize returns the declared number of classes.
func (m *OrtModel) OutputSize() int { return m.classes }

// Infer runs a forward pass. The output tensor is allocated by the runtime per call.
func (m *OrtModel) Infer(_ context.Context, input Tensor) ([]float32, error) {
	if m == nil || m.session == nil {
		return nil, errors.New("model is closed")
	}
	in, err := ort.NewTensor(ort.NewShape(input.Shape...), input.Data)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer in.Destroy()

	outputs := []ort.Value{nil}
	if err := m.session.Run([]ort.Value{in}, outputs); err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}
	defer outputs[0].Destroy()
	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T", outputs[0])
	}
	data := out.GetData()
	probs := make([]float32, len(data))
	copy(probs, data)
	return probs, nil
}

// Close releases the session.
func (m *OrtModel) Close() error {
	if m == nil || m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}
