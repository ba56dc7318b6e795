package predictor

import "errors"

// NoMappingFound is returned by the deficiency lookup when a label has no entry.
const NoMappingFound = "No mapping found"

var (
	// ErrProvisioning means the model artifact never became available locally.
	ErrProvisioning = errors.New("model artifact unavailable")
	// ErrLoad means the artifact or vocabulary could not be deserialized.
	ErrLoad = errors.New("model load failed")
	// ErrDecode means the submitted bytes are not a readable image.
	ErrDecode = errors.New("invalid image")
	// ErrIndexOutOfRange means the classifier emitted an index outside the vocabulary.
	ErrIndexOutOfRange = errors.New("class index out of range")
	// ErrSchema means the deficiency table does not have the expected columns.
	ErrSchema = errors.New("invalid deficiency table schema")
	// ErrModelUnavailable means no ready classifier handle exists at call time.
	ErrModelUnavailable = errors.New("model unavailable")
)

// PredictionResult is the outcome of a single image prediction.
type PredictionResult struct {
	PredictedDisease string  `json:"predicted_disease"`
	MappedDeficiency string  `json:"mapped_deficiency"`
	Confidence       float64 `json:"confidence"`
}

// State describes the classifier runtime lifecycle.
type State int

const (
	// StateUnloaded is the initial state; nothing has been attempted yet.
	StateUnloaded State = iota
	// StateLoading means a load attempt is in flight.
	StateLoading
	// StateReady means a handle is available.
	StateReady
	// StateFailed means the last attempt failed; the next load call retries.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
