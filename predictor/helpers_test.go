package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

type fakeModel struct {
	probs   []float32
	classes int
	infers  atomic.Int32
	closed  atomic.Bool
}

func (m *fakeModel) Infer(_ context.Context, input Tensor) ([]float32, error) {
	m.infers.Add(1)
	if len(input.Data) != InputSize*InputSize*InputChannels {
		return nil, errors.New("unexpected input size")
	}
	out := make([]float32, len(m.probs))
	copy(out, m.probs)
	return out, nil
}

func (m *fakeModel) OutputSize() int { return m.classes }

func (m *fakeModel) Close() error {
	m.closed.Store(true)
	return nil
}

type fakeLoader struct {
	model func() Model
	err   error
	gate  chan struct{}
	calls atomic.Int32
}

func (l *fakeLoader) Load(ctx context.Context, _ string) (Model, error) {
	l.calls.Add(1)
	if l.gate != nil {
		select {
		case <-l.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.err != nil {
		return nil, l.err
	}
	return l.model(), nil
}

type staticSource struct {
	path  string
	ok    bool
	calls atomic.Int32
}

func (s *staticSource) EnsureAvailable(context.Context) bool {
	s.calls.Add(1)
	return s.ok
}

func (s *staticSource) Path() string { return s.path }

func writeVocabulary(t *testing.T, labels ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "class_indices.json")
	data, err := json.Marshal(labels)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return encodePNG(t, img)
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
