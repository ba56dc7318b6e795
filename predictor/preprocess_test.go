package predictor

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreprocessShapeAndRange(t *testing.T) {
	raw := solidPNG(t, 37, 19, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
	tensor, err := Preprocess(raw)
	require.NoError(t, err)

	assert.Equal(t, []int64{1, InputSize, InputSize, InputChannels}, tensor.Shape)
	require.Len(t, tensor.Data, InputSize*InputSize*InputChannels)
	for _, v := range tensor.Data {
		require.GreaterOrEqual(t, v, float32(0))
		require.LessOrEqual(t, v, float32(1))
	}
	// A uniform image survives linear resampling exactly.
	assert.Equal(t, scaled(200), tensor.Data[0])
	assert.Equal(t, scaled(100), tensor.Data[1])
	assert.Equal(t, scaled(50), tensor.Data[len(tensor.Data)-1])
}

func TestPreprocessIsDeterministic(t *testing.T) {
	raw := encodePNG(t, noiseImage(61, 43, 7))
	first, err := Preprocess(raw)
	require.NoError(t, err)
	second, err := Preprocess(raw)
	require.NoError(t, err)
	assert.Equal(t, first.Data, second.Data)
}

func TestPreprocessIdentitySize(t *testing.T) {
	img := noiseImage(InputSize, InputSize, 11)
	tensor, err := Preprocess(encodePNG(t, img))
	require.NoError(t, err)

	for _, p := range []image.Point{{0, 0}, {17, 101}, {InputSize - 1, InputSize - 1}} {
		c := img.NRGBAAt(p.X, p.Y)
		off := (p.Y*InputSize + p.X) * InputChannels
		assert.Equal(t, scaled(c.R), tensor.Data[off])
		assert.Equal(t, scaled(c.G), tensor.Data[off+1])
		assert.Equal(t, scaled(c.B), tensor.Data[off+2])
	}
}

func TestPreprocessDropsAlphaWithoutPremultiplying(t *testing.T) {
	raw := solidPNG(t, InputSize, InputSize, color.NRGBA{R: 10, G: 20, B: 30, A: 0})
	tensor, err := Preprocess(raw)
	require.NoError(t, err)
	assert.Equal(t, scaled(10), tensor.Data[0])
	assert.Equal(t, scaled(20), tensor.Data[1])
	assert.Equal(t, scaled(30), tensor.Data[2])
}

func TestPreprocessGrayscaleReplicatesChannels(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 77
	}
	tensor, err := Preprocess(encodePNG(t, img))
	require.NoError(t, err)
	want := scaled(77)
	assert.Equal(t, []float32{want, want, want}, tensor.Data[:3])
}

func TestPreprocessJPEG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, noiseImage(300, 200, 3), &jpeg.Options{Quality: 90}))
	tensor, err := Preprocess(buf.Bytes())
	require.NoError(t, err)
	assert.Len(t, tensor.Data, InputSize*InputSize*InputChannels)
}

func TestPreprocessRejectsUndecodableInput(t *testing.T) {
	for name, raw := range map[string][]byte{
		"empty":   nil,
		"garbage": []byte("definitely not an image"),
		"csv":     []byte("Diseases,Deficiency\nAcne,Vitamin A\n"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Preprocess(raw)
			require.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestPreprocessorAlternativeInterpolation(t *testing.T) {
	raw := encodePNG(t, noiseImage(50, 80, 5))
	for _, mode := range []string{InterpolationBilinear, InterpolationBicubic, InterpolationLanczos} {
		t.Run(mode, func(t *testing.T) {
			p, err := NewPreprocessor(mode)
			require.NoError(t, err)
			a, err := p.Preprocess(raw)
			require.NoError(t, err)
			b, err := p.Preprocess(raw)
			require.NoError(t, err)
			assert.Len(t, a.Data, InputSize*InputSize*InputChannels)
			assert.Equal(t, a.Data, b.Data)
		})
	}

	_, err := NewPreprocessor("nearest")
	require.Error(t, err)
}

func TestLinearTapsClampEdges(t *testing.T) {
	idx, coef := linearTaps(4, 8)
	assert.Equal(t, 0, idx[0])
	assert.Equal(t, int32(resizeCoefScale), coef[0])
	assert.Equal(t, 3, idx[7])
	assert.Equal(t, int32(resizeCoefScale), coef[14])
	for d := range idx {
		assert.Equal(t, int32(resizeCoefScale), coef[2*d]+coef[2*d+1])
	}
}

func noiseImage(w, h int, seed int64) *image.NRGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(rng.Intn(256))
		img.Pix[i+1] = uint8(rng.Intn(256))
		img.Pix[i+2] = uint8(rng.Intn(256))
		img.Pix[i+3] = 0xff
	}
	return img
}

func scaled(v uint8) float32 {
	return float32(float64(v) / 255.0)
}
