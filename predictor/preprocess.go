package predictor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Input geometry expected by the classifier.
const (
	InputSize     = 224
	InputChannels = 3

	maxSourcePixels = 64 << 20
)

// Fixed-point precision of the linear resize weights.
const (
	resizeCoefBits  = 11
	resizeCoefScale = 1 << resizeCoefBits
)

// Tensor is a dense float32 NHWC batch.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Preprocessor turns encoded image bytes into classifier input.
type Preprocessor struct {
	interpolation string
}

// NewPreprocessor validates the interpolation mode.
func NewPreprocessor(interpolation string) (*Preprocessor, error) {
	if interpolation == "" {
		interpolation = InterpolationLinear
	}
	switch interpolation {
	case InterpolationLinear, InterpolationBilinear, InterpolationBicubic, InterpolationLanczos:
	default:
		return nil, fmt.Errorf("unknown interpolation %q", interpolation)
	}
	return &Preprocessor{interpolation: interpolation}, nil
}

// Preprocess runs the default pipeline: decode, RGB, 224x224 linear resize, scale to [0,1], add batch dim.
func Preprocess(raw []byte) (Tensor, error) {
	return (&Preprocessor{interpolation: InterpolationLinear}).Preprocess(raw)
}

// Preprocess converts raw image bytes into a [1,224,224,3] tensor.
func (p *Preprocessor) Preprocess(raw []byte) (Tensor, error) {
	if len(raw) == 0 {
		return Tensor{}, fmt.Errorf("%w: empty input", ErrDecode)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return Tensor{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxSourcePixels {
		return Tensor{}, fmt.Errorf("%w: unsupported dimensions %dx%d", ErrDecode, cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return Tensor{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	src, w, h := toRGB(img)

	var pixels []uint8
	if p.interpolation == InterpolationLinear {
		pixels = resizeLinear(src, w, h, InputSize, InputSize)
	} else {
		pixels = resizeFiltered(src, w, h, InputSize, InputSize, p.interpolation)
	}

	data := make([]float32, len(pixels))
	for i, v := range pixels {
		data[i] = float32(float64(v) / 255.0)
	}
	return Tensor{
		Shape: []int64{1, InputSize, InputSize, InputChannels},
		Data:  data,
	}, nil
}

// toRGB flattens an image into packed 8-bit RGB, dropping alpha without premultiplying.
func toRGB(img image.Image) ([]uint8, int, int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]uint8, w*h*3)
	i := 0
	switch src := img.(type) {
	case *image.YCbCr:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				yi := src.YOffset(x, y)
				ci := src.COffset(x, y)
				r, g, bb := color.YCbCrToRGB(src.Y[yi], src.Cb[ci], src.Cr[ci])
				out[i], out[i+1], out[i+2] = r, g, bb
				i += 3
			}
		}
	case *image.Gray:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				v := src.Pix[src.PixOffset(x, y)]
				out[i], out[i+1], out[i+2] = v, v, v
				i += 3
			}
		}
	case *image.NRGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			off := src.PixOffset(b.Min.X, y)
			for x := 0; x < w; x++ {
				out[i], out[i+1], out[i+2] = src.Pix[off], src.Pix[off+1], src.Pix[off+2]
				off += 4
				i += 3
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				out[i], out[i+1], out[i+2] = c.R, c.G, c.B
				i += 3
			}
		}
	}
	return out, w, h
}

// linearTaps computes source indices and fixed-point weights using half-pixel
// centres with edge clamping, the same sampling grid as OpenCV INTER_LINEAR.
func linearTaps(srcLen, dstLen int) ([]int, []int32) {
	scale := float64(srcLen) / float64(dstLen)
	idx := make([]int, dstLen)
	coef := make([]int32, dstLen*2)
	for d := 0; d < dstLen; d++ {
		f := float32((float64(d)+0.5)*scale - 0.5)
		s := int(math.Floor(float64(f)))
		f -= float32(s)
		if s < 0 {
			s, f = 0, 0
		}
		if s >= srcLen-1 {
			s, f = srcLen-1, 0
		}
		c0 := int32(math.RoundToEven(float64((1 - f) * resizeCoefScale)))
		idx[d] = s
		coef[2*d] = c0
		coef[2*d+1] = resizeCoefScale - c0
	}
	return idx, coef
}

func resizeLinear(src []uint8, sw, sh, dw, dh int) []uint8 {
	xIdx, xCoef := linearTaps(sw, dw)
	yIdx, yCoef := linearTaps(sh, dh)

	// Horizontal pass into fixed-point rows, cached per source row.
	rows := make(map[int][]int32, dh+1)
	hrow := func(sy int) []int32 {
		if r, ok := rows[sy]; ok {
			return r
		}
		r := make([]int32, dw*3)
		base := sy * sw * 3
		for dx := 0; dx < dw; dx++ {
			sx0 := xIdx[dx]
			sx1 := sx0 + 1
			if sx1 > sw-1 {
				sx1 = sw - 1
			}
			c0, c1 := xCoef[2*dx], xCoef[2*dx+1]
			for c := 0; c < 3; c++ {
				r[dx*3+c] = int32(src[base+sx0*3+c])*c0 + int32(src[base+sx1*3+c])*c1
			}
		}
		rows[sy] = r
		return r
	}

	out := make([]uint8, dw*dh*3)
	const shift = resizeCoefBits * 2
	const delta = int64(1) << (shift - 1)
	for dy := 0; dy < dh; dy++ {
		sy0 := yIdx[dy]
		sy1 := sy0 + 1
		if sy1 > sh-1 {
			sy1 = sh - 1
		}
		r0, r1 := hrow(sy0), hrow(sy1)
		b0, b1 := int64(yCoef[2*dy]), int64(yCoef[2*dy+1])
		base := dy * dw * 3
		for i := 0; i < dw*3; i++ {
			v := (int64(r0[i])*b0 + int64(r1[i])*b1 + delta) >> shift
			out[base+i] = saturateUint8(v)
		}
	}
	return out
}

func resizeFiltered(src []uint8, sw, sh, dw, dh int, interpolation string) []uint8 {
	img := image.NewNRGBA(image.Rect(0, 0, sw, sh))
	for i, j := 0, 0; i < len(src); i, j = i+3, j+4 {
		img.Pix[j], img.Pix[j+1], img.Pix[j+2], img.Pix[j+3] = src[i], src[i+1], src[i+2], 0xff
	}
	var fn resize.InterpolationFunction
	switch interpolation {
	case InterpolationBicubic:
		fn = resize.Bicubic
	case InterpolationLanczos:
		fn = resize.Lanczos3
	default:
		fn = resize.Bilinear
	}
	resized := resize.Resize(uint(dw), uint(dh), img, fn)
	out, _, _ := toRGB(resized)
	return out
}

func saturateUint8(v int64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
