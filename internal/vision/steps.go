package vision

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"

	"visionpipe/internal/device"
)

// Step is one executable transform. Apply mutates the image in place and
// reports failure.
type Step interface {
	Name() string
	Apply(m *Mat) error
}

// AcceleratedStep is implemented by the steps that carry a device-specific
// execution variant. Only the fused normalize+permute step qualifies.
type AcceleratedStep interface {
	Step
	ApplyAccelerated(m *Mat, dev *device.Context) error
}

// ---------------------------------------------------------------------------
// BGR2RGB
// ---------------------------------------------------------------------------

// BGR2RGB swaps the channel order of a packed byte image. Every pipeline
// starts with it: decoders hand out BGR, models expect RGB.
type BGR2RGB struct{}

func (BGR2RGB) Name() string { return "BGR2RGB" }

func (BGR2RGB) Apply(m *Mat) error {
	if !m.hasMat {
		return fmt.Errorf("requires a packed byte image, got %s floats", m.layout)
	}
	if m.channels != 3 {
		return fmt.Errorf("requires 3 channels, got %d", m.channels)
	}
	return gocv.CvtColor(m.mat, &m.mat, gocv.ColorBGRToRGB)
}

// ---------------------------------------------------------------------------
// ResizeByShort
// ---------------------------------------------------------------------------

// ResizeByShort scales the image so its shorter side matches target,
// keeping the aspect ratio. Linear interpolation, no [0,1] rescale before
// resizing.
type ResizeByShort struct {
	target int
	interp gocv.InterpolationFlags
}

func NewResizeByShort(target int) *ResizeByShort {
	return &ResizeByShort{target: target, interp: gocv.InterpolationLinear}
}

func (s *ResizeByShort) Name() string { return "ResizeByShort" }

func (s *ResizeByShort) Apply(m *Mat) error {
	if !m.hasMat {
		return fmt.Errorf("requires a packed byte image, got %s floats", m.layout)
	}
	short := m.height
	if m.width < short {
		short = m.width
	}
	scale := float64(s.target) / float64(short)
	nw := int(math.Round(float64(m.width) * scale))
	nh := int(math.Round(float64(m.height) * scale))
	if err := gocv.Resize(m.mat, &m.mat, image.Point{X: nw, Y: nh}, 0, 0, s.interp); err != nil {
		return err
	}
	m.height = m.mat.Rows()
	m.width = m.mat.Cols()
	return nil
}

// ---------------------------------------------------------------------------
// CenterCrop
// ---------------------------------------------------------------------------

// CenterCrop cuts a width×height window centered on the image.
type CenterCrop struct {
	width, height int
}

func NewCenterCrop(width, height int) *CenterCrop {
	return &CenterCrop{width: width, height: height}
}

func (s *CenterCrop) Name() string { return "CenterCrop" }

func (s *CenterCrop) Apply(m *Mat) error {
	if !m.hasMat {
		return fmt.Errorf("requires a packed byte image, got %s floats", m.layout)
	}
	if m.height < s.height || m.width < s.width {
		return fmt.Errorf("image %dx%d is smaller than crop %dx%d", m.height, m.width, s.height, s.width)
	}
	x0 := (m.width - s.width) / 2
	y0 := (m.height - s.height) / 2
	region := m.mat.Region(image.Rect(x0, y0, x0+s.width, y0+s.height))
	cropped := region.Clone()
	region.Close()
	m.replaceMat(cropped)
	return nil
}

// ---------------------------------------------------------------------------
// Normalize
// ---------------------------------------------------------------------------

// Normalize maps bytes to floats as (x*scale - mean)/std, folded into one
// multiply-add per element: x*alpha[c] + beta[c].
type Normalize struct {
	mean, std   []float32
	scale       float32
	alpha, beta []float32
}

func NewNormalize(mean, std []float32, scale float32) *Normalize {
	n := &Normalize{mean: mean, std: std, scale: scale}
	n.alpha, n.beta = foldNormalize(mean, std, scale)
	return n
}

func foldNormalize(mean, std []float32, scale float32) (alpha, beta []float32) {
	alpha = make([]float32, len(std))
	beta = make([]float32, len(std))
	for i := range std {
		alpha[i] = scale / std[i]
		beta[i] = -mean[i] / std[i]
	}
	return alpha, beta
}

func (s *Normalize) Name() string { return "Normalize" }

func (s *Normalize) Apply(m *Mat) error {
	src, err := m.bytes()
	if err != nil {
		return err
	}
	if len(s.alpha) != m.channels {
		return fmt.Errorf("mean/std have %d channels, image has %d", len(s.alpha), m.channels)
	}
	out := make([]float32, len(src))
	c := m.channels
	for i, b := range src {
		ch := i % c
		out[i] = float32(b)*s.alpha[ch] + s.beta[ch]
	}
	m.setFloats(out, LayoutHWC)
	return nil
}

// ---------------------------------------------------------------------------
// HWC2CHW
// ---------------------------------------------------------------------------

// HWC2CHW permutes the buffer to channel-first layout. A byte-stage image
// is widened to float32 first, without scaling.
type HWC2CHW struct{}

func (HWC2CHW) Name() string { return "HWC2CHW" }

func (HWC2CHW) Apply(m *Mat) error {
	if m.layout == LayoutCHW {
		return fmt.Errorf("image is already in CHW layout")
	}
	if m.data == nil {
		src, err := m.bytes()
		if err != nil {
			return err
		}
		widened := make([]float32, len(src))
		for i, b := range src {
			widened[i] = float32(b)
		}
		m.setFloats(widened, LayoutHWC)
	}
	h, w, c := m.height, m.width, m.channels
	out := make([]float32, len(m.data))
	plane := h * w
	for p := 0; p < plane; p++ {
		for ch := 0; ch < c; ch++ {
			out[ch*plane+p] = m.data[p*c+ch]
		}
	}
	m.setFloats(out, LayoutCHW)
	return nil
}

// ---------------------------------------------------------------------------
// NormalizeAndPermute (fusion product)
// ---------------------------------------------------------------------------

// NormalizeAndPermute performs Normalize and HWC2CHW in a single pass over
// the byte buffer. Produced only by the fusion pass; it is the one step
// with an accelerated variant.
type NormalizeAndPermute struct {
	mean, std   []float32
	scale       float32
	alpha, beta []float32
}

// Fused builds the combined step from a Normalize step's parameters.
func Fused(n *Normalize) *NormalizeAndPermute {
	return &NormalizeAndPermute{
		mean: n.mean, std: n.std, scale: n.scale,
		alpha: n.alpha, beta: n.beta,
	}
}

func (s *NormalizeAndPermute) Name() string { return "NormalizeAndPermute" }

func (s *NormalizeAndPermute) Apply(m *Mat) error {
	src, err := m.bytes()
	if err != nil {
		return err
	}
	if len(s.alpha) != m.channels {
		return fmt.Errorf("mean/std have %d channels, image has %d", len(s.alpha), m.channels)
	}
	h, w, c := m.height, m.width, m.channels
	out := make([]float32, len(src))
	plane := h * w
	for p := 0; p < plane; p++ {
		for ch := 0; ch < c; ch++ {
			out[ch*plane+p] = float32(src[p*c+ch])*s.alpha[ch] + s.beta[ch]
		}
	}
	m.setFloats(out, LayoutCHW)
	return nil
}

func (s *NormalizeAndPermute) ApplyAccelerated(m *Mat, dev *device.Context) error {
	src, err := m.bytes()
	if err != nil {
		return err
	}
	if len(s.alpha) != m.channels {
		return fmt.Errorf("mean/std have %d channels, image has %d", len(s.alpha), m.channels)
	}
	out, err := dev.NormalizeAndPermute(src, m.height, m.width, m.channels, s.alpha, s.beta)
	if err != nil {
		return err
	}
	if len(out) != len(src) {
		return fmt.Errorf("accelerated kernel returned %d elements, want %d", len(out), len(src))
	}
	m.setFloats(out, LayoutCHW)
	return nil
}
