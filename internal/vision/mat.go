package vision

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"

	"visionpipe/internal/tensor"
)

// Layout describes the channel ordering of an image buffer.
type Layout int

const (
	LayoutHWC Layout = iota
	LayoutCHW
)

func (l Layout) String() string {
	if l == LayoutCHW {
		return "CHW"
	}
	return "HWC"
}

// Mat is the mutable image a pipeline transforms in place. It starts as a
// packed byte image (a gocv Mat, BGR as decoded) and switches to a float32
// buffer once a normalize or layout step runs. Steps mutate it and report
// failure; Mat never owns more than one live representation.
type Mat struct {
	mat    gocv.Mat
	hasMat bool
	data   []float32

	height, width, channels int
	layout                  Layout
}

// NewFromGoCV wraps a decoded image. The Mat takes ownership of m.
func NewFromGoCV(m gocv.Mat) (*Mat, error) {
	if m.Empty() {
		return nil, errors.New("input image is empty")
	}
	if m.Channels() <= 0 || m.Rows() <= 0 || m.Cols() <= 0 {
		return nil, fmt.Errorf("invalid image dimensions %dx%dx%d", m.Rows(), m.Cols(), m.Channels())
	}
	return &Mat{
		mat:      m,
		hasMat:   true,
		height:   m.Rows(),
		width:    m.Cols(),
		channels: m.Channels(),
		layout:   LayoutHWC,
	}, nil
}

// NewFromBytes builds a Mat from packed HWC bytes, for callers that do not
// decode through gocv.
func NewFromBytes(data []byte, height, width, channels int) (*Mat, error) {
	if height <= 0 || width <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid image dimensions %dx%dx%d", height, width, channels)
	}
	if channels != 3 {
		return nil, fmt.Errorf("byte images must have 3 channels, got %d", channels)
	}
	if len(data) != height*width*channels {
		return nil, fmt.Errorf("data length %d does not match %dx%dx%d", len(data), height, width, channels)
	}
	m, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, data)
	if err != nil {
		return nil, err
	}
	return NewFromGoCV(m)
}

func (m *Mat) Height() int    { return m.height }
func (m *Mat) Width() int     { return m.width }
func (m *Mat) Channels() int  { return m.channels }
func (m *Mat) Layout() Layout { return m.layout }

// Floats returns the float stage buffer, nil while the image is still in
// its byte stage.
func (m *Mat) Floats() []float32 { return m.data }

// bytes returns the packed byte representation. Valid only in the byte stage.
func (m *Mat) bytes() ([]byte, error) {
	if !m.hasMat {
		return nil, errors.New("image is no longer in its byte stage")
	}
	return m.mat.ToBytes(), nil
}

// setFloats retires the byte stage and installs the float buffer.
func (m *Mat) setFloats(data []float32, layout Layout) {
	if m.hasMat {
		m.mat.Close()
		m.hasMat = false
	}
	m.data = data
	m.layout = layout
}

// replaceMat swaps in a new byte-stage mat and refreshes the dimensions.
func (m *Mat) replaceMat(nm gocv.Mat) {
	if m.hasMat {
		m.mat.Close()
	}
	m.mat = nm
	m.hasMat = true
	m.height = nm.Rows()
	m.width = nm.Cols()
	m.channels = nm.Channels()
}

// ShareWithTensor exposes the image buffer as a tensor without copying.
// The shape follows the current layout: [C,H,W] after a permute, [H,W,C]
// otherwise. An image still in its byte stage is widened to float32 first,
// which is the one case that copies.
func (m *Mat) ShareWithTensor(t *tensor.Tensor) error {
	if m.data == nil {
		raw, err := m.bytes()
		if err != nil {
			return err
		}
		widened := make([]float32, len(raw))
		for i, b := range raw {
			widened[i] = float32(b)
		}
		m.setFloats(widened, m.layout)
	}
	h, w, c := int64(m.height), int64(m.width), int64(m.channels)
	t.Data = m.data
	if m.layout == LayoutCHW {
		t.Shape = []int64{c, h, w}
	} else {
		t.Shape = []int64{h, w, c}
	}
	return nil
}

// Close releases the underlying buffers. Safe to call more than once.
func (m *Mat) Close() error {
	if m.hasMat {
		m.hasMat = false
		return m.mat.Close()
	}
	m.data = nil
	return nil
}
