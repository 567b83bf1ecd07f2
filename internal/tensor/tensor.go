package tensor

import (
	"errors"
	"fmt"
)

// Tensor is a dense float32 tensor in row-major order. Image batches use
// NCHW layout. DeviceID tags the device the consumer should read the
// tensor on; it is independent of where the data was produced.
type Tensor struct {
	Data     []float32
	Shape    []int64
	DeviceID int
}

// New wraps data with the given shape after checking their sizes agree.
func New(data []float32, shape ...int64) (*Tensor, error) {
	if data == nil {
		return nil, errors.New("nil data")
	}
	n := int64(1)
	for i, d := range shape {
		if d <= 0 {
			return nil, fmt.Errorf("dimension %d must be > 0, got %d", i, d)
		}
		n *= d
	}
	if int64(len(data)) != n {
		return nil, fmt.Errorf("data length %d does not match shape %v (want %d)", len(data), shape, n)
	}
	return &Tensor{Data: data, Shape: shape, DeviceID: -1}, nil
}

// Numel returns the number of elements implied by the shape.
func (t *Tensor) Numel() int {
	n := 1
	for _, d := range t.Shape {
		n *= int(d)
	}
	return n
}

// ExpandDim inserts a dimension of size one at axis.
func (t *Tensor) ExpandDim(axis int) error {
	if axis < 0 || axis > len(t.Shape) {
		return fmt.Errorf("axis %d out of range for rank %d", axis, len(t.Shape))
	}
	shape := make([]int64, 0, len(t.Shape)+1)
	shape = append(shape, t.Shape[:axis]...)
	shape = append(shape, 1)
	shape = append(shape, t.Shape[axis:]...)
	t.Shape = shape
	return nil
}

// Concat joins tensors along axis 0. All inputs must share the same
// trailing shape. The result owns a fresh buffer.
func Concat(ts []Tensor, axis int) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, errors.New("nothing to concatenate")
	}
	if axis != 0 {
		return nil, fmt.Errorf("concat along axis %d is not supported", axis)
	}
	first := ts[0].Shape
	if len(first) == 0 {
		return nil, errors.New("cannot concatenate rank-0 tensors")
	}
	var lead int64
	total := 0
	for i := range ts {
		s := ts[i].Shape
		if len(s) != len(first) {
			return nil, fmt.Errorf("tensor %d has rank %d, want %d", i, len(s), len(first))
		}
		for d := 1; d < len(s); d++ {
			if s[d] != first[d] {
				return nil, fmt.Errorf("tensor %d has shape %v, want trailing dims of %v", i, s, first)
			}
		}
		lead += s[0]
		total += ts[i].Numel()
	}
	data := make([]float32, 0, total)
	for i := range ts {
		data = append(data, ts[i].Data...)
	}
	shape := append([]int64{lead}, first[1:]...)
	out := &Tensor{Data: data, Shape: shape, DeviceID: ts[0].DeviceID}
	return out, nil
}
