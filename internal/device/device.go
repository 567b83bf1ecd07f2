package device

import (
	"fmt"

	"visionpipe/internal/logging"
)

// Runtime is an accelerator backend for the fused normalize+permute
// kernel. The default build registers none; tests and accelerator-enabled
// builds register theirs via Register.
type Runtime interface {
	Name() string
	// SetDevice switches the runtime's active device index.
	SetDevice(id int) error
	// NormalizeAndPermute reads packed HWC bytes and writes CHW floats
	// as out[c] = in[c]*alpha[c] + beta[c].
	NormalizeAndPermute(src []byte, height, width, channels int, alpha, beta []float32) ([]float32, error)
}

// Factory builds a Runtime.
type Factory func() Runtime

var registry = map[string]Factory{}

// Register is called from a runtime's init() or from main().
func Register(name string, f Factory) {
	registry[name] = f
}

// NewRuntime returns a registered runtime by name.
func NewRuntime(name string) (Runtime, error) {
	if f, ok := registry[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("device: unknown runtime %q", name)
}

// Context is a per-preprocessor handle to the accelerator state: which
// runtime (if any) is present, whether acceleration is enabled, and the
// device index stamped on output tensors. It is not safe for concurrent
// mutation; callers serialize Use against Run.
type Context struct {
	rt       Runtime
	enabled  bool
	deviceID int
}

// NewContext wraps rt, which may be nil when no accelerated runtime is
// present in the build.
func NewContext(rt Runtime) *Context {
	return &Context{rt: rt, deviceID: -1}
}

// Use enables accelerated execution on the given device index. Without a
// runtime it warns and leaves standard execution in force. A negative id
// enables acceleration but keeps the current device index.
func (c *Context) Use(id int) {
	if c.rt == nil {
		logging.L().Warn("no accelerated runtime available, preprocessing stays on the standard path")
		c.enabled = false
		return
	}
	c.enabled = true
	if id < 0 {
		return
	}
	if err := c.rt.SetDevice(id); err != nil {
		logging.L().Error("switch device failed, disabling acceleration",
			"runtime", c.rt.Name(), "device", id, "err", err)
		c.enabled = false
		return
	}
	c.deviceID = id
}

// Enabled reports whether the accelerated path should be taken.
func (c *Context) Enabled() bool { return c.enabled }

// DeviceID returns the configured device index, -1 when none was selected.
func (c *Context) DeviceID() int { return c.deviceID }

// NormalizeAndPermute runs the fused kernel on the active runtime.
func (c *Context) NormalizeAndPermute(src []byte, height, width, channels int, alpha, beta []float32) ([]float32, error) {
	if !c.enabled || c.rt == nil {
		return nil, fmt.Errorf("device: accelerated path requested without an active runtime")
	}
	return c.rt.NormalizeAndPermute(src, height, width, channels, alpha, beta)
}
