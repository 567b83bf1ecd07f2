package pipeline

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"visionpipe/internal/config"
	"visionpipe/internal/device"
	"visionpipe/internal/logging"
	"visionpipe/internal/telemetry"
	"visionpipe/internal/tensor"
	"visionpipe/internal/vision"
)

var (
	ErrNotInitialized = errors.New("preprocessor is not initialized")
	ErrEmptyBatch     = errors.New("input batch must contain at least one image")
)

// StepError reports which image and which step a Run failed on.
type StepError struct {
	Image int
	Step  string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("process image %d in step %s: %v", e.Image, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Preprocessor owns a built step pipeline and runs it over image batches.
// Toggle mutators and UseDevice must not race an in-flight Run; one
// instance is single-writer, single-reader.
type Preprocessor struct {
	configPath string
	steps      []vision.Step

	disableNormalize bool
	disablePermute   bool

	dev     *device.Context
	workers int

	initialized bool
}

type Option func(*Preprocessor)

// WithDevice installs the accelerator context handle. Defaults to a
// context with no runtime, which keeps every step on the standard path.
func WithDevice(dev *device.Context) Option {
	return func(p *Preprocessor) { p.dev = dev }
}

// WithWorkers bounds how many images of a batch are transformed
// concurrently. Values <= 1 keep Run fully sequential.
func WithWorkers(n int) Option {
	return func(p *Preprocessor) {
		if n > 0 {
			p.workers = n
		}
	}
}

// New reads the preprocess spec at configPath and builds the pipeline.
// Construction fails outright on any config or build error; no partially
// usable Preprocessor is produced.
func New(configPath string, opts ...Option) (*Preprocessor, error) {
	p := &Preprocessor{
		configPath: configPath,
		dev:        device.NewContext(nil),
		workers:    1,
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.rebuild(); err != nil {
		return nil, fmt.Errorf("build preprocess pipeline: %w", err)
	}
	p.initialized = true
	return p, nil
}

// rebuild re-reads the config and replaces the pipeline wholesale. On
// failure the previous pipeline stays installed untouched.
func (p *Preprocessor) rebuild() error {
	cfg, err := config.LoadPreprocessSpec(p.configPath)
	if err != nil {
		return err
	}
	steps, err := buildSteps(cfg.PreProcess.TransformOps, p.disableNormalize, p.disablePermute)
	if err != nil {
		return err
	}
	p.steps = fuse(steps)
	telemetry.PipelineSteps.Set(float64(len(p.steps)))
	return nil
}

// DisableNormalize drops the NormalizeImage step from the pipeline and
// rebuilds. If the rebuild fails the prior pipeline keeps running and the
// error is returned; the flag stays set for later rebuilds.
func (p *Preprocessor) DisableNormalize() error {
	p.disableNormalize = true
	if err := p.rebuild(); err != nil {
		logging.L().Error("rebuild after DisableNormalize failed, keeping previous pipeline", "err", err)
		return fmt.Errorf("rebuild after DisableNormalize: %w", err)
	}
	return nil
}

// DisablePermute drops the ToCHWImage step from the pipeline and rebuilds,
// with the same failure behavior as DisableNormalize.
func (p *Preprocessor) DisablePermute() error {
	p.disablePermute = true
	if err := p.rebuild(); err != nil {
		logging.L().Error("rebuild after DisablePermute failed, keeping previous pipeline", "err", err)
		return fmt.Errorf("rebuild after DisablePermute: %w", err)
	}
	return nil
}

// UseDevice enables the accelerated path on the given device index.
// Without an accelerated runtime in the build it warns and keeps standard
// execution; a negative id enables acceleration without switching devices.
func (p *Preprocessor) UseDevice(id int) {
	p.dev.Use(id)
}

// Steps returns the names of the built pipeline in execution order.
func (p *Preprocessor) Steps() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name()
	}
	return names
}

// Run applies the pipeline to every image in batch order and assembles
// one batched tensor. Images are mutated in place; after a failed Run
// they are left partially transformed and must not be reused.
func (p *Preprocessor) Run(images []*vision.Mat) (*tensor.Tensor, error) {
	if !p.initialized {
		telemetry.RunFailures.Inc()
		return nil, ErrNotInitialized
	}
	if len(images) == 0 {
		telemetry.RunFailures.Inc()
		return nil, ErrEmptyBatch
	}
	telemetry.BatchSize.Observe(float64(len(images)))

	if err := p.transformBatch(images); err != nil {
		telemetry.RunFailures.Inc()
		return nil, err
	}

	tensors := make([]tensor.Tensor, len(images))
	for i, m := range images {
		if err := m.ShareWithTensor(&tensors[i]); err != nil {
			telemetry.RunFailures.Inc()
			return nil, fmt.Errorf("share image %d with tensor: %w", i, err)
		}
		if err := tensors[i].ExpandDim(0); err != nil {
			telemetry.RunFailures.Inc()
			return nil, err
		}
	}

	var out *tensor.Tensor
	if len(tensors) == 1 {
		out = &tensors[0]
	} else {
		var err error
		out, err = tensor.Concat(tensors, 0)
		if err != nil {
			telemetry.RunFailures.Inc()
			return nil, fmt.Errorf("concat batch: %w", err)
		}
	}
	out.DeviceID = p.dev.DeviceID()
	telemetry.RunsTotal.Inc()
	return out, nil
}

// transformBatch walks the images sequentially, or with a bounded worker
// pool when configured. Either way the reported failure is the first
// offending image in batch order.
func (p *Preprocessor) transformBatch(images []*vision.Mat) error {
	if p.workers <= 1 || len(images) == 1 {
		for i, m := range images {
			if err := p.applySteps(i, m); err != nil {
				return err
			}
		}
		return nil
	}

	errs := make([]error, len(images))
	g := new(errgroup.Group)
	g.SetLimit(p.workers)
	for i := range images {
		g.Go(func() error {
			errs[i] = p.applySteps(i, images[i])
			return nil
		})
	}
	_ = g.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Preprocessor) applySteps(idx int, m *vision.Mat) error {
	for _, s := range p.steps {
		start := time.Now()
		var err error
		if acc, ok := s.(vision.AcceleratedStep); ok && p.dev.Enabled() {
			err = acc.ApplyAccelerated(m, p.dev)
		} else {
			err = s.Apply(m)
		}
		telemetry.StepDuration.WithLabelValues(s.Name()).Observe(time.Since(start).Seconds())
		if err != nil {
			return &StepError{Image: idx, Step: s.Name(), Err: err}
		}
	}
	return nil
}
