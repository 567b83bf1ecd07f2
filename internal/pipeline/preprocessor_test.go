package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gocv.io/x/gocv"

	"visionpipe/internal/device"
	"visionpipe/internal/vision"
)

const fullRecipe = `preprocess:
  transform_ops:
    - ResizeImage:
        resize_short: 256
    - CropImage:
        size: 224
    - NormalizeImage:
        mean: [0.485, 0.456, 0.406]
        std: [0.229, 0.224, 0.225]
        scale: 0.00392157
    - ToCHWImage:
`

func writeRecipe(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "infer_cfg.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write recipe: %v", err)
	}
	return path
}

func testImage(t *testing.T, rows, cols int) *vision.Mat {
	t.Helper()
	raw := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC3)
	m, err := vision.NewFromGoCV(raw)
	if err != nil {
		t.Fatalf("NewFromGoCV: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func wantSteps(t *testing.T, p *Preprocessor, want ...string) {
	t.Helper()
	got := p.Steps()
	if len(got) != len(want) {
		t.Fatalf("want pipeline %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("want pipeline %v, got %v", want, got)
		}
	}
}

func TestNew_BuildsFusedPipeline(t *testing.T) {
	p, err := New(writeRecipe(t, fullRecipe))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	wantSteps(t, p, "BGR2RGB", "ResizeByShort", "CenterCrop", "NormalizeAndPermute")
}

func TestNew_UnsupportedOperatorFailsBuild(t *testing.T) {
	recipe := `preprocess:
  transform_ops:
    - FlipImage:
        axis: 0
`
	if _, err := New(writeRecipe(t, recipe)); err == nil {
		t.Fatal("expected build failure for unsupported operator")
	}
}

func TestNew_MissingConfigFailsBuild(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Fatal("expected build failure for missing config")
	}
}

func TestDisableNormalize_RemovesNormalizeAndFusedSteps(t *testing.T) {
	p, err := New(writeRecipe(t, fullRecipe))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.DisableNormalize(); err != nil {
		t.Fatalf("DisableNormalize: %v", err)
	}
	wantSteps(t, p, "BGR2RGB", "ResizeByShort", "CenterCrop", "HWC2CHW")
}

func TestDisablePermute_LeavesNormalizeUnfused(t *testing.T) {
	p, err := New(writeRecipe(t, fullRecipe))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.DisablePermute(); err != nil {
		t.Fatalf("DisablePermute: %v", err)
	}
	wantSteps(t, p, "BGR2RGB", "ResizeByShort", "CenterCrop", "Normalize")
}

func TestToggleRebuildFailure_KeepsPreviousPipeline(t *testing.T) {
	path := writeRecipe(t, fullRecipe)
	p, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	bad := `preprocess:
  transform_ops:
    - FlipImage:
        axis: 0
`
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatalf("overwrite recipe: %v", err)
	}
	if err := p.DisableNormalize(); err == nil {
		t.Fatal("expected rebuild failure after config went bad")
	}

	// the previously built pipeline must keep running unchanged
	wantSteps(t, p, "BGR2RGB", "ResizeByShort", "CenterCrop", "NormalizeAndPermute")
	out, err := p.Run([]*vision.Mat{testImage(t, 400, 300)})
	if err != nil {
		t.Fatalf("Run after failed rebuild: %v", err)
	}
	if out.Shape[0] != 1 {
		t.Fatalf("want batch dim 1, got %v", out.Shape)
	}
}

func TestRun_EmptyBatchFailsBeforeAnyStep(t *testing.T) {
	p, err := New(writeRecipe(t, fullRecipe))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Run(nil); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("want ErrEmptyBatch, got %v", err)
	}
}

func TestRun_SingleImage(t *testing.T) {
	p, err := New(writeRecipe(t, fullRecipe))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := p.Run([]*vision.Mat{testImage(t, 400, 300)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []int64{1, 3, 224, 224}
	for i := range want {
		if out.Shape[i] != want[i] {
			t.Fatalf("want shape %v, got %v", want, out.Shape)
		}
	}
	if out.DeviceID != -1 {
		t.Fatalf("want default device id -1, got %d", out.DeviceID)
	}
	if len(out.Data) != 3*224*224 {
		t.Fatalf("want %d elements, got %d", 3*224*224, len(out.Data))
	}
}

func TestRun_BatchOfTwoArbitrarySizes(t *testing.T) {
	p, err := New(writeRecipe(t, fullRecipe))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	batch := []*vision.Mat{testImage(t, 400, 300), testImage(t, 500, 640)}
	out, err := p.Run(batch)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []int64{2, 3, 224, 224}
	for i := range want {
		if out.Shape[i] != want[i] {
			t.Fatalf("want shape %v, got %v", want, out.Shape)
		}
	}
}

func TestRun_StepFailureNamesImageAndStep(t *testing.T) {
	recipe := `preprocess:
  transform_ops:
    - CropImage:
        size: 224
`
	p, err := New(writeRecipe(t, recipe))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	batch := []*vision.Mat{testImage(t, 300, 300), testImage(t, 100, 100)}
	_, err = p.Run(batch)
	var se *StepError
	if !errors.As(err, &se) {
		t.Fatalf("want StepError, got %v", err)
	}
	if se.Image != 1 || se.Step != "CenterCrop" {
		t.Fatalf("want failure on image 1 in CenterCrop, got image %d in %s", se.Image, se.Step)
	}
}

func TestRun_ParallelWorkersReportFirstOffendingImage(t *testing.T) {
	recipe := `preprocess:
  transform_ops:
    - CropImage:
        size: 224
`
	p, err := New(writeRecipe(t, recipe), WithWorkers(4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	batch := []*vision.Mat{
		testImage(t, 300, 300),
		testImage(t, 100, 100),
		testImage(t, 50, 50),
	}
	_, err = p.Run(batch)
	var se *StepError
	if !errors.As(err, &se) {
		t.Fatalf("want StepError, got %v", err)
	}
	if se.Image != 1 {
		t.Fatalf("parallel run must report the first offending image in batch order, got %d", se.Image)
	}
}

// acceleratedRuntime mirrors the standard fused kernel so outputs stay valid.
type acceleratedRuntime struct {
	device int
	calls  int
}

func (f *acceleratedRuntime) Name() string { return "test-accel" }

func (f *acceleratedRuntime) SetDevice(id int) error {
	f.device = id
	return nil
}

func (f *acceleratedRuntime) NormalizeAndPermute(src []byte, h, w, c int, alpha, beta []float32) ([]float32, error) {
	f.calls++
	out := make([]float32, len(src))
	plane := h * w
	for p := 0; p < plane; p++ {
		for ch := 0; ch < c; ch++ {
			out[ch*plane+p] = float32(src[p*c+ch])*alpha[ch] + beta[ch]
		}
	}
	return out, nil
}

func TestRun_AcceleratedPathBindsToFusedStepOnly(t *testing.T) {
	rt := &acceleratedRuntime{}
	p, err := New(writeRecipe(t, fullRecipe), WithDevice(device.NewContext(rt)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.UseDevice(2)

	batch := []*vision.Mat{testImage(t, 400, 300), testImage(t, 256, 256)}
	out, err := p.Run(batch)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rt.calls != len(batch) {
		t.Fatalf("fused kernel should run once per image, got %d calls", rt.calls)
	}
	if rt.device != 2 {
		t.Fatalf("runtime should be switched to device 2, got %d", rt.device)
	}
	if out.DeviceID != 2 {
		t.Fatalf("output must carry the configured device id, got %d", out.DeviceID)
	}
}

func TestUseDevice_WithoutRuntimeKeepsStandardPath(t *testing.T) {
	p, err := New(writeRecipe(t, fullRecipe))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.UseDevice(0)

	out, err := p.Run([]*vision.Mat{testImage(t, 400, 300)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.DeviceID != -1 {
		t.Fatalf("device id must stay unset without a runtime, got %d", out.DeviceID)
	}
}
