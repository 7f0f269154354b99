package losses

import (
	"math"
	"strings"
	"testing"

	"github.com/visionkit/go-densepose/structures"
	"github.com/visionkit/go-densepose/tensor"
)

const tol = 1e-9

// testConfig keeps the grids tiny and gives every weight a distinct value so
// a term scaled by the wrong weight is caught.
func testConfig() Config {
	return Config{
		HeatmapSize:       2,
		NumChannels:       3,
		NumCoarseChannels: 2,

		PointWeight: 2,
		PartWeight:  3,
		SegmWeight:  4,

		PseudoSegmWeight:   5,
		PseudoPointsWeight: 6,
		PseudoThreshold:    0.65,
		PseudoLossType:     PseudoLossSCE,
		UVLossChannels:     1,

		CorrectionPointsWeight: 7,
		CorrectionSegmWeight:   8,
	}
}

func zerosGrad(t *testing.T, shape []int) *tensor.Tensor {
	t.Helper()
	z, err := tensor.Zeros(shape, tensor.Float64)
	if err != nil {
		t.Fatalf("Zeros failed: %v", err)
	}
	z.SetRequiresGrad(true)
	return z
}

// flat computes the flat index of [n,c,y,x] in an [N,channels,2,2] map.
func flat(n, c, y, x, channels int) int {
	return ((n*channels+c)*2+y)*2 + x
}

// testOutputs builds predictor maps for two regions on a 2x2 grid with three
// channels. Region 0 is annotated by testProposals; region 1 stays zero.
//
// The annotated point samples pixel (1,1) exactly. The resampled coarse
// ground truth marks pixels (0,1) and (1,0) as foreground for the pseudo
// branch.
func testOutputs(t *testing.T) *structures.ChartPredictorOutput {
	t.Helper()
	u := zerosGrad(t, []int{2, 3, 2, 2})
	v := zerosGrad(t, []int{2, 3, 2, 2})
	fine := zerosGrad(t, []int{2, 3, 2, 2})
	coarse := zerosGrad(t, []int{2, 2, 2, 2})

	uf, vf, ff, cf := u.Float64s(), v.Float64s(), fine.Float64s(), coarse.Float64s()

	// Supervised point at pixel (1,1), part label 1.
	uf[flat(0, 1, 1, 1, 3)] = 0.3
	vf[flat(0, 1, 1, 1, 3)] = 0.9
	ff[flat(0, 0, 1, 1, 3)] = 0.1
	ff[flat(0, 1, 1, 1, 3)] = 0.7
	ff[flat(0, 2, 1, 1, 3)] = 0.2

	// Pseudo foreground pixel (0,1).
	ff[flat(0, 0, 0, 1, 3)] = 0.2
	ff[flat(0, 1, 0, 1, 3)] = 0.5
	ff[flat(0, 2, 0, 1, 3)] = 0.3
	uf[flat(0, 1, 0, 1, 3)] = 0.45
	vf[flat(0, 1, 0, 1, 3)] = 0.55

	// Pseudo foreground pixel (1,0).
	ff[flat(0, 0, 1, 0, 3)] = 0.1
	ff[flat(0, 1, 1, 0, 3)] = 0.2
	ff[flat(0, 2, 1, 0, 3)] = 0.7
	uf[flat(0, 2, 1, 0, 3)] = 0.15

	// Coarse scores are constant per channel.
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			cf[flat(0, 0, y, x, 2)] = 0.2
			cf[flat(0, 1, y, x, 2)] = 0.8
		}
	}

	return &structures.ChartPredictorOutput{CoarseSegm: coarse, FineSegm: fine, U: u, V: v}
}

func testCorrections(t *testing.T) *structures.CorrectionOutput {
	t.Helper()
	u := zerosGrad(t, []int{2, 3, 2, 2})
	v := zerosGrad(t, []int{2, 3, 2, 2})
	fine := zerosGrad(t, []int{2, 4, 2, 2})

	u.Float64s()[flat(0, 1, 1, 1, 3)] = 0.1
	v.Float64s()[flat(0, 1, 1, 1, 3)] = 0.25
	ff := fine.Float64s()
	ff[flat(0, 0, 1, 1, 4)] = 0.1
	ff[flat(0, 1, 1, 1, 4)] = 0.2
	ff[flat(0, 2, 1, 1, 4)] = 0.3
	ff[flat(0, 3, 1, 1, 4)] = 0.4

	return &structures.CorrectionOutput{U: u, V: v, FineSegm: fine}
}

func raster(t *testing.T, shape []int, data []float64) *tensor.Tensor {
	t.Helper()
	r, err := tensor.NewTensor(shape, tensor.Float64, data)
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	return r
}

// testProposals builds one image with two proposals; only the first carries
// an annotation. Ground-truth and estimated boxes coincide, so raster
// resampling is the identity. Point 0 at normalized (0.5,0.5) samples grid
// pixel (1,1) exactly; point 1 at x=1.0 falls outside the half-open box and
// is invalid.
func testProposals(t *testing.T, withPseudo bool) []*structures.Instances {
	t.Helper()
	box := structures.BoxXYWH{X: 0, Y: 0, W: 2, H: 2}
	far := structures.BoxXYWH{X: 10, Y: 10, W: 2, H: 2}

	ann := &structures.DensePoseAnnotation{
		X:          []float64{0.5, 1.0},
		Y:          []float64{0.5, 0.5},
		U:          []float64{0.5, 0.1},
		V:          []float64{0.4, 0.2},
		PartLabels: []int{1, 2},
		CoarseSegm: raster(t, []int{2, 2}, []float64{0, 1, 1, 0}),
	}
	if withPseudo {
		// Teacher rows: pixel (0,1) = (0.2, 0.7, 0.1), conf 0.7, top channel 1;
		// pixel (1,0) = (0.3, 0.1, 0.6), conf 0.6, top channel 2.
		ann.FineSegmPseudo = raster(t, []int{3, 2, 2}, []float64{
			0.1, 0.2, 0.3, 0.1,
			0.8, 0.7, 0.1, 0.8,
			0.1, 0.1, 0.6, 0.1,
		})
		ann.UPseudo = raster(t, []int{3, 2, 2}, []float64{
			0, 0, 0, 0,
			0.6, 0.65, 0.2, 0.3,
			0, 0, 0.35, 0,
		})
		ann.VPseudo = raster(t, []int{3, 2, 2}, []float64{
			0, 0, 0, 0,
			0.1, 0.95, 0.2, 0.2,
			0, 0, 0.15, 0,
		})
	}

	return []*structures.Instances{{
		ProposalBoxes: []structures.BoxXYWH{box, far},
		GTBoxes:       []structures.BoxXYWH{box, far},
		Annotations:   []*structures.DensePoseAnnotation{ann, nil},
	}}
}

func wantValue(t *testing.T, losses LossMap, key string, want float64) {
	t.Helper()
	v, ok := losses[key]
	if !ok {
		t.Fatalf("missing loss %s", key)
	}
	got, err := v.Item()
	if err != nil {
		t.Fatalf("%s: Item failed: %v", key, err)
	}
	if math.Abs(got-want) > tol {
		t.Errorf("%s: expected %g, got %g", key, want, got)
	}
}

func wantExactZero(t *testing.T, losses LossMap, key string) {
	t.Helper()
	v, ok := losses[key]
	if !ok {
		t.Fatalf("missing loss %s", key)
	}
	got, err := v.Item()
	if err != nil {
		t.Fatalf("%s: Item failed: %v", key, err)
	}
	if got != 0 {
		t.Errorf("%s: expected exactly 0, got %g", key, got)
	}
}

func TestChartLossSupervised(t *testing.T) {
	loss, err := NewChartLoss(testConfig())
	if err != nil {
		t.Fatalf("NewChartLoss failed: %v", err)
	}
	outputs := testOutputs(t)
	losses, err := loss.Compute(testProposals(t, true), outputs, nil)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if len(losses) != 7 {
		t.Fatalf("expected 7 loss terms, got %d: %v", len(losses), losses.Keys())
	}

	// U: estimate 0.3 vs 0.5, smooth L1 0.5*0.2^2 = 0.02, weight 2.
	wantValue(t, losses, KeyU, 0.04)
	// V: estimate 0.9 vs 0.4, 0.5*0.5^2 = 0.125, weight 2.
	wantValue(t, losses, KeyV, 0.25)
	// I: scores (0.1,0.7,0.2) against label 1, weight 3.
	fineCE := math.Log(math.Exp(0.1)+math.Exp(0.7)+math.Exp(0.2)) - 0.7
	wantValue(t, losses, KeyFineSegm, fineCE*3)
	// S: every pixel scores (0.2,0.8); labels are [0,1,1,0]; weight 4.
	coarseCE := math.Log(math.Exp(0.2)+math.Exp(0.8)) - 0.5
	wantValue(t, losses, KeyCoarseSegm, coarseCE*4)

	// Pseudo (sce): only pixel (0,1) passes the 0.65 gate. The reverse CE
	// puts -log(1e-4) on the off-label student scores 0.2 and 0.3; weight 5.
	wantValue(t, losses, KeyPseudoSegm, 0.5*-math.Log(1e-4)*5)
	// Pseudo U: pick 0.45 vs teacher 0.65, 0.02, weight 6.
	wantValue(t, losses, KeyPseudoU, 0.12)
	// Pseudo V: pick 0.55 vs teacher 0.95, 0.08, weight 6.
	wantValue(t, losses, KeyPseudoV, 0.48)

	total, err := losses.Total()
	if err != nil {
		t.Fatalf("Total failed: %v", err)
	}
	if err := total.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	grad := outputs.U.Grad()
	if grad == nil {
		t.Fatal("U should have received gradients")
	}
	// Supervised point: d(0.5 d^2)/d est = -0.2, times weight 2.
	if g := grad.Float64s()[flat(0, 1, 1, 1, 3)]; math.Abs(g-(-0.4)) > tol {
		t.Errorf("U grad at supervised point: expected -0.4, got %g", g)
	}
	// Pseudo pick: -0.2 times the uniform weight 1, times weight 6.
	if g := grad.Float64s()[flat(0, 1, 0, 1, 3)]; math.Abs(g-(-1.2)) > tol {
		t.Errorf("U grad at pseudo pick: expected -1.2, got %g", g)
	}
	if outputs.FineSegm.Grad() == nil || outputs.CoarseSegm.Grad() == nil || outputs.V.Grad() == nil {
		t.Error("every predictor map should have received gradients")
	}
}

func TestChartLossCorrections(t *testing.T) {
	loss, err := NewChartLoss(testConfig())
	if err != nil {
		t.Fatalf("NewChartLoss failed: %v", err)
	}

	t.Run("Agreeing point targets abstain at double weight", func(t *testing.T) {
		outputs := testOutputs(t)
		corrections := testCorrections(t)
		losses, err := loss.Compute(testProposals(t, true), outputs, corrections)
		if err != nil {
			t.Fatalf("Compute failed: %v", err)
		}
		if len(losses) != 10 {
			t.Fatalf("expected 10 loss terms, got %d: %v", len(losses), losses.Keys())
		}

		// Correction U: estimate 0.1 vs residual 0.5-0.3 = 0.2, weight 7.
		wantValue(t, losses, KeyCorrectionU, 0.035)
		// Correction V: estimate 0.25 vs residual 0.4-0.9 = -0.5, weight 7.
		wantValue(t, losses, KeyCorrectionV, 1.96875)
		// Base argmax 1 equals the label, so the target is the abstain
		// channel 3 and the point counts twice; weight 8.
		crtCE := math.Log(math.Exp(0.1)+math.Exp(0.2)+math.Exp(0.3)+math.Exp(0.4)) - 0.4
		wantValue(t, losses, KeyCorrectionFineSegm, crtCE*2*8)

		// The supervised terms are unchanged by corrections.
		wantValue(t, losses, KeyU, 0.04)

		total, err := losses.Total()
		if err != nil {
			t.Fatalf("Total failed: %v", err)
		}
		if err := total.Backward(); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}
		if corrections.U.Grad() == nil || corrections.FineSegm.Grad() == nil {
			t.Error("correction maps should have received gradients")
		}
		// The residual target is constant: the correction terms must not
		// push gradients into the base U map beyond the supervised and
		// pseudo contributions.
		if g := outputs.U.Grad().Float64s()[flat(0, 1, 1, 1, 3)]; math.Abs(g-(-0.4)) > tol {
			t.Errorf("U grad should be unchanged by corrections: expected -0.4, got %g", g)
		}
	})

	t.Run("Disagreeing point targets its label at single weight", func(t *testing.T) {
		outputs := testOutputs(t)
		// Make channel 0 the base argmax at the supervised point.
		ff := outputs.FineSegm.Float64s()
		ff[flat(0, 0, 1, 1, 3)] = 0.9
		losses, err := loss.Compute(testProposals(t, true), outputs, testCorrections(t))
		if err != nil {
			t.Fatalf("Compute failed: %v", err)
		}
		// Target is the true label 1 and the point counts once; weight 8.
		crtCE := math.Log(math.Exp(0.1)+math.Exp(0.2)+math.Exp(0.3)+math.Exp(0.4)) - 0.2
		wantValue(t, losses, KeyCorrectionFineSegm, crtCE*8)
	})
}

func TestChartLossFakeFallbacks(t *testing.T) {
	loss, err := NewChartLoss(testConfig())
	if err != nil {
		t.Fatalf("NewChartLoss failed: %v", err)
	}

	assertAllFake := func(t *testing.T, outputs *structures.ChartPredictorOutput, losses LossMap) {
		t.Helper()
		if len(losses) != 7 {
			t.Fatalf("expected 7 loss terms, got %d: %v", len(losses), losses.Keys())
		}
		for _, key := range losses.Keys() {
			wantExactZero(t, losses, key)
		}
		total, err := losses.Total()
		if err != nil {
			t.Fatalf("Total failed: %v", err)
		}
		if err := total.Backward(); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}
		for name, m := range map[string]*tensor.Tensor{
			"coarse": outputs.CoarseSegm, "fine": outputs.FineSegm, "u": outputs.U, "v": outputs.V,
		} {
			grad := m.Grad()
			if grad == nil {
				t.Fatalf("%s map should be connected to the fake losses", name)
			}
			for i, g := range grad.Float64s() {
				if g != 0 {
					t.Fatalf("%s map grad[%d]: expected 0, got %g", name, i, g)
				}
			}
		}
	}

	t.Run("No proposals", func(t *testing.T) {
		outputs := testOutputs(t)
		losses, err := loss.Compute([]*structures.Instances{}, outputs, nil)
		if err != nil {
			t.Fatalf("Compute failed: %v", err)
		}
		assertAllFake(t, outputs, losses)
	})

	t.Run("No annotations in batch", func(t *testing.T) {
		outputs := testOutputs(t)
		box := structures.BoxXYWH{X: 0, Y: 0, W: 2, H: 2}
		proposals := []*structures.Instances{{
			ProposalBoxes: []structures.BoxXYWH{box, box},
			GTBoxes:       []structures.BoxXYWH{box, box},
			Annotations:   []*structures.DensePoseAnnotation{nil, nil},
		}}
		losses, err := loss.Compute(proposals, outputs, nil)
		if err != nil {
			t.Fatalf("Compute failed: %v", err)
		}
		assertAllFake(t, outputs, losses)
	})

	t.Run("No valid points", func(t *testing.T) {
		outputs := testOutputs(t)
		proposals := testProposals(t, true)
		ann := proposals[0].Annotations[0]
		// Both points land outside the half-open estimated box.
		ann.X = []float64{1.0, 1.0}
		losses, err := loss.Compute(proposals, outputs, nil)
		if err != nil {
			t.Fatalf("Compute failed: %v", err)
		}
		assertAllFake(t, outputs, losses)
	})

	t.Run("Only background points", func(t *testing.T) {
		outputs := testOutputs(t)
		proposals := testProposals(t, true)
		proposals[0].Annotations[0].PartLabels = []int{0, 0}
		losses, err := loss.Compute(proposals, outputs, nil)
		if err != nil {
			t.Fatalf("Compute failed: %v", err)
		}
		assertAllFake(t, outputs, losses)
	})

	t.Run("Key sets match between real and fake", func(t *testing.T) {
		annotated, err := loss.Compute(testProposals(t, true), testOutputs(t), testCorrections(t))
		if err != nil {
			t.Fatalf("Compute failed: %v", err)
		}
		empty, err := loss.Compute([]*structures.Instances{}, testOutputs(t), testCorrections(t))
		if err != nil {
			t.Fatalf("Compute failed: %v", err)
		}
		if got, want := strings.Join(empty.Keys(), ","), strings.Join(annotated.Keys(), ","); got != want {
			t.Errorf("fake keys %s do not match real keys %s", got, want)
		}
	})
}

func TestChartLossPseudoFallbacks(t *testing.T) {
	t.Run("Missing pseudo maps", func(t *testing.T) {
		loss, err := NewChartLoss(testConfig())
		if err != nil {
			t.Fatalf("NewChartLoss failed: %v", err)
		}
		losses, err := loss.Compute(testProposals(t, false), testOutputs(t), nil)
		if err != nil {
			t.Fatalf("Compute failed: %v", err)
		}
		// Supervised terms stay real while the pseudo terms are zero.
		wantValue(t, losses, KeyU, 0.04)
		wantExactZero(t, losses, KeyPseudoSegm)
		wantExactZero(t, losses, KeyPseudoU)
		wantExactZero(t, losses, KeyPseudoV)
	})

	t.Run("Threshold one gates out sub-unit confidence", func(t *testing.T) {
		cfg := testConfig()
		cfg.PseudoThreshold = 1.0
		loss, err := NewChartLoss(cfg)
		if err != nil {
			t.Fatalf("NewChartLoss failed: %v", err)
		}
		losses, err := loss.Compute(testProposals(t, true), testOutputs(t), nil)
		if err != nil {
			t.Fatalf("Compute failed: %v", err)
		}
		wantValue(t, losses, KeyU, 0.04)
		wantExactZero(t, losses, KeyPseudoSegm)
		wantExactZero(t, losses, KeyPseudoU)
		wantExactZero(t, losses, KeyPseudoV)
	})

	t.Run("Threshold one keeps exact full confidence", func(t *testing.T) {
		cfg := testConfig()
		cfg.PseudoThreshold = 1.0
		loss, err := NewChartLoss(cfg)
		if err != nil {
			t.Fatalf("NewChartLoss failed: %v", err)
		}
		proposals := testProposals(t, true)
		// Raise the teacher's top channel at pixel (0,1) to exactly 1.0.
		proposals[0].Annotations[0].FineSegmPseudo.Float64s()[(1*2+0)*2+1] = 1.0
		losses, err := loss.Compute(proposals, testOutputs(t), nil)
		if err != nil {
			t.Fatalf("Compute failed: %v", err)
		}
		// The same single pixel survives the gate as in the 0.65 scenario.
		wantValue(t, losses, KeyPseudoSegm, 0.5*-math.Log(1e-4)*5)
		wantValue(t, losses, KeyPseudoU, 0.12)
	})

	t.Run("Gate drops every pixel", func(t *testing.T) {
		cfg := testConfig()
		cfg.PseudoThreshold = 0.75
		loss, err := NewChartLoss(cfg)
		if err != nil {
			t.Fatalf("NewChartLoss failed: %v", err)
		}
		losses, err := loss.Compute(testProposals(t, true), testOutputs(t), nil)
		if err != nil {
			t.Fatalf("Compute failed: %v", err)
		}
		wantValue(t, losses, KeyU, 0.04)
		wantExactZero(t, losses, KeyPseudoSegm)
	})

	t.Run("No foreground pixels", func(t *testing.T) {
		loss, err := NewChartLoss(testConfig())
		if err != nil {
			t.Fatalf("NewChartLoss failed: %v", err)
		}
		proposals := testProposals(t, true)
		proposals[0].Annotations[0].CoarseSegm = raster(t, []int{2, 2}, []float64{0, 0, 0, 0})
		losses, err := loss.Compute(proposals, testOutputs(t), nil)
		if err != nil {
			t.Fatalf("Compute failed: %v", err)
		}
		wantValue(t, losses, KeyU, 0.04)
		wantExactZero(t, losses, KeyPseudoSegm)
		wantExactZero(t, losses, KeyPseudoU)
		wantExactZero(t, losses, KeyPseudoV)
	})
}

func TestChartLossCEMode(t *testing.T) {
	// Plain cross-entropy mode with the gate wide open: both foreground
	// pixels participate and every reduction is an unweighted mean.
	cfg := testConfig()
	cfg.PseudoLossType = PseudoLossCE
	cfg.PseudoThreshold = 0
	loss, err := NewChartLoss(cfg)
	if err != nil {
		t.Fatalf("NewChartLoss failed: %v", err)
	}
	losses, err := loss.Compute(testProposals(t, true), testOutputs(t), nil)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	// Pixel (0,1): student (0.2,0.5,0.3) against top channel 1.
	// Pixel (1,0): student (0.1,0.2,0.7) against top channel 2.
	ce1 := math.Log(math.Exp(0.2)+math.Exp(0.5)+math.Exp(0.3)) - 0.5
	ce2 := math.Log(math.Exp(0.1)+math.Exp(0.2)+math.Exp(0.7)) - 0.7
	wantValue(t, losses, KeyPseudoSegm, (ce1+ce2)/2*5)

	// U picks: 0.45 vs 0.65 and 0.15 vs 0.35, both 0.02.
	wantValue(t, losses, KeyPseudoU, 0.02*6)
	// V picks: 0.55 vs 0.95 (0.08) and 0.0 vs 0.15 (0.01125).
	wantValue(t, losses, KeyPseudoV, (0.08+0.01125)/2*6)
}

func TestChartLossIdempotent(t *testing.T) {
	loss, err := NewChartLoss(testConfig())
	if err != nil {
		t.Fatalf("NewChartLoss failed: %v", err)
	}
	outputs := testOutputs(t)
	corrections := testCorrections(t)
	proposals := testProposals(t, true)

	first, err := loss.Compute(proposals, outputs, corrections)
	if err != nil {
		t.Fatalf("first Compute failed: %v", err)
	}
	second, err := loss.Compute(proposals, outputs, corrections)
	if err != nil {
		t.Fatalf("second Compute failed: %v", err)
	}
	for _, key := range first.Keys() {
		a, err := first[key].Item()
		if err != nil {
			t.Fatalf("%s: Item failed: %v", key, err)
		}
		b, err := second[key].Item()
		if err != nil {
			t.Fatalf("%s: Item failed: %v", key, err)
		}
		if a != b {
			t.Errorf("%s: repeated evaluation changed the value: %g vs %g", key, a, b)
		}
	}
}

func TestChartLossValidation(t *testing.T) {
	t.Run("Invalid config rejected", func(t *testing.T) {
		cfg := testConfig()
		cfg.PseudoThreshold = 1.5
		if _, err := NewChartLoss(cfg); err == nil {
			t.Error("expected error for out-of-range threshold")
		}
	})

	t.Run("Nil outputs rejected", func(t *testing.T) {
		loss, err := NewChartLoss(testConfig())
		if err != nil {
			t.Fatalf("NewChartLoss failed: %v", err)
		}
		if _, err := loss.Compute(nil, nil, nil); err == nil {
			t.Error("expected error for nil outputs")
		}
	})

	t.Run("Heatmap size mismatch rejected", func(t *testing.T) {
		loss, err := NewChartLoss(testConfig())
		if err != nil {
			t.Fatalf("NewChartLoss failed: %v", err)
		}
		big := &structures.ChartPredictorOutput{
			CoarseSegm: zerosGrad(t, []int{2, 2, 3, 3}),
			FineSegm:   zerosGrad(t, []int{2, 3, 3, 3}),
			U:          zerosGrad(t, []int{2, 3, 3, 3}),
			V:          zerosGrad(t, []int{2, 3, 3, 3}),
		}
		if _, err := loss.Compute(nil, big, nil); err == nil {
			t.Error("expected error for mismatched heatmap size")
		}
	})

	t.Run("Channel count mismatch rejected", func(t *testing.T) {
		loss, err := NewChartLoss(testConfig())
		if err != nil {
			t.Fatalf("NewChartLoss failed: %v", err)
		}
		wide := &structures.ChartPredictorOutput{
			CoarseSegm: zerosGrad(t, []int{2, 2, 2, 2}),
			FineSegm:   zerosGrad(t, []int{2, 4, 2, 2}),
			U:          zerosGrad(t, []int{2, 4, 2, 2}),
			V:          zerosGrad(t, []int{2, 4, 2, 2}),
		}
		if _, err := loss.Compute(nil, wide, nil); err == nil {
			t.Error("expected error for mismatched channel count")
		}
	})

	t.Run("Correction without abstain channel rejected", func(t *testing.T) {
		loss, err := NewChartLoss(testConfig())
		if err != nil {
			t.Fatalf("NewChartLoss failed: %v", err)
		}
		bad := &structures.CorrectionOutput{
			U:        zerosGrad(t, []int{2, 3, 2, 2}),
			V:        zerosGrad(t, []int{2, 3, 2, 2}),
			FineSegm: zerosGrad(t, []int{2, 3, 2, 2}),
		}
		if _, err := loss.Compute(testProposals(t, true), testOutputs(t), bad); err == nil {
			t.Error("expected error for correction maps without the abstain channel")
		}
	})
}
