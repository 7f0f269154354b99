package losses

import (
	"fmt"

	"github.com/visionkit/go-densepose/structures"
	"github.com/visionkit/go-densepose/tensor"
)

// fakeScalar builds a zero-valued scalar that still references t, so the
// computation graph reaches the prediction even when a batch contributes no
// ground truth. Distributed training reduces gradients across replicas and
// needs every replica to touch the same parameters.
func fakeScalar(t *tensor.Tensor) (*tensor.Tensor, error) {
	sum, err := tensor.Sum(t)
	if err != nil {
		return nil, err
	}
	return tensor.Scale(sum, 0)
}

// fakeLosses emits the full key set with zero values.
func (l *ChartLoss) fakeLosses(outputs *structures.ChartPredictorOutput, corrections *structures.CorrectionOutput) (LossMap, error) {
	losses := LossMap{}
	if err := l.fakeUVLosses(losses, outputs, corrections); err != nil {
		return nil, err
	}
	if err := l.fakeSegmLosses(losses, outputs, corrections); err != nil {
		return nil, err
	}
	if err := l.fakeUnsupLosses(losses, outputs); err != nil {
		return nil, err
	}
	return losses, nil
}

func (l *ChartLoss) fakeUVLosses(losses LossMap, outputs *structures.ChartPredictorOutput, corrections *structures.CorrectionOutput) error {
	var err error
	if losses[KeyU], err = fakeScalar(outputs.U); err != nil {
		return fmt.Errorf("fake %s: %v", KeyU, err)
	}
	if losses[KeyV], err = fakeScalar(outputs.V); err != nil {
		return fmt.Errorf("fake %s: %v", KeyV, err)
	}
	if corrections != nil {
		if losses[KeyCorrectionU], err = fakeScalar(corrections.U); err != nil {
			return fmt.Errorf("fake %s: %v", KeyCorrectionU, err)
		}
		if losses[KeyCorrectionV], err = fakeScalar(corrections.V); err != nil {
			return fmt.Errorf("fake %s: %v", KeyCorrectionV, err)
		}
	}
	return nil
}

func (l *ChartLoss) fakeSegmLosses(losses LossMap, outputs *structures.ChartPredictorOutput, corrections *structures.CorrectionOutput) error {
	var err error
	if losses[KeyFineSegm], err = fakeScalar(outputs.FineSegm); err != nil {
		return fmt.Errorf("fake %s: %v", KeyFineSegm, err)
	}
	if losses[KeyCoarseSegm], err = l.segmLoss.FakeValue(outputs); err != nil {
		return fmt.Errorf("fake %s: %v", KeyCoarseSegm, err)
	}
	if corrections != nil {
		if losses[KeyCorrectionFineSegm], err = fakeScalar(corrections.FineSegm); err != nil {
			return fmt.Errorf("fake %s: %v", KeyCorrectionFineSegm, err)
		}
	}
	return nil
}

// fakeUnsupLosses references the student maps, not the pseudo labels, so the
// graph shape matches the real pseudo branch.
func (l *ChartLoss) fakeUnsupLosses(losses LossMap, outputs *structures.ChartPredictorOutput) error {
	var err error
	if losses[KeyPseudoSegm], err = fakeScalar(outputs.FineSegm); err != nil {
		return fmt.Errorf("fake %s: %v", KeyPseudoSegm, err)
	}
	if losses[KeyPseudoU], err = fakeScalar(outputs.U); err != nil {
		return fmt.Errorf("fake %s: %v", KeyPseudoU, err)
	}
	if losses[KeyPseudoV], err = fakeScalar(outputs.V); err != nil {
		return fmt.Errorf("fake %s: %v", KeyPseudoV, err)
	}
	return nil
}
