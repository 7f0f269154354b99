package structures

import (
	"fmt"
)

// Instances pairs one image's region proposals with their matched ground
// truth. All three lists are aligned by proposal: Annotations[i] is nil when
// proposal i has no dense-correspondence ground truth.
type Instances struct {
	ProposalBoxes []BoxXYWH
	GTBoxes       []BoxXYWH
	Annotations   []*DensePoseAnnotation
}

// Len returns the number of proposals in the image.
func (in *Instances) Len() int {
	return len(in.ProposalBoxes)
}

// Validate checks that the proposal, ground-truth box, and annotation lists
// are aligned and that every non-nil annotation is internally consistent.
func (in *Instances) Validate() error {
	if len(in.GTBoxes) != len(in.ProposalBoxes) {
		return fmt.Errorf("instances have %d proposal boxes but %d ground-truth boxes", len(in.ProposalBoxes), len(in.GTBoxes))
	}
	if len(in.Annotations) != len(in.ProposalBoxes) {
		return fmt.Errorf("instances have %d proposal boxes but %d annotation slots", len(in.ProposalBoxes), len(in.Annotations))
	}
	for i, ann := range in.Annotations {
		if ann == nil {
			continue
		}
		if err := ann.Validate(); err != nil {
			return fmt.Errorf("annotation %d: %v", i, err)
		}
	}
	return nil
}
