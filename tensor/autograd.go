package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Backward runs reverse-mode differentiation from t through the creator graph
// and accumulates gradients on every reachable tensor that requires them.
// When t has no seed gradient it must be a single-element tensor; the seed is
// then set to one.
func (t *Tensor) Backward() error {
	if t.creator == nil && !t.requiresGrad {
		return fmt.Errorf("tensor is not part of an autograd graph")
	}

	if t.grad == nil {
		if t.Size() != 1 {
			return fmt.Errorf("backward without an explicit gradient requires a single-element tensor, got shape %v", t.Shape())
		}
		seed, err := Ones(t.Shape(), Float64)
		if err != nil {
			return fmt.Errorf("failed to seed gradient: %v", err)
		}
		t.grad = seed
	}

	// Reverse topological order guarantees a node's gradient is complete
	// before its creator distributes it to the inputs.
	order := topoOrder(t)
	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		if node.creator == nil || node.grad == nil {
			continue
		}

		grads := node.creator.Backward(node.grad)
		inputs := node.creator.Inputs()
		if len(grads) != len(inputs) {
			return fmt.Errorf("operation returned %d gradients for %d inputs", len(grads), len(inputs))
		}

		for j, input := range inputs {
			if grads[j] == nil || input == nil {
				continue
			}
			if !input.requiresGrad && input.creator == nil {
				continue
			}
			if err := accumulateGrad(input, grads[j]); err != nil {
				return err
			}
		}
	}

	return nil
}

// topoOrder collects the creator graph below root in topological order
// (inputs before the tensors computed from them).
func topoOrder(root *Tensor) []*Tensor {
	var order []*Tensor
	visited := make(map[*Tensor]bool)

	var visit func(t *Tensor)
	visit = func(t *Tensor) {
		if visited[t] {
			return
		}
		visited[t] = true
		if t.creator != nil {
			for _, input := range t.creator.Inputs() {
				if input != nil {
					visit(input)
				}
			}
		}
		order = append(order, t)
	}

	visit(root)
	return order
}

func accumulateGrad(t *Tensor, g *Tensor) error {
	if !shapesEqual(t.Shape(), g.Shape()) {
		return fmt.Errorf("gradient shape %v does not match tensor shape %v", g.Shape(), t.Shape())
	}
	if t.grad == nil {
		t.grad = g
		return nil
	}
	floats.Add(t.grad.Float64s(), g.Float64s())
	return nil
}

// reduceToShape sums a gradient down to the shape of a broadcast input. Only
// the single-element broadcast is supported; matching shapes pass through as
// a copy.
func reduceToShape(grad *Tensor, targetShape []int) *Tensor {
	if shapesEqual(grad.Shape(), targetShape) {
		out := make([]float64, grad.Size())
		copy(out, grad.Float64s())
		return newFloat64(targetShape, out)
	}
	if numElements(targetShape) == 1 {
		return newFloat64(targetShape, []float64{floats.Sum(grad.Float64s())})
	}
	panic(fmt.Sprintf("cannot reduce gradient of shape %v to shape %v", grad.Shape(), targetShape))
}
