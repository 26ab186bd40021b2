/*
Copyright 2025 The visiontrain Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package train implements the session trainer: the epoch loop over the
// split loaders, metric tracking, and checkpointing of the best model.
package train

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/visiontrain/visiontrain/internal/task"
)

// Model scores samples against a fixed class list and learns from scored
// batches. State round-trips through plain maps so checkpoints stay
// human-readable.
type Model interface {
	// Score returns one score per class index for a sample's input.
	Score(sample task.Sample) ([]float64, error)

	// Fit performs one optimization step over a batch and returns its mean
	// loss.
	Fit(samples []task.Sample, targets []int) (float64, error)

	// State exports the model parameters.
	State() map[string]any

	// LoadState restores parameters exported by State.
	LoadState(state map[string]any) error
}

// LinearScorer is a multinomial logistic regression over fixed-length
// feature vectors, trained with plain SGD. It is the reference Model used
// for pipeline validation runs; feature extraction is expected to have
// happened in the dataset transform chain, leaving a []float64 under the
// task's input key.
type LinearScorer struct {
	inputKey string
	features int
	classes  int
	lr       float64
	// weights is classes rows of features+1 columns, bias last.
	weights [][]float64
}

func NewLinearScorer(inputKey string, features, classes int, lr float64) (*LinearScorer, error) {
	if features < 1 || classes < 2 {
		return nil, fmt.Errorf("linear scorer needs at least 1 feature and 2 classes, got %d/%d", features, classes)
	}
	if lr <= 0 {
		lr = 0.01
	}
	weights := make([][]float64, classes)
	for i := range weights {
		weights[i] = make([]float64, features+1)
	}
	return &LinearScorer{inputKey: inputKey, features: features, classes: classes, lr: lr, weights: weights}, nil
}

func (m *LinearScorer) featuresOf(sample task.Sample) ([]float64, error) {
	raw, ok := sample[m.inputKey]
	if !ok {
		return nil, fmt.Errorf("sample is missing input key %q", m.inputKey)
	}
	vec, ok := raw.([]float64)
	if !ok {
		return nil, fmt.Errorf("sample input must be []float64, got %T", raw)
	}
	if len(vec) != m.features {
		return nil, fmt.Errorf("sample has %d features, model expects %d", len(vec), m.features)
	}
	return vec, nil
}

func (m *LinearScorer) Score(sample task.Sample) ([]float64, error) {
	vec, err := m.featuresOf(sample)
	if err != nil {
		return nil, err
	}
	scores := make([]float64, m.classes)
	for c, row := range m.weights {
		scores[c] = floats.Dot(row[:m.features], vec) + row[m.features]
	}
	return softmax(scores), nil
}

// Fit runs one SGD step with the cross-entropy gradient over the batch.
func (m *LinearScorer) Fit(samples []task.Sample, targets []int) (float64, error) {
	if len(samples) != len(targets) {
		return 0, fmt.Errorf("got %d samples for %d targets", len(samples), len(targets))
	}
	if len(samples) == 0 {
		return 0, nil
	}
	totalLoss := 0.0
	scale := m.lr / float64(len(samples))
	for i, sample := range samples {
		target := targets[i]
		if target < 0 || target >= m.classes {
			return 0, fmt.Errorf("target class %d out of range [0,%d)", target, m.classes)
		}
		vec, err := m.featuresOf(sample)
		if err != nil {
			return 0, err
		}
		probs, err := m.Score(sample)
		if err != nil {
			return 0, err
		}
		totalLoss += -math.Log(math.Max(probs[target], 1e-12))
		for c := 0; c < m.classes; c++ {
			grad := probs[c]
			if c == target {
				grad -= 1
			}
			row := m.weights[c]
			floats.AddScaled(row[:m.features], -scale*grad, vec)
			row[m.features] -= scale * grad
		}
	}
	return totalLoss / float64(len(samples)), nil
}

func (m *LinearScorer) State() map[string]any {
	weights := make([][]float64, len(m.weights))
	for i, row := range m.weights {
		weights[i] = append([]float64(nil), row...)
	}
	return map[string]any{
		"type":      "linear",
		"input_key": m.inputKey,
		"features":  m.features,
		"classes":   m.classes,
		"lr":        m.lr,
		"weights":   weights,
	}
}

func (m *LinearScorer) LoadState(state map[string]any) error {
	raw, ok := state["weights"]
	if !ok {
		return fmt.Errorf("model state is missing weights")
	}
	rows, err := toFloatMatrix(raw)
	if err != nil {
		return fmt.Errorf("model state weights: %w", err)
	}
	if len(rows) != m.classes {
		return fmt.Errorf("model state has %d classes, model expects %d", len(rows), m.classes)
	}
	for i, row := range rows {
		if len(row) != m.features+1 {
			return fmt.Errorf("model state row %d has %d weights, expected %d", i, len(row), m.features+1)
		}
	}
	m.weights = rows
	return nil
}

func softmax(scores []float64) []float64 {
	max := scores[0]
	for _, s := range scores[1:] {
		if s > max {
			max = s
		}
	}
	out := make([]float64, len(scores))
	sum := 0.0
	for i, s := range scores {
		out[i] = math.Exp(s - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// toFloatMatrix tolerates the interface slices produced by YAML decoding.
func toFloatMatrix(raw any) ([][]float64, error) {
	switch v := raw.(type) {
	case [][]float64:
		out := make([][]float64, len(v))
		for i, row := range v {
			out[i] = append([]float64(nil), row...)
		}
		return out, nil
	case []any:
		out := make([][]float64, len(v))
		for i, rawRow := range v {
			switch row := rawRow.(type) {
			case []float64:
				out[i] = append([]float64(nil), row...)
			case []any:
				out[i] = make([]float64, len(row))
				for j, cell := range row {
					switch x := cell.(type) {
					case float64:
						out[i][j] = x
					case int:
						out[i][j] = float64(x)
					default:
						return nil, fmt.Errorf("cell [%d][%d] is not a number: %T", i, j, cell)
					}
				}
			default:
				return nil, fmt.Errorf("row %d is not a float slice: %T", i, rawRow)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("not a float matrix: %T", raw)
	}
}
