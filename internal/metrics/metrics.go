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

// Package metrics implements the evaluation metrics accumulated during
// training and evaluation passes, their epoch-indexed history, and the
// Prometheus instrumentation of the training loop.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Metric accumulates prediction/target pairs over one pass and reduces them
// to a single value. Implementations are not safe for concurrent use; the
// trainer updates metrics from its consumption loop only.
type Metric interface {
	// Name returns the canonical metric name.
	Name() string

	// Update accumulates one prediction. Scores holds one class score per
	// class index; target is the ground-truth class index.
	Update(scores []float64, target int)

	// Value reduces the accumulated observations. NaN is never returned; a
	// metric with no observations reports 0.
	Value() float64

	// Reset clears accumulated state for the next pass.
	Reset()
}

// HigherIsBetter reports the improvement direction for a known metric name,
// defaulting to true for unknown names.
func HigherIsBetter(name string) bool {
	switch name {
	case "loss", "error":
		return false
	default:
		return true
	}
}

func argmax(scores []float64) int {
	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}
	return best
}

// Accuracy is the fraction of predictions whose top score matches the
// target class.
type Accuracy struct {
	correct int
	total   int
}

func NewAccuracy() *Accuracy { return &Accuracy{} }

func (a *Accuracy) Name() string { return "accuracy" }

func (a *Accuracy) Update(scores []float64, target int) {
	if len(scores) == 0 {
		return
	}
	a.total++
	if argmax(scores) == target {
		a.correct++
	}
}

func (a *Accuracy) Value() float64 {
	if a.total == 0 {
		return 0
	}
	return float64(a.correct) / float64(a.total)
}

func (a *Accuracy) Reset() { a.correct, a.total = 0, 0 }

// ConfusionMatrix counts (target, predicted) pairs over the class list it
// was built with. Its Value is the overall accuracy; the full matrix is
// available through Matrix and String.
type ConfusionMatrix struct {
	classes []string
	counts  [][]int
	total   int
	correct int
}

func NewConfusionMatrix(classes []string) *ConfusionMatrix {
	counts := make([][]int, len(classes))
	for i := range counts {
		counts[i] = make([]int, len(classes))
	}
	return &ConfusionMatrix{classes: append([]string(nil), classes...), counts: counts}
}

func (m *ConfusionMatrix) Name() string { return "confusion" }

func (m *ConfusionMatrix) Update(scores []float64, target int) {
	if len(scores) == 0 || target < 0 || target >= len(m.classes) {
		return
	}
	pred := argmax(scores)
	if pred >= len(m.classes) {
		return
	}
	m.counts[target][pred]++
	m.total++
	if pred == target {
		m.correct++
	}
}

func (m *ConfusionMatrix) Value() float64 {
	if m.total == 0 {
		return 0
	}
	return float64(m.correct) / float64(m.total)
}

func (m *ConfusionMatrix) Reset() {
	for i := range m.counts {
		for j := range m.counts[i] {
			m.counts[i][j] = 0
		}
	}
	m.total, m.correct = 0, 0
}

// Matrix returns a copy of the counts, indexed [target][predicted].
func (m *ConfusionMatrix) Matrix() [][]int {
	out := make([][]int, len(m.counts))
	for i, row := range m.counts {
		out[i] = append([]int(nil), row...)
	}
	return out
}

func (m *ConfusionMatrix) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%12s", "")
	for _, c := range m.classes {
		fmt.Fprintf(&b, "%12s", c)
	}
	b.WriteString("\n")
	for i, c := range m.classes {
		fmt.Fprintf(&b, "%12s", c)
		for j := range m.classes {
			fmt.Fprintf(&b, "%12d", m.counts[i][j])
		}
		b.WriteString("\n")
	}
	return b.String()
}

// MetricFactory builds a metric from configuration parameters.
type MetricFactory func(params map[string]any) (Metric, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]MetricFactory{}
)

// Register binds a canonical name to a metric constructor.
func Register(name string, factory MetricFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// New resolves a registered metric type by name and builds it.
func New(name string, params map[string]any) (Metric, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown metric type %q", name)
	}
	return factory(params)
}

// Registered returns the sorted names of all registered metric types.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register("accuracy", func(params map[string]any) (Metric, error) {
		return NewAccuracy(), nil
	})
}
