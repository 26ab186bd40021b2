package train

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visiontrain/visiontrain/internal/task"
)

func featureSample(features []float64) task.Sample {
	return task.Sample{"input": features}
}

func TestNewLinearScorerValidation(t *testing.T) {
	_, err := NewLinearScorer("input", 0, 2, 0.1)
	require.Error(t, err)
	_, err = NewLinearScorer("input", 2, 1, 0.1)
	require.Error(t, err)
	m, err := NewLinearScorer("input", 2, 2, -1)
	require.NoError(t, err)
	require.NotNil(t, m)
}

func TestLinearScorerScoreErrors(t *testing.T) {
	m, err := NewLinearScorer("input", 2, 2, 0.1)
	require.NoError(t, err)

	_, err = m.Score(task.Sample{})
	require.Error(t, err)
	_, err = m.Score(task.Sample{"input": "oops"})
	require.Error(t, err)
	_, err = m.Score(featureSample([]float64{1, 2, 3}))
	require.Error(t, err)

	scores, err := m.Score(featureSample([]float64{1, 2}))
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.InDelta(t, 1.0, scores[0]+scores[1], 1e-9, "scores are a probability distribution")
}

func TestLinearScorerLearnsSeparableData(t *testing.T) {
	m, err := NewLinearScorer("input", 2, 2, 0.5)
	require.NoError(t, err)

	samples := []task.Sample{}
	targets := []int{}
	for i := 0; i < 20; i++ {
		samples = append(samples, featureSample([]float64{1, 0}))
		targets = append(targets, 0)
		samples = append(samples, featureSample([]float64{0, 1}))
		targets = append(targets, 1)
	}
	var lastLoss float64
	for step := 0; step < 30; step++ {
		lastLoss, err = m.Fit(samples, targets)
		require.NoError(t, err)
	}
	assert.Less(t, lastLoss, 0.3, "loss should shrink on separable data")

	scores, err := m.Score(featureSample([]float64{1, 0}))
	require.NoError(t, err)
	assert.Greater(t, scores[0], scores[1])
	scores, err = m.Score(featureSample([]float64{0, 1}))
	require.NoError(t, err)
	assert.Greater(t, scores[1], scores[0])
}

func TestLinearScorerFitErrors(t *testing.T) {
	m, err := NewLinearScorer("input", 2, 2, 0.1)
	require.NoError(t, err)

	_, err = m.Fit([]task.Sample{featureSample([]float64{1, 0})}, []int{0, 1})
	require.Error(t, err)
	_, err = m.Fit([]task.Sample{featureSample([]float64{1, 0})}, []int{5})
	require.Error(t, err)
	loss, err := m.Fit(nil, nil)
	require.NoError(t, err)
	assert.Zero(t, loss)
}

func TestLinearScorerStateRoundTrip(t *testing.T) {
	m, err := NewLinearScorer("input", 2, 3, 0.2)
	require.NoError(t, err)
	_, err = m.Fit(
		[]task.Sample{featureSample([]float64{1, 0}), featureSample([]float64{0, 1})},
		[]int{0, 2})
	require.NoError(t, err)

	restored, err := NewLinearScorer("input", 2, 3, 0.2)
	require.NoError(t, err)
	require.NoError(t, restored.LoadState(m.State()))

	input := featureSample([]float64{0.3, 0.7})
	want, err := m.Score(input)
	require.NoError(t, err)
	got, err := restored.Score(input)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, got, 1e-12)
}

func TestLinearScorerLoadStateValidation(t *testing.T) {
	m, err := NewLinearScorer("input", 2, 2, 0.1)
	require.NoError(t, err)

	require.Error(t, m.LoadState(map[string]any{}))
	require.Error(t, m.LoadState(map[string]any{"weights": "nope"}))
	require.Error(t, m.LoadState(map[string]any{"weights": [][]float64{{1, 2, 3}}}))
	require.Error(t, m.LoadState(map[string]any{"weights": [][]float64{{1, 2}, {3, 4}}}))

	// YAML decoding yields []any of []any.
	require.NoError(t, m.LoadState(map[string]any{"weights": []any{
		[]any{0.1, 0.2, 0.3},
		[]any{1, 2, 3},
	}}))
}
