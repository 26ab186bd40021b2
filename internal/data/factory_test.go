package data

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visiontrain/visiontrain/internal/config"
	"github.com/visiontrain/visiontrain/internal/task"
)

func baseLoaderConfig(extra map[string]any) *config.Config {
	values := map[string]any{
		"batch_size":  8,
		"train_split": map[string]any{"ds": 0.8},
		"valid_split": map[string]any{"ds": 0.1},
		"test_split":  map[string]any{"ds": 0.1},
		"test_seed":   1,
		"valid_seed":  2,
		"tensor_seed": 3,
		"array_seed":  4,
		"random_seed": 5,
	}
	for k, v := range extra {
		values[k] = v
	}
	return config.FromMap(values)
}

func classifiedDataset(t *testing.T, counts map[string]int) (Parser, *task.Classification) {
	t.Helper()
	classNames := sortedKeys(counts)
	classif, err := task.NewClassification(classNames, "input", "label", nil)
	require.NoError(t, err)
	var samples []task.Sample
	for _, class := range classNames {
		for i := 0; i < counts[class]; i++ {
			samples = append(samples, task.Sample{"input": len(samples), "label": class})
		}
	}
	return NewSliceParser(samples, classif), classif
}

func TestNewLoaderFactoryBatchSizeConflict(t *testing.T) {
	_, err := NewLoaderFactory(baseLoaderConfig(map[string]any{
		"train_batch_size": 16,
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch_size")
}

func TestNewLoaderFactoryRequiresASplit(t *testing.T) {
	_, err := NewLoaderFactory(config.FromMap(map[string]any{"batch_size": 8}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one loader type")
}

func TestNewLoaderFactoryRatioRange(t *testing.T) {
	_, err := NewLoaderFactory(baseLoaderConfig(map[string]any{
		"train_split": map[string]any{"ds": 1.5},
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[0,1]")
}

func TestNewLoaderFactorySamplerNeedsType(t *testing.T) {
	_, err := NewLoaderFactory(baseLoaderConfig(map[string]any{
		"sampler": map[string]any{"pass_labels": true},
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'type'")
}

func TestNewLoaderFactoryUnknownCollate(t *testing.T) {
	_, err := NewLoaderFactory(baseLoaderConfig(map[string]any{
		"collate_fn": "bogus",
	}))
	require.Error(t, err)
	var unknown *UnknownTypeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "collate", unknown.Kind)
}

func TestUsageAboveOneIsNormalized(t *testing.T) {
	factory, err := NewLoaderFactory(baseLoaderConfig(map[string]any{
		"train_split": map[string]any{"ds": 0.9},
		"valid_split": map[string]any{},
		"test_split":  map[string]any{"ds": 0.3},
		"shuffle":     false,
	}))
	require.NoError(t, err)

	parser := NewSliceParser(makeSamples(100, "x"), nil)
	split, err := factory.GetSplit(map[string]Parser{"ds": parser}, nil)
	require.NoError(t, err)
	trainCount, validCount, testCount := split.Counts()
	assert.Equal(t, 75, trainCount)
	assert.Equal(t, 0, validCount)
	assert.Equal(t, 25, testCount)
}

func TestUsageBelowOneDefaultsToDeny(t *testing.T) {
	factory, err := NewLoaderFactory(baseLoaderConfig(map[string]any{
		"train_split": map[string]any{"ds": 0.4},
		"valid_split": map[string]any{},
		"test_split":  map[string]any{},
		"shuffle":     false,
	}))
	require.NoError(t, err)

	parser := NewSliceParser(makeSamples(100, "x"), nil)
	split, err := factory.GetSplit(map[string]Parser{"ds": parser}, nil)
	require.NoError(t, err)
	trainCount, _, _ := split.Counts()
	assert.Equal(t, 40, trainCount, "without confirmation the ratios stay as configured")
}

func TestUsageBelowOneNormalizedOnConfirm(t *testing.T) {
	var prompted string
	factory, err := NewLoaderFactory(baseLoaderConfig(map[string]any{
		"train_split": map[string]any{"ds": 0.4},
		"valid_split": map[string]any{},
		"test_split":  map[string]any{},
		"shuffle":     false,
	}), WithConfirmFunc(func(prompt string) bool {
		prompted = prompt
		return true
	}))
	require.NoError(t, err)
	assert.Contains(t, prompted, `"ds"`)

	parser := NewSliceParser(makeSamples(100, "x"), nil)
	split, err := factory.GetSplit(map[string]Parser{"ds": parser}, nil)
	require.NoError(t, err)
	trainCount, _, _ := split.Counts()
	assert.Equal(t, 100, trainCount)
}

func TestSkipSplitNormSuppressesPrompt(t *testing.T) {
	_, err := NewLoaderFactory(baseLoaderConfig(map[string]any{
		"train_split":     map[string]any{"ds": 0.4},
		"valid_split":     map[string]any{},
		"test_split":      map[string]any{},
		"skip_split_norm": true,
	}), WithConfirmFunc(func(prompt string) bool {
		t.Fatalf("prompted despite skip_split_norm: %s", prompt)
		return false
	}))
	require.NoError(t, err)
}

func TestGetSplitMissingDataset(t *testing.T) {
	factory, err := NewLoaderFactory(baseLoaderConfig(nil))
	require.NoError(t, err)
	_, err = factory.GetSplit(map[string]Parser{"other": NewSliceParser(nil, nil)}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"ds"`)
}

func TestGetSplitClassBalancedCounts(t *testing.T) {
	parser, classif := classifiedDataset(t, map[string]int{"A": 50, "B": 30, "C": 20})
	factory, err := NewLoaderFactory(baseLoaderConfig(nil))
	require.NoError(t, err)

	split, err := factory.GetSplit(map[string]Parser{"ds": parser}, classif)
	require.NoError(t, err)

	countByClass := func(m map[string][]IndexClass) map[string]int {
		out := map[string]int{}
		for _, pairs := range m {
			for _, pair := range pairs {
				out[pair.Class]++
			}
		}
		return out
	}
	assert.Equal(t, map[string]int{"A": 40, "B": 24, "C": 16}, countByClass(split.Train))
	assert.Equal(t, map[string]int{"A": 5, "B": 3, "C": 2}, countByClass(split.Valid))
	assert.Equal(t, map[string]int{"A": 5, "B": 3, "C": 2}, countByClass(split.Test))
}

func TestGetSplitClassBalancedDisjoint(t *testing.T) {
	parser, classif := classifiedDataset(t, map[string]int{"A": 40, "B": 40})
	factory, err := NewLoaderFactory(baseLoaderConfig(nil))
	require.NoError(t, err)
	split, err := factory.GetSplit(map[string]Parser{"ds": parser}, classif)
	require.NoError(t, err)

	seen := map[int]string{}
	for splitName, m := range map[string]map[string][]IndexClass{
		"train": split.Train, "valid": split.Valid, "test": split.Test,
	} {
		for _, pairs := range m {
			for _, pair := range pairs {
				if prev, dup := seen[pair.Index]; dup {
					t.Fatalf("index %d assigned to both %s and %s", pair.Index, prev, splitName)
				}
				seen[pair.Index] = splitName
			}
		}
	}
	assert.Len(t, seen, 80)
}

func TestGetSplitSkipClassBalancing(t *testing.T) {
	parser, classif := classifiedDataset(t, map[string]int{"A": 90, "B": 10})
	factory, err := NewLoaderFactory(baseLoaderConfig(map[string]any{
		"skip_class_balancing": true,
	}))
	require.NoError(t, err)
	split, err := factory.GetSplit(map[string]Parser{"ds": parser}, classif)
	require.NoError(t, err)
	// Unbalanced splitting carries no class annotation.
	for _, pairs := range split.Train {
		for _, pair := range pairs {
			assert.Empty(t, pair.Class)
		}
	}
}

func TestGetSplitIncompatibleDatasetTask(t *testing.T) {
	parser, _ := classifiedDataset(t, map[string]int{"A": 5, "B": 5})
	other, err := task.NewClassification([]string{"X", "Y"}, "input", "label", nil)
	require.NoError(t, err)
	factory, err := NewLoaderFactory(baseLoaderConfig(nil))
	require.NoError(t, err)
	_, err = factory.GetSplit(map[string]Parser{"ds": parser}, other)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incompatible")
}

func TestCreateLoadersNilForEmptySplit(t *testing.T) {
	factory, err := NewLoaderFactory(baseLoaderConfig(map[string]any{
		"train_split": map[string]any{"ds": 1.0},
		"valid_split": map[string]any{},
		"test_split":  map[string]any{},
		"shuffle":     false,
	}))
	require.NoError(t, err)
	parser := NewSliceParser(makeSamples(20, "x"), nil)
	datasets := map[string]Parser{"ds": parser}
	split, err := factory.GetSplit(datasets, nil)
	require.NoError(t, err)

	train, valid, test, err := factory.CreateLoaders(datasets, split)
	require.NoError(t, err)
	require.NotNil(t, train)
	assert.Nil(t, valid, "a split with no samples yields no loader")
	assert.Nil(t, test)
	assert.Equal(t, 20, train.SampleCount())
}

func TestCreateLoadersCoverDisjointSamples(t *testing.T) {
	parser, classif := classifiedDataset(t, map[string]int{"A": 60, "B": 40})
	factory, err := NewLoaderFactory(baseLoaderConfig(nil))
	require.NoError(t, err)
	datasets := map[string]Parser{"ds": parser}
	split, err := factory.GetSplit(datasets, classif)
	require.NoError(t, err)
	train, valid, test, err := factory.CreateLoaders(datasets, split)
	require.NoError(t, err)

	seen := map[int]bool{}
	for _, loader := range []*Loader{train, valid, test} {
		require.NotNil(t, loader)
		for batch, err := range loader.Iterate(context.Background()) {
			require.NoError(t, err)
			for _, idx := range batch.Indices {
				name, local, err := loader.Resolve(idx)
				require.NoError(t, err)
				assert.Equal(t, "ds", name)
				assert.False(t, seen[local], "sample %d delivered by two loaders", local)
				seen[local] = true
			}
		}
	}
	assert.Len(t, seen, 100)
}

func TestCreateLoadersCustomSamplerReceivesLabels(t *testing.T) {
	parser, classif := classifiedDataset(t, map[string]int{"A": 30, "B": 10})
	factory, err := NewLoaderFactory(baseLoaderConfig(map[string]any{
		"train_split": map[string]any{"ds": 1.0},
		"valid_split": map[string]any{},
		"test_split":  map[string]any{},
		"sampler": map[string]any{
			"type":        "weighted_random",
			"pass_labels": true,
		},
	}))
	require.NoError(t, err)
	datasets := map[string]Parser{"ds": parser}
	split, err := factory.GetSplit(datasets, classif)
	require.NoError(t, err)
	train, _, _, err := factory.CreateLoaders(datasets, split)
	require.NoError(t, err)
	require.NotNil(t, train)
	assert.Equal(t, 40, train.SampleCount())
}
