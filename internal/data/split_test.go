package data

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plainIndices(n int) []IndexClass {
	out := make([]IndexClass, n)
	for i := range out {
		out[i] = IndexClass{Index: i}
	}
	return out
}

func splitIndexSets(m map[string][]IndexClass) map[string]map[int]bool {
	out := map[string]map[int]bool{}
	for name, pairs := range m {
		set := map[int]bool{}
		for _, pair := range pairs {
			set[pair.Index] = true
		}
		out[name] = set
	}
	return out
}

func TestRawSplitDeterminism(t *testing.T) {
	train := map[string]float64{"mnist": 0.7, "extra": 0.5}
	valid := map[string]float64{"mnist": 0.2, "extra": 0.5}
	test := map[string]float64{"mnist": 0.1}
	input := map[string][]IndexClass{
		"mnist": plainIndices(100),
		"extra": plainIndices(37),
	}

	run := func() *SplitResult {
		engine := newSplitEngine(true, NewSeedBundle(11, 22, 33, 44, 55), train, valid, test)
		result, err := engine.rawSplit(input)
		require.NoError(t, err)
		return result
	}
	first := run()
	second := run()
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("identical seeds produced different splits (-first +second):\n%s", diff)
	}
}

func TestRawSplitDisjointAndBounded(t *testing.T) {
	engine := newSplitEngine(true, NewSeedBundle(1, 2, 3, 4, 5),
		map[string]float64{"ds": 0.6},
		map[string]float64{"ds": 0.2},
		map[string]float64{"ds": 0.2})
	result, err := engine.rawSplit(map[string][]IndexClass{"ds": plainIndices(100)})
	require.NoError(t, err)

	trainSet := splitIndexSets(result.Train)["ds"]
	validSet := splitIndexSets(result.Valid)["ds"]
	testSet := splitIndexSets(result.Test)["ds"]
	assert.Equal(t, 60, len(trainSet))
	assert.Equal(t, 20, len(validSet))
	assert.Equal(t, 20, len(testSet))
	for idx := range trainSet {
		assert.False(t, validSet[idx], "index %d assigned to both train and valid", idx)
		assert.False(t, testSet[idx], "index %d assigned to both train and test", idx)
	}
	for idx := range validSet {
		assert.False(t, testSet[idx], "index %d assigned to both valid and test", idx)
	}
}

func TestRawSplitCoverageNeverExceedsInput(t *testing.T) {
	// Ratios summing above one cannot assign a sample twice; allocation
	// consumes a shared remainder.
	engine := newSplitEngine(true, NewSeedBundle(1, 2, 3, 4, 5),
		map[string]float64{"ds": 0.9},
		map[string]float64{"ds": 0.5},
		nil)
	result, err := engine.rawSplit(map[string][]IndexClass{"ds": plainIndices(50)})
	require.NoError(t, err)
	trainCount, validCount, testCount := result.Counts()
	assert.LessOrEqual(t, trainCount+validCount+testCount, 50)
	assert.Equal(t, 0, testCount)
}

func TestRawSplitTestMembershipStableAcrossValidSeeds(t *testing.T) {
	train := map[string]float64{"ds": 0.7}
	valid := map[string]float64{"ds": 0.2}
	test := map[string]float64{"ds": 0.1}
	input := map[string][]IndexClass{"ds": plainIndices(200)}

	run := func(validSeed int64) map[int]bool {
		engine := newSplitEngine(true, NewSeedBundle(77, validSeed, 3, 4, 5), train, valid, test)
		result, err := engine.rawSplit(input)
		require.NoError(t, err)
		return splitIndexSets(result.Test)["ds"]
	}
	assert.Equal(t, run(100), run(200),
		"test membership must depend only on the test seed")
}

func TestRawSplitNoShuffleIsSequential(t *testing.T) {
	engine := newSplitEngine(false, NewSeedBundle(1, 2, 3, 4, 5),
		map[string]float64{"ds": 0.5},
		nil,
		map[string]float64{"ds": 0.5})
	result, err := engine.rawSplit(map[string][]IndexClass{"ds": plainIndices(10)})
	require.NoError(t, err)
	// Consumption order is test then train.
	wantTest := plainIndices(10)[:5]
	wantTrain := plainIndices(10)[5:]
	assert.Equal(t, wantTest, result.Test["ds"])
	assert.Equal(t, wantTrain, result.Train["ds"])
}

func TestRawSplitTinyRatioYieldsEmptySet(t *testing.T) {
	engine := newSplitEngine(true, NewSeedBundle(1, 2, 3, 4, 5),
		map[string]float64{"ds": 0.99},
		map[string]float64{"ds": 0.001},
		nil)
	result, err := engine.rawSplit(map[string][]IndexClass{"ds": plainIndices(20)})
	require.NoError(t, err)
	assert.Empty(t, result.Valid["ds"])
	assert.NotEmpty(t, result.Train["ds"])
}

func TestRawSplitMissingDataset(t *testing.T) {
	engine := newSplitEngine(true, NewSeedBundle(1, 2, 3, 4, 5),
		map[string]float64{"missing": 0.5}, nil, nil)
	_, err := engine.rawSplit(map[string][]IndexClass{"ds": plainIndices(5)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"missing"`)
}

func TestRawSplitAlwaysInitializesAllEntries(t *testing.T) {
	engine := newSplitEngine(false, NewSeedBundle(1, 2, 3, 4, 5),
		map[string]float64{"ds": 1.0}, nil, nil)
	result, err := engine.rawSplit(map[string][]IndexClass{"ds": plainIndices(5)})
	require.NoError(t, err)
	for _, m := range []map[string][]IndexClass{result.Train, result.Valid, result.Test} {
		_, ok := m["ds"]
		assert.True(t, ok, "every touched dataset must have an entry in every split map")
	}
}

func TestRawSplitDoesNotMutateInput(t *testing.T) {
	input := map[string][]IndexClass{"ds": plainIndices(30)}
	want := plainIndices(30)
	engine := newSplitEngine(true, NewSeedBundle(9, 8, 7, 6, 5),
		map[string]float64{"ds": 0.5},
		map[string]float64{"ds": 0.3},
		map[string]float64{"ds": 0.2})
	_, err := engine.rawSplit(input)
	require.NoError(t, err)
	assert.Equal(t, want, input["ds"])
}
