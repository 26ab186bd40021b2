package data

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visiontrain/visiontrain/internal/config"
)

func TestResolveSeedsFromConfig(t *testing.T) {
	cfg := config.FromMap(map[string]any{
		"test_seed":   1,
		"valid_seed":  2,
		"tensor_seed": 3,
		"array_seed":  4,
		"random_seed": 5,
	})
	bundle, err := ResolveSeeds(cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(1), bundle.Test)
	assert.Equal(t, int64(2), bundle.Valid)
	assert.Equal(t, int64(3), bundle.Tensor)
	assert.Equal(t, int64(4), bundle.Array)
	assert.Equal(t, int64(5), bundle.Generic)
}

func TestResolveSeedsAliases(t *testing.T) {
	cfg := config.FromMap(map[string]any{
		"test_split_seed":  11,
		"valid_split_seed": 12,
		"torch_seed":       13,
		"numpy_seed":       14,
		"random_seed":      15,
	})
	bundle, err := ResolveSeeds(cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(11), bundle.Test)
	assert.Equal(t, int64(12), bundle.Valid)
	assert.Equal(t, int64(13), bundle.Tensor)
	assert.Equal(t, int64(14), bundle.Array)
}

func TestResolveSeedsFallbackRange(t *testing.T) {
	bundle, err := ResolveSeeds(config.FromMap(nil))
	require.NoError(t, err)
	for name, seed := range map[string]int64{
		"test":   bundle.Test,
		"valid":  bundle.Valid,
		"tensor": bundle.Tensor,
		"array":  bundle.Array,
		"random": bundle.Generic,
	} {
		assert.GreaterOrEqual(t, seed, int64(0), "%s seed below fallback range", name)
		assert.Less(t, seed, int64(seedRange), "%s seed above fallback range", name)
	}
}

func TestResolveSeedsStringSplitSeeds(t *testing.T) {
	cfg := config.FromMap(map[string]any{"test_seed": "reproducible-session"})
	first, err := ResolveSeeds(cfg)
	require.NoError(t, err)
	second, err := ResolveSeeds(cfg)
	require.NoError(t, err)
	assert.Equal(t, first.Test, second.Test, "string seeds must hash deterministically")
	assert.GreaterOrEqual(t, first.Test, int64(0))
}

func TestResolveSeedsRejectsBadTypes(t *testing.T) {
	tests := []struct {
		name string
		cfg  map[string]any
	}{
		{"string tensor seed", map[string]any{"tensor_seed": "nope"}},
		{"string array seed", map[string]any{"numpy_seed": "nope"}},
		{"string generic seed", map[string]any{"random_seed": "nope"}},
		{"fractional seed", map[string]any{"test_seed": 1.5}},
		{"bool seed", map[string]any{"valid_seed": true}},
		{"list seed", map[string]any{"random_seed": []any{1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveSeeds(config.FromMap(tt.cfg))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "seed must be an integer")
		})
	}
}

func TestResolveSeedsAcceptsIntegralFloat(t *testing.T) {
	// JSON configs decode integers as float64.
	bundle, err := ResolveSeeds(config.FromMap(map[string]any{"test_seed": float64(42)}))
	require.NoError(t, err)
	assert.Equal(t, int64(42), bundle.Test)
}

func TestWorkerSeedsUniqueness(t *testing.T) {
	base := map[Stream]int64{StreamTensor: 100, StreamArray: 200, StreamGeneric: 300}
	const workers, epochs = 4, 5
	seen := map[Stream]map[int64]string{
		StreamTensor:  {},
		StreamArray:   {},
		StreamGeneric: {},
	}
	for epoch := 0; epoch < epochs; epoch++ {
		for worker := 0; worker < workers; worker++ {
			derived := WorkerSeeds(base, workers, epoch, worker)
			for stream, seed := range derived {
				where := fmt.Sprintf("epoch=%d worker=%d", epoch, worker)
				if prev, dup := seen[stream][seed]; dup {
					t.Fatalf("stream %s seed %d reused at %s (first at %s)", stream, seed, where, prev)
				}
				seen[stream][seed] = where
			}
		}
	}
}

func TestWorkerSeedsFormula(t *testing.T) {
	base := map[Stream]int64{StreamGeneric: 1000}
	derived := WorkerSeeds(base, 4, 3, 2)
	assert.Equal(t, int64(1000+4*3+2), derived[StreamGeneric])
}

func TestHashSeedStable(t *testing.T) {
	assert.Equal(t, hashSeed("abc"), hashSeed("abc"))
	assert.NotEqual(t, hashSeed("abc"), hashSeed("abd"))
}

func TestShuffleArrayFollowsReseed(t *testing.T) {
	shuffleOnce := func() []int {
		bundle := NewSeedBundle(1, 2, 3, 4, 5)
		bundle.ReseedArray(999, "test")
		out := make([]int, 50)
		for i := range out {
			out[i] = i
		}
		bundle.ShuffleArray(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		return out
	}
	assert.Equal(t, shuffleOnce(), shuffleOnce())
}
