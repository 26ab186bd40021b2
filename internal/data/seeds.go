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

package data

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/visiontrain/visiontrain/internal/config"
	"github.com/visiontrain/visiontrain/internal/logging"
)

// Stream names the independent RNG streams managed by a SeedBundle.
type Stream string

const (
	// StreamGeneric feeds miscellaneous randomized operations (augmentation
	// parameter draws, generic sampling).
	StreamGeneric Stream = "random"
	// StreamArray feeds array/index shuffling, including split selection.
	StreamArray Stream = "array"
	// StreamTensor feeds numeric/tensor initialization.
	StreamTensor Stream = "tensor"
)

// seedRange bounds randomly generated fallback seeds.
const seedRange = 1 << 16

// SeedBundle holds the resolved seeds of a session and owns the three live
// RNG streams they seed. It is created once at subsystem construction and
// passed by reference through the pipeline; every reseed of a stream goes
// through an explicit, logged call so the sequence of reseed events is
// auditable and reproducible.
type SeedBundle struct {
	// Test and Valid seed the split-selection shuffles.
	Test  int64
	Valid int64
	// Tensor, Array and Generic seed the three live streams.
	Tensor  int64
	Array   int64
	Generic int64

	tensorRNG  *rand.Rand
	arrayRNG   *rand.Rand
	genericRNG *rand.Rand
}

// ResolveSeeds resolves the five session seeds from configuration and seeds
// the three streams. Missing seeds are drawn from [0, 65536) using a
// freshly time-seeded generator and logged so a session stays reproducible
// from its log output. A user-supplied seed of the wrong type is a fatal
// configuration error.
func ResolveSeeds(cfg *config.Config) (*SeedBundle, error) {
	seeder := rand.New(rand.NewSource(time.Now().UnixNano()))
	resolve := func(allowString bool, keys ...string) (int64, error) {
		for _, key := range keys {
			raw, ok := cfg.Raw(key)
			if !ok {
				continue
			}
			seed, err := coerceSeed(raw, allowString)
			if err != nil {
				return 0, fmt.Errorf("config key %q: %w", key, err)
			}
			return seed, nil
		}
		seed := seeder.Int63n(seedRange)
		logging.Log.Info("seed not configured, generated one", "key", keys[0], "seed", seed)
		return seed, nil
	}

	bundle := &SeedBundle{}
	var err error
	if bundle.Test, err = resolve(true, "test_seed", "test_split_seed"); err != nil {
		return nil, err
	}
	if bundle.Valid, err = resolve(true, "valid_seed", "valid_split_seed"); err != nil {
		return nil, err
	}
	if bundle.Tensor, err = resolve(false, "tensor_seed", "torch_seed"); err != nil {
		return nil, err
	}
	if bundle.Array, err = resolve(false, "array_seed", "numpy_seed"); err != nil {
		return nil, err
	}
	if bundle.Generic, err = resolve(false, "random_seed"); err != nil {
		return nil, err
	}
	bundle.ReseedTensor(bundle.Tensor, "session start")
	bundle.ReseedArray(bundle.Array, "session start")
	bundle.ReseedGeneric(bundle.Generic, "session start")
	logging.Log.Info("resolved session seeds",
		"test", bundle.Test, "valid", bundle.Valid,
		"tensor", bundle.Tensor, "array", bundle.Array, "random", bundle.Generic)
	return bundle, nil
}

// NewSeedBundle builds a bundle from explicit seed values; used by tests and
// resumed sessions that restore a recorded seed set.
func NewSeedBundle(test, valid, tensor, array, generic int64) *SeedBundle {
	b := &SeedBundle{Test: test, Valid: valid, Tensor: tensor, Array: array, Generic: generic}
	b.tensorRNG = rand.New(rand.NewSource(tensor))
	b.arrayRNG = rand.New(rand.NewSource(array))
	b.genericRNG = rand.New(rand.NewSource(generic))
	return b
}

func coerceSeed(raw any, allowString bool) (int64, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float64:
		// JSON decodes integers as float64; accept integral values only.
		if v == float64(int64(v)) {
			return int64(v), nil
		}
		return 0, fmt.Errorf("seed must be an integer, got %v", v)
	case string:
		if !allowString {
			return 0, fmt.Errorf("seed must be an integer, got string %q", v)
		}
		return hashSeed(v), nil
	default:
		return 0, fmt.Errorf("seed must be an integer, got %T", raw)
	}
}

// hashSeed maps a string seed to a deterministic int64 (FNV-1a).
func hashSeed(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64() & (1<<63 - 1))
}

// ReseedTensor resets the tensor stream. Every reseed is logged.
func (b *SeedBundle) ReseedTensor(seed int64, reason string) {
	logging.Log.V(logging.DEBUG).Info("reseeding tensor stream", "seed", seed, "reason", reason)
	b.tensorRNG = rand.New(rand.NewSource(seed))
}

// ReseedArray resets the array stream used for all index shuffling.
func (b *SeedBundle) ReseedArray(seed int64, reason string) {
	logging.Log.V(logging.DEBUG).Info("reseeding array stream", "seed", seed, "reason", reason)
	b.arrayRNG = rand.New(rand.NewSource(seed))
}

// ReseedGeneric resets the generic stream.
func (b *SeedBundle) ReseedGeneric(seed int64, reason string) {
	logging.Log.V(logging.DEBUG).Info("reseeding generic stream", "seed", seed, "reason", reason)
	b.genericRNG = rand.New(rand.NewSource(seed))
}

// ShuffleArray shuffles n elements through the array stream. Callers must
// have reseeded the stream at the documented point beforehand; interleaving
// unrelated draws between documented reseed points breaks split determinism.
func (b *SeedBundle) ShuffleArray(n int, swap func(i, j int)) {
	if b.arrayRNG == nil {
		b.arrayRNG = rand.New(rand.NewSource(b.Array))
	}
	b.arrayRNG.Shuffle(n, swap)
}

// GenericRNG exposes the generic stream.
func (b *SeedBundle) GenericRNG() *rand.Rand {
	if b.genericRNG == nil {
		b.genericRNG = rand.New(rand.NewSource(b.Generic))
	}
	return b.genericRNG
}

// StreamSeeds returns the per-stream base seeds handed to loaders for the
// worker seeding policy.
func (b *SeedBundle) StreamSeeds() map[Stream]int64 {
	return map[Stream]int64{
		StreamTensor:  b.Tensor,
		StreamArray:   b.Array,
		StreamGeneric: b.Generic,
	}
}

// WorkerSeeds derives the per-stream seeds for one worker in one epoch:
// seed + workers*epoch + worker. Within an epoch no two workers share a
// seed, and a worker never reuses a seed across epochs.
func WorkerSeeds(base map[Stream]int64, workers, epoch, worker int) map[Stream]int64 {
	offset := int64(workers)*int64(epoch) + int64(worker)
	out := make(map[Stream]int64, len(base))
	for stream, seed := range base {
		out[stream] = seed + offset
	}
	return out
}
