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
	"math/rand"

	"github.com/spf13/cast"
)

// Sampler decides the order (and multiplicity) in which a loader visits its
// assigned sample indices. Indices is called once per epoch; implementations
// must derive any randomness from the epoch number so a pass is reproducible.
type Sampler interface {
	// Len returns the number of indices produced per epoch.
	Len() int

	// Indices returns the visit order for the given epoch. The returned
	// slice is owned by the caller.
	Indices(epoch int) []int
}

// SamplerFactory builds a sampler over the given loader-level indices.
// Besides user-configured parameters, the factory map may carry two injected
// entries: the loader's per-sample labels (under the configured label
// parameter name) and the session stream seeds under "seeds".
type SamplerFactory func(indices []int, params map[string]any) (Sampler, error)

// RegisterSampler binds a canonical name to a sampler constructor.
func RegisterSampler(name string, factory SamplerFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	samplerRegistry[name] = factory
}

// NewSampler resolves a registered sampler type by name and builds it.
func NewSampler(name string, indices []int, params map[string]any) (Sampler, error) {
	registryMu.RLock()
	factory, ok := samplerRegistry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, &UnknownTypeError{Kind: "sampler", Name: name}
	}
	return factory(indices, params)
}

// SubsetSequentialSampler visits a fixed index subset in its given order.
type SubsetSequentialSampler struct {
	indices []int
}

// NewSubsetSequentialSampler builds a sequential sampler over indices.
func NewSubsetSequentialSampler(indices []int) *SubsetSequentialSampler {
	return &SubsetSequentialSampler{indices: append([]int(nil), indices...)}
}

func (s *SubsetSequentialSampler) Len() int { return len(s.indices) }

func (s *SubsetSequentialSampler) Indices(epoch int) []int {
	return append([]int(nil), s.indices...)
}

// SubsetRandomSampler visits a fixed index subset in an order reshuffled
// every epoch, seeded from the session seed bundle so epoch order is
// reproducible.
type SubsetRandomSampler struct {
	indices []int
	seed    int64
}

// NewSubsetRandomSampler builds a shuffling sampler seeded from the bundle's
// generic stream seed.
func NewSubsetRandomSampler(indices []int, seeds *SeedBundle) *SubsetRandomSampler {
	var seed int64
	if seeds != nil {
		seed = seeds.Generic
	}
	return &SubsetRandomSampler{indices: append([]int(nil), indices...), seed: seed}
}

func (s *SubsetRandomSampler) Len() int { return len(s.indices) }

func (s *SubsetRandomSampler) Indices(epoch int) []int {
	out := append([]int(nil), s.indices...)
	rng := rand.New(rand.NewSource(s.seed + int64(epoch)))
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// WeightedRandomSampler draws indices with replacement, weighting each
// sample by the inverse frequency of its class label so rare classes are
// oversampled. Registered as "weighted_random"; requires the loader labels
// (enable pass_labels in the sampler config).
type WeightedRandomSampler struct {
	indices []int
	weights []float64
	seed    int64
}

func newWeightedRandomSampler(indices []int, params map[string]any) (Sampler, error) {
	rawLabels, ok := params["labels"]
	if !ok {
		return nil, fmt.Errorf("weighted_random sampler requires labels (set pass_labels in the sampler config)")
	}
	labels, err := cast.ToStringSliceE(rawLabels)
	if err != nil {
		labelSlice, sliceOK := rawLabels.([]string)
		if !sliceOK {
			return nil, fmt.Errorf("weighted_random sampler labels: %w", err)
		}
		labels = labelSlice
	}
	if len(labels) != len(indices) {
		return nil, fmt.Errorf("weighted_random sampler: %d labels for %d indices", len(labels), len(indices))
	}
	counts := map[string]int{}
	for _, label := range labels {
		counts[label]++
	}
	weights := make([]float64, len(indices))
	for i, label := range labels {
		weights[i] = 1.0 / float64(counts[label])
	}
	var seed int64
	if rawSeeds, ok := params["seeds"].(map[Stream]int64); ok {
		seed = rawSeeds[StreamGeneric]
	}
	return &WeightedRandomSampler{
		indices: append([]int(nil), indices...),
		weights: weights,
		seed:    seed,
	}, nil
}

func (s *WeightedRandomSampler) Len() int { return len(s.indices) }

func (s *WeightedRandomSampler) Indices(epoch int) []int {
	rng := rand.New(rand.NewSource(s.seed + int64(epoch)))
	total := 0.0
	for _, w := range s.weights {
		total += w
	}
	out := make([]int, len(s.indices))
	for i := range out {
		draw := rng.Float64() * total
		acc := 0.0
		picked := len(s.indices) - 1
		for j, w := range s.weights {
			acc += w
			if draw < acc {
				picked = j
				break
			}
		}
		out[i] = s.indices[picked]
	}
	return out
}

func init() {
	RegisterSampler("weighted_random", newWeightedRandomSampler)
	RegisterSampler("subset_random", func(indices []int, params map[string]any) (Sampler, error) {
		var bundle *SeedBundle
		if rawSeeds, ok := params["seeds"].(map[Stream]int64); ok {
			bundle = &SeedBundle{Generic: rawSeeds[StreamGeneric]}
		}
		return NewSubsetRandomSampler(indices, bundle), nil
	})
	RegisterSampler("subset_sequential", func(indices []int, params map[string]any) (Sampler, error) {
		return NewSubsetSequentialSampler(indices), nil
	})
}
