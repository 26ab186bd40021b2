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

	"github.com/visiontrain/visiontrain/internal/task"
)

// Transform mutates or augments a sample. Implementations must be safe to
// copy: each loader worker operates on its own transform chain.
type Transform interface {
	Apply(sample task.Sample) (task.Sample, error)
	Copy() Transform
}

// Seedable is implemented by randomized transforms. Loader workers reseed
// their transform chains at every epoch according to the worker seeding
// policy, so augmentation patterns differ across workers and epochs while
// staying reproducible.
type Seedable interface {
	Seed(seed int64)
}

// TransformFactory builds a transform from its configuration parameters.
type TransformFactory func(params map[string]any) (Transform, error)

// RegisterTransform binds a canonical name to a transform constructor.
func RegisterTransform(name string, factory TransformFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	xformRegistry[name] = factory
}

// NewTransform resolves a registered transform type by name and builds it.
func NewTransform(name string, params map[string]any) (Transform, error) {
	registryMu.RLock()
	factory, ok := xformRegistry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, &UnknownTypeError{Kind: "transform", Name: name}
	}
	return factory(params)
}

// Compose chains transforms, applying them in order.
type Compose []Transform

func (c Compose) Apply(sample task.Sample) (task.Sample, error) {
	var err error
	for _, t := range c {
		if t == nil {
			continue
		}
		if sample, err = t.Apply(sample); err != nil {
			return nil, err
		}
	}
	return sample, nil
}

func (c Compose) Copy() Transform {
	out := make(Compose, len(c))
	for i, t := range c {
		if t != nil {
			out[i] = t.Copy()
		}
	}
	return out
}

// Seed forwards the seed to every seedable member, offsetting by position so
// chained randomized transforms do not mirror each other.
func (c Compose) Seed(seed int64) {
	for i, t := range c {
		if s, ok := t.(Seedable); ok {
			s.Seed(seed + int64(i))
		}
	}
}

// LoadTransforms builds a Compose from a configuration list of
// {type, params} stages.
func LoadTransforms(stages []any) (Compose, error) {
	out := make(Compose, 0, len(stages))
	for i, raw := range stages {
		m, err := cast.ToStringMapE(raw)
		if err != nil {
			return nil, fmt.Errorf("transform stage %d: %w", i, err)
		}
		name, err := cast.ToStringE(m["type"])
		if err != nil || name == "" {
			return nil, fmt.Errorf("transform stage %d: missing 'type'", i)
		}
		params := map[string]any{}
		if p, ok := m["params"]; ok && p != nil {
			if params, err = cast.ToStringMapE(p); err != nil {
				return nil, fmt.Errorf("transform stage %d: %w", i, err)
			}
		}
		t, err := NewTransform(name, params)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// FuncTransform adapts a plain function into a stateless Transform.
type FuncTransform func(sample task.Sample) (task.Sample, error)

func (f FuncTransform) Apply(sample task.Sample) (task.Sample, error) { return f(sample) }
func (f FuncTransform) Copy() Transform                               { return f }

// RandomizedTransform is a base for transforms that consume randomness; it
// owns an RNG reseeded by the worker seeding policy.
type RandomizedTransform struct {
	rng *rand.Rand
}

// Seed resets the transform's RNG stream.
func (t *RandomizedTransform) Seed(seed int64) {
	t.rng = rand.New(rand.NewSource(seed))
}

// RNG returns the transform's RNG, creating an unseeded one on first use so
// transforms still work outside a managed loader.
func (t *RandomizedTransform) RNG() *rand.Rand {
	if t.rng == nil {
		t.rng = rand.New(rand.NewSource(0))
	}
	return t.rng
}
