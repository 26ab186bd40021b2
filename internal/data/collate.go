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
	"github.com/visiontrain/visiontrain/internal/task"
)

// Batch is one collated minibatch. Indices are the loader-level (remapped)
// sample indices the batch was built from, in order.
type Batch struct {
	Samples []task.Sample
	Indices []int
}

// Size returns the number of samples in the batch.
func (b Batch) Size() int { return len(b.Samples) }

// CollateFunc folds loaded samples into a batch. The default implementation
// just stacks them; custom collates can merge keys into contiguous buffers.
type CollateFunc func(samples []task.Sample, indices []int) (Batch, error)

// DefaultCollateName is the registry name of the stacking collate.
const DefaultCollateName = "stack"

// DefaultCollate stacks samples without merging their values.
func DefaultCollate(samples []task.Sample, indices []int) (Batch, error) {
	return Batch{Samples: samples, Indices: indices}, nil
}

// RegisterCollate binds a canonical name to a collate function.
func RegisterCollate(name string, fn CollateFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	collateRegistry[name] = fn
}

// NewCollate resolves a registered collate function by name.
func NewCollate(name string) (CollateFunc, error) {
	registryMu.RLock()
	fn, ok := collateRegistry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, &UnknownTypeError{Kind: "collate", Name: name}
	}
	return fn, nil
}

func init() {
	RegisterCollate(DefaultCollateName, DefaultCollate)
}
