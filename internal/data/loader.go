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
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"

	"github.com/visiontrain/visiontrain/internal/task"
)

// concatEntry is one dataset slice inside a loader's concatenated sequence.
// Loader-level indices in [offset, offset+parser.Len()) address this entry.
type concatEntry struct {
	name   string
	parser Parser
	offset int
}

// Loader iterates a split's assigned samples in batches. It owns independent
// copies of the dataset parsers it was built from; iterating one loader
// never observes mutations made through another.
//
// Iteration is restartable: every call to Iterate begins a fresh pass and
// advances the epoch counter, which in turn advances the worker seeding
// policy and the sampler order.
type Loader struct {
	entries   []concatEntry
	length    int
	sampler   Sampler
	batchSize int
	workers   int
	collate   CollateFunc
	pinMemory bool
	dropLast  bool
	seeds     map[Stream]int64

	mu    sync.Mutex
	epoch int
}

type loaderOptions struct {
	batchSize int
	workers   int
	collate   CollateFunc
	pinMemory bool
	dropLast  bool
	seeds     map[Stream]int64
}

func newLoader(entries []concatEntry, sampler Sampler, opts loaderOptions) (*Loader, error) {
	if opts.batchSize <= 0 {
		return nil, fmt.Errorf("invalid batch size %d", opts.batchSize)
	}
	if opts.collate == nil {
		opts.collate = DefaultCollate
	}
	workers := opts.workers
	if workers < 1 {
		workers = 1
	}
	length := 0
	for _, e := range entries {
		length += e.parser.Len()
	}
	return &Loader{
		entries:   entries,
		length:    length,
		sampler:   sampler,
		batchSize: opts.batchSize,
		workers:   workers,
		collate:   opts.collate,
		pinMemory: opts.pinMemory,
		dropLast:  opts.dropLast,
		seeds:     opts.seeds,
	}, nil
}

// SampleCount returns the number of samples visited per epoch.
func (l *Loader) SampleCount() int { return l.sampler.Len() }

// Len returns the number of batches produced per epoch.
func (l *Loader) Len() int {
	n := l.sampler.Len()
	if l.dropLast {
		return n / l.batchSize
	}
	return (n + l.batchSize - 1) / l.batchSize
}

// BatchSize returns the configured batch size.
func (l *Loader) BatchSize() int { return l.batchSize }

// PinMemory reports the pin-memory hint for downstream device transfer; the
// loader itself only records it.
func (l *Loader) PinMemory() bool { return l.pinMemory }

// Epoch returns the epoch number the next Iterate call will run as.
func (l *Loader) Epoch() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.epoch
}

// SetEpoch positions the epoch counter, offsetting worker and sampler RNG
// state; used when resuming a session mid-training.
func (l *Loader) SetEpoch(epoch int) error {
	if epoch < 0 {
		return fmt.Errorf("invalid epoch value %d", epoch)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.epoch = epoch
	return nil
}

// Resolve maps a loader-level index back to its source (dataset name, local
// index) pair by inverse offset subtraction.
func (l *Loader) Resolve(idx int) (string, int, error) {
	entry := sort.Search(len(l.entries), func(i int) bool { return l.entries[i].offset > idx }) - 1
	if idx < 0 || entry < 0 || idx-l.entries[entry].offset >= l.entries[entry].parser.Len() {
		return "", 0, fmt.Errorf("loader index %d out of range [0,%d)", idx, l.length)
	}
	return l.entries[entry].name, idx - l.entries[entry].offset, nil
}

// workerState is the per-worker view of the loader: an independent copy of
// every dataset slice, with randomized transforms reseeded per the worker
// seeding policy. Workers share nothing mutable.
type workerState struct {
	entries []concatEntry
}

func (l *Loader) newWorkerState(epoch, worker int) *workerState {
	seeds := WorkerSeeds(l.seeds, l.workers, epoch, worker)
	entries := make([]concatEntry, len(l.entries))
	for i, e := range l.entries {
		cp := e
		cp.parser = e.parser.Copy()
		if s, ok := cp.parser.Transform().(Seedable); ok {
			s.Seed(seeds[StreamGeneric])
		}
		entries[i] = cp
	}
	return &workerState{entries: entries}
}

func (s *workerState) sample(idx int) (task.Sample, error) {
	entry := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].offset > idx }) - 1
	if entry < 0 || idx-s.entries[entry].offset >= s.entries[entry].parser.Len() {
		return nil, fmt.Errorf("loader index %d out of range", idx)
	}
	return s.entries[entry].parser.Sample(idx - s.entries[entry].offset)
}

func (s *workerState) load(indices []int, collate CollateFunc) (Batch, error) {
	samples := make([]task.Sample, len(indices))
	for i, idx := range indices {
		sample, err := s.sample(idx)
		if err != nil {
			return Batch{}, err
		}
		samples[i] = sample
	}
	return collate(samples, indices)
}

type batchResult struct {
	batch Batch
	err   error
}

// Iterate starts a fresh pass over the loader's samples and yields batches
// in order. The pass uses the loader's worker pool: batches are loaded
// concurrently but always delivered in sampler order. Iteration stops on the
// first load error (yielded with a zero batch) or when ctx is done.
func (l *Loader) Iterate(ctx context.Context) iter.Seq2[Batch, error] {
	l.mu.Lock()
	epoch := l.epoch
	l.epoch++
	l.mu.Unlock()

	order := l.sampler.Indices(epoch)
	var batches [][]int
	for beg := 0; beg < len(order); beg += l.batchSize {
		end := min(beg+l.batchSize, len(order))
		if end-beg < l.batchSize && l.dropLast {
			break
		}
		batches = append(batches, order[beg:end])
	}

	return func(yield func(Batch, error) bool) {
		if len(batches) == 0 {
			return
		}
		ctx, cancel := context.WithCancel(ctx)

		results := make([]chan batchResult, len(batches))
		for i := range results {
			results[i] = make(chan batchResult, 1)
		}
		jobs := make(chan int)
		var wg sync.WaitGroup
		for w := 0; w < l.workers; w++ {
			wg.Add(1)
			go func(worker int) {
				defer wg.Done()
				state := l.newWorkerState(epoch, worker)
				for {
					select {
					case <-ctx.Done():
						return
					case idx, ok := <-jobs:
						if !ok {
							return
						}
						batch, err := state.load(batches[idx], l.collate)
						results[idx] <- batchResult{batch: batch, err: err}
					}
				}
			}(w)
		}
		go func() {
			defer close(jobs)
			for i := range batches {
				select {
				case <-ctx.Done():
					return
				case jobs <- i:
				}
			}
		}()
		defer func() {
			cancel()
			wg.Wait()
		}()

		for i := range batches {
			select {
			case <-ctx.Done():
				return
			case r := <-results[i]:
				if r.err != nil {
					yield(Batch{}, r.err)
					return
				}
				if !yield(r.batch, nil) {
					return
				}
			}
		}
	}
}
