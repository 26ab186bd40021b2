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
	"math"
	"sort"

	"github.com/visiontrain/visiontrain/internal/logging"
)

// IndexClass pairs a sample index (within its source dataset) with the class
// label it was stratified under; Class is empty when balancing is inactive
// or the sample is unlabeled.
type IndexClass struct {
	Index int
	Class string
}

// SplitResult maps dataset names to the index/class pairs assigned to each
// of the three splits. For any dataset the three index sets are pairwise
// disjoint; a dataset touched by the split always has an entry in every map,
// possibly empty.
type SplitResult struct {
	Train map[string][]IndexClass
	Valid map[string][]IndexClass
	Test  map[string][]IndexClass
}

// Counts returns per-split totals, for reports.
func (r *SplitResult) Counts() (train, valid, test int) {
	for _, idxs := range r.Train {
		train += len(idxs)
	}
	for _, idxs := range r.Valid {
		valid += len(idxs)
	}
	for _, idxs := range r.Test {
		test += len(idxs)
	}
	return train, valid, test
}

// splitEngine computes disjoint test/valid/train subsets of per-dataset
// index lists according to configured ratio maps, using a single shared
// shuffle order per dataset. Splits are always consumed in the fixed order
// test, valid, train: the test-selection shuffle is seeded separately from
// the valid/train shuffle so test membership stays stable when only the
// valid seed changes.
type splitEngine struct {
	shuffle    bool
	seeds      *SeedBundle
	trainSplit map[string]float64
	validSplit map[string]float64
	testSplit  map[string]float64
	totalUsage map[string]float64
}

func newSplitEngine(shuffle bool, seeds *SeedBundle, train, valid, test map[string]float64) *splitEngine {
	usage := map[string]float64{}
	for _, ratios := range []map[string]float64{train, valid, test} {
		for name, ratio := range ratios {
			usage[name] += ratio
		}
	}
	return &splitEngine{
		shuffle:    shuffle,
		seeds:      seeds,
		trainSplit: train,
		validSplit: valid,
		testSplit:  test,
		totalUsage: usage,
	}
}

// datasetNames returns the datasets touched by any split, in lexical order.
// All iteration below runs in this order so that a fixed seed bundle yields
// bit-identical splits across runs.
func (e *splitEngine) datasetNames() []string {
	names := make([]string, 0, len(e.totalUsage))
	for name := range e.totalUsage {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// rawSplit partitions the given per-dataset index lists. The input lists are
// copied up front and never mutated. Reseed sequence when shuffling is
// enabled: test seed, per-dataset shuffle; consume test allocations; valid
// seed, reshuffle of each dataset's unconsumed tail; consume valid and train
// allocations; array seed, restoring the stream's documented default state.
func (e *splitEngine) rawSplit(indices map[string][]IndexClass) (*SplitResult, error) {
	names := e.datasetNames()
	for _, name := range names {
		if _, ok := indices[name]; !ok {
			return nil, fmt.Errorf("dataset %q referenced by a split does not exist", name)
		}
	}

	work := make(map[string][]IndexClass, len(indices))
	result := &SplitResult{
		Train: make(map[string][]IndexClass, len(indices)),
		Valid: make(map[string][]IndexClass, len(indices)),
		Test:  make(map[string][]IndexClass, len(indices)),
	}
	for name, idxs := range indices {
		work[name] = append([]IndexClass(nil), idxs...)
		result.Train[name] = []IndexClass{}
		result.Valid[name] = []IndexClass{}
		result.Test[name] = []IndexClass{}
	}

	if e.shuffle {
		e.seeds.ReseedArray(e.seeds.Test, "test split selection")
		for _, name := range names {
			idxs := work[name]
			e.seeds.ShuffleArray(len(idxs), func(i, j int) {
				idxs[i], idxs[j] = idxs[j], idxs[i]
			})
		}
	}

	offsets := make(map[string]int, len(names))
	phases := []struct {
		out    map[string][]IndexClass
		ratios map[string]float64
	}{
		{result.Test, e.testSplit},
		{result.Valid, e.validSplit},
		{result.Train, e.trainSplit},
	}
	for phaseIdx, phase := range phases {
		for _, name := range names {
			ratio, ok := phase.ratios[name]
			if !ok {
				continue
			}
			count := int(math.Round(ratio * float64(len(work[name]))))
			if count < 0 {
				return nil, fmt.Errorf("computed a negative sample count for dataset %q", name)
			}
			if count < 1 && len(work[name]) > 0 {
				logging.Log.Info("split ratio too small, sample set will be empty", "dataset", name)
			}
			beg := offsets[name]
			end := min(beg+count, len(work[name]))
			phase.out[name] = append([]IndexClass{}, work[name][beg:end]...)
			offsets[name] = end
		}
		// All test allocations are consumed after the first phase; decouple
		// the valid/train selection from the test shuffle by reshuffling the
		// unconsumed tail of every dataset under the valid seed.
		if phaseIdx == 0 && e.shuffle {
			e.seeds.ReseedArray(e.seeds.Valid, "train/valid split selection")
			for _, name := range names {
				tail := work[name][offsets[name]:]
				e.seeds.ShuffleArray(len(tail), func(i, j int) {
					tail[i], tail[j] = tail[j], tail[i]
				})
			}
		}
	}

	if e.shuffle {
		e.seeds.ReseedArray(e.seeds.Array, "restore array stream default")
	}
	return result, nil
}

// merge appends the per-class split of one class into the accumulated
// result, preserving per-dataset grouping.
func (r *SplitResult) merge(part *SplitResult) {
	for dst, src := range map[*map[string][]IndexClass]map[string][]IndexClass{
		&r.Train: part.Train,
		&r.Valid: part.Valid,
		&r.Test:  part.Test,
	} {
		if *dst == nil {
			*dst = map[string][]IndexClass{}
		}
		for name, idxs := range src {
			if _, ok := (*dst)[name]; !ok {
				(*dst)[name] = []IndexClass{}
			}
			(*dst)[name] = append((*dst)[name], idxs...)
		}
	}
}
