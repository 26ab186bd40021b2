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

// Package task defines training objectives and the sample i/o keys used to
// interpret dataset samples.
//
// Data loaders hand samples around as keyed maps; a Task names the key that
// holds the model input, the key that holds the groundtruth (if any), and any
// extra metadata keys. Specialized tasks (classification) add label handling
// on top.
package task

import (
	"fmt"
	"sort"
)

// Sample is the unit of data exchanged with parsers and loaders: a keyed
// mapping from i/o key to value.
type Sample = map[string]any

// Task is the common interface for training objectives.
type Task interface {
	// InputKey returns the key used to fetch model input from a sample.
	// Never empty: input must always be available.
	InputKey() string

	// GroundTruthKey returns the key used to fetch the groundtruth from a
	// sample, or "" if the task carries no groundtruth.
	GroundTruthKey() string

	// MetaKeys returns extra keys carried in samples for debugging/reports.
	MetaKeys() []string

	// CheckCompat reports whether this task and other can drive the same
	// session (same objective, same i/o keys).
	CheckCompat(other Task) bool

	// Merge returns a task compatible with both this task and other, or an
	// error if no such task exists.
	Merge(other Task) (Task, error)
}

// Base is the minimal task: i/o keys only, no objective specialization.
type Base struct {
	inputKey string
	gtKey    string
	metaKeys []string
}

// New creates a base task from its i/o keys.
func New(inputKey, gtKey string, metaKeys []string) (*Base, error) {
	if inputKey == "" {
		return nil, fmt.Errorf("task input key cannot be empty")
	}
	return &Base{inputKey: inputKey, gtKey: gtKey, metaKeys: append([]string(nil), metaKeys...)}, nil
}

func (t *Base) InputKey() string       { return t.inputKey }
func (t *Base) GroundTruthKey() string { return t.gtKey }
func (t *Base) MetaKeys() []string     { return append([]string(nil), t.metaKeys...) }

// CheckCompat matches base tasks on their i/o keys.
func (t *Base) CheckCompat(other Task) bool {
	if other == nil {
		return false
	}
	if _, specialized := other.(*Classification); specialized {
		return false
	}
	return t.inputKey == other.InputKey() && t.gtKey == other.GroundTruthKey()
}

// Merge unions the meta keys of two compatible base tasks.
func (t *Base) Merge(other Task) (Task, error) {
	if !t.CheckCompat(other) {
		return nil, fmt.Errorf("incompatible tasks: %v vs %v", t, other)
	}
	return New(t.inputKey, t.gtKey, unionKeys(t.metaKeys, other.MetaKeys()))
}

func (t *Base) String() string {
	return fmt.Sprintf("Task{input=%q, gt=%q, meta=%v}", t.inputKey, t.gtKey, t.metaKeys)
}

// MergeAll folds a list of per-dataset tasks into a single global task.
// Nil entries are skipped; an error is returned as soon as two tasks cannot
// be merged. Returns nil when no task is defined at all.
func MergeAll(tasks []Task) (Task, error) {
	var ref Task
	for _, t := range tasks {
		if t == nil {
			continue
		}
		if ref == nil {
			ref = t
			continue
		}
		merged, err := ref.Merge(t)
		if err != nil {
			return nil, err
		}
		ref = merged
	}
	return ref, nil
}

func unionKeys(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, keys := range [][]string{a, b} {
		for _, k := range keys {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
