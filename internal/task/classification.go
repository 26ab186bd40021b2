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

package task

import (
	"fmt"

	"github.com/visiontrain/visiontrain/internal/logging"
)

// Classification is a task with a fixed, ordered set of class names. The
// groundtruth key holds the class label of each sample.
type Classification struct {
	Base
	classNames   []string
	classIndices map[string]int
}

// NewClassification creates a classification task. Class names must be
// non-empty; duplicated names are kept but disambiguated with a "#index"
// suffix (some public datasets ship duplicate labels).
func NewClassification(classNames []string, inputKey, labelKey string, metaKeys []string) (*Classification, error) {
	if len(classNames) == 0 {
		return nil, fmt.Errorf("classification task needs at least one class")
	}
	if labelKey == "" {
		return nil, fmt.Errorf("classification task needs a label key")
	}
	base, err := New(inputKey, labelKey, metaKeys)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(classNames))
	for _, name := range classNames {
		counts[name]++
	}
	names := make([]string, len(classNames))
	for i, name := range classNames {
		if counts[name] > 1 {
			logging.Log.Info("duplicated class name, disambiguating", "class", name, "index", i)
			names[i] = fmt.Sprintf("%s#%d", name, i)
		} else {
			names[i] = name
		}
	}
	indices := make(map[string]int, len(names))
	for i, name := range names {
		indices[name] = i
	}
	return &Classification{Base: *base, classNames: names, classIndices: indices}, nil
}

// ClassNames returns the ordered class names.
func (c *Classification) ClassNames() []string {
	return append([]string(nil), c.classNames...)
}

// ClassIndex returns the label index for a class name.
func (c *Classification) ClassIndex(name string) (int, bool) {
	idx, ok := c.classIndices[name]
	return idx, ok
}

// ClassSampleMap groups sample indices by class label. Samples without a
// label (missing key, nil, or empty string) are grouped under unsetKey so
// unlabeled data still flows through class-balanced splitting.
func (c *Classification) ClassSampleMap(samples []Sample, unsetKey string) map[string][]int {
	out := make(map[string][]int, len(c.classNames)+1)
	labelKey := c.GroundTruthKey()
	for i, sample := range samples {
		label := unsetKey
		if sample != nil {
			if raw, ok := sample[labelKey]; ok && raw != nil {
				if s, ok := raw.(string); ok && s != "" {
					label = s
				} else if s := fmt.Sprint(raw); s != "" && s != "<nil>" {
					label = s
				}
			}
		}
		if label != unsetKey {
			if _, known := c.classIndices[label]; !known {
				logging.Log.V(logging.DEBUG).Info("sample label not in class list, treating as unset",
					"label", label, "sample", i)
				label = unsetKey
			}
		}
		out[label] = append(out[label], i)
	}
	return out
}

// CheckCompat requires matching i/o keys and an identical ordered class list
// (or the other task being a plain base task with matching keys, which a
// classification task can absorb).
func (c *Classification) CheckCompat(other Task) bool {
	if other == nil {
		return false
	}
	if c.InputKey() != other.InputKey() || c.GroundTruthKey() != other.GroundTruthKey() {
		return false
	}
	oc, ok := other.(*Classification)
	if !ok {
		return true
	}
	if len(c.classNames) != len(oc.classNames) {
		return false
	}
	for i, name := range c.classNames {
		if oc.classNames[i] != name {
			return false
		}
	}
	return true
}

// Merge returns a classification task covering both tasks' meta keys.
func (c *Classification) Merge(other Task) (Task, error) {
	if !c.CheckCompat(other) {
		return nil, fmt.Errorf("incompatible tasks: %v vs %v", c, other)
	}
	return NewClassification(c.classNames, c.InputKey(), c.GroundTruthKey(),
		unionKeys(c.Base.metaKeys, other.MetaKeys()))
}

func (c *Classification) String() string {
	return fmt.Sprintf("Classification{input=%q, label=%q, classes=%d}",
		c.InputKey(), c.GroundTruthKey(), len(c.classNames))
}
