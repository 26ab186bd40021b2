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

// Package data implements the dataset split and loading subsystem: seeded,
// class-balanced partitioning of datasets into train/valid/test index sets,
// and the batched loaders built on top of those sets.
package data

import (
	"fmt"
	"sort"
	"sync"

	"github.com/visiontrain/visiontrain/internal/task"
)

// Parser is the read-only dataset interface consumed by the split and
// loading machinery. A parser owns its samples; the subsystem never mutates
// them.
type Parser interface {
	// Len returns the number of samples.
	Len() int

	// Sample returns the keyed sample at a 0-based index, with the parser's
	// transform applied.
	Sample(idx int) (task.Sample, error)

	// Task returns the objective this dataset was parsed for, or nil.
	Task() task.Task

	// Transform returns the transform applied to loaded samples, or nil.
	Transform() Transform

	// SetTransform replaces the transform applied to loaded samples.
	SetTransform(t Transform)

	// Copy returns an independent copy of the parser. Parsers that declare
	// themselves share-safe may return a shallow copy; mutation through one
	// copy must never affect another.
	Copy() Parser

	// ShareSafe reports whether the parser holds no per-iteration state and
	// can be shallow-copied between loader workers.
	ShareSafe() bool
}

// LabelLister is an optional fast path for class-balanced splitting: parsers
// that can return all labels without loading samples should implement it.
type LabelLister interface {
	// Labels returns one label per sample, "" for unlabeled samples.
	Labels() []string
}

// UnknownTypeError is returned when a registry lookup fails: the name is not
// bound to any registered constructor.
type UnknownTypeError struct {
	Kind string // "parser", "sampler", "collate", "transform"
	Name string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown %s type %q", e.Kind, e.Name)
}

// ParserFactory builds a parser from its configuration map.
type ParserFactory func(cfg map[string]any) (Parser, error)

var (
	registryMu      sync.RWMutex
	parserRegistry  = map[string]ParserFactory{}
	samplerRegistry = map[string]SamplerFactory{}
	collateRegistry = map[string]CollateFunc{}
	xformRegistry   = map[string]TransformFactory{}
)

// RegisterParser binds a canonical name to a parser constructor. Later
// registrations replace earlier ones.
func RegisterParser(name string, factory ParserFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	parserRegistry[name] = factory
}

// NewParser resolves a registered parser type by name and builds it.
func NewParser(name string, cfg map[string]any) (Parser, error) {
	registryMu.RLock()
	factory, ok := parserRegistry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, &UnknownTypeError{Kind: "parser", Name: name}
	}
	return factory(cfg)
}

// RegisteredParsers returns the sorted names of all registered parser types.
func RegisteredParsers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(parserRegistry))
	for name := range parserRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SliceParser is an in-memory parser over a fixed slice of samples. It is
// the reference Parser implementation and the workhorse of tests.
type SliceParser struct {
	samples   []task.Sample
	taskObj   task.Task
	transform Transform
	shareSafe bool
}

// NewSliceParser wraps a slice of samples. The slice is copied shallowly;
// individual samples are treated as immutable.
func NewSliceParser(samples []task.Sample, t task.Task) *SliceParser {
	return &SliceParser{samples: append([]task.Sample(nil), samples...), taskObj: t}
}

// MarkShareSafe declares the parser free of per-iteration state so loaders
// may shallow-copy it. Returns the parser for chaining.
func (p *SliceParser) MarkShareSafe() *SliceParser {
	p.shareSafe = true
	return p
}

func (p *SliceParser) Len() int { return len(p.samples) }

func (p *SliceParser) Sample(idx int) (task.Sample, error) {
	if idx < 0 || idx >= len(p.samples) {
		return nil, fmt.Errorf("sample index %d out of range [0,%d)", idx, len(p.samples))
	}
	sample := p.samples[idx]
	if p.transform == nil {
		return sample, nil
	}
	// Transforms operate on a copy so the stored sample stays pristine.
	out := make(task.Sample, len(sample))
	for k, v := range sample {
		out[k] = v
	}
	return p.transform.Apply(out)
}

func (p *SliceParser) Task() task.Task          { return p.taskObj }
func (p *SliceParser) Transform() Transform     { return p.transform }
func (p *SliceParser) SetTransform(t Transform) { p.transform = t }
func (p *SliceParser) ShareSafe() bool          { return p.shareSafe }

// Copy returns an independent parser. The sample slice is shared (samples
// are immutable); the transform is copied so augmentation state is not.
func (p *SliceParser) Copy() Parser {
	cp := *p
	if p.transform != nil {
		cp.transform = p.transform.Copy()
	}
	return &cp
}

// Labels implements LabelLister when the parser's task is a classification
// task; it extracts the label value of every sample without transforms.
func (p *SliceParser) Labels() []string {
	labelKey := ""
	if p.taskObj != nil {
		labelKey = p.taskObj.GroundTruthKey()
	}
	labels := make([]string, len(p.samples))
	if labelKey == "" {
		return labels
	}
	for i, sample := range p.samples {
		if raw, ok := sample[labelKey]; ok && raw != nil {
			if s, ok := raw.(string); ok {
				labels[i] = s
			} else {
				labels[i] = fmt.Sprint(raw)
			}
		}
	}
	return labels
}
