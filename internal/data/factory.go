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
	"sort"

	"github.com/spf13/cast"
	"go.uber.org/multierr"

	"github.com/visiontrain/visiontrain/internal/config"
	"github.com/visiontrain/visiontrain/internal/logging"
	"github.com/visiontrain/visiontrain/internal/task"
)

// UnsetClassKey groups unlabeled samples during class-balanced splitting.
const UnsetClassKey = "<unset>"

// ConfirmFunc answers a yes/no question raised during configuration
// resolution (currently only split-ratio normalization). The default
// declines, which matches non-interactive batch runs.
type ConfirmFunc func(prompt string) bool

// Option configures a LoaderFactory.
type Option func(*LoaderFactory)

// WithConfirmFunc installs an interactive confirmation callback.
func WithConfirmFunc(fn ConfirmFunc) Option {
	return func(f *LoaderFactory) { f.confirm = fn }
}

// samplerSettings mirrors the "sampler" config object.
type samplerSettings struct {
	typeName       string
	params         map[string]any
	passLabels     bool
	labelParamName string
	applyTrain     bool
	applyValid     bool
	applyTest      bool
}

// splitAugments is one split's composed augmentation and its placement
// relative to a parser's pre-existing transform chain.
type splitAugments struct {
	transforms Compose
	appendLast bool
}

// LoaderFactory prepares and splits dataset parsers into usable loaders.
// It parses the "loaders" section of a session configuration, resolves the
// seed bundle, computes the train/valid/test index split, and instantiates
// the batch loaders.
type LoaderFactory struct {
	trainBatchSize int
	validBatchSize int
	testBatchSize  int
	trainCollate   CollateFunc
	validCollate   CollateFunc
	testCollate    CollateFunc
	shuffle        bool
	workers        int
	pinMemory      bool
	dropLast       bool
	skipVerif      bool

	sampler *samplerSettings

	trainAugments splitAugments
	validAugments splitAugments
	testAugments  splitAugments
	baseTransform Compose

	trainSplit map[string]float64
	validSplit map[string]float64
	testSplit  map[string]float64
	totalUsage map[string]float64

	skipSplitNorm      bool
	skipClassBalancing bool

	seeds   *SeedBundle
	confirm ConfirmFunc
}

// NewLoaderFactory parses the loaders configuration. All configuration
// shape, ratio, and coverage errors surface here; nothing is constructed on
// failure.
func NewLoaderFactory(cfg *config.Config, opts ...Option) (*LoaderFactory, error) {
	f := &LoaderFactory{confirm: func(string) bool { return false }}
	for _, opt := range opts {
		opt(f)
	}

	if err := f.parseBatchSizes(cfg); err != nil {
		return nil, err
	}
	if err := f.parseCollates(cfg); err != nil {
		return nil, err
	}

	var err error
	if f.shuffle, err = cfg.BoolDef("shuffle", true); err != nil {
		return nil, err
	}
	if f.seeds, err = ResolveSeeds(cfg); err != nil {
		return nil, err
	}
	if f.workers, err = cfg.IntDef("workers", 1); err != nil {
		return nil, err
	}
	if f.workers < 0 {
		f.workers = 1
	}
	if f.pinMemory, err = cfg.BoolDef("pin_memory", false); err != nil {
		return nil, err
	}
	if f.dropLast, err = cfg.BoolDef("drop_last", false); err != nil {
		return nil, err
	}
	if f.dropLast {
		logging.Log.V(logging.DEBUG).Info("loaders will drop the last batch when sample count is not a multiple of batch size")
	}
	if f.skipVerif, err = cfg.BoolDef("skip_verif", true); err != nil {
		return nil, err
	}
	if err := f.parseSampler(cfg); err != nil {
		return nil, err
	}
	if err := f.parseAugments(cfg); err != nil {
		return nil, err
	}
	if err := f.parseSplits(cfg); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *LoaderFactory) parseBatchSizes(cfg *config.Config) error {
	defaultBatch := 0
	if cfg.Has("batch_size") {
		if cfg.Has("train_batch_size", "valid_batch_size", "test_batch_size") {
			return fmt.Errorf("'batch_size' conflicts with per-loader batch size keys")
		}
		var err error
		if defaultBatch, err = cfg.Int("batch_size"); err != nil {
			return err
		}
	}
	var err error
	var errs error
	if f.trainBatchSize, err = cfg.IntDef("train_batch_size", defaultBatch); err != nil {
		errs = multierr.Append(errs, err)
	}
	if f.validBatchSize, err = cfg.IntDef("valid_batch_size", defaultBatch); err != nil {
		errs = multierr.Append(errs, err)
	}
	if f.testBatchSize, err = cfg.IntDef("test_batch_size", defaultBatch); err != nil {
		errs = multierr.Append(errs, err)
	}
	if errs != nil {
		return errs
	}
	if f.trainBatchSize <= 0 && f.validBatchSize <= 0 && f.testBatchSize <= 0 {
		return fmt.Errorf("loaders config must set 'batch_size' or a per-loader batch size")
	}
	logging.Log.V(logging.DEBUG).Info("loader batch sizes",
		"train", f.trainBatchSize, "valid", f.validBatchSize, "test", f.testBatchSize)
	return nil
}

func (f *LoaderFactory) parseCollates(cfg *config.Config) error {
	resolve := func(key string, def CollateFunc) (CollateFunc, error) {
		name, err := cfg.StringDef(key, "")
		if err != nil {
			return nil, err
		}
		if name == "" {
			return def, nil
		}
		return NewCollate(name)
	}
	defaultCollate := CollateFunc(DefaultCollate)
	if cfg.Has("collate_fn") {
		if cfg.Has("train_collate_fn", "valid_collate_fn", "test_collate_fn") {
			return fmt.Errorf("'collate_fn' conflicts with per-loader collate keys")
		}
		var err error
		if defaultCollate, err = resolve("collate_fn", defaultCollate); err != nil {
			return err
		}
	}
	var err error
	if f.trainCollate, err = resolve("train_collate_fn", defaultCollate); err != nil {
		return err
	}
	if f.validCollate, err = resolve("valid_collate_fn", defaultCollate); err != nil {
		return err
	}
	if f.testCollate, err = resolve("test_collate_fn", defaultCollate); err != nil {
		return err
	}
	return nil
}

func (f *LoaderFactory) parseSampler(cfg *config.Config) error {
	sub := cfg.Sub("sampler")
	if sub == nil {
		return nil
	}
	typeName, err := sub.StringDef("type", "")
	if err != nil {
		return err
	}
	if typeName == "" {
		return fmt.Errorf("sampler config missing 'type' field")
	}
	s := &samplerSettings{typeName: typeName, params: map[string]any{}}
	if raw, ok := sub.Raw("params"); ok && raw != nil {
		if s.params, err = cast.ToStringMapE(raw); err != nil {
			return fmt.Errorf("sampler params: %w", err)
		}
	}
	if s.passLabels, err = sub.BoolDef("pass_labels", false); err != nil {
		return err
	}
	if s.labelParamName, err = sub.StringDef("pass_labels_param_name", "labels"); err != nil {
		return err
	}
	if s.applyTrain, err = sub.BoolDef("apply_train", true); err != nil {
		return err
	}
	if s.applyValid, err = sub.BoolDef("apply_valid", false); err != nil {
		return err
	}
	if s.applyTest, err = sub.BoolDef("apply_test", false); err != nil {
		return err
	}
	logging.Log.V(logging.DEBUG).Info("using custom sampler", "type", s.typeName,
		"applyTrain", s.applyTrain, "applyValid", s.applyValid, "applyTest", s.applyTest)
	f.sampler = s
	return nil
}

// Augmentation target keys per split, ordered most-generic first; the first
// configured key wins.
var (
	trainAugTargets = []string{"augments", "trainvalid_augments", "train_augments"}
	validAugTargets = []string{"augments", "trainvalid_augments", "eval_augments", "validtest_augments", "valid_augments"}
	testAugTargets  = []string{"augments", "eval_augments", "validtest_augments", "test_augments"}
)

func (f *LoaderFactory) parseAugments(cfg *config.Config) error {
	load := func(targets []string, split string) (splitAugments, error) {
		for _, key := range targets {
			sub := cfg.Sub(key)
			if sub == nil {
				continue
			}
			appendLast, err := sub.BoolDef("append", false)
			if err != nil {
				return splitAugments{}, err
			}
			rawStages, _ := sub.Raw("stages")
			stages, err := cast.ToSliceE(rawStages)
			if err != nil {
				return splitAugments{}, fmt.Errorf("config key %q: 'stages' must be a list: %w", key, err)
			}
			transforms, err := LoadTransforms(stages)
			if err != nil {
				return splitAugments{}, err
			}
			if len(transforms) > 0 {
				logging.Log.V(logging.DEBUG).Info("loaded split augments",
					"split", split, "key", key, "stages", len(transforms), "append", appendLast)
			}
			return splitAugments{transforms: transforms, appendLast: appendLast}, nil
		}
		return splitAugments{}, nil
	}
	var err error
	if f.trainAugments, err = load(trainAugTargets, "train"); err != nil {
		return err
	}
	if f.validAugments, err = load(validAugTargets, "valid"); err != nil {
		return err
	}
	if f.testAugments, err = load(testAugTargets, "test"); err != nil {
		return err
	}
	if raw, ok := cfg.Raw("base_transforms"); ok && raw != nil {
		stages, err := cast.ToSliceE(raw)
		if err != nil {
			return fmt.Errorf("'base_transforms' must be a list: %w", err)
		}
		if f.baseTransform, err = LoadTransforms(stages); err != nil {
			return err
		}
	}
	return nil
}

func (f *LoaderFactory) parseSplits(cfg *config.Config) error {
	load := func(key string) (map[string]float64, error) {
		split, err := cfg.FloatMap(key)
		if err != nil {
			return nil, err
		}
		for name, ratio := range split {
			if ratio < 0 || ratio > 1 {
				return nil, fmt.Errorf("split ratio for %q in %q must be in [0,1], got %v", name, key, ratio)
			}
		}
		return split, nil
	}
	var err error
	if f.trainSplit, err = load("train_split"); err != nil {
		return err
	}
	if f.validSplit, err = load("valid_split"); err != nil {
		return err
	}
	if f.testSplit, err = load("test_split"); err != nil {
		return err
	}
	if len(f.trainSplit) == 0 && len(f.validSplit) == 0 && len(f.testSplit) == 0 {
		return fmt.Errorf("data config must define a split for at least one loader type (train/valid/test)")
	}
	if f.skipSplitNorm, err = cfg.BoolDef("skip_split_norm", false); err != nil {
		return err
	}
	if f.skipClassBalancing, err = cfg.BoolDef("skip_class_balancing", false); err != nil {
		return err
	}

	f.totalUsage = map[string]float64{}
	for _, split := range []map[string]float64{f.trainSplit, f.validSplit, f.testSplit} {
		for name, ratio := range split {
			f.totalUsage[name] += ratio
		}
	}
	for _, name := range sortedKeys(f.totalUsage) {
		usage := f.totalUsage[name]
		if usage == 1 {
			continue
		}
		if usage < 0 {
			return fmt.Errorf("total usage ratio for dataset %q is negative", name)
		}
		normalize := false
		if usage > 1 {
			logging.Log.Info("dataset split ratios sum to more than 1, normalizing", "dataset", name, "usage", usage)
			normalize = true
		} else if usage > 0 && !f.skipSplitNorm {
			normalize = f.confirm(fmt.Sprintf(
				"dataset split for %q has a ratio sum below 1; normalize the split?", name))
		}
		if normalize && usage > 0 {
			for _, split := range []map[string]float64{f.trainSplit, f.validSplit, f.testSplit} {
				if ratio, ok := split[name]; ok {
					split[name] = ratio / usage
				}
			}
			f.totalUsage[name] = 1
		}
	}
	return nil
}

// Seeds returns the resolved session seed bundle.
func (f *LoaderFactory) Seeds() *SeedBundle { return f.seeds }

// SkipVerif reports whether resumed sessions may skip split verification.
func (f *LoaderFactory) SkipVerif() bool { return f.skipVerif }

// BaseTransform returns the global sample transform chain parsed from the
// configuration, or nil.
func (f *LoaderFactory) BaseTransform() Transform {
	if len(f.baseTransform) == 0 {
		return nil
	}
	return f.baseTransform
}

// GetSplit computes the train/valid/test index split over the given
// dataset parsers. Returned indices are unique, possibly shuffled, and never
// shared between splits. When the global task is a classification task (and
// balancing is not skipped, and at least one dataset feeds more than one
// split), ratios are applied independently within every class so each split
// preserves the overall class distribution.
func (f *LoaderFactory) GetSplit(datasets map[string]Parser, globalTask task.Task) (*SplitResult, error) {
	for _, name := range sortedKeys(f.totalUsage) {
		if _, ok := datasets[name]; !ok {
			return nil, fmt.Errorf("dataset %q referenced by a split does not exist", name)
		}
	}
	sizes := map[string]int{}
	globalSize := 0
	mustSplit := false
	for name, parser := range datasets {
		sizes[name] = parser.Len()
		globalSize += parser.Len()
		uses := 0
		for _, split := range []map[string]float64{f.trainSplit, f.validSplit, f.testSplit} {
			if _, ok := split[name]; ok {
				uses++
			}
		}
		if uses > 1 {
			mustSplit = true
		}
	}
	logging.Log.Info("splitting datasets", "sizes", sizes)

	engine := newSplitEngine(f.shuffle, f.seeds, f.trainSplit, f.validSplit, f.testSplit)

	classifTask, isClassif := globalTask.(*task.Classification)
	if !isClassif || f.skipClassBalancing || !mustSplit {
		indices := make(map[string][]IndexClass, len(datasets))
		for name, parser := range datasets {
			pairs := make([]IndexClass, parser.Len())
			for i := range pairs {
				pairs[i] = IndexClass{Index: i}
			}
			indices[name] = pairs
		}
		return engine.rawSplit(indices)
	}

	classNames := append(classifTask.ClassNames(), UnsetClassKey)
	logging.Log.V(logging.DEBUG).Info("splitting evenly over classes", "classes", len(classNames))
	sampleMaps := make(map[string]map[string][]int, len(datasets))
	for _, name := range sortedKeys(f.totalUsage) {
		parser := datasets[name]
		if parser.Task() != nil && !classifTask.CheckCompat(parser.Task()) {
			return nil, fmt.Errorf("dataset %q task is incompatible with the global task", name)
		}
		sampleMap, err := classSampleMap(name, parser, classifTask)
		if err != nil {
			return nil, err
		}
		sampleMaps[name] = sampleMap
	}

	result := &SplitResult{}
	for _, className := range classNames {
		classIndices := make(map[string][]IndexClass, len(datasets))
		for _, name := range sortedKeys(f.totalUsage) {
			samples := sampleMaps[name][className]
			pairs := make([]IndexClass, len(samples))
			for i, idx := range samples {
				pairs[i] = IndexClass{Index: idx, Class: className}
			}
			classIndices[name] = pairs
			if sizes[name] > 0 {
				logging.Log.V(logging.DEBUG).Info("class sample count",
					"dataset", name, "class", className, "count", len(samples),
					"pctLocal", 100*len(samples)/sizes[name],
					"pctGlobal", 100*len(samples)/max(globalSize, 1))
			}
		}
		classSplit, err := engine.rawSplit(classIndices)
		if err != nil {
			return nil, err
		}
		result.merge(classSplit)
	}
	return result, nil
}

// classSampleMap groups a dataset's sample indices by class, preferring the
// parser's precomputed label list over a full sample-by-sample parse.
func classSampleMap(name string, parser Parser, classifTask *task.Classification) (map[string][]int, error) {
	if lister, ok := parser.(LabelLister); ok {
		labels := lister.Labels()
		out := map[string][]int{}
		for i, label := range labels {
			if label == "" {
				out[UnsetClassKey] = append(out[UnsetClassKey], i)
				continue
			}
			if _, known := classifTask.ClassIndex(label); !known {
				out[UnsetClassKey] = append(out[UnsetClassKey], i)
				continue
			}
			out[label] = append(out[label], i)
		}
		return out, nil
	}
	logging.Log.Info("must fully parse dataset for intra-class splitting; this may take a while",
		"dataset", name)
	samples := make([]task.Sample, parser.Len())
	labelKey := classifTask.GroundTruthKey()
	for i := 0; i < parser.Len(); i++ {
		sample, err := parser.Sample(i)
		if err != nil {
			return nil, fmt.Errorf("dataset %q: reading sample %d: %w", name, i, err)
		}
		if _, ok := sample[labelKey]; !ok {
			return nil, fmt.Errorf("dataset %q: sample %d is missing label key %q", name, i, labelKey)
		}
		samples[i] = task.Sample{labelKey: sample[labelKey]}
	}
	return classifTask.ClassSampleMap(samples, UnsetClassKey), nil
}

// CreateLoaders materializes the three split loaders from a prior split.
// Dataset parsers are copied into each loader, so parsers should not carry
// heavy buffers or open handles. A split that received no samples at all
// yields a nil loader.
func (f *LoaderFactory) CreateLoaders(datasets map[string]Parser, split *SplitResult) (train, valid, test *Loader, err error) {
	specs := []struct {
		name      string
		idxs      map[string][]IndexClass
		augs      splitAugments
		useCustom bool
		batchSize int
		collate   CollateFunc
	}{
		{"train", split.Train, f.trainAugments, f.sampler != nil && f.sampler.applyTrain, f.trainBatchSize, f.trainCollate},
		{"valid", split.Valid, f.validAugments, f.sampler != nil && f.sampler.applyValid, f.validBatchSize, f.validCollate},
		{"test", split.Test, f.testAugments, f.sampler != nil && f.sampler.applyTest, f.testBatchSize, f.testCollate},
	}
	loaders := make([]*Loader, len(specs))
	for i, spec := range specs {
		loader, err := f.buildLoader(datasets, spec.idxs, spec.augs, spec.useCustom, spec.batchSize, spec.collate)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("building %s loader: %w", spec.name, err)
		}
		loaders[i] = loader
	}
	batchCount := func(l *Loader) int {
		if l == nil {
			return 0
		}
		return l.Len()
	}
	logging.Log.Info("initialized loaders",
		"trainBatches", batchCount(loaders[0]),
		"validBatches", batchCount(loaders[1]),
		"testBatches", batchCount(loaders[2]))
	return loaders[0], loaders[1], loaders[2], nil
}

func (f *LoaderFactory) buildLoader(datasets map[string]Parser, idxsMap map[string][]IndexClass,
	augs splitAugments, useCustomSampler bool, batchSize int, collate CollateFunc) (*Loader, error) {
	var entries []concatEntry
	var loaderIdxs []int
	var loaderLabels []string
	offset := 0
	for _, name := range sortedKeys(idxsMap) {
		pairs := idxsMap[name]
		if len(pairs) == 0 {
			continue
		}
		source, ok := datasets[name]
		if !ok {
			return nil, fmt.Errorf("dataset %q referenced by the split does not exist", name)
		}
		parser := source.Copy()
		if len(augs.transforms) > 0 {
			augCopy := augs.transforms.Copy()
			if existing := parser.Transform(); existing != nil {
				if augs.appendLast {
					parser.SetTransform(Compose{existing, augCopy})
				} else {
					parser.SetTransform(Compose{augCopy, existing})
				}
			} else {
				parser.SetTransform(augCopy)
			}
		}
		for _, pair := range pairs {
			loaderIdxs = append(loaderIdxs, pair.Index+offset)
			loaderLabels = append(loaderLabels, pair.Class)
		}
		entries = append(entries, concatEntry{name: name, parser: parser, offset: offset})
		offset += parser.Len()
	}
	if len(entries) == 0 {
		return nil, nil
	}

	var sampler Sampler
	if useCustomSampler {
		params := make(map[string]any, len(f.sampler.params)+2)
		for k, v := range f.sampler.params {
			params[k] = v
		}
		if f.sampler.passLabels {
			params[f.sampler.labelParamName] = loaderLabels
		}
		params["seeds"] = f.seeds.StreamSeeds()
		var err error
		if sampler, err = NewSampler(f.sampler.typeName, loaderIdxs, params); err != nil {
			return nil, err
		}
	} else if f.shuffle {
		sampler = NewSubsetRandomSampler(loaderIdxs, f.seeds)
	} else {
		sampler = NewSubsetSequentialSampler(loaderIdxs)
	}

	return newLoader(entries, sampler, loaderOptions{
		batchSize: batchSize,
		workers:   f.workers,
		collate:   collate,
		pinMemory: f.pinMemory,
		dropLast:  f.dropLast,
		seeds:     f.seeds.StreamSeeds(),
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
