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

package main

import (
	"fmt"

	"github.com/spf13/cast"

	"github.com/visiontrain/visiontrain/internal/config"
	"github.com/visiontrain/visiontrain/internal/data"
	"github.com/visiontrain/visiontrain/internal/logging"
	"github.com/visiontrain/visiontrain/internal/task"
	"github.com/visiontrain/visiontrain/internal/train"
)

// session is the assembled state every subcommand starts from: the loaded
// configuration, the instantiated dataset parsers, their merged global task,
// and the loader factory with its computed split.
type session struct {
	cfg        *config.Config
	datasets   map[string]data.Parser
	globalTask task.Task
	factory    *data.LoaderFactory
	split      *data.SplitResult
}

func loadSession(opts *rootOptions) (*session, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	datasets, err := loadDatasets(cfg)
	if err != nil {
		return nil, err
	}
	loadersCfg := cfg.Sub("loaders")
	if loadersCfg == nil {
		return nil, fmt.Errorf("config is missing a 'loaders' section")
	}
	factory, err := data.NewLoaderFactory(loadersCfg, data.WithConfirmFunc(opts.confirmFunc()))
	if err != nil {
		return nil, err
	}
	if base := factory.BaseTransform(); base != nil {
		for _, parser := range datasets {
			if existing := parser.Transform(); existing != nil {
				parser.SetTransform(data.Compose{existing, base.Copy()})
			} else {
				parser.SetTransform(base.Copy())
			}
		}
	}

	tasks := make([]task.Task, 0, len(datasets))
	for _, parser := range datasets {
		tasks = append(tasks, parser.Task())
	}
	globalTask, err := task.MergeAll(tasks)
	if err != nil {
		return nil, fmt.Errorf("merging dataset tasks: %w", err)
	}
	if globalTask == nil {
		return nil, fmt.Errorf("no dataset defines a task")
	}

	split, err := factory.GetSplit(datasets, globalTask)
	if err != nil {
		return nil, err
	}
	trainCount, validCount, testCount := split.Counts()
	logging.Log.Info("computed dataset split",
		"train", trainCount, "valid", validCount, "test", testCount)
	return &session{
		cfg:        cfg,
		datasets:   datasets,
		globalTask: globalTask,
		factory:    factory,
		split:      split,
	}, nil
}

// loadDatasets instantiates the parsers declared in the "datasets" section.
// Every entry is {type, params} resolved through the parser registry.
func loadDatasets(cfg *config.Config) (map[string]data.Parser, error) {
	section := cfg.Sub("datasets")
	if section == nil {
		return nil, fmt.Errorf("config is missing a 'datasets' section")
	}
	datasets := map[string]data.Parser{}
	for _, name := range section.Keys() {
		raw, _ := section.Raw(name)
		entry, err := cast.ToStringMapE(raw)
		if err != nil {
			return nil, fmt.Errorf("dataset %q: %w", name, err)
		}
		typeName, err := cast.ToStringE(entry["type"])
		if err != nil || typeName == "" {
			return nil, fmt.Errorf("dataset %q: missing 'type' (registered: %v)", name, data.RegisteredParsers())
		}
		params := map[string]any{}
		if p, ok := entry["params"]; ok && p != nil {
			if params, err = cast.ToStringMapE(p); err != nil {
				return nil, fmt.Errorf("dataset %q: %w", name, err)
			}
		}
		parser, err := data.NewParser(typeName, params)
		if err != nil {
			return nil, fmt.Errorf("dataset %q: %w", name, err)
		}
		datasets[name] = parser
		logging.Log.V(logging.DEBUG).Info("loaded dataset",
			"name", name, "type", typeName, "samples", parser.Len())
	}
	if len(datasets) == 0 {
		return nil, fmt.Errorf("'datasets' section defines no datasets")
	}
	return datasets, nil
}

// buildModel constructs the session model from the "model" section. Only the
// linear scorer is built in; the class count comes from the session task.
func (s *session) buildModel() (train.Model, error) {
	classif, ok := s.globalTask.(*task.Classification)
	if !ok {
		return nil, fmt.Errorf("training requires a classification task, got %v", s.globalTask)
	}
	section := s.cfg.Sub("model")
	if section == nil {
		return nil, fmt.Errorf("config is missing a 'model' section")
	}
	typeName, err := section.StringDef("type", "linear")
	if err != nil {
		return nil, err
	}
	if typeName != "linear" {
		return nil, fmt.Errorf("unknown model type %q", typeName)
	}
	features, err := section.Int("features")
	if err != nil {
		return nil, err
	}
	lr, err := section.FloatDef("lr", 0.01)
	if err != nil {
		return nil, err
	}
	return train.NewLinearScorer(classif.InputKey(), features, len(classif.ClassNames()), lr)
}

func (s *session) buildTrainer() (*train.Trainer, error) {
	classif, ok := s.globalTask.(*task.Classification)
	if !ok {
		return nil, fmt.Errorf("training requires a classification task, got %v", s.globalTask)
	}
	trainerCfg := s.cfg.Sub("trainer")
	if trainerCfg == nil {
		trainerCfg = config.FromMap(nil)
	}
	return train.NewTrainer(trainerCfg, classif, s.factory.Seeds())
}
