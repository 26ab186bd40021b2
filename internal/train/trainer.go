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

package train

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/visiontrain/visiontrain/internal/config"
	"github.com/visiontrain/visiontrain/internal/data"
	"github.com/visiontrain/visiontrain/internal/logging"
	"github.com/visiontrain/visiontrain/internal/metrics"
	"github.com/visiontrain/visiontrain/internal/task"
)

// Trainer drives the epoch loop of a session: a training pass followed by a
// validation pass per epoch, metric history tracking, and checkpointing
// whenever the monitored metric improves.
type Trainer struct {
	sessionID   string
	sessionName string
	epochs      int
	monitor     string
	saveDir     string

	taskObj *task.Classification
	seeds   *data.SeedBundle
	eval    []metrics.Metric
	history *metrics.History
	instr   *metrics.Instrumentation

	skipVerif bool
	bestValue float64
	hasBest   bool
}

// NewTrainer parses the "trainer" configuration section. The session gets a
// fresh uuid; resumed sessions adopt the checkpoint's id in Resume.
func NewTrainer(cfg *config.Config, classif *task.Classification, seeds *data.SeedBundle) (*Trainer, error) {
	if classif == nil {
		return nil, fmt.Errorf("trainer requires a classification task")
	}
	t := &Trainer{
		sessionID: uuid.NewString(),
		taskObj:   classif,
		seeds:     seeds,
		history:   metrics.NewHistory(),
		instr:     metrics.NewInstrumentation(),
	}
	t.history.AttachInstrumentation(t.instr)
	var err error
	if t.sessionName, err = cfg.StringDef("name", "session"); err != nil {
		return nil, err
	}
	if t.epochs, err = cfg.IntDef("epochs", 1); err != nil {
		return nil, err
	}
	if t.epochs < 1 {
		return nil, fmt.Errorf("trainer epochs must be positive, got %d", t.epochs)
	}
	if t.monitor, err = cfg.StringDef("monitor", "accuracy"); err != nil {
		return nil, err
	}
	if t.saveDir, err = cfg.StringDef("save_dir", "checkpoints"); err != nil {
		return nil, err
	}
	if err := t.parseMetrics(cfg); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Trainer) parseMetrics(cfg *config.Config) error {
	raw, ok := cfg.Raw("metrics")
	if !ok || raw == nil {
		t.eval = []metrics.Metric{metrics.NewAccuracy()}
		return nil
	}
	stages, err := cast.ToSliceE(raw)
	if err != nil {
		return fmt.Errorf("trainer 'metrics' must be a list: %w", err)
	}
	for i, rawStage := range stages {
		m, err := cast.ToStringMapE(rawStage)
		if err != nil {
			return fmt.Errorf("metric %d: %w", i, err)
		}
		name, err := cast.ToStringE(m["type"])
		if err != nil || name == "" {
			return fmt.Errorf("metric %d: missing 'type'", i)
		}
		params := map[string]any{}
		if p, ok := m["params"]; ok && p != nil {
			if params, err = cast.ToStringMapE(p); err != nil {
				return fmt.Errorf("metric %d: %w", i, err)
			}
		}
		metric, err := metrics.New(name, params)
		if err != nil {
			return err
		}
		t.eval = append(t.eval, metric)
	}
	if len(t.eval) == 0 {
		t.eval = []metrics.Metric{metrics.NewAccuracy()}
	}
	return nil
}

// SessionID returns the session's uuid.
func (t *Trainer) SessionID() string { return t.sessionID }

// History exposes the epoch metric history.
func (t *Trainer) History() *metrics.History { return t.history }

// Instrumentation exposes the session's Prometheus collectors.
func (t *Trainer) Instrumentation() *metrics.Instrumentation { return t.instr }

// Resume restores trainer and loader state from a checkpoint. The recorded
// task signature must match the session task unless verification is skipped
// in the loader configuration.
func (t *Trainer) Resume(ckpt *Checkpoint, model Model, skipVerif bool, loaders ...*data.Loader) error {
	if !skipVerif && ckpt.TaskSignature != t.taskObj.String() {
		return fmt.Errorf("checkpoint task %q does not match session task %q",
			ckpt.TaskSignature, t.taskObj.String())
	}
	if err := model.LoadState(ckpt.ModelState); err != nil {
		return fmt.Errorf("restoring model state: %w", err)
	}
	for _, loader := range loaders {
		if loader == nil {
			continue
		}
		if err := loader.SetEpoch(ckpt.Epoch); err != nil {
			return err
		}
	}
	t.sessionID = ckpt.SessionID
	t.sessionName = ckpt.SessionName
	t.bestValue = ckpt.BestValue
	t.hasBest = true
	if ckpt.Monitor != "" {
		t.monitor = ckpt.Monitor
	}
	logging.Log.Info("resumed session", "session", t.sessionID, "epoch", ckpt.Epoch,
		"monitor", t.monitor, "best", t.bestValue)
	return nil
}

func (t *Trainer) targetOf(sample task.Sample) (int, error) {
	raw, ok := sample[t.taskObj.GroundTruthKey()]
	if !ok || raw == nil {
		return 0, fmt.Errorf("sample is missing label key %q", t.taskObj.GroundTruthKey())
	}
	label := fmt.Sprint(raw)
	idx, known := t.taskObj.ClassIndex(label)
	if !known {
		return 0, fmt.Errorf("sample label %q is not in the task class list", label)
	}
	return idx, nil
}

// Train runs the epoch loop until the configured epoch count is reached.
// The starting epoch is taken from the train loader, so a resumed session
// continues where its checkpoint left off.
func (t *Trainer) Train(ctx context.Context, model Model, trainLoader, validLoader *data.Loader) error {
	if trainLoader == nil {
		return fmt.Errorf("cannot train without a train loader")
	}
	for epoch := trainLoader.Epoch(); epoch < t.epochs; epoch = trainLoader.Epoch() {
		t.instr.SetEpoch(epoch)
		loss, err := t.trainPass(ctx, model, trainLoader)
		if err != nil {
			return fmt.Errorf("train pass for epoch %d: %w", epoch, err)
		}
		t.history.Observe("train", "loss", epoch, loss)
		logging.Log.Info("finished train pass", "epoch", epoch, "loss", loss)

		monitored := math.NaN()
		if validLoader != nil {
			values, err := t.evalPass(ctx, model, validLoader, "valid", epoch)
			if err != nil {
				return fmt.Errorf("valid pass for epoch %d: %w", epoch, err)
			}
			monitored = values[t.monitor]
		}
		if err := t.maybeCheckpoint(model, epoch, monitored); err != nil {
			return err
		}
	}
	return nil
}

func (t *Trainer) trainPass(ctx context.Context, model Model, loader *data.Loader) (float64, error) {
	totalLoss := 0.0
	batches := 0
	for batch, err := range loader.Iterate(ctx) {
		if err != nil {
			return 0, err
		}
		start := time.Now()
		targets := make([]int, len(batch.Samples))
		for i, sample := range batch.Samples {
			if targets[i], err = t.targetOf(sample); err != nil {
				return 0, err
			}
		}
		loss, err := model.Fit(batch.Samples, targets)
		if err != nil {
			return 0, err
		}
		totalLoss += loss
		batches++
		t.instr.ObserveBatch("train", batch.Size(), time.Since(start))
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if batches == 0 {
		return 0, nil
	}
	return totalLoss / float64(batches), nil
}

func (t *Trainer) evalPass(ctx context.Context, model Model, loader *data.Loader, split string, epoch int) (map[string]float64, error) {
	for _, metric := range t.eval {
		metric.Reset()
	}
	for batch, err := range loader.Iterate(ctx) {
		if err != nil {
			return nil, err
		}
		start := time.Now()
		for _, sample := range batch.Samples {
			target, err := t.targetOf(sample)
			if err != nil {
				return nil, err
			}
			scores, err := model.Score(sample)
			if err != nil {
				return nil, err
			}
			for _, metric := range t.eval {
				metric.Update(scores, target)
			}
		}
		t.instr.ObserveBatch(split, batch.Size(), time.Since(start))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	values := make(map[string]float64, len(t.eval))
	for _, metric := range t.eval {
		values[metric.Name()] = metric.Value()
		t.history.Observe(split, metric.Name(), epoch, metric.Value())
	}
	logging.Log.Info("finished eval pass", "split", split, "epoch", epoch, "metrics", values)
	return values, nil
}

// Eval runs a standalone evaluation pass, typically over the test loader
// after training completes.
func (t *Trainer) Eval(ctx context.Context, model Model, loader *data.Loader, split string) (map[string]float64, error) {
	if loader == nil {
		return nil, fmt.Errorf("cannot evaluate without a %s loader", split)
	}
	return t.evalPass(ctx, model, loader, split, loader.Epoch())
}

func (t *Trainer) maybeCheckpoint(model Model, epoch int, monitored float64) error {
	improved := false
	switch {
	case math.IsNaN(monitored):
		// No validation pass ran; checkpoint every epoch.
		improved = true
		monitored = t.bestValue
	case !t.hasBest:
		improved = true
	case metrics.HigherIsBetter(t.monitor) && monitored > t.bestValue:
		improved = true
	case !metrics.HigherIsBetter(t.monitor) && monitored < t.bestValue:
		improved = true
	}
	if !improved {
		return nil
	}
	t.bestValue = monitored
	t.hasBest = true
	ckpt := &Checkpoint{
		SessionID:     t.sessionID,
		SessionName:   t.sessionName,
		CreatedAt:     time.Now().UTC(),
		Epoch:         epoch + 1,
		TaskSignature: t.taskObj.String(),
		Monitor:       t.monitor,
		BestValue:     t.bestValue,
		ModelState:    model.State(),
	}
	if t.seeds != nil {
		ckpt.Seeds = CheckpointSeeds{
			Test:    t.seeds.Test,
			Valid:   t.seeds.Valid,
			Tensor:  t.seeds.Tensor,
			Array:   t.seeds.Array,
			Generic: t.seeds.Generic,
		}
	}
	_, err := ckpt.Save(t.saveDir)
	return err
}
