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
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/visiontrain/visiontrain/internal/logging"
)

// CheckpointSeeds records the full seed set of a session so a resumed run
// reproduces the original split and worker seeding.
type CheckpointSeeds struct {
	Test    int64 `yaml:"test"`
	Valid   int64 `yaml:"valid"`
	Tensor  int64 `yaml:"tensor"`
	Array   int64 `yaml:"array"`
	Generic int64 `yaml:"random"`
}

// Checkpoint is the YAML-serialized state of a session at the end of an
// epoch. Epoch holds the next epoch to run, matching the loader epoch
// counter semantics.
type Checkpoint struct {
	SessionID     string          `yaml:"session_id"`
	SessionName   string          `yaml:"session_name"`
	CreatedAt     time.Time       `yaml:"created_at"`
	Epoch         int             `yaml:"epoch"`
	Seeds         CheckpointSeeds `yaml:"seeds"`
	TaskSignature string          `yaml:"task_signature"`
	Monitor       string          `yaml:"monitor"`
	BestValue     float64         `yaml:"best_value"`
	ModelState    map[string]any  `yaml:"model_state"`
}

// Save writes the checkpoint atomically under dir, as both an epoch-stamped
// file and "best.yaml". Returns the epoch-stamped path.
func (c *Checkpoint) Save(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating checkpoint dir: %w", err)
	}
	raw, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encoding checkpoint: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("ckpt.%04d.yaml", c.Epoch))
	for _, target := range []string{path, filepath.Join(dir, "best.yaml")} {
		tmp := target + ".tmp"
		if err := os.WriteFile(tmp, raw, 0o644); err != nil {
			return "", fmt.Errorf("writing checkpoint: %w", err)
		}
		if err := os.Rename(tmp, target); err != nil {
			return "", fmt.Errorf("writing checkpoint: %w", err)
		}
	}
	logging.Log.Info("saved checkpoint", "path", path, "epoch", c.Epoch,
		"monitor", c.Monitor, "best", c.BestValue)
	return path, nil
}

// LoadCheckpoint reads a checkpoint file written by Save.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint %q: %w", path, err)
	}
	ckpt := &Checkpoint{}
	if err := yaml.Unmarshal(raw, ckpt); err != nil {
		return nil, fmt.Errorf("decoding checkpoint %q: %w", path, err)
	}
	if ckpt.SessionID == "" {
		return nil, fmt.Errorf("checkpoint %q has no session id", path)
	}
	return ckpt, nil
}
