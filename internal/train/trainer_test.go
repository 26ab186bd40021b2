package train

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visiontrain/visiontrain/internal/config"
	"github.com/visiontrain/visiontrain/internal/data"
	"github.com/visiontrain/visiontrain/internal/task"
)

// separableDataset builds a linearly separable two-class dataset with
// one-hot features, the simplest thing the pipeline can actually learn.
func separableDataset(t *testing.T, perClass int) (data.Parser, *task.Classification) {
	t.Helper()
	classif, err := task.NewClassification([]string{"a", "b"}, "input", "label", nil)
	require.NoError(t, err)
	var samples []task.Sample
	for i := 0; i < perClass; i++ {
		samples = append(samples,
			task.Sample{"input": []float64{1, 0}, "label": "a"},
			task.Sample{"input": []float64{0, 1}, "label": "b"})
	}
	return data.NewSliceParser(samples, classif), classif
}

func sessionLoaders(t *testing.T, parser data.Parser, classif *task.Classification) (*data.LoaderFactory, *data.Loader, *data.Loader, *data.Loader) {
	t.Helper()
	factory, err := data.NewLoaderFactory(config.FromMap(map[string]any{
		"batch_size":  4,
		"train_split": map[string]any{"ds": 0.6},
		"valid_split": map[string]any{"ds": 0.2},
		"test_split":  map[string]any{"ds": 0.2},
		"test_seed":   1,
		"valid_seed":  2,
		"tensor_seed": 3,
		"array_seed":  4,
		"random_seed": 5,
	}))
	require.NoError(t, err)
	datasets := map[string]data.Parser{"ds": parser}
	split, err := factory.GetSplit(datasets, classif)
	require.NoError(t, err)
	trainLoader, validLoader, testLoader, err := factory.CreateLoaders(datasets, split)
	require.NoError(t, err)
	require.NotNil(t, trainLoader)
	require.NotNil(t, validLoader)
	require.NotNil(t, testLoader)
	return factory, trainLoader, validLoader, testLoader
}

func TestTrainerEndToEnd(t *testing.T) {
	parser, classif := separableDataset(t, 50)
	factory, trainLoader, validLoader, testLoader := sessionLoaders(t, parser, classif)

	saveDir := t.TempDir()
	trainer, err := NewTrainer(config.FromMap(map[string]any{
		"name":     "unit",
		"epochs":   5,
		"monitor":  "accuracy",
		"save_dir": saveDir,
	}), classif, factory.Seeds())
	require.NoError(t, err)

	model, err := NewLinearScorer("input", 2, 2, 0.5)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, trainer.Train(ctx, model, trainLoader, validLoader))
	assert.Equal(t, 5, trainLoader.Epoch())

	values, err := trainer.Eval(ctx, model, testLoader, "test")
	require.NoError(t, err)
	assert.Greater(t, values["accuracy"], 0.75, "a separable dataset should be learnable")

	best, ok := trainer.History().Best("valid", "accuracy")
	require.True(t, ok)
	assert.Greater(t, best.Value, 0.75)

	// The best checkpoint restores into an equivalent model.
	ckpt, err := LoadCheckpoint(filepath.Join(saveDir, "best.yaml"))
	require.NoError(t, err)
	assert.Equal(t, trainer.SessionID(), ckpt.SessionID)
	assert.Equal(t, classif.String(), ckpt.TaskSignature)

	restored, err := NewLinearScorer("input", 2, 2, 0.5)
	require.NoError(t, err)
	fresh, err := NewTrainer(config.FromMap(map[string]any{"save_dir": saveDir}), classif, factory.Seeds())
	require.NoError(t, err)
	require.NoError(t, fresh.Resume(ckpt, restored, false))
	assert.Equal(t, ckpt.SessionID, fresh.SessionID())
}

func TestTrainerResumeVerifiesTask(t *testing.T) {
	_, classif := separableDataset(t, 2)
	trainer, err := NewTrainer(config.FromMap(nil), classif, nil)
	require.NoError(t, err)

	model, err := NewLinearScorer("input", 2, 2, 0.1)
	require.NoError(t, err)
	ckpt := &Checkpoint{
		SessionID:     "id",
		TaskSignature: "Classification{other}",
		ModelState:    model.State(),
	}
	err = trainer.Resume(ckpt, model, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")

	// skip_verif bypasses the signature check.
	require.NoError(t, trainer.Resume(ckpt, model, true))
}

func TestTrainerResumePositionsLoaderEpoch(t *testing.T) {
	parser, classif := separableDataset(t, 10)
	factory, trainLoader, _, _ := sessionLoaders(t, parser, classif)
	trainer, err := NewTrainer(config.FromMap(map[string]any{
		"epochs":   4,
		"save_dir": t.TempDir(),
	}), classif, factory.Seeds())
	require.NoError(t, err)
	model, err := NewLinearScorer("input", 2, 2, 0.1)
	require.NoError(t, err)

	ckpt := &Checkpoint{
		SessionID:     "id",
		Epoch:         3,
		TaskSignature: classif.String(),
		ModelState:    model.State(),
	}
	require.NoError(t, trainer.Resume(ckpt, model, false, trainLoader, nil))
	assert.Equal(t, 3, trainLoader.Epoch())

	// Training continues from the restored epoch and stops at the limit.
	require.NoError(t, trainer.Train(context.Background(), model, trainLoader, nil))
	assert.Equal(t, 4, trainLoader.Epoch())
}

func TestTrainerRejectsBadConfig(t *testing.T) {
	_, classif := separableDataset(t, 2)
	_, err := NewTrainer(config.FromMap(map[string]any{"epochs": 0}), classif, nil)
	require.Error(t, err)
	_, err = NewTrainer(config.FromMap(nil), nil, nil)
	require.Error(t, err)
	_, err = NewTrainer(config.FromMap(map[string]any{
		"metrics": []any{map[string]any{"type": "bogus"}},
	}), classif, nil)
	require.Error(t, err)
}

func TestTrainerRequiresTrainLoader(t *testing.T) {
	_, classif := separableDataset(t, 2)
	trainer, err := NewTrainer(config.FromMap(nil), classif, nil)
	require.NoError(t, err)
	model, err := NewLinearScorer("input", 2, 2, 0.1)
	require.NoError(t, err)
	require.Error(t, trainer.Train(context.Background(), model, nil, nil))
	_, err = trainer.Eval(context.Background(), model, nil, "test")
	require.Error(t, err)
}
