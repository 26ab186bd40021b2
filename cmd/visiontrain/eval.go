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
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/visiontrain/visiontrain/internal/train"
)

func newEvalCommand(opts *rootOptions) *cobra.Command {
	var checkpointPath string
	var split string
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate a checkpoint over one of the split loaders",
		RunE: func(cmd *cobra.Command, args []string) error {
			if split != "train" && split != "valid" && split != "test" {
				return fmt.Errorf("invalid split %q (want train, valid or test)", split)
			}
			sess, err := loadSession(opts)
			if err != nil {
				return err
			}
			trainLoader, validLoader, testLoader, err := sess.factory.CreateLoaders(sess.datasets, sess.split)
			if err != nil {
				return err
			}
			loader := testLoader
			switch split {
			case "train":
				loader = trainLoader
			case "valid":
				loader = validLoader
			}
			model, err := sess.buildModel()
			if err != nil {
				return err
			}
			trainer, err := sess.buildTrainer()
			if err != nil {
				return err
			}
			ckpt, err := train.LoadCheckpoint(checkpointPath)
			if err != nil {
				return err
			}
			if err := trainer.Resume(ckpt, model, sess.factory.SkipVerif()); err != nil {
				return err
			}
			ctx := cmd.Context()
			values, err := trainer.Eval(ctx, model, loader, split)
			if err != nil {
				return err
			}
			return yaml.NewEncoder(os.Stdout).Encode(map[string]any{
				"session": ckpt.SessionID,
				"split":   split,
				"metrics": values,
			})
		},
	}
	cmd.Flags().StringVar(&checkpointPath, "checkpoint", "", "checkpoint file to evaluate")
	cmd.Flags().StringVar(&split, "split", "test", "which split loader to evaluate (train, valid, test)")
	_ = cmd.MarkFlagRequired("checkpoint")
	return cmd
}
