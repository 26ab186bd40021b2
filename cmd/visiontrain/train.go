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
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/visiontrain/visiontrain/internal/logging"
	"github.com/visiontrain/visiontrain/internal/train"
)

func newTrainCommand(opts *rootOptions) *cobra.Command {
	var resumePath string
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run a training session over the configured datasets",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession(opts)
			if err != nil {
				return err
			}
			trainLoader, validLoader, testLoader, err := sess.factory.CreateLoaders(sess.datasets, sess.split)
			if err != nil {
				return err
			}
			model, err := sess.buildModel()
			if err != nil {
				return err
			}
			trainer, err := sess.buildTrainer()
			if err != nil {
				return err
			}
			if resumePath != "" {
				ckpt, err := train.LoadCheckpoint(resumePath)
				if err != nil {
					return err
				}
				seeds := sess.factory.Seeds()
				if ckpt.Seeds.Test != seeds.Test || ckpt.Seeds.Valid != seeds.Valid {
					logging.Log.Info("checkpoint split seeds differ from the session seeds; the resumed split may not match",
						"checkpointTest", ckpt.Seeds.Test, "sessionTest", seeds.Test,
						"checkpointValid", ckpt.Seeds.Valid, "sessionValid", seeds.Valid)
				}
				err = trainer.Resume(ckpt, model, sess.factory.SkipVerif(), trainLoader, validLoader, testLoader)
				if err != nil {
					return err
				}
			}
			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(
					trainer.Instrumentation().Registry(), promhttp.HandlerOpts{}))
				go func() {
					if err := http.ListenAndServe(metricsAddr, mux); err != nil {
						logging.Log.Error(err, "metrics endpoint failed", "addr", metricsAddr)
					}
				}()
				logging.Log.Info("serving metrics", "addr", metricsAddr)
			}

			ctx := logging.IntoContext(cmd.Context(), logging.Log)
			if err := trainer.Train(ctx, model, trainLoader, validLoader); err != nil {
				return err
			}
			if testLoader != nil {
				values, err := trainer.Eval(ctx, model, testLoader, "test")
				if err != nil {
					return err
				}
				logging.Log.Info("final test metrics", "session", trainer.SessionID(), "metrics", values)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&resumePath, "resume", "", "checkpoint file to resume from")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (disabled when empty)")
	return cmd
}
