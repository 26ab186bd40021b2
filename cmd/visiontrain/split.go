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
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/visiontrain/visiontrain/internal/data"
)

// splitReport is the YAML document printed by the split subcommand. The
// index and label lists stay in assignment order so positions correspond.
type splitReport struct {
	Seeds  map[string]int64               `yaml:"seeds"`
	Counts map[string]map[string]int      `yaml:"counts"`
	Splits map[string]map[string][]int    `yaml:"splits,omitempty"`
	Labels map[string]map[string][]string `yaml:"labels,omitempty"`
}

func newSplitCommand(opts *rootOptions) *cobra.Command {
	var withIndices bool
	cmd := &cobra.Command{
		Use:   "split",
		Short: "Compute and print the dataset split without training",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := loadSession(opts)
			if err != nil {
				return err
			}
			report := buildSplitReport(sess, withIndices)
			return yaml.NewEncoder(os.Stdout).Encode(report)
		},
	}
	cmd.Flags().BoolVar(&withIndices, "indices", false, "include the full per-dataset index lists")
	return cmd
}

func buildSplitReport(sess *session, withIndices bool) *splitReport {
	seeds := sess.factory.Seeds()
	report := &splitReport{
		Seeds: map[string]int64{
			"test":   seeds.Test,
			"valid":  seeds.Valid,
			"tensor": seeds.Tensor,
			"array":  seeds.Array,
			"random": seeds.Generic,
		},
		Counts: map[string]map[string]int{},
	}
	if withIndices {
		report.Splits = map[string]map[string][]int{}
		report.Labels = map[string]map[string][]string{}
	}
	for split, idxs := range map[string]map[string][]data.IndexClass{
		"train": sess.split.Train,
		"valid": sess.split.Valid,
		"test":  sess.split.Test,
	} {
		counts := map[string]int{}
		for name, pairs := range idxs {
			counts[name] = len(pairs)
			if !withIndices {
				continue
			}
			indices := make([]int, len(pairs))
			labels := make([]string, len(pairs))
			for i, pair := range pairs {
				indices[i] = pair.Index
				labels[i] = pair.Class
			}
			if report.Splits[split] == nil {
				report.Splits[split] = map[string][]int{}
				report.Labels[split] = map[string][]string{}
			}
			report.Splits[split][name] = indices
			report.Labels[split][name] = labels
		}
		report.Counts[split] = counts
	}
	return report
}
